package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// vroom-watch connects to the daemon's /state websocket and prints every
// kiosk UI event, one line each. Useful when the kiosk front-end is not
// attached or when tuning the knob.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type uiState struct {
	Mode               string   `json:"mode"`
	SettingsOpen       bool     `json:"settings_open"`
	VolumePercent      int      `json:"volume_percent"`
	VolumeKnown        bool     `json:"volume_known"`
	BrightnessRaw      int      `json:"brightness_raw"`
	BrightnessPercent  int      `json:"brightness_percent"`
	Sinks              []string `json:"sinks"`
	CurrentSink        string   `json:"current_sink"`
	Popups             []string `json:"popups"`
	ExternalAppRunning bool     `json:"external_app_running"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/state", "vroom state websocket URL")
		raw   = flag.Bool("raw", false, "Print raw JSON frames")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	// The daemon pings; answer with pongs and keep the read deadline moving.
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			fmt.Println(formatEvent(message))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatEvent renders one state frame as a single line.
func formatEvent(message []byte) string {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return "[TEXT] " + string(message)
	}

	switch env.Type {
	case "state_init", "settings_opened", "settings_closed":
		var st uiState
		if err := json.Unmarshal(env.Data, &st); err != nil {
			break
		}
		return fmt.Sprintf("[%s] mode=%s settings=%t volume=%s brightness=%d (%d%%) sink=%q nav=%t",
			strings.ToUpper(env.Type), st.Mode, st.SettingsOpen, volumeString(st.VolumeKnown, st.VolumePercent),
			st.BrightnessRaw, st.BrightnessPercent, st.CurrentSink, st.ExternalAppRunning)

	case "slider_changed":
		var d struct {
			Slider  string `json:"slider"`
			Value   int    `json:"value"`
			Percent int    `json:"percent"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			break
		}
		return fmt.Sprintf("[SLIDER] %s=%d (%d%%)", d.Slider, d.Value, d.Percent)

	case "popup_shown", "popup_dismissed":
		var d struct {
			ID   uint64 `json:"id"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			break
		}
		verb := "shown"
		if env.Type == "popup_dismissed" {
			verb = "dismissed"
		}
		return fmt.Sprintf("[POPUP] #%d %q %s", d.ID, d.Text, verb)

	case "mode_changed":
		var d struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			break
		}
		return "[MODE] " + d.Mode

	case "sink_selected":
		var d struct {
			Sink string `json:"sink"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			break
		}
		return "[SINK] " + d.Sink

	case "external_app_changed":
		var d struct {
			Running bool `json:"running"`
		}
		if err := json.Unmarshal(env.Data, &d); err != nil {
			break
		}
		if d.Running {
			return "[NAV] running"
		}
		return "[NAV] stopped"
	}

	return fmt.Sprintf("[%s] %s", strings.ToUpper(env.Type), string(env.Data))
}

func volumeString(known bool, pct int) string {
	if !known {
		return "?"
	}
	return fmt.Sprintf("%d%%", pct)
}
