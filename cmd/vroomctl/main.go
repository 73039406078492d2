package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// ============================================================================
// vroomctl - Command-line IPC Client
// ============================================================================
// Sends intents to the vroom daemon over its unix socket.
//
// Usage:
//   vroomctl up
//   vroomctl toggle-mode
//   vroomctl set-volume 40
//   vroomctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/vroom.sock)
// ============================================================================

// Envelope matches the daemon's line-JSON request format.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

func main() {
	socketPath := "/tmp/vroom.sock"

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return
	}

	req, err := buildRequest(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	resp, err := send(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if resp.Status != "ok" {
		fmt.Fprintf(os.Stderr, "error: daemon: %s\n", resp.Error)
		os.Exit(1)
	}

	if len(resp.State) > 0 {
		var pretty any
		if err := json.Unmarshal(resp.State, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return
		}
	}
	fmt.Println("ok")
}

// buildRequest maps a command line onto a request envelope.
func buildRequest(args []string) (Envelope, error) {
	intArg := func(name string) (int, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("%s requires a value", name)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q", name, args[1])
		}
		return v, nil
	}
	withData := func(typ string, data any) (Envelope, error) {
		b, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: typ, Data: b}, nil
	}

	switch args[0] {
	case "up", "cw":
		return withData("detent", map[string]int{"direction": 1})
	case "down", "ccw":
		return withData("detent", map[string]int{"direction": -1})
	case "press", "toggle-mode", "mode":
		return Envelope{Type: "toggle_mode"}, nil
	case "long-press", "kill", "terminate":
		return Envelope{Type: "terminate_external_app"}, nil
	case "launch":
		return Envelope{Type: "launch_external_app"}, nil
	case "volume", "adjust-volume":
		v, err := intArg("volume")
		if err != nil {
			return Envelope{}, err
		}
		return withData("adjust_volume", map[string]int{"delta": v})
	case "brightness", "adjust-brightness":
		v, err := intArg("brightness")
		if err != nil {
			return Envelope{}, err
		}
		return withData("adjust_brightness", map[string]int{"delta": v})
	case "set-volume":
		v, err := intArg("set-volume")
		if err != nil {
			return Envelope{}, err
		}
		return withData("set_volume", map[string]any{"percent": v, "origin": "vroomctl"})
	case "set-brightness":
		v, err := intArg("set-brightness")
		if err != nil {
			return Envelope{}, err
		}
		return withData("set_brightness", map[string]any{"raw": v, "origin": "vroomctl"})
	case "sink":
		if len(args) < 2 || args[1] == "" {
			return Envelope{}, errors.New("sink requires a sink name")
		}
		return withData("select_sink", map[string]string{"name": args[1]})
	case "settings":
		if len(args) < 2 {
			return Envelope{}, errors.New("settings requires open or close")
		}
		switch args[1] {
		case "open":
			return Envelope{Type: "open_settings"}, nil
		case "close":
			return Envelope{Type: "close_settings"}, nil
		}
		return Envelope{}, fmt.Errorf("settings: unknown action %q", args[1])
	case "status", "state":
		return Envelope{Type: "get_state"}, nil
	default:
		return Envelope{}, fmt.Errorf("unknown command: %s", args[0])
	}
}

func send(socketPath string, req Envelope) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(req)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `vroomctl - Control the vroom daemon via IPC

Usage:
  vroomctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/vroom.sock)

Commands:
  up, down                  Simulate one knob detent
  press, toggle-mode        Simulate a short press (toggle volume/brightness)
  long-press, kill          Simulate a long press (stop the navigation app)
  launch                    Start the navigation app
  volume <delta>            Change volume by delta percent
  brightness <delta>        Change back-light by delta raw units
  set-volume <percent>      Set volume (0..100)
  set-brightness <raw>      Set back-light raw level
  sink <name>               Make <name> the default audio sink
  settings open|close       Open or close the settings window
  status                    Print the kiosk UI state
  help, -h, --help          Show this help message

Examples:
  vroomctl up
  vroomctl set-volume 35
  vroomctl -socket /run/vroom.sock status
`)
}
