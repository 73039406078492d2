package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// The kiosk front-end renders what the UI loop owns: the mode indicator, the
// HUD popups and the settings window. This file streams that state:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that turns UI-loop StateBroadcasts into JSON frames
//
// Notes:
//   - The initial snapshot on connect is requested through the UI loop, so it
//     is consistent with the broadcasts that follow it.
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//
// ============================================================================

// StateBroadcast is a UI change published by the UI loop.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastSliderChanged reports a settings slider move.
type BroadcastSliderChanged struct {
	Slider  Slider
	Value   int // volume percent or raw back-light level
	Percent int // slider position 0..100
}

// BroadcastPopup reports a HUD popup appearing or disappearing.
type BroadcastPopup struct {
	ID      uint64
	Text    string
	Visible bool
}

// BroadcastModeChanged reports a knob mode change.
type BroadcastModeChanged struct {
	Mode Mode
}

// BroadcastSettings reports the settings window opening or closing.
type BroadcastSettings struct {
	Open  bool
	State UIState
}

// BroadcastSinkSelected reports a new default audio sink.
type BroadcastSinkSelected struct {
	Sink string
}

// BroadcastExternalApp reports the navigation app starting or exiting.
type BroadcastExternalApp struct {
	Running bool
}

func (BroadcastSliderChanged) broadcastMarker() {}
func (BroadcastPopup) broadcastMarker()         {}
func (BroadcastModeChanged) broadcastMarker()   {}
func (BroadcastSettings) broadcastMarker()      {}
func (BroadcastSinkSelected) broadcastMarker()  {}
func (BroadcastExternalApp) broadcastMarker()   {}

// wsSliderChangedData is the JSON `data` payload for "slider_changed".
type wsSliderChangedData struct {
	Slider  string `json:"slider"`
	Value   int    `json:"value"`
	Percent int    `json:"percent"`
}

// wsPopupData is the JSON `data` payload for "popup_shown" / "popup_dismissed".
type wsPopupData struct {
	ID   uint64 `json:"id"`
	Text string `json:"text"`
}

// wsModeChangedData is the JSON `data` payload for "mode_changed".
type wsModeChangedData struct {
	Mode string `json:"mode"`
}

// wsSinkSelectedData is the JSON `data` payload for "sink_selected".
type wsSinkSelectedData struct {
	Sink string `json:"sink"`
}

// wsExternalAppData is the JSON `data` payload for "external_app_changed".
type wsExternalAppData struct {
	Running bool `json:"running"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	Key  string // coalescing key; empty means "send immediately"
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

// Hub fans serialized frames out to every connected client.
type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int
	// BroadcastBuf is the hub inbound broadcast queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 32
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 128
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		stopped:    make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run processes registrations and broadcasts until ctx is canceled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Slow clients are collected under the lock and evicted after it.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// requestUnregister asks the hub to drop c without blocking after the hub stopped.
func (h *Hub) requestUnregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte
	once sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// close shuts the connection and closes send, which stops writePump.
// Safe to call more than once.
func (c *Client) close() {
	c.once.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

const (
	writeWait = 5 * time.Second

	// Keepalive defaults: conservative.
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsSliderCoalesceWindow is the maximum time window during which bursty slider updates
// are coalesced (latest-wins) before broadcasting to clients.
const wsSliderCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// logPumpExit records why a pump stopped. ErrCloseSent means we initiated the close.
func (c *Client) logPumpExit(pump, cause string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+cause+")", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket and keeps
// the connection alive with pings. It exits on write error or when send is
// closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logPumpExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logPumpExit("writePump", "ping error", err)
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to process control frames and
// to notice disconnects, after which the client is unregistered.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logPumpExit("readPump", "read error", err)
			break
		}
	}
	if c.hub != nil {
		c.hub.requestUnregister(c)
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

// Snapshotter provides the initial state sent to new clients.
type Snapshotter interface {
	Snapshot(ctx context.Context) (UIState, error)
}

type Server struct {
	logger *slog.Logger

	hub *Hub

	// Required for the initial state_init message on connect (through the UI loop).
	snapshots Snapshotter
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the WS state server components. Call Register on a mux,
// start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, snapshots Snapshotter, cfg ServerConfig) *Server {
	hub := NewHub(logger, cfg.Hub)
	return &Server{
		logger:    logger,
		hub:       hub,
		snapshots: snapshots,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	// The kiosk front-end is served from a different origin (file:// or a local dev server).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// Pumps are not tied to r.Context(): net/http cancels it when this handler
	// returns. The connection lifetime is managed by the hub and by I/O errors.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.snapshots == nil {
		return
	}

	waitCtx := r.Context()
	if _, has := r.Context().Deadline(); !has {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
	}

	snap, err := s.snapshots.Snapshot(waitCtx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := encodeEnvelope("state_init", snap)
	if err != nil {
		s.logger.Warn("ws snapshot marshal failed", "error", err)
		return
	}

	// Enqueue init message; if client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.requestUnregister(client)
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads UI-loop StateBroadcasts, marshals them, and broadcasts
// them to all hub clients. Intended to run as a single goroutine.
//
// Slider updates arrive in bursts while the knob spins; they are coalesced per
// slider (latest wins) and flushed at most once per wsSliderCoalesceWindow.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	pending := make(map[string]wsOutboundEvent)
	var order []string
	var timer *time.Timer
	var timerCh <-chan time.Time

	send := func(ev wsOutboundEvent) {
		msg, err := encodeEnvelope(ev.Type, ev.Data)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		for _, k := range order {
			send(pending[k])
			delete(pending, k)
		}
		order = order[:0]
	}

	stopTimer := func() {
		if timer == nil {
			timerCh = nil
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			// Best-effort: flush pending slider updates before exit.
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			timer = nil
			timerCh = nil

		case b, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				// Unknown broadcasts are dropped.
				continue
			}

			if ev.Key != "" {
				if _, exists := pending[ev.Key]; !exists {
					order = append(order, ev.Key)
				}
				pending[ev.Key] = ev
				if timer == nil {
					timer = time.NewTimer(wsSliderCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}

			// Keep ordering: anything pending goes out before this event.
			flushPending()
			stopTimer()
			send(ev)
		}
	}
}

func encodeEnvelope(typ string, data any) ([]byte, error) {
	now := time.Now().UTC()
	return json.Marshal(envelope{Type: typ, Ts: &now, Data: data})
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastSliderChanged:
		return wsOutboundEvent{
			Type: "slider_changed",
			Data: wsSliderChangedData{Slider: ev.Slider.String(), Value: ev.Value, Percent: ev.Percent},
			Key:  "slider:" + ev.Slider.String(),
		}, true

	case BroadcastPopup:
		typ := "popup_dismissed"
		if ev.Visible {
			typ = "popup_shown"
		}
		return wsOutboundEvent{Type: typ, Data: wsPopupData{ID: ev.ID, Text: ev.Text}}, true

	case BroadcastModeChanged:
		return wsOutboundEvent{Type: "mode_changed", Data: wsModeChangedData{Mode: ev.Mode.String()}}, true

	case BroadcastSettings:
		typ := "settings_closed"
		if ev.Open {
			typ = "settings_opened"
		}
		return wsOutboundEvent{Type: typ, Data: ev.State}, true

	case BroadcastSinkSelected:
		return wsOutboundEvent{Type: "sink_selected", Data: wsSinkSelectedData{Sink: ev.Sink}}, true

	case BroadcastExternalApp:
		return wsOutboundEvent{Type: "external_app_changed", Data: wsExternalAppData{Running: ev.Running}}, true

	default:
		return wsOutboundEvent{}, false
	}
}
