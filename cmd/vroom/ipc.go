package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// External clients (vroomctl, kiosk scripts) send intents as line-delimited
// JSON. Intents go through the same bounded queue as knob input, so they are
// processed in order with it by the worker.
//
//   - Client sends: {"type": "toggle_mode"} or {"type": "set_volume", "data": {"percent": 40}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//
// The extra request {"type": "get_state"} answers with the current UI state.
// Intent pushes share one token bucket so a runaway script cannot crowd the
// knob out of the queue.
// ============================================================================

const ipcGetState = "get_state"

var errIPCRateLimited = errors.New("rate limited")

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string   `json:"status"`          // "ok" or "error"
	Error  string   `json:"error,omitempty"` // error message if status == "error"
	State  *UIState `json:"state,omitempty"` // get_state only
}

// ipcHandler turns request lines into queue pushes or state queries.
type ipcHandler struct {
	queue     *IntentQueue
	snapshots Snapshotter
	limiter   *rate.Limiter // nil: unlimited
	logger    *slog.Logger
}

func newIPCLimiter(cfg IPCConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
}

// runIPCServer serves cfg.SocketPath until ctx is cancelled.
func runIPCServer(ctx context.Context, cfg IPCConfig, queue *IntentQueue, snapshots Snapshotter, logger *slog.Logger) error {
	socketPath := cfg.SocketPath
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	h := &ipcHandler{queue: queue, snapshots: snapshots, limiter: newIPCLimiter(cfg), logger: logger}
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go h.serveConn(ctx, conn)
	}
}

func (h *ipcHandler) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	h.logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h.logger.Debug("IPC received", "line", line)

		if err := encoder.Encode(h.handleLine(ctx, []byte(line))); err != nil {
			h.logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	h.logger.Debug("IPC connection closed")
}

func (h *ipcHandler) handleLine(ctx context.Context, line []byte) IPCResponse {
	var env EventEnvelope
	if err := json.Unmarshal(line, &env); err == nil && env.Type == ipcGetState {
		return h.state(ctx)
	}

	in, err := UnmarshalEvent(line)
	if err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)}
	}
	switch v := in.(type) {
	case SetVolume:
		if v.Origin == "" {
			v.Origin = "ipc"
		}
		in = v
	case SetBrightness:
		if v.Origin == "" {
			v.Origin = "ipc"
		}
		in = v
	}

	if h.limiter != nil && !h.limiter.Allow() {
		h.logger.Debug("IPC intent rejected", "intent", intentName(in), "reason", errIPCRateLimited)
		return IPCResponse{Status: "error", Error: errIPCRateLimited.Error()}
	}
	if !h.queue.TryPush(in) {
		return IPCResponse{Status: "error", Error: "intent queue full"}
	}
	return IPCResponse{Status: "ok"}
}

func (h *ipcHandler) state(ctx context.Context) IPCResponse {
	if h.snapshots == nil {
		return IPCResponse{Status: "error", Error: "state not available"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := h.snapshots.Snapshot(ctx)
	if err != nil {
		return IPCResponse{Status: "error", Error: err.Error()}
	}
	return IPCResponse{Status: "ok", State: &st}
}

// ============================================================================
// IPC Client
// ============================================================================

// SendIPCEvent sends an intent to the daemon and waits for the acknowledgement.
func SendIPCEvent(socketPath string, in Intent) error {
	data, err := MarshalEvent(in)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	resp, err := ipcRoundTrip(socketPath, data)
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("ipc error: %s", resp.Error)
	}
	return nil
}

// QueryIPCState asks the daemon for its UI state.
func QueryIPCState(socketPath string) (UIState, error) {
	data, _ := json.Marshal(EventEnvelope{Type: ipcGetState})
	resp, err := ipcRoundTrip(socketPath, data)
	if err != nil {
		return UIState{}, err
	}
	if resp.Status != "ok" || resp.State == nil {
		return UIState{}, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return *resp.State, nil
}

func ipcRoundTrip(socketPath string, line []byte) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return IPCResponse{}, fmt.Errorf("send event: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
