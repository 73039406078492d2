package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ============================================================================
// HTTP Server
// ============================================================================
// Serves the kiosk state websocket (/state) and a health endpoint (/healthz)
// on one port.
// ============================================================================

// healthReport is the /healthz response body.
type healthReport struct {
	Status         string `json:"status"`
	InputActive    bool   `json:"input_active"`
	WSClients      int    `json:"ws_clients"`
	IntentsPushed  uint64 `json:"intents_pushed"`
	IntentsDropped uint64 `json:"intents_dropped"`
	QueueLen       int    `json:"queue_len"`
	QueueCap       int    `json:"queue_cap"`
}

// newHTTPMux builds the daemon's routes. inputActive reports whether a knob
// input source is running.
func newHTTPMux(ws *Server, queue *IntentQueue, inputActive func() bool) *http.ServeMux {
	mux := http.NewServeMux()
	ws.Register(mux, "/state")
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		qs := queue.Stats()
		rep := healthReport{
			Status:         "ok",
			InputActive:    inputActive(),
			WSClients:      ws.Hub().ClientCount(),
			IntentsPushed:  qs.Pushed,
			IntentsDropped: qs.Dropped,
			QueueLen:       qs.Len,
			QueueCap:       qs.Cap,
		}
		if !rep.InputActive {
			rep.Status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rep)
	})
	return mux
}

// runHTTPServer serves handler on addr and shuts down gracefully when ctx is cancelled.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serveHTTP(ctx, ln, handler, logger)
}

func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("HTTP server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
