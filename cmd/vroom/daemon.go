package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Worker loop
// ============================================================================
//
// Edge handlers (GPIO, evdev) and the IPC server only enqueue Intents. This
// loop is the single consumer: it drains the queue in FIFO order and hands
// each intent to the Dispatcher, which is the only place that performs device
// I/O (pactl, sysfs, signals). UI updates leave through the bridge.
//
// ============================================================================

// runDaemon processes intents until ctx is canceled.
//
// dropReportInterval controls how often queue overflow is reported; zero
// disables the report.
func runDaemon(
	ctx context.Context,
	queue *IntentQueue,
	dispatcher *Dispatcher,
	dropReportInterval time.Duration,
	logger *slog.Logger,
) {
	if queue == nil || dispatcher == nil {
		logger.Error("daemon started without queue or dispatcher")
		return
	}

	var reportC <-chan time.Time
	if dropReportInterval > 0 {
		ticker := time.NewTicker(dropReportInterval)
		defer ticker.Stop()
		reportC = ticker.C
	}
	var lastDropped uint64

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case in := <-queue.C():
			start := time.Now()
			dispatcher.Dispatch(ctx, in)
			logger.Debug("intent dispatched", "intent", intentName(in), "took", time.Since(start))

		case <-reportC:
			st := queue.Stats()
			if st.Dropped != lastDropped {
				logger.Warn("intent queue overflow", "dropped_total", st.Dropped, "dropped_since_last", st.Dropped-lastDropped, "capacity", st.Cap)
				lastDropped = st.Dropped
			}
		}
	}
}

func intentName(in Intent) string {
	if name, ok := eventTypeName(in); ok {
		return name
	}
	return "unknown"
}
