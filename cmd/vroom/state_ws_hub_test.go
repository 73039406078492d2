package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

// Hub tests run without network I/O: clients carry a nil websocket.Conn and
// the tests never start their pumps. Client.close tolerates a nil conn.

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	// Run the hub loop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	// Create two clients with buffered send channels and nil conns (not used in this test).
	c1 := &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, 4),
		remoteAddr: "c1",
		logger:     slog.Default(),
	}
	c2 := &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, 4),
		remoteAddr: "c2",
		logger:     slog.Default(),
	}

	// Ensure registrations have been processed by the hub goroutine before broadcasting.
	hub.register <- c1
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c1]
		return ok
	}, "client1 not registered in time")

	hub.register <- c2
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c2]
		return ok
	}, "client2 not registered in time")

	msg := []byte(`{"type":"slider_changed","data":{"slider":"volume","value":40,"percent":40}}`)

	// BroadcastBytes may drop; push directly for a deterministic test.
	hub.broadcast <- msg

	// Both clients should receive the message.
	select {
	case got := <-c1.send:
		if string(got) != string(msg) {
			t.Fatalf("client1 got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for client1 to receive broadcast")
	}

	select {
	case got := <-c2.send:
		if string(got) != string(msg) {
			t.Fatalf("client2 got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for client2 to receive broadcast")
	}

	// Shutdown hub.
	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// sendBuf=1 so we can fill it easily; broadcastBuf ample.
	hub := newTestHub(t, 1, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	// Slow client: send buffer will fill and we never drain it.
	slow := &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, 1),
		remoteAddr: "slow",
		logger:     slog.Default(),
	}

	// Fast client: we will drain its channel.
	fast := &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, 8),
		remoteAddr: "fast",
		logger:     slog.Default(),
	}

	// Ensure registrations have been processed by the hub goroutine before broadcasting.
	hub.register <- slow
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[slow]
		return ok
	}, "slow client not registered in time")

	hub.register <- fast
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[fast]
		return ok
	}, "fast client not registered in time")

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	// Broadcast should attempt to enqueue to slow, hit default, and disconnect it,
	// while still delivering to fast.
	msg := []byte(`{"type":"mode_changed","data":{"mode":"Brightness"}}`)

	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// The slow client should be disconnected and its send channel should be closed.
	// (There may still be the pre-filled message in the buffer; drain it first.)
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("expected 1 remaining client, got %d", n)
	}
}

func TestHub_StopClosesAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := newTestHub(t, 2, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c := &Client{hub: hub, send: make(chan []byte, 2), remoteAddr: "c", logger: slog.Default()}
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.ClientCount() == 1 }, "client not registered")

	cancel()
	<-done

	if _, ok := <-c.send; ok {
		t.Fatalf("send channel should be closed after hub stop")
	}
	// Unregistering after stop must not block.
	hub.requestUnregister(c)
}

func TestRunBroadcaster_CoalescesSliderUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 8, 16)
	src := make(chan StateBroadcast, 16)

	go RunBroadcaster(ctx, hub, src, slog.Default())

	for v := 10; v <= 50; v += 10 {
		src <- BroadcastSliderChanged{Slider: SliderVolume, Value: v, Percent: v}
	}

	var frame []byte
	select {
	case frame = <-hub.broadcast:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for coalesced slider frame")
	}

	var env struct {
		Type string              `json:"type"`
		Data wsSliderChangedData `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if env.Type != "slider_changed" || env.Data.Value != 50 || env.Data.Slider != "volume" {
		t.Fatalf("expected latest volume slider value 50, got %+v", env)
	}

	select {
	case extra := <-hub.broadcast:
		t.Fatalf("expected a single coalesced frame, got extra %s", extra)
	case <-time.After(2 * wsSliderCoalesceWindow):
	}
}

func TestRunBroadcaster_FlushesPendingBeforeOtherEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 8, 16)
	src := make(chan StateBroadcast, 16)
	go RunBroadcaster(ctx, hub, src, slog.Default())

	src <- BroadcastSliderChanged{Slider: SliderBrightness, Value: 20, Percent: 65}
	src <- BroadcastModeChanged{Mode: ModeVolume}

	var types []string
	for i := 0; i < 2; i++ {
		select {
		case frame := <-hub.broadcast:
			var env envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			types = append(types, env.Type)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
	if types[0] != "slider_changed" || types[1] != "mode_changed" {
		t.Fatalf("unexpected frame order: %v", types)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
