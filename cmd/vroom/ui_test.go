package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// countingMsg records how many times the loop applied it.
type countingMsg struct {
	runs   *atomic.Int32
	onLoop chan bool
}

func (p countingMsg) apply(*UILoop) {
	p.runs.Add(1)
	select {
	case p.onLoop <- true:
	default:
	}
}

func startUILoop(t *testing.T, cfg UIConfig) (*UILoop, chan StateBroadcast, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	broadcasts := make(chan StateBroadcast, 64)
	l := NewUILoop(cfg, broadcasts, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()
	return l, broadcasts, cancel, done
}

func snapshot(t *testing.T, l *UILoop) UIState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return st
}

func TestUILoop_PostRunsExactlyOnceAsynchronously(t *testing.T) {
	// Loop not started yet: Post must return without running the message.
	broadcasts := make(chan StateBroadcast, 8)
	l := NewUILoop(UIConfig{}, broadcasts, slog.Default())

	var runs atomic.Int32
	p := countingMsg{runs: &runs, onLoop: make(chan bool, 1)}
	if !l.Post(p) {
		t.Fatalf("Post before Run should enqueue")
	}
	if runs.Load() != 0 {
		t.Fatalf("message ran synchronously in the caller")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case <-p.onLoop:
	case <-time.After(time.Second):
		t.Fatalf("message never ran on the loop")
	}

	// A snapshot round trip proves the loop has moved past the countingMsg.
	snapshot(t, l)
	if n := runs.Load(); n != 1 {
		t.Fatalf("message ran %d times, want 1", n)
	}
}

func TestUILoop_PostAfterStopReturnsFalse(t *testing.T) {
	l, _, cancel, done := startUILoop(t, UIConfig{})
	cancel()
	<-done

	var runs atomic.Int32
	if l.Post(countingMsg{runs: &runs, onLoop: make(chan bool, 1)}) {
		t.Fatalf("Post after stop should return false")
	}
	if _, err := l.Snapshot(context.Background()); err != ErrUIStopped {
		t.Fatalf("Snapshot after stop: got %v, want ErrUIStopped", err)
	}
}

func TestUILoop_SliderUpdateWithoutSettingsIsNoop(t *testing.T) {
	l, broadcasts, cancel, _ := startUILoop(t, UIConfig{})
	defer cancel()

	l.VolumeChanged(40)
	l.BrightnessChanged(10)

	st := snapshot(t, l)
	if st.SettingsOpen || st.VolumeKnown || st.VolumePercent != 0 {
		t.Fatalf("stale slider update changed state: %+v", st)
	}
	select {
	case b := <-broadcasts:
		t.Fatalf("unexpected broadcast %#v", b)
	default:
	}
}

func TestUILoop_SettingsSliders(t *testing.T) {
	l, broadcasts, cancel, _ := startUILoop(t, UIConfig{BrightnessMax: 31})
	defer cancel()

	l.SettingsOpened(SettingsSnapshot{
		VolumePercent: 30,
		VolumeKnown:   true,
		BrightnessRaw: 31,
		Sinks:         []string{"a", "b"},
		CurrentSink:   "a",
	})
	l.VolumeChanged(100)
	l.BrightnessChanged(0)
	l.SinkSelected("b")

	st := snapshot(t, l)
	if !st.SettingsOpen {
		t.Fatalf("settings should be open")
	}
	if st.VolumePercent != 100 || st.BrightnessRaw != 0 || st.BrightnessPercent != 0 {
		t.Fatalf("unexpected slider values: %+v", st)
	}
	if st.CurrentSink != "b" || len(st.Sinks) != 2 {
		t.Fatalf("unexpected sinks: %+v", st)
	}

	var sawBrightness bool
	for len(broadcasts) > 0 {
		if b, ok := (<-broadcasts).(BroadcastSliderChanged); ok && b.Slider == SliderBrightness {
			sawBrightness = true
			if b.Value != 0 || b.Percent != 0 {
				t.Fatalf("unexpected brightness broadcast %+v", b)
			}
		}
	}
	if !sawBrightness {
		t.Fatalf("expected a brightness slider broadcast")
	}

	// Once the window is gone, further updates are dropped.
	l.SettingsClosed()
	l.VolumeChanged(5)
	st = snapshot(t, l)
	if st.SettingsOpen || st.VolumePercent != 0 {
		t.Fatalf("closed settings still updated: %+v", st)
	}
}

func TestUILoop_PopupDismissesItself(t *testing.T) {
	l, _, cancel, _ := startUILoop(t, UIConfig{PopupTimeout: 50 * time.Millisecond})
	defer cancel()

	l.ModeToggled(ModeBrightness)

	st := snapshot(t, l)
	if st.Mode != "Brightness" {
		t.Fatalf("mode = %q, want Brightness", st.Mode)
	}
	if len(st.Popups) != 1 || st.Popups[0] != "Brightness" {
		t.Fatalf("expected Brightness popup, got %v", st.Popups)
	}

	waitUntil(t, time.Second, func() bool {
		return len(snapshot(t, l).Popups) == 0
	}, "popup was not dismissed")
}

func TestUILoop_StaleDismissIsNoop(t *testing.T) {
	l, _, cancel, _ := startUILoop(t, UIConfig{PopupTimeout: time.Hour})
	defer cancel()

	l.Post(ShowPopup{Text: "Volume"})
	l.Post(dismissPopup{id: 99})
	l.Post(dismissPopup{id: 1})
	l.Post(dismissPopup{id: 1})

	if st := snapshot(t, l); len(st.Popups) != 0 {
		t.Fatalf("expected no popups, got %v", st.Popups)
	}
}

func TestBrightnessPercent(t *testing.T) {
	tests := []struct {
		raw, max, want int
	}{
		{0, 31, 0},
		{31, 31, 100},
		{15, 31, 48},
		{40, 31, 100},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := brightnessPercent(tt.raw, tt.max); got != tt.want {
			t.Errorf("brightnessPercent(%d, %d) = %d, want %d", tt.raw, tt.max, got, tt.want)
		}
	}
}
