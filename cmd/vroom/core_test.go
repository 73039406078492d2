package main

import (
	"testing"
	"time"
)

func drainIntents(q *IntentQueue) []Intent {
	var out []Intent
	for {
		select {
		case in := <-q.C():
			out = append(out, in)
		default:
			return out
		}
	}
}

func TestCore_RotaryDetentEnqueued(t *testing.T) {
	c := NewCore(0b00, CoreConfig{DetentThreshold: 4, QueueSize: 8}, nil)

	for _, s := range []PinSample{0b01, 0b11, 0b10, 0b00} {
		c.OnRotarySample(s)
	}

	got := drainIntents(c.Queue())
	if len(got) != 1 {
		t.Fatalf("expected one intent, got %v", got)
	}
	if d, ok := got[0].(Detent); !ok || d.Direction != 1 {
		t.Fatalf("expected Detent{+1}, got %#v", got[0])
	}
}

func TestCore_ButtonGesturesEnqueued(t *testing.T) {
	c := NewCore(0b00, CoreConfig{LongPress: time.Second, QueueSize: 8}, nil)
	t0 := time.Unix(2000, 0)

	c.OnButtonLevel(true, t0)
	c.OnButtonLevel(false, t0.Add(200*time.Millisecond))
	c.OnButtonLevel(true, t0.Add(time.Second))
	c.OnButtonLevel(false, t0.Add(2500*time.Millisecond))

	got := drainIntents(c.Queue())
	if len(got) != 2 {
		t.Fatalf("expected two intents, got %v", got)
	}
	if _, ok := got[0].(ToggleMode); !ok {
		t.Errorf("first = %T, want ToggleMode", got[0])
	}
	if _, ok := got[1].(TerminateExternalApp); !ok {
		t.Errorf("second = %T, want TerminateExternalApp", got[1])
	}
}

func TestCore_OnDetentsExpandsSteps(t *testing.T) {
	c := NewCore(0b00, CoreConfig{QueueSize: 8}, nil)

	c.OnDetents(-3)
	got := drainIntents(c.Queue())
	if len(got) != 3 {
		t.Fatalf("expected 3 detents, got %d", len(got))
	}
	for _, in := range got {
		if d, ok := in.(Detent); !ok || d.Direction != -1 {
			t.Fatalf("expected Detent{-1}, got %#v", in)
		}
	}
}

func TestCore_FullQueueDropsWithoutBlocking(t *testing.T) {
	c := NewCore(0b00, CoreConfig{QueueSize: 1}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.OnDetents(5)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("edge handler blocked on a full queue")
	}

	if st := c.Queue().Stats(); st.Dropped != 4 {
		t.Fatalf("expected 4 dropped intents, got %+v", st)
	}
}
