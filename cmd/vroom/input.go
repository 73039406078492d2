package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

func decodeInputEvent(buf []byte) (inputEvent, error) {
	var ev inputEvent
	if len(buf) < inputEventSize {
		return ev, fmt.Errorf("short input event: %d bytes", len(buf))
	}
	err := binary.Read(bytes.NewReader(buf[:inputEventSize]), binary.LittleEndian, &ev)
	return ev, err
}

// Time returns the kernel timestamp of the event.
func (ev inputEvent) Time() time.Time {
	return time.Unix(ev.Sec, ev.Usec*int64(time.Microsecond))
}

// relAxisCode maps input.axis names to REL codes.
func relAxisCode(name string) (uint16, bool) {
	switch strings.ToLower(name) {
	case "x", "":
		return REL_X, true
	case "y":
		return REL_Y, true
	case "dial":
		return REL_DIAL, true
	case "wheel":
		return REL_WHEEL, true
	default:
		return 0, false
	}
}

// evdevTranslator feeds kernel-decoded knob events into the core. The
// rotary-encoder overlay already reports whole detents on a REL axis and the
// gpio-keys overlay reports the switch as a key.
type evdevTranslator struct {
	core    *Core
	axis    uint16
	button  uint16
	reverse bool
}

func (t *evdevTranslator) handle(ev inputEvent) {
	switch ev.Type {
	case EV_REL:
		if ev.Code != t.axis || ev.Value == 0 {
			return
		}
		steps := int(ev.Value)
		if t.reverse {
			steps = -steps
		}
		t.core.OnDetents(steps)
	case EV_KEY:
		if ev.Code != t.button {
			return
		}
		switch ev.Value {
		case evValuePress:
			t.core.OnButtonLevel(true, ev.Time())
		case evValueRelease:
			t.core.OnButtonLevel(false, ev.Time())
		case evValueRepeat:
			// autorepeat while held carries no gesture information
		}
	}
}

// runEvdevSource reads the configured devices until ctx is cancelled.
func runEvdevSource(ctx context.Context, cfg InputConfig, reverse bool, core *Core, logger *slog.Logger) error {
	axis, ok := relAxisCode(cfg.Axis)
	if !ok {
		return fmt.Errorf("unknown input axis %q", cfg.Axis)
	}
	if len(cfg.Devices) == 0 {
		return errors.New("no input devices configured")
	}

	files := make([]*os.File, 0, len(cfg.Devices))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, path := range cfg.Devices {
		f, err := os.Open(ExpandPath(path))
		if err != nil {
			return fmt.Errorf("open input device %s: %w", path, err)
		}
		files = append(files, f)
		logger.Info("opened input device", "device", path)
	}

	tr := &evdevTranslator{
		core:    core,
		axis:    axis,
		button:  uint16(cfg.ButtonCode),
		reverse: reverse,
	}
	return readInputEventsEpoll(ctx, files, tr.handle)
}
