package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Intents
// ============================================================================
// Intents are what the input layer (GPIO, evdev, IPC) asks the worker to do.
// They are plain values so the bounded queue holds copies and the edge
// handlers never share memory with the worker.
// ============================================================================

// Intent is a marker interface for everything the dispatcher handles.
type Intent interface {
	intentMarker()
}

// Detent is one completed rotary detent. The dispatcher resolves it against
// the mode that is current when the detent is dispatched.
type Detent struct {
	Direction int `json:"direction"` // +1 clockwise, -1 counter-clockwise
}

// AdjustVolume changes the current sink volume by Delta percent.
type AdjustVolume struct {
	Delta int `json:"delta"`
}

// AdjustBrightness changes the backlight by Delta raw units.
type AdjustBrightness struct {
	Delta int `json:"delta"`
}

// ToggleMode switches between volume and brightness adjustment.
type ToggleMode struct{}

// TerminateExternalApp asks the navigation app to exit.
type TerminateExternalApp struct{}

// LaunchExternalApp starts the navigation app unless it is already running.
type LaunchExternalApp struct{}

// SetVolume sets the current sink volume to an absolute percentage.
type SetVolume struct {
	Percent int    `json:"percent"`
	Origin  string `json:"origin,omitempty"` // e.g. "settings", "ipc"
}

// SetBrightness sets the backlight to an absolute raw value.
type SetBrightness struct {
	Raw    int    `json:"raw"`
	Origin string `json:"origin,omitempty"`
}

// SelectSink makes Name the default audio sink.
type SelectSink struct {
	Name string `json:"name"`
}

// OpenSettings reads the device state and opens the settings window.
type OpenSettings struct{}

// CloseSettings closes the settings window.
type CloseSettings struct{}

func (Detent) intentMarker()               {}
func (AdjustVolume) intentMarker()         {}
func (AdjustBrightness) intentMarker()     {}
func (ToggleMode) intentMarker()           {}
func (TerminateExternalApp) intentMarker() {}
func (LaunchExternalApp) intentMarker()    {}
func (SetVolume) intentMarker()            {}
func (SetBrightness) intentMarker()        {}
func (SelectSink) intentMarker()           {}
func (OpenSettings) intentMarker()         {}
func (CloseSettings) intentMarker()        {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// eventTypeName returns the wire discriminator for e.
func eventTypeName(e Intent) (string, bool) {
	switch e.(type) {
	case Detent:
		return "detent", true
	case AdjustVolume:
		return "adjust_volume", true
	case AdjustBrightness:
		return "adjust_brightness", true
	case ToggleMode:
		return "toggle_mode", true
	case TerminateExternalApp:
		return "terminate_external_app", true
	case LaunchExternalApp:
		return "launch_external_app", true
	case SetVolume:
		return "set_volume", true
	case SetBrightness:
		return "set_brightness", true
	case SelectSink:
		return "select_sink", true
	case OpenSettings:
		return "open_settings", true
	case CloseSettings:
		return "close_settings", true
	default:
		return "", false
	}
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Intent
func UnmarshalEvent(data []byte) (Intent, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "detent":
		var e Detent
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal Detent: %w", err)
		}
		if e.Direction != 1 && e.Direction != -1 {
			return nil, fmt.Errorf("detent direction must be 1 or -1, got %d", e.Direction)
		}
		return e, nil

	case "adjust_volume":
		var e AdjustVolume
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal AdjustVolume: %w", err)
		}
		return e, nil

	case "adjust_brightness":
		var e AdjustBrightness
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal AdjustBrightness: %w", err)
		}
		return e, nil

	case "set_volume":
		var e SetVolume
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SetVolume: %w", err)
		}
		return e, nil

	case "set_brightness":
		var e SetBrightness
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SetBrightness: %w", err)
		}
		return e, nil

	case "select_sink":
		var e SelectSink
		if err := unmarshalData(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal SelectSink: %w", err)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("select_sink requires a sink name")
		}
		return e, nil

	case "toggle_mode":
		return ToggleMode{}, nil
	case "terminate_external_app":
		return TerminateExternalApp{}, nil
	case "launch_external_app":
		return LaunchExternalApp{}, nil
	case "open_settings":
		return OpenSettings{}, nil
	case "close_settings":
		return CloseSettings{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Intent into a JSON envelope with type discriminator
func MarshalEvent(e Intent) ([]byte, error) {
	name, ok := eventTypeName(e)
	if !ok {
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}
	env := EventEnvelope{Type: name}

	switch e.(type) {
	case ToggleMode, TerminateExternalApp, LaunchExternalApp, OpenSettings, CloseSettings:
		// no payload
	default:
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", e, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(data, v)
}
