package main

import "sync/atomic"

// Mode selects what the rotary knob adjusts.
type Mode int

const (
	ModeVolume Mode = iota
	ModeBrightness
)

func (m Mode) String() string {
	switch m {
	case ModeVolume:
		return "Volume"
	case ModeBrightness:
		return "Brightness"
	default:
		return "Unknown"
	}
}

// ModeState is the knob mode shared by the worker, the UI loop and the
// websocket snapshot. The zero value is ModeVolume.
type ModeState struct {
	brightness atomic.Bool
}

// Get returns the current mode.
func (s *ModeState) Get() Mode {
	if s.brightness.Load() {
		return ModeBrightness
	}
	return ModeVolume
}

// Set stores m.
func (s *ModeState) Set(m Mode) {
	s.brightness.Store(m == ModeBrightness)
}

// Toggle flips the mode and returns the new one.
func (s *ModeState) Toggle() Mode {
	for {
		old := s.brightness.Load()
		if s.brightness.CompareAndSwap(old, !old) {
			if old {
				return ModeVolume
			}
			return ModeBrightness
		}
	}
}
