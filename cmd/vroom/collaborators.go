package main

import "context"

// AudioOutput is the audio-sink backend (PulseAudio in production).
type AudioOutput interface {
	// CurrentSink returns the sink volume changes apply to, if any.
	CurrentSink(ctx context.Context) (string, bool)
	VolumePercent(ctx context.Context, sink string) (int, error)
	// SetVolumePercent clamps pct into 0..100.
	SetVolumePercent(ctx context.Context, sink string, pct int) error
	Sinks(ctx context.Context) ([]string, error)
	SetDefaultSink(ctx context.Context, sink string) error
}

// Backlight is the display back-light backend.
type Backlight interface {
	// Raw never fails; implementations fall back to Max.
	Raw() int
	// SetRaw clamps raw into 0..Max.
	SetRaw(raw int) error
	Max() int
}

// ExternalApp controls the navigation application.
type ExternalApp interface {
	Running() bool
	Terminate() error
	Launch(ctx context.Context) error
}

// UINotifier is the worker's view of the UI loop. Every method copies its
// arguments into a message and returns without waiting for the UI.
type UINotifier interface {
	ModeToggled(m Mode)
	VolumeChanged(percent int)
	BrightnessChanged(raw int)
	SettingsOpened(s SettingsSnapshot)
	SettingsClosed()
	SinkSelected(name string)
}

// SettingsSnapshot is the device state the settings window opens with.
type SettingsSnapshot struct {
	VolumePercent int
	VolumeKnown   bool
	BrightnessRaw int
	Sinks         []string
	CurrentSink   string
}
