package main

import (
	"context"
	"log/slog"
)

// DispatcherConfig holds the step sizes applied per detent.
type DispatcherConfig struct {
	VolumeStep     int // percent per detent
	BrightnessStep int // raw units per detent
}

// Dispatcher executes intents against the device collaborators and reports
// the resulting authoritative values to the UI.
//
// It runs only on the worker goroutine. Collaborator failures never escape:
// the affected intent is dropped and the next one is processed normally.
type Dispatcher struct {
	audio     AudioOutput
	backlight Backlight
	app       ExternalApp
	mode      *ModeState
	ui        UINotifier
	cfg       DispatcherConfig
	logger    *slog.Logger
}

// NewDispatcher wires a dispatcher. Any collaborator may be nil, in which case
// intents needing it are ignored.
func NewDispatcher(
	audio AudioOutput,
	backlight Backlight,
	app ExternalApp,
	mode *ModeState,
	ui UINotifier,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.VolumeStep <= 0 {
		cfg.VolumeStep = defaultVolumeStep
	}
	if cfg.BrightnessStep <= 0 {
		cfg.BrightnessStep = defaultBrightnessStep
	}
	if mode == nil {
		mode = &ModeState{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		audio:     audio,
		backlight: backlight,
		app:       app,
		mode:      mode,
		ui:        ui,
		cfg:       cfg,
		logger:    logger,
	}
}

// Dispatch handles a single intent.
func (d *Dispatcher) Dispatch(ctx context.Context, in Intent) {
	switch in := in.(type) {
	case Detent:
		d.detent(ctx, in.Direction)

	case AdjustVolume:
		d.adjustVolume(ctx, in.Delta)

	case AdjustBrightness:
		d.adjustBrightness(in.Delta)

	case ToggleMode:
		m := d.mode.Toggle()
		d.logger.Debug("mode toggled", "mode", m)
		if d.ui != nil {
			d.ui.ModeToggled(m)
		}

	case TerminateExternalApp:
		d.terminateApp()

	case LaunchExternalApp:
		d.launchApp(ctx)

	case SetVolume:
		d.logger.Debug("set volume requested", "percent", in.Percent, "origin", in.Origin)
		d.setVolume(ctx, in.Percent)

	case SetBrightness:
		d.logger.Debug("set brightness requested", "raw", in.Raw, "origin", in.Origin)
		d.setBrightness(in.Raw)

	case SelectSink:
		d.selectSink(ctx, in.Name)

	case OpenSettings:
		d.openSettings(ctx)

	case CloseSettings:
		if d.ui != nil {
			d.ui.SettingsClosed()
		}

	default:
		d.logger.Warn("unknown intent", "intent", in)
	}
}

func (d *Dispatcher) detent(ctx context.Context, dir int) {
	if dir != 1 && dir != -1 {
		return
	}
	switch d.mode.Get() {
	case ModeBrightness:
		d.adjustBrightness(dir * d.cfg.BrightnessStep)
	default:
		d.adjustVolume(ctx, dir*d.cfg.VolumeStep)
	}
}

func (d *Dispatcher) adjustVolume(ctx context.Context, delta int) {
	if d.audio == nil {
		return
	}
	sink, ok := d.audio.CurrentSink(ctx)
	if !ok {
		d.logger.Debug("volume change skipped: no current sink")
		return
	}
	cur, err := d.audio.VolumePercent(ctx, sink)
	if err != nil {
		d.logger.Debug("volume change skipped: read failed", "sink", sink, "error", err)
		return
	}
	d.applyVolume(ctx, sink, clamp(cur+delta, 0, 100))
}

func (d *Dispatcher) setVolume(ctx context.Context, pct int) {
	if d.audio == nil {
		return
	}
	sink, ok := d.audio.CurrentSink(ctx)
	if !ok {
		d.logger.Debug("volume change skipped: no current sink")
		return
	}
	d.applyVolume(ctx, sink, clamp(pct, 0, 100))
}

// applyVolume writes target and forwards the value read back from the sink.
func (d *Dispatcher) applyVolume(ctx context.Context, sink string, target int) {
	if err := d.audio.SetVolumePercent(ctx, sink, target); err != nil {
		d.logger.Warn("set volume failed", "sink", sink, "percent", target, "error", err)
		return
	}
	actual, err := d.audio.VolumePercent(ctx, sink)
	if err != nil {
		d.logger.Debug("volume re-read failed", "sink", sink, "error", err)
		return
	}
	d.logger.Debug("volume applied", "sink", sink, "percent", actual)
	if d.ui != nil {
		d.ui.VolumeChanged(actual)
	}
}

func (d *Dispatcher) adjustBrightness(delta int) {
	if d.backlight == nil {
		return
	}
	cur := d.backlight.Raw()
	d.applyBrightness(clamp(cur+delta, 0, d.backlight.Max()))
}

func (d *Dispatcher) setBrightness(raw int) {
	if d.backlight == nil {
		return
	}
	d.applyBrightness(clamp(raw, 0, d.backlight.Max()))
}

func (d *Dispatcher) applyBrightness(target int) {
	if err := d.backlight.SetRaw(target); err != nil {
		d.logger.Warn("set brightness failed", "raw", target, "error", err)
		return
	}
	actual := d.backlight.Raw()
	d.logger.Debug("brightness applied", "raw", actual)
	if d.ui != nil {
		d.ui.BrightnessChanged(actual)
	}
}

func (d *Dispatcher) terminateApp() {
	if d.app == nil || !d.app.Running() {
		d.logger.Debug("terminate skipped: external app not running")
		return
	}
	if err := d.app.Terminate(); err != nil {
		d.logger.Warn("terminate external app failed", "error", err)
		return
	}
	d.logger.Info("external app termination requested")
}

func (d *Dispatcher) launchApp(ctx context.Context) {
	if d.app == nil {
		return
	}
	if d.app.Running() {
		d.logger.Debug("launch skipped: external app already running")
		return
	}
	if err := d.app.Launch(ctx); err != nil {
		d.logger.Warn("launch external app failed", "error", err)
	}
}

func (d *Dispatcher) selectSink(ctx context.Context, name string) {
	if d.audio == nil {
		return
	}
	if err := d.audio.SetDefaultSink(ctx, name); err != nil {
		d.logger.Warn("select sink failed", "sink", name, "error", err)
		return
	}
	if d.ui != nil {
		d.ui.SinkSelected(name)
	}
	sink, ok := d.audio.CurrentSink(ctx)
	if !ok {
		return
	}
	vol, err := d.audio.VolumePercent(ctx, sink)
	if err != nil {
		d.logger.Debug("volume read after sink change failed", "sink", sink, "error", err)
		return
	}
	if d.ui != nil {
		d.ui.VolumeChanged(vol)
	}
}

func (d *Dispatcher) openSettings(ctx context.Context) {
	if d.ui == nil {
		return
	}
	var snap SettingsSnapshot
	if d.backlight != nil {
		snap.BrightnessRaw = d.backlight.Raw()
	}
	if d.audio != nil {
		if sinks, err := d.audio.Sinks(ctx); err == nil {
			snap.Sinks = sinks
		} else {
			d.logger.Debug("list sinks failed", "error", err)
		}
		if sink, ok := d.audio.CurrentSink(ctx); ok {
			snap.CurrentSink = sink
			if vol, err := d.audio.VolumePercent(ctx, sink); err == nil {
				snap.VolumePercent = vol
				snap.VolumeKnown = true
			}
		}
	}
	d.ui.SettingsOpened(snap)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
