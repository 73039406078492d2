package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ============================================================================
// UI loop and bridge
// ============================================================================
//
// The UI loop is the only goroutine that touches UI state: the settings
// window with its sliders and sink list, the transient HUD popups, and the
// displayed mode. Other goroutines reach it exclusively by posting
// UIMessages, which are values copied into a bounded channel and executed
// once, in order, on the loop goroutine.
//
// Every applied change is published as a StateBroadcast for the kiosk
// front-end (see state_ws.go).
//
// ============================================================================

// Slider identifies a settings-window slider.
type Slider int

const (
	SliderVolume Slider = iota
	SliderBrightness
)

func (s Slider) String() string {
	switch s {
	case SliderVolume:
		return "volume"
	case SliderBrightness:
		return "brightness"
	default:
		return "unknown"
	}
}

// UIMessage is a unit of work executed on the UI loop.
type UIMessage interface {
	apply(l *UILoop)
}

// ErrUIStopped is returned when the UI loop is no longer running.
var ErrUIStopped = errors.New("ui loop stopped")

// UIState is a copy of what the UI currently shows.
type UIState struct {
	Mode               string    `json:"mode"`
	SettingsOpen       bool      `json:"settings_open"`
	VolumePercent      int       `json:"volume_percent"`
	VolumeKnown        bool      `json:"volume_known"`
	BrightnessRaw      int       `json:"brightness_raw"`
	BrightnessPercent  int       `json:"brightness_percent"`
	Sinks              []string  `json:"sinks,omitempty"`
	CurrentSink        string    `json:"current_sink,omitempty"`
	Popups             []string  `json:"popups,omitempty"`
	ExternalAppRunning bool      `json:"external_app_running"`
	At                 time.Time `json:"at"`
}

type settingsWindow struct {
	volume        int
	volumeKnown   bool
	brightnessRaw int
	sinks         []string
	currentSink   string
}

type popupWindow struct {
	text  string
	timer *time.Timer
}

// UILoop owns the UI state. Create it with NewUILoop and start Run once.
type UILoop struct {
	msgs chan UIMessage
	done chan struct{}

	popupTimeout  time.Duration
	brightnessMax int
	broadcasts    chan<- StateBroadcast
	logger        *slog.Logger

	// Loop-owned; only touched from apply methods.
	mode       Mode
	settings   *settingsWindow
	popups     map[uint64]*popupWindow
	popupOrder []uint64
	popupSeq   uint64
	appRunning bool
}

// UIConfig configures the UI loop.
type UIConfig struct {
	PopupTimeout  time.Duration
	BrightnessMax int
	QueueSize     int
}

// NewUILoop constructs the loop. broadcasts may be nil.
func NewUILoop(cfg UIConfig, broadcasts chan<- StateBroadcast, logger *slog.Logger) *UILoop {
	if cfg.PopupTimeout <= 0 {
		cfg.PopupTimeout = defaultPopupTimeout
	}
	if cfg.BrightnessMax <= 0 {
		cfg.BrightnessMax = defaultBacklightMax
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultUIQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UILoop{
		msgs:          make(chan UIMessage, cfg.QueueSize),
		done:          make(chan struct{}),
		popupTimeout:  cfg.PopupTimeout,
		brightnessMax: cfg.BrightnessMax,
		broadcasts:    broadcasts,
		logger:        logger,
		popups:        make(map[uint64]*popupWindow),
	}
}

// Run executes posted messages until ctx is canceled. Messages still queued
// at that point are discarded.
func (l *UILoop) Run(ctx context.Context) {
	defer func() {
		close(l.done)
		for _, p := range l.popups {
			p.timer.Stop()
		}
	}()

	l.logger.Info("ui loop starting")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("ui loop stopping (context canceled)")
			return
		case msg := <-l.msgs:
			msg.apply(l)
		}
	}
}

// Post copies msg into the loop queue. It blocks while the queue is full and
// returns false if the loop has stopped, in which case msg never runs.
func (l *UILoop) Post(msg UIMessage) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case <-l.done:
		return false
	case l.msgs <- msg:
		return true
	}
}

// Snapshot asks the loop for a copy of the current UI state.
func (l *UILoop) Snapshot(ctx context.Context) (UIState, error) {
	reply := make(chan UIState, 1)
	if !l.Post(RequestUISnapshot{Reply: reply}) {
		return UIState{}, ErrUIStopped
	}
	select {
	case <-ctx.Done():
		return UIState{}, ctx.Err()
	case <-l.done:
		return UIState{}, ErrUIStopped
	case st := <-reply:
		return st, nil
	}
}

// ----------------------------------------------------------------------------
// UINotifier
// ----------------------------------------------------------------------------

func (l *UILoop) ModeToggled(m Mode) {
	l.Post(modeChanged{mode: m})
	l.Post(ShowPopup{Text: m.String()})
}

func (l *UILoop) VolumeChanged(percent int) {
	l.Post(SetSlider{Slider: SliderVolume, Value: percent})
}

func (l *UILoop) BrightnessChanged(raw int) {
	l.Post(SetSlider{Slider: SliderBrightness, Value: raw})
}

func (l *UILoop) SettingsOpened(s SettingsSnapshot) {
	// Copy the slice so the loop never shares backing storage with the caller.
	s.Sinks = append([]string(nil), s.Sinks...)
	l.Post(openSettings{snap: s})
}

func (l *UILoop) SettingsClosed() { l.Post(closeSettings{}) }

func (l *UILoop) SinkSelected(name string) { l.Post(sinkSelected{name: name}) }

// ExternalAppChanged records whether the navigation app is in the foreground.
func (l *UILoop) ExternalAppChanged(running bool) {
	l.Post(externalAppChanged{running: running})
}

// ----------------------------------------------------------------------------
// Messages
// ----------------------------------------------------------------------------

// SetSlider moves a settings slider. Value is a volume percentage or a raw
// back-light level. Without an open settings window it does nothing.
type SetSlider struct {
	Slider Slider
	Value  int
}

func (m SetSlider) apply(l *UILoop) {
	if l.settings == nil {
		l.logger.Debug("slider update dropped: settings window closed", "slider", m.Slider)
		return
	}
	switch m.Slider {
	case SliderVolume:
		l.settings.volume = clamp(m.Value, 0, 100)
		l.settings.volumeKnown = true
		l.publish(BroadcastSliderChanged{Slider: m.Slider, Value: l.settings.volume, Percent: l.settings.volume})
	case SliderBrightness:
		l.settings.brightnessRaw = clamp(m.Value, 0, l.brightnessMax)
		l.publish(BroadcastSliderChanged{
			Slider:  m.Slider,
			Value:   l.settings.brightnessRaw,
			Percent: brightnessPercent(l.settings.brightnessRaw, l.brightnessMax),
		})
	}
}

// ShowPopup shows a HUD popup that dismisses itself after the popup timeout.
type ShowPopup struct {
	Text string
}

func (m ShowPopup) apply(l *UILoop) {
	l.popupSeq++
	id := l.popupSeq
	l.popups[id] = &popupWindow{
		text: m.Text,
		timer: time.AfterFunc(l.popupTimeout, func() {
			l.Post(dismissPopup{id: id})
		}),
	}
	l.popupOrder = append(l.popupOrder, id)
	l.publish(BroadcastPopup{ID: id, Text: m.Text, Visible: true})
}

type dismissPopup struct {
	id uint64
}

func (m dismissPopup) apply(l *UILoop) {
	p, ok := l.popups[m.id]
	if !ok {
		return
	}
	p.timer.Stop()
	delete(l.popups, m.id)
	for i, id := range l.popupOrder {
		if id == m.id {
			l.popupOrder = append(l.popupOrder[:i], l.popupOrder[i+1:]...)
			break
		}
	}
	l.publish(BroadcastPopup{ID: m.id, Text: p.text, Visible: false})
}

type openSettings struct {
	snap SettingsSnapshot
}

func (m openSettings) apply(l *UILoop) {
	l.settings = &settingsWindow{
		volume:        clamp(m.snap.VolumePercent, 0, 100),
		volumeKnown:   m.snap.VolumeKnown,
		brightnessRaw: clamp(m.snap.BrightnessRaw, 0, l.brightnessMax),
		sinks:         m.snap.Sinks,
		currentSink:   m.snap.CurrentSink,
	}
	l.publish(BroadcastSettings{Open: true, State: l.state()})
}

type closeSettings struct{}

func (closeSettings) apply(l *UILoop) {
	if l.settings == nil {
		return
	}
	l.settings = nil
	l.publish(BroadcastSettings{Open: false, State: l.state()})
}

type sinkSelected struct {
	name string
}

func (m sinkSelected) apply(l *UILoop) {
	if l.settings == nil {
		return
	}
	l.settings.currentSink = m.name
	l.publish(BroadcastSinkSelected{Sink: m.name})
}

type modeChanged struct {
	mode Mode
}

func (m modeChanged) apply(l *UILoop) {
	l.mode = m.mode
	l.publish(BroadcastModeChanged{Mode: m.mode})
}

type externalAppChanged struct {
	running bool
}

func (m externalAppChanged) apply(l *UILoop) {
	if l.appRunning == m.running {
		return
	}
	l.appRunning = m.running
	l.publish(BroadcastExternalApp{Running: m.running})
}

// RequestUISnapshot asks the loop to send a UIState copy on Reply.
type RequestUISnapshot struct {
	Reply chan<- UIState
}

func (m RequestUISnapshot) apply(l *UILoop) {
	if m.Reply == nil {
		return
	}
	select {
	case m.Reply <- l.state():
	default:
		l.logger.Warn("ui snapshot reply channel not ready; dropping snapshot")
	}
}

// ----------------------------------------------------------------------------
// Helpers (loop goroutine only)
// ----------------------------------------------------------------------------

func (l *UILoop) state() UIState {
	st := UIState{
		Mode:               l.mode.String(),
		SettingsOpen:       l.settings != nil,
		ExternalAppRunning: l.appRunning,
		At:                 time.Now().UTC(),
	}
	if l.settings != nil {
		st.VolumePercent = l.settings.volume
		st.VolumeKnown = l.settings.volumeKnown
		st.BrightnessRaw = l.settings.brightnessRaw
		st.BrightnessPercent = brightnessPercent(l.settings.brightnessRaw, l.brightnessMax)
		st.Sinks = append([]string(nil), l.settings.sinks...)
		st.CurrentSink = l.settings.currentSink
	}
	for _, id := range l.popupOrder {
		st.Popups = append(st.Popups, l.popups[id].text)
	}
	return st
}

func (l *UILoop) publish(b StateBroadcast) {
	if l.broadcasts == nil {
		return
	}
	select {
	case l.broadcasts <- b:
	default:
		l.logger.Debug("state broadcast dropped: channel full")
	}
}

// brightnessPercent maps a raw back-light level onto the 0..100 slider scale.
func brightnessPercent(raw, maxRaw int) int {
	if maxRaw <= 0 {
		return 0
	}
	return (clamp(raw, 0, maxRaw)*100 + maxRaw/2) / maxRaw
}
