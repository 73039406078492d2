package main

import "time"

// ButtonClassifier turns press/release edges of the knob push-switch into
// gestures. The switch is active-low: a low level means pressed.
//
// Edges that do not change the recorded state (a release while released, a
// press while pressed) are dropped; that is the only bounce protection.
type ButtonClassifier struct {
	pressed   bool
	pressedAt time.Time
	longPress time.Duration
}

// NewButtonClassifier returns a released classifier.
func NewButtonClassifier(longPress time.Duration) *ButtonClassifier {
	if longPress <= 0 {
		longPress = defaultLongPress
	}
	return &ButtonClassifier{longPress: longPress}
}

// Edge feeds the level read after a switch edge (low = pressed).
func (b *ButtonClassifier) Edge(low bool, now time.Time) (Intent, bool) {
	if low {
		b.Press(now)
		return nil, false
	}
	return b.Release(now)
}

// Press records the press time. A second press without a release is ignored.
func (b *ButtonClassifier) Press(now time.Time) {
	if b.pressed {
		return
	}
	b.pressed = true
	b.pressedAt = now
}

// Release classifies the completed gesture. Releases without a recorded press
// produce nothing.
func (b *ButtonClassifier) Release(now time.Time) (Intent, bool) {
	if !b.pressed {
		return nil, false
	}
	b.pressed = false

	if now.Sub(b.pressedAt) >= b.longPress {
		return TerminateExternalApp{}, true
	}
	return ToggleMode{}, true
}

// Pressed reports whether a press is in progress.
func (b *ButtonClassifier) Pressed() bool { return b.pressed }
