package main

import (
	"log/slog"
	"sync"
	"time"
)

// Core is the rotary-control state shared by the input sources: the
// quadrature decoder, the button classifier, the knob mode and the intent
// queue. It is created once in main and passed to every source explicitly.
//
// Handlers run in edge context: they update decoder/classifier state under a
// short mutex and push at most one intent without blocking.
type Core struct {
	rotaryMu sync.Mutex
	decoder  *QuadratureDecoder

	buttonMu   sync.Mutex
	classifier *ButtonClassifier

	mode   *ModeState
	queue  *IntentQueue
	logger *slog.Logger
}

// CoreConfig configures the edge-level algorithms.
type CoreConfig struct {
	DetentThreshold int
	Reverse         bool
	LongPress       time.Duration
	QueueSize       int
}

// NewCore builds the core. initial is the rotation pin sample read at startup.
func NewCore(initial PinSample, cfg CoreConfig, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		decoder:    NewQuadratureDecoder(initial, cfg.DetentThreshold, cfg.Reverse),
		classifier: NewButtonClassifier(cfg.LongPress),
		mode:       &ModeState{},
		queue:      NewIntentQueue(cfg.QueueSize),
		logger:     logger,
	}
}

// Mode returns the shared mode state.
func (c *Core) Mode() *ModeState { return c.mode }

// Queue returns the intent queue drained by the worker.
func (c *Core) Queue() *IntentQueue { return c.queue }

// OnRotarySample handles a rotation pin edge given the levels read after it.
func (c *Core) OnRotarySample(s PinSample) {
	c.OnRotaryEdge(func() PinSample { return s })
}

// OnRotaryEdge handles a rotation pin edge. read samples both channels and is
// called under the decoder lock, so concurrent edge handlers feed the decoder
// samples in the order they were read.
func (c *Core) OnRotaryEdge(read func() PinSample) {
	c.rotaryMu.Lock()
	dir, ok := c.decoder.Update(read())
	c.rotaryMu.Unlock()

	if ok {
		c.push(Detent{Direction: dir})
	}
}

// OnDetents handles detents already decoded by the kernel (evdev REL_DIAL).
func (c *Core) OnDetents(steps int) {
	dir := 1
	if steps < 0 {
		dir, steps = -1, -steps
	}
	for i := 0; i < steps; i++ {
		c.push(Detent{Direction: dir})
	}
}

// OnButtonLevel handles a switch edge given the level read after it.
func (c *Core) OnButtonLevel(low bool, now time.Time) {
	c.buttonMu.Lock()
	in, ok := c.classifier.Edge(low, now)
	c.buttonMu.Unlock()

	if ok {
		c.push(in)
	}
}

func (c *Core) buttonPressed() bool {
	c.buttonMu.Lock()
	defer c.buttonMu.Unlock()
	return c.classifier.Pressed()
}

func (c *Core) push(in Intent) {
	if !c.queue.TryPush(in) {
		c.logger.Debug("intent dropped: queue full", "intent", intentName(in))
	}
}
