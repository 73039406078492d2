package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// gpioPins are the knob's two quadrature channels and its push switch. All
// three are inputs with pull-ups, so a closed contact reads Low.
type gpioPins struct {
	a, b, button gpio.PinIO
}

// openGPIOPins initializes the host drivers and resolves the configured pins.
func openGPIOPins(cfg GPIOConfig) (*gpioPins, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	lookup := func(key, name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio.%s: no pin named %q", key, name)
		}
		return p, nil
	}

	var pins gpioPins
	var err error
	if pins.a, err = lookup("pin_a", cfg.PinA); err != nil {
		return nil, err
	}
	if pins.b, err = lookup("pin_b", cfg.PinB); err != nil {
		return nil, err
	}
	if pins.button, err = lookup("pin_button", cfg.PinButton); err != nil {
		return nil, err
	}
	if err := pins.configure(); err != nil {
		return nil, err
	}
	return &pins, nil
}

func (p *gpioPins) configure() error {
	for _, pin := range []gpio.PinIO{p.a, p.b, p.button} {
		if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
			return fmt.Errorf("configure %s: %w", pin.Name(), err)
		}
	}
	return nil
}

// sample reads both rotation channels.
func (p *gpioPins) sample() PinSample {
	return NewPinSample(p.a.Read() == gpio.High, p.b.Read() == gpio.High)
}

func (p *gpioPins) halt() {
	for _, pin := range []gpio.PinIO{p.a, p.b, p.button} {
		_ = pin.Halt()
	}
}

// gpioSource waits for edges on the pins and hands the levels read right
// after each edge to the core. One goroutine per pin plays the role of the
// interrupt handler.
type gpioSource struct {
	pins   *gpioPins
	core   *Core
	poll   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func newGPIOSource(pins *gpioPins, core *Core, poll time.Duration, logger *slog.Logger) *gpioSource {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &gpioSource{
		pins:   pins,
		core:   core,
		poll:   poll,
		now:    time.Now,
		logger: logger,
	}
}

func (s *gpioSource) onRotaryEdge() {
	s.core.OnRotaryEdge(s.pins.sample)
}

func (s *gpioSource) onButtonEdge() {
	s.core.OnButtonLevel(s.pins.button.Read() == gpio.Low, s.now())
}

// Run watches all pins until ctx is cancelled, then halts them.
func (s *gpioSource) Run(ctx context.Context) error {
	defer s.pins.halt()

	s.logger.Info("gpio input started",
		"pin_a", s.pins.a.Name(),
		"pin_b", s.pins.b.Name(),
		"pin_button", s.pins.button.Name(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watchEdges(ctx, s.pins.a, s.poll, s.onRotaryEdge) })
	g.Go(func() error { return watchEdges(ctx, s.pins.b, s.poll, s.onRotaryEdge) })
	g.Go(func() error { return watchEdges(ctx, s.pins.button, s.poll, s.onButtonEdge) })
	return g.Wait()
}

// watchEdges calls onEdge after every edge on pin. WaitForEdge is bounded by
// poll so cancellation is noticed.
func watchEdges(ctx context.Context, pin gpio.PinIn, poll time.Duration, onEdge func()) error {
	for ctx.Err() == nil {
		if pin.WaitForEdge(poll) {
			onEdge()
		}
	}
	return nil
}
