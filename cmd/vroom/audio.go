package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// PulseAudio output via pactl
// ============================================================================
//
// Every call shells out to pactl with a timeout. The sink that volume changes
// apply to is cached; it is discovered from the server default at startup
// (or pinned by audio.sink) and replaced by SetDefaultSink.
//
// ============================================================================

// commandRunner runs an external command and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(ee.Stderr)))
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// ErrNoSink is returned when no audio sink is available.
var ErrNoSink = errors.New("no audio sink")

// PactlAudio implements AudioOutput with the pactl CLI.
type PactlAudio struct {
	binary  string
	timeout time.Duration
	run     commandRunner
	logger  *slog.Logger

	mu   sync.Mutex
	sink string
}

// NewPactlAudio creates the backend. Call Init to discover the current sink.
func NewPactlAudio(cfg AudioConfig, logger *slog.Logger) *PactlAudio {
	binary := cfg.PactlBinary
	if binary == "" {
		binary = defaultPactlBinary
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultCommandTimeoutMS * time.Millisecond
	}
	return &PactlAudio{
		binary:  binary,
		timeout: timeout,
		run:     execRunner,
		logger:  logger,
		sink:    cfg.Sink,
	}
}

// Init discovers the sink volume changes apply to. A pinned sink is kept.
func (p *PactlAudio) Init(ctx context.Context) error {
	p.mu.Lock()
	pinned := p.sink
	p.mu.Unlock()
	if pinned != "" {
		p.logger.Info("audio sink pinned", "sink", pinned)
		return nil
	}

	sink, err := p.discoverSink(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
	p.logger.Info("audio sink discovered", "sink", sink)
	return nil
}

func (p *PactlAudio) discoverSink(ctx context.Context) (string, error) {
	out, err := p.pactl(ctx, "get-default-sink")
	if err == nil {
		if name := strings.TrimSpace(string(out)); name != "" {
			return name, nil
		}
	} else {
		p.logger.Debug("pactl get-default-sink failed, falling back to sink list", "error", err)
	}

	sinks, err := p.Sinks(ctx)
	if err != nil {
		return "", err
	}
	if len(sinks) == 0 {
		return "", ErrNoSink
	}
	return sinks[0], nil
}

// CurrentSink returns the cached sink, discovering it lazily if Init failed.
func (p *PactlAudio) CurrentSink(ctx context.Context) (string, bool) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != "" {
		return sink, true
	}
	if err := p.Init(ctx); err != nil {
		p.logger.Debug("audio sink discovery failed", "error", err)
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink, p.sink != ""
}

// VolumePercent returns the first channel volume of sink.
func (p *PactlAudio) VolumePercent(ctx context.Context, sink string) (int, error) {
	out, err := p.pactl(ctx, "get-sink-volume", sink)
	if err != nil {
		return 0, err
	}
	return parseVolumePercent(string(out))
}

// SetVolumePercent sets all channels of sink to pct, clamped to 0..100.
func (p *PactlAudio) SetVolumePercent(ctx context.Context, sink string, pct int) error {
	pct = clamp(pct, 0, 100)
	_, err := p.pactl(ctx, "set-sink-volume", sink, strconv.Itoa(pct)+"%")
	return err
}

// Sinks lists sink names in server order.
func (p *PactlAudio) Sinks(ctx context.Context) ([]string, error) {
	out, err := p.pactl(ctx, "list", "short", "sinks")
	if err != nil {
		return nil, err
	}
	return parseShortSinks(string(out)), nil
}

// SetDefaultSink makes sink the server default and the target of volume changes.
func (p *PactlAudio) SetDefaultSink(ctx context.Context, sink string) error {
	if _, err := p.pactl(ctx, "set-default-sink", sink); err != nil {
		return err
	}
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
	return nil
}

func (p *PactlAudio) pactl(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.run(ctx, p.binary, args...)
}

var volumePercentRE = regexp.MustCompile(`(\d+)%`)

// parseVolumePercent extracts the first "NN%" token of pactl get-sink-volume
// output, e.g. "Volume: front-left: 32768 /  50% / -18.06 dB, ...".
func parseVolumePercent(out string) (int, error) {
	m := volumePercentRE.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("no volume percentage in %q", strings.TrimSpace(out))
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("parse volume %q: %w", m[1], err)
	}
	return clamp(v, 0, 100), nil
}

// parseShortSinks reads the name column of "pactl list short sinks".
func parseShortSinks(out string) []string {
	var sinks []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		sinks = append(sinks, fields[1])
	}
	return sinks
}
