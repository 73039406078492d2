package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// SysfsBacklight drives a display back-light through its sysfs brightness
// file. The panel driver rejects values above max_brightness, so writes are
// clamped first.
type SysfsBacklight struct {
	path    string
	max     int
	sudo    bool
	timeout time.Duration
	logger  *slog.Logger

	// writeSudo writes data to path with elevated rights.
	writeSudo func(ctx context.Context, path string, data []byte) error
}

func NewSysfsBacklight(cfg BacklightConfig, logger *slog.Logger) *SysfsBacklight {
	maxRaw := cfg.Max
	if maxRaw <= 0 {
		maxRaw = defaultBacklightMax
	}
	return &SysfsBacklight{
		path:      ExpandPath(cfg.Path),
		max:       maxRaw,
		sudo:      cfg.Sudo,
		timeout:   defaultCommandTimeoutMS * time.Millisecond,
		logger:    logger,
		writeSudo: sudoTee,
	}
}

func (b *SysfsBacklight) Max() int { return b.max }

// Raw reads the current level. An unreadable or malformed file reports Max.
func (b *SysfsBacklight) Raw() int {
	data, err := os.ReadFile(b.path)
	if err != nil {
		b.logger.Debug("backlight read failed", "path", b.path, "error", err)
		return b.max
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		b.logger.Debug("backlight value malformed", "path", b.path, "value", string(data))
		return b.max
	}
	return clamp(v, 0, b.max)
}

func (b *SysfsBacklight) SetRaw(raw int) error {
	raw = clamp(raw, 0, b.max)
	data := []byte(strconv.Itoa(raw) + "\n")

	if b.sudo {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.writeSudo(ctx, b.path, data); err != nil {
			return fmt.Errorf("write backlight %s: %w", b.path, err)
		}
		return nil
	}

	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		return fmt.Errorf("write backlight %s: %w", b.path, err)
	}
	return nil
}

func sudoTee(ctx context.Context, path string, data []byte) error {
	cmd := exec.CommandContext(ctx, "sudo", "-n", "tee", path)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("sudo tee: %w: %s", err, msg)
		}
		return fmt.Errorf("sudo tee: %w", err)
	}
	return nil
}
