package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the vroom daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config. Flags only override individual values.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Rotary    RotaryConfig    `yaml:"rotary"`
	Audio     AudioConfig     `yaml:"audio"`
	Backlight BacklightConfig `yaml:"backlight"`
	NavApp    NavAppConfig    `yaml:"navapp"`
	UI        UIFileConfig    `yaml:"ui"`
	IPC       IPCConfig       `yaml:"ipc"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Input backends.
const (
	InputBackendGPIO  = "gpio"
	InputBackendEvdev = "evdev"
	InputBackendNone  = "none"
)

type InputConfig struct {
	// Backend is gpio (default), evdev or none.
	Backend string `yaml:"backend"`

	// Evdev only: devices emitting the knob's REL axis and button key.
	Devices []string `yaml:"devices,omitempty"`
	// Axis is the REL code name carrying detents: x, dial or wheel.
	Axis string `yaml:"axis,omitempty"`
	// ButtonCode is the EV_KEY code of the knob switch.
	ButtonCode int `yaml:"button_code,omitempty"`
}

// GPIOConfig names the pins of the quadrature encoder and its push switch.
// Names are resolved through periph's gpioreg, e.g. "GPIO17" or "17".
type GPIOConfig struct {
	PinA      string `yaml:"pin_a"`
	PinB      string `yaml:"pin_b"`
	PinButton string `yaml:"pin_button"`
	// PollTimeoutMS bounds each WaitForEdge so shutdown is noticed.
	PollTimeoutMS int `yaml:"poll_timeout_ms"`
}

type RotaryConfig struct {
	DetentThreshold int  `yaml:"detent_threshold"`
	Reverse         bool `yaml:"reverse"`
	VolumeStep      int  `yaml:"volume_step"`
	BrightnessStep  int  `yaml:"brightness_step"`
	LongPressMS     int  `yaml:"long_press_ms"`
	QueueSize       int  `yaml:"queue_size"`
}

type AudioConfig struct {
	PactlBinary string `yaml:"pactl"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	// Sink pins the output device; empty means the server default.
	Sink string `yaml:"sink,omitempty"`
}

type BacklightConfig struct {
	Path string `yaml:"path"`
	Max  int    `yaml:"max"`
	// Sudo writes through "sudo tee" when the file is not writable by the daemon.
	Sudo bool `yaml:"sudo"`
}

type NavAppConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
	// ProcessName matches /proc/<pid>/comm of instances not started by us.
	// Empty means the base name of Command.
	ProcessName string `yaml:"process_name,omitempty"`
	ProcDir     string `yaml:"proc_dir,omitempty"`
	// Autostart launches the app when the daemon starts.
	Autostart bool `yaml:"autostart"`
}

type UIFileConfig struct {
	PopupMS   int `yaml:"popup_ms"`
	QueueSize int `yaml:"queue_size"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`

	// RateLimit caps intents per second accepted over IPC, shared by all
	// connections. 0 disables the limit.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type HTTPConfig struct {
	// Port serves /state and /healthz. 0 disables the server.
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Backend:    InputBackendGPIO,
			Axis:       "x",
			ButtonCode: KEY_ENTER,
		},
		GPIO: GPIOConfig{
			PinA:          defaultPinA,
			PinB:          defaultPinB,
			PinButton:     defaultPinButton,
			PollTimeoutMS: 500,
		},
		Rotary: RotaryConfig{
			DetentThreshold: defaultDetentThreshold,
			VolumeStep:      defaultVolumeStep,
			BrightnessStep:  defaultBrightnessStep,
			LongPressMS:     int(defaultLongPress / time.Millisecond),
			QueueSize:       defaultIntentQueueSize,
		},
		Audio: AudioConfig{
			PactlBinary: defaultPactlBinary,
			TimeoutMS:   defaultCommandTimeoutMS,
		},
		Backlight: BacklightConfig{
			Path: defaultBacklightPath,
			Max:  defaultBacklightMax,
		},
		NavApp: NavAppConfig{
			Command: defaultNavAppCommand,
			ProcDir: "/proc",
		},
		UI: UIFileConfig{
			PopupMS:   int(defaultPopupTimeout / time.Millisecond),
			QueueSize: defaultUIQueueSize,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/vroom.sock",
			RateLimit:  50,
			Burst:      20,
		},
		HTTP: HTTPConfig{
			Port: 3002,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config file on top of DefaultConfig.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries values from command-line flags. A nil pointer means
// the flag was not given; a non-nil pointer is applied even if it is a zero value.
type FlagOverrides struct {
	InputBackend *string
	InputDevice  *string

	PinA      *string
	PinB      *string
	PinButton *string

	DetentThreshold *int
	Reverse         *bool

	AudioSink     *string
	BacklightPath *string
	NavAppCommand *string

	IPCSocketPath *string
	HTTPPort      *int

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.InputBackend != nil {
		cfg.Input.Backend = *o.InputBackend
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = []string{*o.InputDevice}
	}

	if o.PinA != nil {
		cfg.GPIO.PinA = *o.PinA
	}
	if o.PinB != nil {
		cfg.GPIO.PinB = *o.PinB
	}
	if o.PinButton != nil {
		cfg.GPIO.PinButton = *o.PinButton
	}

	if o.DetentThreshold != nil {
		cfg.Rotary.DetentThreshold = *o.DetentThreshold
	}
	if o.Reverse != nil {
		cfg.Rotary.Reverse = *o.Reverse
	}

	if o.AudioSink != nil {
		cfg.Audio.Sink = *o.AudioSink
	}
	if o.BacklightPath != nil {
		cfg.Backlight.Path = *o.BacklightPath
	}
	if o.NavAppCommand != nil {
		cfg.NavApp.Command = *o.NavAppCommand
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	switch c.Input.Backend {
	case InputBackendGPIO:
		if c.GPIO.PinA == "" || c.GPIO.PinB == "" || c.GPIO.PinButton == "" {
			return errors.New("gpio.pin_a, gpio.pin_b and gpio.pin_button must not be empty")
		}
		if c.GPIO.PinA == c.GPIO.PinB {
			return errors.New("gpio.pin_a and gpio.pin_b must differ")
		}
		if c.GPIO.PollTimeoutMS <= 0 {
			return errors.New("gpio.poll_timeout_ms must be > 0")
		}
	case InputBackendEvdev:
		if len(c.Input.Devices) == 0 {
			return errors.New("input.devices must not be empty for the evdev backend")
		}
		for i, dev := range c.Input.Devices {
			if dev == "" {
				return fmt.Errorf("input.devices[%d] is empty", i)
			}
		}
		if _, ok := relAxisCode(c.Input.Axis); !ok {
			return fmt.Errorf("input.axis %q must be x, y, dial or wheel", c.Input.Axis)
		}
		if c.Input.ButtonCode <= 0 {
			return errors.New("input.button_code must be > 0")
		}
	case InputBackendNone:
	default:
		return fmt.Errorf("input.backend must be %q, %q or %q", InputBackendGPIO, InputBackendEvdev, InputBackendNone)
	}

	if c.Rotary.DetentThreshold <= 0 {
		return errors.New("rotary.detent_threshold must be > 0")
	}
	if c.Rotary.VolumeStep <= 0 || c.Rotary.VolumeStep > 100 {
		return errors.New("rotary.volume_step must be between 1 and 100")
	}
	if c.Rotary.BrightnessStep <= 0 {
		return errors.New("rotary.brightness_step must be > 0")
	}
	if c.Rotary.LongPressMS <= 0 {
		return errors.New("rotary.long_press_ms must be > 0")
	}
	if c.Rotary.QueueSize <= 0 {
		return errors.New("rotary.queue_size must be > 0")
	}

	if c.Audio.PactlBinary == "" {
		return errors.New("audio.pactl must not be empty")
	}
	if c.Audio.TimeoutMS <= 0 {
		return errors.New("audio.timeout_ms must be > 0")
	}

	if c.Backlight.Path == "" {
		return errors.New("backlight.path must not be empty")
	}
	if c.Backlight.Max <= 0 {
		return errors.New("backlight.max must be > 0")
	}

	if c.NavApp.Command == "" {
		return errors.New("navapp.command must not be empty")
	}
	if c.NavApp.ProcDir == "" {
		return errors.New("navapp.proc_dir must not be empty")
	}

	if c.UI.PopupMS <= 0 {
		return errors.New("ui.popup_ms must be > 0")
	}
	if c.UI.QueueSize <= 0 {
		return errors.New("ui.queue_size must be > 0")
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.IPC.RateLimit < 0 {
		return errors.New("ipc.rate_limit must be >= 0")
	}
	if c.IPC.RateLimit > 0 && c.IPC.Burst <= 0 {
		return errors.New("ipc.burst must be > 0 when ipc.rate_limit is set")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// CoreConfig maps the rotary section onto the edge-level algorithms.
func (c *Config) CoreConfig() CoreConfig {
	return CoreConfig{
		DetentThreshold: c.Rotary.DetentThreshold,
		Reverse:         c.Rotary.Reverse,
		LongPress:       time.Duration(c.Rotary.LongPressMS) * time.Millisecond,
		QueueSize:       c.Rotary.QueueSize,
	}
}

func (c *Config) DispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		VolumeStep:     c.Rotary.VolumeStep,
		BrightnessStep: c.Rotary.BrightnessStep,
	}
}

func (c *Config) UIConfig() UIConfig {
	return UIConfig{
		PopupTimeout:  time.Duration(c.UI.PopupMS) * time.Millisecond,
		BrightnessMax: c.Backlight.Max,
		QueueSize:     c.UI.QueueSize,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
