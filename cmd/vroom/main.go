package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const version = "1.0.0"

// dropReportInterval is how often the worker reports intent queue overflow.
const dropReportInterval = 10 * time.Second

func printVersion() {
	fmt.Printf("vroom v%s\n", version)
	fmt.Println("Rotary knob controller for the in-car kiosk")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  vroom [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Decodes a quadrature rotary encoder with a push switch and turns it into")
	fmt.Println("  volume (PulseAudio) or back-light changes. A short press toggles the mode,")
	fmt.Println("  a long press stops the navigation app. Kiosk UI state is streamed over a")
	fmt.Println("  websocket; a unix socket accepts the same intents from scripts.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (defaults are used when omitted)")
	fmt.Println()
	fmt.Println("  -input-backend string")
	fmt.Println("        Knob input: gpio, evdev or none (default \"gpio\")")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        evdev device carrying the knob (evdev backend only)")
	fmt.Println()
	fmt.Println("  -pin-a, -pin-b, -pin-button string")
	fmt.Printf("        GPIO pin names (default %q, %q, %q)\n", defaultPinA, defaultPinB, defaultPinButton)
	fmt.Println()
	fmt.Println("  -detent-threshold int")
	fmt.Printf("        Valid transitions per detent (default %d)\n", defaultDetentThreshold)
	fmt.Println()
	fmt.Println("  -reverse")
	fmt.Println("        Swap clockwise and counter-clockwise")
	fmt.Println()
	fmt.Println("  -audio-sink string")
	fmt.Println("        Pin the PulseAudio sink (default: server default sink)")
	fmt.Println()
	fmt.Println("  -backlight-path string")
	fmt.Printf("        sysfs brightness file (default %q)\n", defaultBacklightPath)
	fmt.Println()
	fmt.Println("  -navapp-command string")
	fmt.Printf("        Navigation app executable (default %q)\n", defaultNavAppCommand)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/vroom.sock\")")
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Println("        Port for /state and /healthz, 0 disables (default 3002)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with defaults (GPIO2/3/4, pactl, sysfs back-light)")
	fmt.Println("  vroom")
	fmt.Println()
	fmt.Println("  # Use the kernel rotary-encoder overlay instead of raw GPIO")
	fmt.Println("  vroom -input-backend evdev -input-device /dev/input/by-path/platform-rotary@11-event")
	fmt.Println()
	fmt.Println("  # Load a config file and turn on debug logging")
	fmt.Println("  vroom -config /etc/vroom.yaml -log-level debug")
}

func main() {
	var (
		configPath      = flag.String("config", "", "YAML config file")
		inputBackend    = flag.String("input-backend", InputBackendGPIO, "Knob input: gpio, evdev or none")
		inputDevice     = flag.String("input-device", "", "evdev device carrying the knob")
		pinA            = flag.String("pin-a", defaultPinA, "Rotary channel A pin")
		pinB            = flag.String("pin-b", defaultPinB, "Rotary channel B pin")
		pinButton       = flag.String("pin-button", defaultPinButton, "Push switch pin")
		detentThreshold = flag.Int("detent-threshold", defaultDetentThreshold, "Valid transitions per detent")
		reverse         = flag.Bool("reverse", false, "Swap rotation direction")
		audioSink       = flag.String("audio-sink", "", "PulseAudio sink to control")
		backlightPath   = flag.String("backlight-path", defaultBacklightPath, "sysfs brightness file")
		navAppCommand   = flag.String("navapp-command", defaultNavAppCommand, "Navigation app executable")
		ipcSocketPath   = flag.String("ipc-socket", "/tmp/vroom.sock", "Unix domain socket path for IPC")
		httpPort        = flag.Int("http-port", 3002, "HTTP port for /state and /healthz")
		logLevelStr     = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion     = flag.Bool("version", false, "Print version and exit")
		showHelp        = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	var o FlagOverrides
	if set["input-backend"] {
		o.InputBackend = inputBackend
	}
	if set["input-device"] {
		o.InputDevice = inputDevice
	}
	if set["pin-a"] {
		o.PinA = pinA
	}
	if set["pin-b"] {
		o.PinB = pinB
	}
	if set["pin-button"] {
		o.PinButton = pinButton
	}
	if set["detent-threshold"] {
		o.DetentThreshold = detentThreshold
	}
	if set["reverse"] {
		o.Reverse = reverse
	}
	if set["audio-sink"] {
		o.AudioSink = audioSink
	}
	if set["backlight-path"] {
		o.BacklightPath = backlightPath
	}
	if set["navapp-command"] {
		o.NavAppCommand = navAppCommand
	}
	if set["ipc-socket"] {
		o.IPCSocketPath = ipcSocketPath
	}
	if set["http-port"] {
		o.HTTPPort = httpPort
	}
	if set["log-level"] {
		o.LogLevel = logLevelStr
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(os.Stdout, logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// run wires all components and blocks until ctx is cancelled or a required
// component fails. A knob input that cannot be set up is logged and the rest
// of the daemon keeps running.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	broadcasts := make(chan StateBroadcast, 128)
	ui := NewUILoop(cfg.UIConfig(), broadcasts, logger)
	ws := NewServer(logger, ui, ServerConfig{})

	var pins *gpioPins
	var initial PinSample
	if cfg.Input.Backend == InputBackendGPIO {
		p, err := openGPIOPins(cfg.GPIO)
		if err != nil {
			logger.Error("gpio input unavailable, rotary control disabled", "error", err)
		} else {
			pins = p
			initial = pins.sample()
		}
	}
	core := NewCore(initial, cfg.CoreConfig(), logger)

	audio := NewPactlAudio(cfg.Audio, logger)
	if err := audio.Init(ctx); err != nil {
		logger.Warn("audio sink not available yet", "error", err)
	}
	backlight := NewSysfsBacklight(cfg.Backlight, logger)
	nav := NewNavApp(cfg.NavApp, ui.ExternalAppChanged, logger)
	defer nav.Stop()

	dispatcher := NewDispatcher(audio, backlight, nav, core.Mode(), ui, cfg.DispatcherConfig(), logger)

	ui.ExternalAppChanged(nav.Running())
	if cfg.NavApp.Autostart {
		core.Queue().TryPush(LaunchExternalApp{})
	}

	var inputActive atomic.Bool
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { ui.Run(gctx); return nil })
	g.Go(func() error { ws.Hub().Run(gctx); return nil })
	g.Go(func() error { RunBroadcaster(gctx, ws.Hub(), broadcasts, logger); return nil })
	g.Go(func() error { runDaemon(gctx, core.Queue(), dispatcher, dropReportInterval, logger); return nil })

	g.Go(func() error {
		if err := runIPCServer(gctx, cfg.IPC, core.Queue(), ui, logger); err != nil {
			logger.Error("IPC server unavailable", "error", err)
		}
		return nil
	})

	if cfg.HTTP.Port > 0 {
		mux := newHTTPMux(ws, core.Queue(), inputActive.Load)
		g.Go(func() error {
			return runHTTPServer(gctx, fmt.Sprintf(":%d", cfg.HTTP.Port), mux, logger)
		})
	}

	g.Go(func() error {
		var err error
		switch cfg.Input.Backend {
		case InputBackendGPIO:
			if pins == nil {
				return nil
			}
			inputActive.Store(true)
			err = newGPIOSource(pins, core, time.Duration(cfg.GPIO.PollTimeoutMS)*time.Millisecond, logger).Run(gctx)
		case InputBackendEvdev:
			inputActive.Store(true)
			err = runEvdevSource(gctx, cfg.Input, cfg.Rotary.Reverse, core, logger)
		default:
			logger.Info("knob input disabled")
			return nil
		}
		inputActive.Store(false)
		if err != nil {
			logger.Error("knob input stopped, rotary control disabled", "error", err, "tip", "run as root or add user to the 'gpio'/'input' group")
		}
		return nil
	})

	logger.Info("vroom started",
		"input", cfg.Input.Backend,
		"mode", core.Mode().Get(),
		"detent_threshold", cfg.Rotary.DetentThreshold,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
	)

	return g.Wait()
}
