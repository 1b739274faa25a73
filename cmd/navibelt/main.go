package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/chaz8081/navibelt/internal/belt"
	"github.com/chaz8081/navibelt/internal/belt/protocol"
	"github.com/chaz8081/navibelt/internal/ble"
	"github.com/chaz8081/navibelt/internal/config"
	"github.com/chaz8081/navibelt/internal/feed"
	"github.com/chaz8081/navibelt/internal/metrics"
	"github.com/chaz8081/navibelt/internal/navigation"
	"github.com/chaz8081/navibelt/internal/timer"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/navibelt/config.yaml)")
	address := flag.String("address", "", "belt address to connect to (overrides config and last belt)")
	scan := flag.Bool("scan", false, "scan for a belt even when an address is known")
	navigate := flag.String("navigate", "", "start navigating towards this direction in degrees")
	bearing := flag.Bool("bearing", false, "treat -navigate as a magnetic bearing instead of an angle")
	metricsAddr := flag.String("metrics", "", "serve /metrics and the /events feed on this address (overrides config)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if *address != "" {
		cfg.Device.Address = *address
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	var direction int
	if *navigate != "" {
		direction, err = strconv.Atoi(*navigate)
		if err != nil {
			fatal("-navigate", err)
		}
	}

	printBanner(cfg)

	store := config.NewStateStore(cfg.StatePath)
	if err := store.Load(); err != nil {
		slog.Warn("Could not read state file, starting fresh", "path", cfg.StatePath, "error", err)
	}

	timers := timer.New()
	defer timers.Close()

	// BLE stack
	adapter := ble.NewTinyGoAdapter(cfg.Device.Adapter)
	bonder := ble.NewPlatformBonder(cfg.Device.Adapter)
	scanner := ble.NewScanner(adapter, timers, regexp.MustCompile(cfg.Device.NamePattern), cfg.Scan.Timeout)
	pairer := ble.NewPairer(bonder, timers, cfg.Pairing.Timeout)
	queue := ble.NewQueue(timers, cfg.Operation.Timeout)
	link := ble.NewLink(adapter, scanner, pairer, queue, timers, ble.LinkConfig{
		ConnectTimeout:      cfg.Connection.ConnectTimeout,
		DiscoveryTimeout:    cfg.Connection.DiscoveryTimeout,
		SupervisionTimeout:  cfg.Connection.SupervisionTimeout,
		ReconnectDelay:      cfg.Connection.ReconnectDelay,
		ReconnectMaxDelay:   cfg.Connection.ReconnectMaxDelay,
		InitialAttempts:     cfg.Connection.InitialAttempts,
		EstablishedAttempts: cfg.Connection.EstablishedAttempts,
	})

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	m.ObserveQueue(queue)
	m.ObserveLink(link)

	ctrl := belt.NewController(link, queue, timers, belt.Options{
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		Store:            store,
		OnMalformed:      m.MalformedPacket,
	})
	nav := navigation.NewNavigator(ctrl, timers, cfg.Navigation.Debounce)

	failed := make(chan error, 1)
	ctrl.Subscribe(func(ev belt.Event) {
		logBeltEvent(ev)
		if f, ok := ev.(belt.ConnectionFailed); ok {
			select {
			case failed <- f.Err:
			default:
			}
		}
	})
	nav.Subscribe(func(ev navigation.Event) {
		switch ev := ev.(type) {
		case navigation.StateChanged:
			slog.Info("[NAV] navigation " + ev.State.String())
		case navigation.ModeDrift:
			slog.Warn("[NAV] belt mode drifted", "state", ev.State, "mode", ev.Mode)
		}
	})

	var srv *http.Server
	var hub *feed.Hub
	if cfg.Metrics.Listen != "" {
		hub = feed.NewHub()
		ctrl.Subscribe(func(ev belt.Event) {
			if msg, ok := feed.BeltMessage(ev); ok {
				hub.Broadcast(msg)
			}
		})
		nav.Subscribe(func(ev navigation.Event) {
			if msg, ok := feed.NavigationMessage(ev); ok {
				hub.Broadcast(msg)
			}
		})

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		mux.Handle("/events", hub)
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server stopped", "error", err)
			}
		}()
		slog.Info("HTTP endpoint ready", "addr", cfg.Metrics.Listen, "paths", "/metrics /events")
	}

	if *navigate != "" {
		if err := nav.Start(direction, *bearing, protocol.SignalNavigation); err != nil {
			fatal("navigation", err)
		}
	}

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	target := cfg.Device.Address
	if target == "" {
		target = store.LastAddress()
	}
	if *scan || target == "" {
		slog.Info("Scanning for a belt...")
		err = link.ScanAndConnect()
	} else {
		slog.Info("Connecting...", "address", target)
		err = link.Connect(target)
	}
	if err != nil {
		fatal("connect", err)
	}

	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("Received %s, shutting down...", sig))
		nav.Stop()
	case err := <-failed:
		slog.Error("Giving up", "error", err)
		exitCode = 1
	}

	nav.Close()
	ctrl.Close()
	link.Close()
	if srv != nil {
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(ctx)
		cancel()
	}
	slog.Info("Goodbye!")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func logBeltEvent(ev belt.Event) {
	switch ev := ev.(type) {
	case belt.ConnectionStateChanged:
		slog.Info("[BELT] connection " + ev.State.String())
	case belt.ConnectionFailed:
		slog.Error("[BELT] connection failed", "error", ev.Err)
	case belt.ModeChanged:
		slog.Info("[BELT] mode changed", "mode", ev.Mode, "by_button", ev.ByButton)
	case belt.ButtonPressed:
		slog.Info("[BELT] button pressed", "button", ev.Press.Button, "next_mode", ev.Press.SubsequentMode)
	case belt.DefaultIntensityChanged:
		slog.Info("[BELT] default intensity changed", "percent", ev.Intensity)
	case belt.BatteryChanged:
		slog.Info("[BELT] battery", "level", ev.Status.Level, "power", ev.Status.PowerStatus)
	case belt.ParameterChanged, belt.OrientationChanged:
		slog.Debug("[BELT] update", "event", fmt.Sprintf("%+v", ev))
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or writes and uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	written, err := config.WriteDefault()
	if err != nil {
		slog.Warn("Could not write default config", "error", err)
	} else if written != "" {
		slog.Info("Default config written", "path", written)
	}
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	device := cfg.Device.Address
	if device == "" {
		device = "last belt or scan"
	}
	metricsAddr := cfg.Metrics.Listen
	if metricsAddr == "" {
		metricsAddr = "off"
	}
	fmt.Println("=== navibelt ===")
	fmt.Printf("  Belt:     %s\n", device)
	fmt.Printf("  Adapter:  %s\n", cfg.Device.Adapter)
	fmt.Printf("  Metrics:  %s\n", metricsAddr)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("================")
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
