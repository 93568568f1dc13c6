// go-echoroom: acoustic room sonar daemon
// Estimates wall distances by echo ranging and serves the room outline
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-echoroom/internal/aim"
	"github.com/teslashibe/go-echoroom/internal/config"
	"github.com/teslashibe/go-echoroom/internal/health"
	"github.com/teslashibe/go-echoroom/internal/publish"
	"github.com/teslashibe/go-echoroom/internal/room"
	"github.com/teslashibe/go-echoroom/internal/scan"
	"github.com/teslashibe/go-echoroom/internal/server"
	"github.com/teslashibe/go-echoroom/internal/sonar"
	"github.com/teslashibe/go-echoroom/internal/transducer"
)

var (
	version     = "0.3.0"
	configPath  = flag.String("config", "/etc/go-echoroom/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useSim      = flag.Bool("sim", false, "use the simulated room (for testing)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-echoroom %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level if debug flag is set
	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *useSim {
		cfg.Transducer.Backend = transducer.BackendSim
	}

	// Setup logging
	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-echoroom",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Probe waveform is generated once and reused for every measurement
	probe, err := sonar.GeneratePulse(cfg.Sonar.PulseConfig())
	if err != nil {
		logger.Error("failed to generate probe", "error", err)
		os.Exit(1)
	}

	order, err := cfg.Sonar.Order()
	if err != nil {
		logger.Error("invalid scan order", "error", err)
		os.Exit(1)
	}
	state, err := room.NewState(order, cfg.Sonar.HistorySize)
	if err != nil {
		logger.Error("failed to create room state", "error", err)
		os.Exit(1)
	}

	// Initialize transducer
	trCfg, err := transducerConfig(cfg)
	if err != nil {
		logger.Error("invalid transducer configuration", "error", err)
		os.Exit(1)
	}

	var tr transducer.Transducer
	if *useSim {
		logger.Info("using simulated transducer")
		tr = transducer.NewSim(trCfg.Sim)
	} else {
		logger.Info("initializing transducer", "backend", trCfg.Backend)
		tr = transducer.NewWithFallback(trCfg, logger)
	}
	defer tr.Close()

	logger.Info("transducer ready",
		"type", tr.Name(),
		"healthy", tr.Healthy(),
	)

	// Optional body rotation
	var aimers []transducer.Aimer
	var aimClient *aim.Client
	if cfg.Aim.Enabled {
		aimClient, err = newAimClient(ctx, cfg.Aim, logger)
		if err != nil {
			logger.Error("invalid aim configuration", "error", err)
			os.Exit(1)
		}
		aimers = append(aimers, aimClient)
	}

	scanner, err := scan.NewScanner(tr, probe, state, scan.ScannerConfig{
		Directions:    order,
		CaptureWindow: cfg.Sonar.CaptureWindow,
		SpeedOfSound:  cfg.Sonar.SpeedOfSound,
		CallGrace:     cfg.Sonar.CallGrace,
		AimTimeout:    cfg.Aim.Timeout + cfg.Aim.Settle,
	}, logger, aimers...)
	if err != nil {
		logger.Error("failed to create scanner", "error", err)
		os.Exit(1)
	}

	scheduler, err := scan.NewScheduler(scanner, cfg.Sonar.CyclePeriod, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	// Start scheduler in background
	go func() {
		if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("scheduler error", "error", err)
		}
	}()

	// Health
	checker := health.NewChecker(version)
	checker.Register("transducer", true, func() (bool, string) {
		if tr.Healthy() {
			return true, tr.Name()
		}
		if le, ok := tr.(interface{ LastError() error }); ok && le.LastError() != nil {
			return false, fmt.Sprintf("%s: %v", tr.Name(), le.LastError())
		}
		return false, tr.Name() + " not responding"
	})
	checker.Register("scheduler", false, func() (bool, string) {
		st := scheduler.Stats()
		if !st.Running {
			return false, "not running"
		}
		return true, fmt.Sprintf("%d cycles", st.Cycles)
	})
	if aimClient != nil {
		checker.Register("aim", false, func() (bool, string) {
			st := aimClient.GetStats()
			return st.MoveErrors == 0 || st.Moves > st.MoveErrors, fmt.Sprintf("%d moves, %d errors", st.Moves, st.MoveErrors)
		})
	}

	// Create server
	srv := server.New(cfg, server.Deps{
		State:      state,
		Scheduler:  scheduler,
		Transducer: tr,
		Health:     checker,
	}, logger, version)

	// Optional push to a remote dashboard
	var publisher *publish.Client
	if cfg.Publish.URL != "" {
		publisher = publish.NewClient(publish.Config{
			URL:              cfg.Publish.URL,
			ReconnectBackoff: cfg.Publish.ReconnectBackoff,
			MaxBackoff:       cfg.Publish.MaxBackoff,
			PingInterval:     cfg.Publish.PingInterval,
			WriteTimeout:     cfg.Publish.WriteTimeout,
		}, state, logger)
		publisher.OnGetStats(func() any { return scheduler.Stats() })

		if err := publisher.Start(ctx); err != nil {
			logger.Error("failed to start publisher", "error", err)
			os.Exit(1)
		}
		checker.Register("publisher", false, func() (bool, string) {
			if publisher.IsConnected() {
				return true, cfg.Publish.URL
			}
			return false, "disconnected"
		})
	}

	// Start WebSocket hub in background
	go srv.WSHub().Run(ctx)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Print startup info
	printStartupBanner(cfg, tr.Name(), version)

	if !checker.IsHealthy() {
		logger.Warn("starting with unhealthy components", "components", checker.Unhealthy())
	}

	// Wait for shutdown signal or a fatal server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> scheduler -> publisher -> transducer
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	logger.Info("stopping scheduler...")
	scheduler.Stop()

	if publisher != nil {
		logger.Info("closing publisher...")
		if err := publisher.Close(); err != nil {
			logger.Warn("publisher close error", "error", err)
		}
	}

	logger.Info("go-echoroom stopped")
}

// transducerConfig maps the file configuration onto the backend factory
func transducerConfig(cfg *config.Config) (transducer.Config, error) {
	t := cfg.Transducer

	sim := transducer.DefaultSimConfig()
	sim.SampleRate = cfg.Sonar.SampleRate
	sim.SpeedOfSound = cfg.Sonar.SpeedOfSound
	sim.Attenuation = t.Sim.Attenuation
	sim.Realtime = t.Sim.Realtime

	distances, err := t.Sim.SimDistances()
	if err != nil {
		return transducer.Config{}, err
	}
	for d, m := range distances {
		sim.Distances[d] = m
	}

	return transducer.Config{
		Backend: t.Backend,
		ALSA: transducer.ALSAConfig{
			SampleRate:           cfg.Sonar.SampleRate,
			Device:               t.Device,
			PlaybackCmd:          t.PlaybackCmd,
			CaptureCmd:           t.CaptureCmd,
			MaxConsecutiveErrors: t.MaxConsecutiveErrors,
		},
		Sim: sim,
		USB: transducer.USBDeviceID{
			VendorID:  uint16(t.USBVendorID),
			ProductID: uint16(t.USBProductID),
		},
		USBInterval: t.USBCheckInterval,
	}, nil
}

func newAimClient(ctx context.Context, cfg config.AimConfig, logger *slog.Logger) (*aim.Client, error) {
	yaw, err := cfg.YawMap()
	if err != nil {
		return nil, err
	}
	if yaw == nil {
		yaw = aim.DefaultYaw()
	}

	client := aim.NewClient(aim.Config{
		BaseURL: cfg.URL,
		Timeout: cfg.Timeout,
		Settle:  cfg.Settle,
		Yaw:     yaw,
	}, logger)

	// The motion daemon may not be running yet
	if !client.IsHealthy(ctx) {
		logger.Info("motion daemon not responding, requesting start", "url", cfg.URL)
		if err := client.StartDaemon(ctx); err != nil {
			logger.Warn("failed to start motion daemon", "error", err)
		}
	}

	return client, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, backend, version string) {
	fmt.Println()
	fmt.Println("🔊 go-echoroom v" + version)
	fmt.Println("   Acoustic room sonar")
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d (transducer: %s, every %v)\n", cfg.Server.Port, backend, cfg.Sonar.CyclePeriod)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health              - Health check")
	fmt.Println("   GET  /api/room            - Current wall distances")
	fmt.Println("   GET  /api/room/outline    - Room rectangle")
	fmt.Println("   GET  /api/room/history    - Recorded updates")
	fmt.Println("   GET  /api/room/export     - CSV or Parquet download")
	fmt.Println("   WS   /api/room/stream     - Real-time room stream")
	fmt.Println("   GET  /api/stats           - Scan statistics")
	fmt.Println("   GET  /metrics             - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
