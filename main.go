package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"fxRecoveryBot/config"
	"fxRecoveryBot/internal/adapters/logger"
	"fxRecoveryBot/internal/adapters/mt5bridge"
	"fxRecoveryBot/internal/adapters/sqlite"
	"fxRecoveryBot/internal/adapters/statefile"
	"fxRecoveryBot/internal/app"
	"fxRecoveryBot/internal/coordinator"
	"fxRecoveryBot/internal/ports"
	"fxRecoveryBot/internal/recovery"
	"fxRecoveryBot/internal/tracker"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		appLogger = logger.NewZeroLogger(cfg.LogLevel, os.Stderr)
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// Cancelled on SIGINT/SIGTERM so the loop can save state on the way out.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Terminal Bridge Client
	bridge, err := mt5bridge.NewClient(mt5bridge.Config{
		BaseURL:     cfg.BridgeURL,
		WSURL:       cfg.BridgeWSURL,
		HTTPTimeout: cfg.HTTPTimeout,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize bridge client")
		log.Fatalf("FATAL: Failed to initialize bridge client: %v", err)
	}
	if cfg.BridgeWSURL != "" {
		bridge.StartStream(ctx, cfg.Symbols)
	}
	appLogger.Info(context.Background(), "Bridge client initialized", map[string]interface{}{"url": cfg.BridgeURL})

	// 4. Initialize State Store
	store, err := statefile.New(cfg.StatePath, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize state store")
		log.Fatalf("FATAL: Failed to initialize state store: %v", err)
	}

	// 5. Initialize Telemetry Sink (optional)
	var sink ports.EventSink
	if cfg.TelemetryEnabled {
		s, err := sqlite.NewSink(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize telemetry sink")
			log.Fatalf("FATAL: Failed to initialize telemetry sink: %v", err)
		}
		defer func() {
			if err := s.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing telemetry sink")
			}
		}()
		sink = s
		appLogger.Info(context.Background(), "Telemetry sink initialized", map[string]interface{}{"path": cfg.DBPath})
	}

	// 6. Initialize Core Components
	engine, err := recovery.New(cfg.Recovery)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize recovery engine")
		log.Fatalf("FATAL: Failed to initialize recovery engine: %v", err)
	}
	trk, err := tracker.New(appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position tracker")
		log.Fatalf("FATAL: Failed to initialize position tracker: %v", err)
	}
	coord, err := coordinator.New(appLogger, bridge, trk, sink, engine)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize coordinator")
		log.Fatalf("FATAL: Failed to initialize coordinator: %v", err)
	}

	// 7. Initialize Application Service
	service, err := app.New(app.Config{
		Logger:             appLogger,
		Market:             bridge,
		Gateway:            bridge,
		State:              store,
		Sink:               sink,
		Engine:             engine,
		Tracker:            trk,
		Coordinator:        coord,
		Symbols:            cfg.Symbols,
		EntryVolume:        cfg.EntryVolume,
		MaxPositions:       cfg.MaxPositions,
		WorkTimeframe:      cfg.WorkTimeframe,
		BarsCount:          cfg.BarsCount,
		ADXPeriod:          cfg.ADXPeriod,
		TickInterval:       cfg.TickInterval,
		DataRefreshEvery:   cfg.DataRefreshEvery,
		StateSaveEveryTick: cfg.StateSaveEveryTick,
		BlockStaleAfter:    cfg.BlockStaleAfter,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize recovery service")
		log.Fatalf("FATAL: Failed to initialize recovery service: %v", err)
	}
	appLogger.Info(context.Background(), "Recovery service initialized")

	// 8. Start the Service
	if err := service.Start(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Recovery service exited with error")
		log.Fatalf("FATAL: Recovery service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
