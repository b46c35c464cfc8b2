package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Tyrowin/sailhub/internal/config"
	"github.com/Tyrowin/sailhub/internal/fanout"
	"github.com/Tyrowin/sailhub/internal/logging"
	"github.com/Tyrowin/sailhub/internal/recording"
	"github.com/Tyrowin/sailhub/internal/registry"
	"github.com/Tyrowin/sailhub/internal/server"
	"github.com/Tyrowin/sailhub/internal/sim"
	"github.com/Tyrowin/sailhub/internal/telemetry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sailhub:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("sailhub", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}

	logOpts := logging.Options{Level: cfg.Log.Level, FilePath: cfg.Log.File, Facility: "sailhub"}
	if cfg.Log.GraylogEnabled {
		logOpts.GraylogAddress = cfg.Log.GraylogAddress
	}
	logs, err := logging.Setup(logOpts)
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Logger()
	slog.SetDefault(logger)

	logger.Info("Starting SailHub server", "addr", cfg.Server.Addr(), "recording", cfg.Recording.Enabled)

	store := recording.NewStore(recording.StoreConfig{
		Dir:      cfg.Recording.Dir,
		Compress: cfg.Recording.Compress,
	}, logger)
	if _, err := store.LoadAll(); err != nil {
		// Replay is optional; the engine falls back to parametric boats.
		logger.Error("Failed to load recordings", "dir", store.Dir(), "error", err)
	}

	reg := registry.New()
	fan, err := fanout.New(reg, fanout.Config{
		SendTimeout:    cfg.Fanout.SendTimeout,
		MaxConcurrency: cfg.Fanout.MaxConcurrency,
	}, logger.With("component", "fanout"))
	if err != nil {
		return err
	}

	recorder := recording.NewRecorder(recording.RecorderConfig{
		Enabled:    cfg.Recording.Enabled,
		MinSamples: cfg.Recording.MinSamples,
	}, reg, store, logger.With("component", "recorder"))

	simCfg := sim.DefaultConfig()
	simCfg.TickInterval = cfg.Sim.TickInterval
	simCfg.SpawnInterval = cfg.Sim.SpawnInterval
	simCfg.MaxEntities = cfg.Sim.MaxEntities
	simCfg.InitialEntities = cfg.Sim.InitialEntities
	simCfg.LoopReplays = cfg.Sim.LoopReplays
	simCfg.MaxDistance = cfg.Sim.MaxDistance
	simCfg.SpawnRadius = cfg.Sim.SpawnRadius
	engine, err := sim.New(simCfg, fan, reg, store, logger.With("component", "sim"))
	if err != nil {
		return err
	}

	var status telemetry.Sink = telemetry.Nop{}
	if cfg.Influx.Enabled {
		host, _ := os.Hostname()
		sink, err := telemetry.NewInflux(telemetry.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
			Host:   host,
		}, logger)
		if err != nil {
			logger.Warn("InfluxDB export disabled", "error", err)
		} else {
			status = sink
		}
	}

	hub, err := server.NewHub(server.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		RateLimit: server.RateLimitConfig{
			PerSecond: cfg.Server.RateLimit.PerSecond,
			Burst:     cfg.Server.RateLimit.Burst,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
		RestartBackoff:    cfg.RestartBackoff,
	}, server.Components{
		Registry: reg,
		Fanout:   fan,
		Recorder: recorder,
		Store:    store,
		Engine:   engine,
		Status:   status,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.Seed(ctx)
	hub.Start()

	httpServer := server.CreateServer(cfg.Server.Addr(), server.SetupRoutes(hub))
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.StartServer(httpServer, logger) }()

	var listenErr error
	select {
	case listenErr = <-serveErr:
		if listenErr != nil {
			logger.Error("HTTP server stopped", "error", listenErr)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(listenErr, hub.Shutdown(shutdownCtx))
}
