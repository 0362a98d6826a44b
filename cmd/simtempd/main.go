package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"codeberg.org/mutker/simtemp/internal/config"
	"codeberg.org/mutker/simtemp/internal/errors"
	"codeberg.org/mutker/simtemp/internal/journal"
	"codeberg.org/mutker/simtemp/internal/logger"
	"codeberg.org/mutker/simtemp/internal/metric"
	"codeberg.org/mutker/simtemp/internal/pid"
	"codeberg.org/mutker/simtemp/internal/sensor"
	"codeberg.org/mutker/simtemp/internal/server"
)

func main() {
	loader, err := config.NewLoader()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loader.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, logger.IsService())
	logger.Debug().Str("file", loader.ConfigFile()).Msg("Config loaded")

	if err := run(cfg, loader); err != nil {
		logger.Error().Err(err).Msg("simtempd stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func run(cfg *config.Config, loader *config.Loader) error {
	if err := pid.Write(cfg.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	core, err := sensor.New(cfg.Sensor(),
		sensor.WithCapacity(cfg.Capacity),
		sensor.WithLogger(logger.With("sensor")),
	)
	if err != nil {
		return err
	}

	alerts, err := journal.NewService(journal.Config{
		Enabled:       cfg.Journal.Enabled,
		Path:          cfg.Journal.Path,
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: time.Duration(cfg.Journal.FlushMs) * time.Millisecond,
		Retention:     cfg.Journal.Retention,
	}, logger.With("journal"))
	if err != nil {
		return err
	}
	defer func() {
		if err := alerts.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close alert journal")
		}
	}()

	srv := server.New(core, server.Options{
		Addr:     cfg.Listen,
		Logger:   logger.With("http"),
		Journal:  alerts,
		Registry: metric.NewRegistry(core),
	})

	if err := core.Start(); err != nil {
		return err
	}
	logger.Info().
		Int("sampling_ms", cfg.SamplingMs).
		Int("threshold_mC", cfg.ThresholdMC).
		Str("mode", cfg.Mode).
		Int("capacity", cfg.Capacity).
		Msg("Sensor started")

	loader.Watch(func(c *config.Config) { reload(core, c) }, func(err error) {
		logger.Warn().Err(err).Msg("Ignoring invalid configuration change")
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		return journal.Watch(ctx, core, alerts, logger.With("journal"))
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down")

		// Releases blocked readers first so the server can drain.
		core.Shutdown()

		return srv.Stop(context.Background())
	})

	return g.Wait()
}

// reload applies runtime tunables from an edited config file. Listen
// address, capacity and journal settings need a restart.
func reload(core *sensor.Core, c *config.Config) {
	sc := c.Sensor()

	if err := core.Configure(sc.SamplingMs, sc.ThresholdMilliC); err != nil {
		logger.Warn().Err(err).Msg("Failed to apply configuration")
		return
	}
	if err := core.SetMode(sc.Mode); err != nil {
		logger.Warn().Err(err).Msg("Failed to apply mode")
		return
	}
	if level, ok := logger.ParseLevel(c.LogLevel); ok {
		logger.SetLogLevel(level)
	}

	logger.Info().
		Int("sampling_ms", sc.SamplingMs).
		Int32("threshold_mC", sc.ThresholdMilliC).
		Str("mode", sc.Mode.String()).
		Msg("Configuration reloaded")
}
