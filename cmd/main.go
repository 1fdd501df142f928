package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/proxypool/config"
	"github.com/angeloszaimis/proxypool/internal/feed"
	"github.com/angeloszaimis/proxypool/internal/httpserver"
	"github.com/angeloszaimis/proxypool/internal/metrics"
	"github.com/angeloszaimis/proxypool/internal/prober"
	"github.com/angeloszaimis/proxypool/internal/registry"
	"github.com/angeloszaimis/proxypool/internal/scheduler"
	"github.com/angeloszaimis/proxypool/internal/strategy"
	"github.com/angeloszaimis/proxypool/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log, clock.New()); err != nil {
		var fatal *scheduler.FatalWorkerError
		if errors.As(err, &fatal) {
			log.Error("Worker stopped on unrecoverable error",
				slog.String("pass", fatal.Pass),
				slog.Any("err", fatal.Err))
		} else {
			log.Error("Proxy pool exited with error", slog.Any("err", err))
		}
		cancel()
		os.Exit(1)
	}
}

// run wires the pool and blocks until ctx ends or a component fails.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger, clk clock.Clock) error {
	selector, err := createStrategy(log, cfg.Selection.Strategy, cfg.Selection.Bias)
	if err != nil {
		return err
	}

	reg, err := registry.New(cfg.RegistryConfig(), clk, selector, logger.WithComponent(log, "registry"))
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn("Failed to close registry", slog.Any("err", err))
		}
	}()

	probe, err := prober.New(cfg.ProberConfig(), logger.WithComponent(log, "prober"))
	if err != nil {
		return err
	}
	defer probe.Close()

	source, err := feed.New(cfg.FeedConfig(), clk, logger.WithComponent(log, "feed"))
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(cfg.Metrics.BufferSize, logger.WithComponent(log, "metrics"))

	sched := scheduler.New(logger.WithComponent(log, "scheduler"), cfg.SchedulerConfig(), reg, probe, source, clk, collector)

	router := setupRouter(log, reg, collector, source, clk)
	srv, err := httpserver.New(cfg.Server.Address, router, logger.WithComponent(log, "api"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	collector.Start(gctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func createStrategy(logger *slog.Logger, strategyType string, bias float64) (strategy.Strategy, error) {
	switch strategyType {
	case config.StrategyFastestBiased:
		return strategy.NewFastestBiasedStrategy(bias, nil), nil
	case config.StrategyRandom:
		return strategy.NewRandomStrategy(nil), nil
	case config.StrategyFastest:
		return strategy.NewFastestStrategy(), nil
	default:
		logger.Warn("Unknown strategy, defaulting to fastest-biased", slog.String("requested", strategyType))
		return strategy.NewFastestBiasedStrategy(bias, nil), nil
	}
}
