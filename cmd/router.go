package main

import (
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/angeloszaimis/proxypool/internal/handler"
	"github.com/angeloszaimis/proxypool/internal/metrics"
	"github.com/angeloszaimis/proxypool/pkg/logger"
)

func setupRouter(log *slog.Logger, source handler.ProxySource, collector *metrics.Collector, breakers handler.BreakerReporter, clk clock.Clock) *handler.PoolHandler {
	return handler.NewPoolHandler(logger.WithComponent(log, "api"), source, collector, breakers, clk)
}
