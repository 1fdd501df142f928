package handler

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/angeloszaimis/proxypool/internal/metrics"
	"github.com/angeloszaimis/proxypool/internal/registry"
)

const noProxiesMessage = "No working proxies available"

// ProxySource is the read side of the registry.
type ProxySource interface {
	GetWorking(ctx context.Context, limit int) ([]registry.ProxyRecord, error)
	GetRandomWorking(ctx context.Context) (registry.ProxyRecord, error)
	Stats(ctx context.Context) (registry.Stats, error)
}

// BreakerReporter exposes the state of the feed circuit breakers.
type BreakerReporter interface {
	BreakerStates() map[string]string
}

type StatsResponse struct {
	TotalProxies   int64      `json:"total_proxies"`
	WorkingProxies int64      `json:"working_proxies"`
	FailedProxies  int64      `json:"failed_proxies"`
	LastMetaUpdate string     `json:"last_meta_update"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Feed      map[string]string `json:"feed,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type PoolHandler struct {
	logger    *slog.Logger
	source    ProxySource
	collector *metrics.Collector
	breakers  BreakerReporter
	clock     clock.Clock
	app       *fiber.App
}

func NewPoolHandler(logger *slog.Logger, source ProxySource, collector *metrics.Collector, breakers BreakerReporter, clk clock.Clock) *PoolHandler {
	if clk == nil {
		clk = clock.New()
	}

	h := &PoolHandler{
		logger:    logger,
		source:    source,
		collector: collector,
		breakers:  breakers,
		clock:     clk,
	}

	h.app = fiber.New(fiber.Config{
		ErrorHandler:          h.handleError,
		DisableStartupMessage: true,
	})
	h.app.Use(recover.New())
	h.app.Use(bindRequestContext)
	h.app.Use(h.logRequest)

	h.app.Get("/list", h.handleList)
	h.app.Get("/random", h.handleRandom)
	h.app.Get("/stats", h.handleStats)
	h.app.Get("/health", h.handleHealth)

	if collector != nil {
		h.app.Get("/metrics", adaptor.HTTPHandlerFunc(collector.Handler()))
		h.app.Get("/metrics/prometheus", adaptor.HTTPHandler(collector.PrometheusHandler()))
	}

	return h
}

// App returns the underlying fiber app.
func (h *PoolHandler) App() *fiber.App {
	return h.app
}

func (h *PoolHandler) logRequest(c *fiber.Ctx) error {
	h.logger.Info("Received request",
		slog.String("from", c.IP()),
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.String("user_agent", c.Get(fiber.HeaderUserAgent)))

	return c.Next()
}

func (h *PoolHandler) handleList(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Error: limit must be an integer")
		}
		if n <= 0 {
			return c.Status(fiber.StatusBadRequest).SendString("Error: limit must be positive")
		}
		limit = n
	}

	records, err := h.source.GetWorking(c.UserContext(), limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return c.Status(fiber.StatusNotFound).SendString(noProxiesMessage)
	}

	urls := make([]string, len(records))
	for i, rec := range records {
		urls[i] = rec.URL
	}

	return c.SendString(strings.Join(urls, "\n"))
}

func (h *PoolHandler) handleRandom(c *fiber.Ctx) error {
	rec, err := h.source.GetRandomWorking(c.UserContext())
	if errors.Is(err, registry.ErrUnavailable) {
		return c.Status(fiber.StatusNotFound).SendString(noProxiesMessage)
	}
	if err != nil {
		return err
	}

	return c.SendString(rec.URL)
}

func (h *PoolHandler) handleStats(c *fiber.Ctx) error {
	stats, err := h.source.Stats(c.UserContext())
	if err != nil {
		return err
	}

	resp := StatsResponse{
		TotalProxies:   stats.Total,
		WorkingProxies: stats.Working,
		FailedProxies:  stats.Failed,
		LastMetaUpdate: stats.LastToken,
		Timestamp:      h.clock.Now().UTC(),
	}
	if !stats.LastSyncAt.IsZero() {
		at := stats.LastSyncAt.UTC()
		resp.LastSyncAt = &at
	}

	return c.JSON(resp)
}

func (h *PoolHandler) handleHealth(c *fiber.Ctx) error {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: h.clock.Now().UTC(),
	}
	if h.breakers != nil {
		resp.Feed = h.breakers.BreakerStates()
	}

	return c.JSON(resp)
}

// handleError keeps internal detail out of responses.
func (h *PoolHandler) handleError(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).SendString(fiberErr.Message)
	}

	h.logger.Error("request failed",
		slog.String("path", c.Path()),
		slog.Any("error", err))

	return c.Status(fiber.StatusInternalServerError).SendString("Internal server error")
}
