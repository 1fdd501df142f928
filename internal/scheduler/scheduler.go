package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angeloszaimis/proxypool/internal/metrics"
	"github.com/angeloszaimis/proxypool/internal/prober"
	"github.com/angeloszaimis/proxypool/internal/registry"
)

const (
	PassDiscovery    = "discovery"
	PassRecovery     = "recovery"
	PassRevalidation = "revalidation"
	PassCleanup      = "cleanup"

	DefaultTickInterval           = 30 * time.Second
	DefaultMetaInterval           = 60 * time.Second
	DefaultRevalidationInterval   = 20 * time.Minute
	DefaultDeepCheckMinConfidence = 0.5
)

type Feed interface {
	FetchChangeToken(ctx context.Context) (string, error)
	FetchCandidates(ctx context.Context) ([]string, error)
}

type Registry interface {
	Upsert(ctx context.Context, url, protocol string, outcome registry.Outcome) (registry.ProxyRecord, error)
	GetAllWorking(ctx context.Context) ([]registry.ProxyRecord, error)
	GetRecoveryCandidates(ctx context.Context) ([]registry.ProxyRecord, error)
	RemoveMissing(ctx context.Context, current []string) (int64, error)
	Cleanup(ctx context.Context, threshold int) (int64, error)
	Stats(ctx context.Context) (registry.Stats, error)
	LastChangeToken(ctx context.Context) (string, time.Time, error)
	SaveChangeToken(ctx context.Context, token string) error
}

type Prober interface {
	TestBatch(ctx context.Context, urls []string, limit int) <-chan prober.Result
	DeepCheck(ctx context.Context, url string, attempts int) (prober.DeepResult, error)
}

// Events receives metric events. *metrics.Collector satisfies it.
type Events interface {
	Emit(event metrics.MetricEvent)
}

type Config struct {
	TickInterval           time.Duration
	MetaInterval           time.Duration
	RevalidationInterval   time.Duration
	MaxFailures            int
	Concurrency            int
	DeepCheckAttempts      int
	DeepCheckMinConfidence float64
}

// TickReport describes what one tick did.
type TickReport struct {
	ID      string
	At      time.Time
	Passes  []string
	Probed  int
	Removed int64
	Cleaned int64
	Stats   registry.Stats
	// Errors aggregates the transient failures of this tick.
	Errors error
}

type Scheduler struct {
	cfg      Config
	logger   *slog.Logger
	registry Registry
	prober   Prober
	feed     Feed
	clock    clock.Clock
	events   Events

	mu               sync.Mutex
	lastDiscovery    time.Time
	lastRevalidation time.Time
}

func New(logger *slog.Logger, cfg Config, reg Registry, p Prober, feed Feed, clk clock.Clock, events Events) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MetaInterval <= 0 {
		cfg.MetaInterval = DefaultMetaInterval
	}
	if cfg.RevalidationInterval <= 0 {
		cfg.RevalidationInterval = DefaultRevalidationInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = registry.DefaultMaxFailures
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = prober.DefaultConcurrency
	}
	if cfg.DeepCheckMinConfidence <= 0 {
		cfg.DeepCheckMinConfidence = DefaultDeepCheckMinConfidence
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		prober:   p,
		feed:     feed,
		clock:    clk,
		events:   events,
	}
}

// Run ticks once immediately and then on every tick interval until ctx ends
// or a tick fails fatally. It returns nil on a clean stop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Duration("meta_interval", s.cfg.MetaInterval),
		slog.Duration("revalidation_interval", s.cfg.RevalidationInterval))
	defer s.logger.Info("scheduler stopped")

	ticker := s.clock.Ticker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx, s.clock.Now()); err != nil {
			var fatal *FatalWorkerError
			if errors.As(err, &fatal) {
				s.logger.Error("scheduler failed", slog.Any("error", err))
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one cycle as of now. It returns ctx.Err() when stopped between
// passes and a *FatalWorkerError when a pass hit an unrecoverable registry
// failure. Transient failures only show up in the report.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &TickReport{ID: uuid.NewString(), At: now}
	log := s.logger.With(slog.String("tick_id", report.ID))

	type pass struct {
		name string
		due  bool
		run  func(context.Context, *slog.Logger, *TickReport) error
	}

	passes := []pass{
		{PassDiscovery, due(s.lastDiscovery, now, s.cfg.MetaInterval), s.discover},
		{PassRecovery, true, s.recoverFailing},
		{PassRevalidation, due(s.lastRevalidation, now, s.cfg.RevalidationInterval), s.revalidate},
		{PassCleanup, true, s.cleanup},
	}

	for _, p := range passes {
		if !p.due {
			continue
		}
		if err := ctx.Err(); err != nil {
			return *report, err
		}

		switch p.name {
		case PassDiscovery:
			s.lastDiscovery = now
		case PassRevalidation:
			s.lastRevalidation = now
		}

		if err := s.runPass(ctx, log, report, p.name, p.run); err != nil {
			return *report, err
		}
	}

	stats, err := s.registry.Stats(ctx)
	if err := s.classify(ctx, log, report, "stats", err); err != nil {
		return *report, err
	}
	report.Stats = stats

	s.emit(metrics.MetricEvent{
		Type:    metrics.EventTickCompleted,
		Success: report.Errors == nil,
		Working: stats.Working,
		Total:   stats.Total,
	})

	log.Info("tick completed",
		slog.Any("passes", report.Passes),
		slog.Int("probed", report.Probed),
		slog.Int64("removed", report.Removed),
		slog.Int64("cleaned", report.Cleaned),
		slog.Int64("total", stats.Total),
		slog.Int64("working", stats.Working),
		slog.Int64("failed", stats.Failed),
		slog.Int("errors", len(multierr.Errors(report.Errors))))

	return *report, nil
}

// due reports whether a gated pass should run. A clock that went backwards
// counts as due so a skewed clock cannot stall a pass forever.
func due(last, now time.Time, interval time.Duration) bool {
	if last.IsZero() {
		return true
	}
	elapsed := now.Sub(last)
	return elapsed < 0 || elapsed >= interval
}

func (s *Scheduler) runPass(ctx context.Context, log *slog.Logger, report *TickReport, name string,
	run func(context.Context, *slog.Logger, *TickReport) error) error {
	start := s.clock.Now()
	report.Passes = append(report.Passes, name)

	err := run(ctx, log.With(slog.String("pass", name)), report)

	s.emit(metrics.MetricEvent{
		Type:     metrics.EventPassCompleted,
		Pass:     name,
		Duration: s.clock.Since(start),
		Success:  err == nil,
	})

	return s.classify(ctx, log, report, name, err)
}

// classify decides what a pass error means for the tick: registry failures
// are fatal, cancellation stops the tick, anything else is recorded and the
// tick goes on.
func (s *Scheduler) classify(ctx context.Context, log *slog.Logger, report *TickReport, name string, err error) error {
	if err == nil {
		return nil
	}

	var perr *registry.PersistenceError
	if errors.As(err, &perr) {
		return &FatalWorkerError{Pass: name, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	log.Warn("pass failed", slog.String("pass", name), slog.Any("error", err))
	report.Errors = multierr.Append(report.Errors, fmt.Errorf("%s: %w", name, err))
	return nil
}

func (s *Scheduler) emit(event metrics.MetricEvent) {
	if s.events != nil {
		s.events.Emit(event)
	}
}
