package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/proxypool/internal/metrics"
	"github.com/angeloszaimis/proxypool/internal/prober"
	"github.com/angeloszaimis/proxypool/internal/registry"
)

// discover reconciles the registry with the upstream list when the feed's
// change token moved. The token is saved only after the reconcile succeeded
// so a failed sync is retried on the next due tick.
func (s *Scheduler) discover(ctx context.Context, log *slog.Logger, report *TickReport) error {
	token, err := s.feed.FetchChangeToken(ctx)
	if err != nil {
		return err
	}

	last, _, err := s.registry.LastChangeToken(ctx)
	if err != nil {
		return err
	}
	if token == last {
		log.Debug("feed unchanged", slog.String("token", token))
		return nil
	}

	candidates, err := s.feed.FetchCandidates(ctx)
	if err != nil {
		return err
	}

	working, err := s.registry.GetAllWorking(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(working))
	for _, rec := range working {
		known[rec.URL] = struct{}{}
	}

	fresh := make([]string, 0, len(candidates))
	for _, u := range candidates {
		if _, ok := known[u]; !ok {
			fresh = append(fresh, u)
		}
	}

	log.Info("feed changed",
		slog.String("token", token),
		slog.Int("candidates", len(candidates)),
		slog.Int("to_test", len(fresh)))

	if err := s.probeAndFold(ctx, log, report, PassDiscovery, fresh, nil); err != nil {
		return err
	}

	removed, err := s.registry.RemoveMissing(ctx, candidates)
	if err != nil {
		return err
	}
	report.Removed += removed
	if removed > 0 {
		s.emit(metrics.MetricEvent{Type: metrics.EventRecordsRemoved, Pass: PassDiscovery, Count: int(removed)})
	}

	return s.registry.SaveChangeToken(ctx, token)
}

// recoverFailing retests every non-working record.
func (s *Scheduler) recoverFailing(ctx context.Context, log *slog.Logger, report *TickReport) error {
	candidates, err := s.registry.GetRecoveryCandidates(ctx)
	if err != nil {
		return err
	}

	urls := make([]string, 0, len(candidates))
	prior := make(map[string]int, len(candidates))
	for _, rec := range candidates {
		urls = append(urls, rec.URL)
		prior[rec.URL] = rec.FailedCount
	}

	return s.probeAndFold(ctx, log, report, PassRecovery, urls, prior)
}

// revalidate retests the whole working set so silently dead proxies get demoted.
func (s *Scheduler) revalidate(ctx context.Context, log *slog.Logger, report *TickReport) error {
	working, err := s.registry.GetAllWorking(ctx)
	if err != nil {
		return err
	}

	urls := make([]string, 0, len(working))
	for _, rec := range working {
		urls = append(urls, rec.URL)
	}

	return s.probeAndFold(ctx, log, report, PassRevalidation, urls, nil)
}

func (s *Scheduler) cleanup(ctx context.Context, log *slog.Logger, report *TickReport) error {
	removed, err := s.registry.Cleanup(ctx, s.cfg.MaxFailures)
	if err != nil {
		return err
	}

	report.Cleaned += removed
	if removed > 0 {
		log.Info("cleaned up failed proxies", slog.Int64("count", removed))
		s.emit(metrics.MetricEvent{Type: metrics.EventRecordsRemoved, Pass: PassCleanup, Count: int(removed)})
	}
	return nil
}

// probeAndFold tests urls as one batch and upserts every result. Results are
// written even if ctx ends mid-batch. Recovering proxies that need a deep
// check are confirmed off the result loop, at most Concurrency at a time. On a
// registry failure the rest of the batch is cancelled and drained before the
// error is returned.
func (s *Scheduler) probeAndFold(ctx context.Context, log *slog.Logger, report *TickReport, pass string, urls []string, prior map[string]int) error {
	if len(urls) == 0 {
		return nil
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeCtx := context.WithoutCancel(ctx)

	var (
		mu               sync.Mutex
		fatal            error
		working, failing int
	)

	fold := func(res prober.Result, outcome registry.Outcome) {
		rec, err := s.registry.Upsert(writeCtx, res.URL, res.Protocol, outcome)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case errors.Is(err, registry.ErrInvalidURL):
			log.Debug("skipping unusable url", slog.String("url", res.URL))
		case err != nil:
			if fatal == nil {
				fatal = err
				cancel()
			}
		case rec.Working:
			working++
		default:
			failing++
		}
	}

	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatal != nil
	}

	var confirms errgroup.Group
	confirms.SetLimit(s.cfg.Concurrency)

	for res := range s.prober.TestBatch(batchCtx, urls, s.cfg.Concurrency) {
		report.Probed++
		s.emit(metrics.MetricEvent{
			Type:     metrics.EventProbeCompleted,
			Pass:     pass,
			Success:  res.Success,
			ErrKind:  string(res.ErrKind()),
			Duration: res.Latency,
		})

		if failed() {
			continue
		}

		if res.Success && prior[res.URL] > 0 && s.cfg.DeepCheckAttempts > 0 {
			confirms.Go(func() error {
				fold(res, s.confirm(batchCtx, log, res))
				return nil
			})
			continue
		}

		fold(res, res.Outcome())
	}

	_ = confirms.Wait()

	if fatal != nil {
		return fatal
	}

	log.Info("batch folded",
		slog.Int("tested", len(urls)),
		slog.Int("working", working),
		slog.Int("failing", failing))
	return nil
}

// confirm re-probes a recovering proxy before it is promoted. Too few
// successes turn the single passing probe into a failure.
func (s *Scheduler) confirm(ctx context.Context, log *slog.Logger, res prober.Result) registry.Outcome {
	deep, err := s.prober.DeepCheck(ctx, res.URL, s.cfg.DeepCheckAttempts)
	if err != nil {
		return res.Outcome()
	}

	if deep.Confidence < s.cfg.DeepCheckMinConfidence {
		log.Debug("deep check rejected recovery",
			slog.String("url", res.URL),
			slog.Float64("confidence", deep.Confidence))
		return registry.Outcome{Success: false}
	}

	latency := deep.BestLatency
	if latency <= 0 {
		latency = res.Latency
	}
	return registry.Outcome{Success: true, Latency: latency}
}
