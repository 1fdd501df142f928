package prober

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/proxypool/internal/registry"
)

// TestBatch probes every distinct url with at most limit tests in flight.
// Results arrive in completion order and the channel closes once every
// started test has reported. When ctx ends no new tests are started; tests
// already running finish under their own timeout.
func (p *Prober) TestBatch(ctx context.Context, urls []string, limit int) <-chan Result {
	if limit <= 0 {
		limit = p.cfg.Concurrency
	}

	unique := dedupe(urls)
	results := make(chan Result, min(limit, max(len(unique), 1)))

	go func() {
		defer close(results)

		detached := context.WithoutCancel(ctx)

		var g errgroup.Group
		g.SetLimit(limit)

		started := 0
		for _, u := range unique {
			if ctx.Err() != nil {
				break
			}
			started++
			g.Go(func() error {
				results <- p.Test(detached, u)
				return nil
			})
		}
		g.Wait()

		if started < len(unique) {
			p.logger.Info("probe batch stopped early",
				slog.Int("started", started),
				slog.Int("total", len(unique)))
		}
	}()

	return results
}

// dedupe keeps the first spelling of every normalized url. Unparseable urls
// are kept so they still produce a failed result.
func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key, err := registry.NormalizeURL(u)
		if err != nil {
			key = u
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, u)
	}
	return out
}
