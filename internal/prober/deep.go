package prober

import (
	"context"

	"golang.org/x/time/rate"
)

// DeepCheck probes one proxy attempts times in a row, paced by the deep check
// interval, and reports the share of successes as confidence.
func (p *Prober) DeepCheck(ctx context.Context, rawURL string, attempts int) (DeepResult, error) {
	if attempts <= 0 {
		attempts = 1
	}

	limiter := rate.NewLimiter(rate.Every(p.cfg.DeepCheckInterval), 1)
	res := DeepResult{URL: rawURL}

	for i := 0; i < attempts; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return res, err
		}

		probe := p.Test(ctx, rawURL)
		res.URL = probe.URL
		res.Attempts++
		if !probe.Success {
			continue
		}
		res.Successes++
		if res.BestLatency == 0 || probe.Latency < res.BestLatency {
			res.BestLatency = probe.Latency
		}
	}

	res.Confidence = float64(res.Successes) / float64(res.Attempts)
	return res, nil
}
