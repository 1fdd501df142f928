// Package metrics collects runtime metrics for the proxy pool engine.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Probe counts and verdicts per scheduler pass
//   - Probe latencies with percentile calculations (P50, P95, P99)
//   - Failure kinds (timeout, connect, status, malformed)
//   - Pass runs, errors and durations
//   - Records removed by discovery sync and cleanup
//   - Pool size after every tick
//
// The collector runs in a dedicated goroutine. Emit never blocks the
// scheduler: when the buffer is full the event is dropped.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventProbeCompleted,
//		Pass:     "recovery",
//		Success:  true,
//		Duration: 420 * time.Millisecond,
//	})
//
//	snapshot := collector.Snapshot()
//
// Every event also feeds a private Prometheus registry served by
// PrometheusHandler.
package metrics
