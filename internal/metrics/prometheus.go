package metrics

import "github.com/prometheus/client_golang/prometheus"

type promMetrics struct {
	probes       *prometheus.CounterVec
	probeLatency *prometheus.HistogramVec
	passes       *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	removed      *prometheus.CounterVec
	ticks        *prometheus.CounterVec
	poolSize     *prometheus.GaugeVec
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	m := &promMetrics{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxypool",
			Name:      "probes_total",
			Help:      "Proxy probes by scheduler pass and result.",
		}, []string{"pass", "result"}),
		probeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proxypool",
			Name:      "probe_latency_seconds",
			Help:      "Latency of successful proxy probes.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
		}, []string{"pass"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxypool",
			Name:      "passes_total",
			Help:      "Scheduler passes by name and result.",
		}, []string{"pass", "result"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "proxypool",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of scheduler passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"pass"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxypool",
			Name:      "records_removed_total",
			Help:      "Proxy records deleted, by reason.",
		}, []string{"reason"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proxypool",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by result.",
		}, []string{"result"}),
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "proxypool",
			Name:      "pool_size",
			Help:      "Registry size after the last tick.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.probes, m.probeLatency, m.passes, m.passDuration, m.removed, m.ticks, m.poolSize)
	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *promMetrics) observeProbe(e MetricEvent) {
	m.probes.WithLabelValues(e.Pass, result(e.Success)).Inc()
	if e.Success {
		m.probeLatency.WithLabelValues(e.Pass).Observe(e.Duration.Seconds())
	}
}

func (m *promMetrics) observePass(e MetricEvent) {
	m.passes.WithLabelValues(e.Pass, result(e.Success)).Inc()
	m.passDuration.WithLabelValues(e.Pass).Observe(e.Duration.Seconds())
}

func (m *promMetrics) observeRemoved(e MetricEvent) {
	m.removed.WithLabelValues(e.Pass).Add(float64(e.Count))
}

func (m *promMetrics) observeTick(e MetricEvent) {
	m.ticks.WithLabelValues(result(e.Success)).Inc()
	m.poolSize.WithLabelValues("working").Set(float64(e.Working))
	m.poolSize.WithLabelValues("failed").Set(float64(e.Total - e.Working))
}
