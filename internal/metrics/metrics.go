package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxLatencySamples = 1000

type Metrics struct {
	mutex        sync.RWMutex
	probes       map[string]int64
	successes    map[string]int64
	failureKinds map[string]map[string]int64
	latencies    map[string][]time.Duration
	passRuns     map[string]int64
	passErrors   map[string]int64
	lastDuration map[string]time.Duration
	removed      map[string]int64
	ticks        int64
	tickErrors   int64
	working      int64
	total        int64
	startTime    time.Time
}

type Snapshot struct {
	TotalProbes int64                  `json:"total_probes"`
	Uptime      time.Duration          `json:"uptime"`
	Ticks       int64                  `json:"ticks"`
	TickErrors  int64                  `json:"tick_errors"`
	Working     int64                  `json:"working"`
	Total       int64                  `json:"total"`
	Passes      map[string]PassMetrics `json:"passes"`
	Removed     map[string]int64       `json:"removed"`
}

type PassMetrics struct {
	Runs         int64            `json:"runs"`
	Errors       int64            `json:"errors"`
	LastDuration time.Duration    `json:"last_duration"`
	Probes       int64            `json:"probes"`
	Successes    int64            `json:"successes"`
	FailureKinds map[string]int64 `json:"failure_kinds"`
	AvgLatency   time.Duration    `json:"avg_latency"`
	P50Latency   time.Duration    `json:"p50_latency"`
	P95Latency   time.Duration    `json:"p95_latency"`
	P99Latency   time.Duration    `json:"p99_latency"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		probes:       make(map[string]int64),
		successes:    make(map[string]int64),
		failureKinds: make(map[string]map[string]int64),
		latencies:    make(map[string][]time.Duration),
		passRuns:     make(map[string]int64),
		passErrors:   make(map[string]int64),
		lastDuration: make(map[string]time.Duration),
		removed:      make(map[string]int64),
		startTime:    time.Now(),
	}
}

func (m *Metrics) RecordProbe(pass string, success bool, errKind string, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.probes[pass]++
	if !success {
		if m.failureKinds[pass] == nil {
			m.failureKinds[pass] = make(map[string]int64)
		}
		m.failureKinds[pass][errKind]++
		return
	}

	m.successes[pass]++
	m.latencies[pass] = append(m.latencies[pass], latency)
	if len(m.latencies[pass]) > maxLatencySamples {
		m.latencies[pass] = m.latencies[pass][1:]
	}
}

func (m *Metrics) RecordPass(pass string, duration time.Duration, ok bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.passRuns[pass]++
	if !ok {
		m.passErrors[pass]++
	}
	m.lastDuration[pass] = duration
}

func (m *Metrics) RecordRemoved(reason string, count int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.removed[reason] += int64(count)
}

func (m *Metrics) RecordTick(ok bool, working, total int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.ticks++
	if !ok {
		m.tickErrors++
	}
	m.working = working
	m.total = total
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:     time.Since(m.startTime),
		Ticks:      m.ticks,
		TickErrors: m.tickErrors,
		Working:    m.working,
		Total:      m.total,
		Passes:     make(map[string]PassMetrics),
		Removed:    make(map[string]int64, len(m.removed)),
	}

	for reason, n := range m.removed {
		snap.Removed[reason] = n
	}

	// Collect all pass names
	allPasses := make(map[string]bool)
	for pass := range m.probes {
		allPasses[pass] = true
	}
	for pass := range m.passRuns {
		allPasses[pass] = true
	}

	for pass := range allPasses {
		snap.TotalProbes += m.probes[pass]

		pm := PassMetrics{
			Runs:         m.passRuns[pass],
			Errors:       m.passErrors[pass],
			LastDuration: m.lastDuration[pass],
			Probes:       m.probes[pass],
			Successes:    m.successes[pass],
			FailureKinds: make(map[string]int64, len(m.failureKinds[pass])),
		}
		for kind, n := range m.failureKinds[pass] {
			pm.FailureKinds[kind] = n
		}

		durations := m.latencies[pass]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			pm.AvgLatency = average(sorted)
			pm.P50Latency = percentile(sorted, 0.50)
			pm.P95Latency = percentile(sorted, 0.95)
			pm.P99Latency = percentile(sorted, 0.99)
		}

		snap.Passes[pass] = pm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
