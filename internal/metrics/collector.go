package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventProbeCompleted EventType = "probe_completed"
	EventPassCompleted  EventType = "pass_completed"
	EventRecordsRemoved EventType = "records_removed"
	EventTickCompleted  EventType = "tick_completed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Pass      string
	Duration  time.Duration
	Success   bool
	ErrKind   string
	Count     int
	Working   int64
	Total     int64
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	registry *prometheus.Registry
	prom     *promMetrics
	logger   *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()

	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(),
		registry: reg,
		prom:     newPromMetrics(reg),
		logger:   logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues an event without blocking. A full buffer drops it.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventProbeCompleted:
		c.prom.observeProbe(event)
		c.metrics.RecordProbe(event.Pass, event.Success, event.ErrKind, event.Duration)

	case EventPassCompleted:
		c.prom.observePass(event)
		c.metrics.RecordPass(event.Pass, event.Duration, event.Success)

	case EventRecordsRemoved:
		c.prom.observeRemoved(event)
		c.metrics.RecordRemoved(event.Pass, event.Count)

	case EventTickCompleted:
		c.prom.observeTick(event)
		c.metrics.RecordTick(event.Success, event.Working, event.Total)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
