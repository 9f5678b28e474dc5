// Package observability provides per-invocation metric buffering and the
// Prometheus collectors those buffers flush into.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Event is one buffered metric emission: a name, an optional value and an
// optional unit. Events are cheap to record and are only materialized into
// Prometheus series once per invocation, at flush time.
type Event struct {
	Name  string
	Value float64
	Unit  string
}

// Buffer accumulates metric events for a single invocation. It is safe for
// concurrent use so nested goroutines spawned by a handler may record into
// the same buffer.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// NewBuffer creates an empty per-invocation buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Record appends one event to the buffer.
func (b *Buffer) Record(name string, value float64, unit string) {
	if b == nil {
		return
	}

	b.mu.Lock()
	b.events = append(b.events, Event{Name: name, Value: value, Unit: unit})
	b.mu.Unlock()
}

// Incr records a unit-less count-of-one event.
func (b *Buffer) Incr(name string) {
	b.Record(name, 1, "")
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	events := b.events
	b.events = nil
	b.mu.Unlock()

	return events
}

// Len reports how many events are currently buffered.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.events)
}

// Collector owns the Prometheus series invocation buffers flush into.
type Collector struct {
	eventsTotal        *prometheus.CounterVec
	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
}

// NewCollector registers the core metric families on the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardlens",
			Name:      "metric_events_total",
			Help:      "Buffered metric events flushed per invocation, summed by name.",
		}, []string{"name", "unit"}),
		invocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardlens",
			Name:      "invocations_total",
			Help:      "Wrapped handler invocations by method, path and outcome.",
		}, []string{"method", "path", "status"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cardlens",
			Name:      "invocation_duration_seconds",
			Help:      "Wall time of wrapped handler invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(c.eventsTotal, c.invocationsTotal, c.invocationDuration)

	return c
}

// Flush materializes drained buffer events into Prometheus series.
func (c *Collector) Flush(events []Event) {
	for _, e := range events {
		value := e.Value
		if value == 0 {
			value = 1
		}
		c.eventsTotal.WithLabelValues(e.Name, e.Unit).Add(value)
	}
}

// ObserveInvocation records the outcome and duration of one invocation.
func (c *Collector) ObserveInvocation(method, path, status string, seconds float64) {
	c.invocationsTotal.WithLabelValues(method, path, status).Inc()
	c.invocationDuration.WithLabelValues(method, path).Observe(seconds)
}
