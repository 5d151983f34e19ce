package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"autovault/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventOnce     sync.Once
	eventRegistry *eventMetrics
)

func protocolEvents() *eventMetrics {
	eventOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of protocol events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// MeteredEmitter counts every event by type before forwarding it to the next
// sink. Wrap an engine's emitter with it to feed the /metrics endpoint.
type MeteredEmitter struct {
	next events.Emitter
}

// NewMeteredEmitter wraps next; a nil next discards after counting.
func NewMeteredEmitter(next events.Emitter) *MeteredEmitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &MeteredEmitter{next: next}
}

// Emit implements the events.Emitter interface.
func (m *MeteredEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	protocolEvents().emitted.WithLabelValues(evt.EventType()).Inc()
	m.next.Emit(evt)
}
