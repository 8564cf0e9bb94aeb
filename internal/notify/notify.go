// Package notify pushes reading and incident events to subscribers. Delivery
// is best effort: one bounded attempt per sink, failures are logged.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/metrics"
	"github.com/firewatch/flames/internal/protocol"
)

// Event is one notification addressed to every sink
type Event struct {
	Kind string
	Key  string // node id
	Body any
}

// Sink delivers events to one subscriber
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Fanout sends each event to all sinks
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.WorkerMetrics
	logger  *zap.Logger
}

// NewFanout creates a fan-out. Each sink gets at most timeout per event.
func NewFanout(timeout time.Duration, m *metrics.WorkerMetrics, logger *zap.Logger, sinks ...Sink) *Fanout {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Fanout{
		sinks:   sinks,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// NewReading emits a new_reading event
func (f *Fanout) NewReading(ctx context.Context, ev *protocol.NewReadingEvent) {
	f.send(ctx, Event{Kind: protocol.EventNewReading, Key: ev.NodeID, Body: ev})
}

// IncidentUpdate emits an incident_update event
func (f *Fanout) IncidentUpdate(ctx context.Context, ev *protocol.IncidentUpdateEvent) {
	f.send(ctx, Event{Kind: protocol.EventIncidentUpdate, Key: ev.NodeID, Body: ev})
}

func (f *Fanout) send(ctx context.Context, ev Event) {
	for _, sink := range f.sinks {
		if err := f.deliver(ctx, sink, ev); err != nil {
			f.metrics.NotifyFailures.WithLabelValues(ev.Kind, sink.Name()).Inc()
			f.logger.Warn("Notification failed",
				zap.String("event", ev.Kind),
				zap.String("sink", sink.Name()),
				zap.String("node_id", ev.Key),
				zap.Error(err),
			)
		}
	}
}

func (f *Fanout) deliver(ctx context.Context, sink Sink, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return sink.Deliver(ctx, ev)
}
