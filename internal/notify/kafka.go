package notify

import (
	"context"
	"fmt"

	"github.com/firewatch/flames/internal/protocol"
	"github.com/firewatch/flames/internal/queue"
)

// KafkaSink publishes incident transitions to the incident stream, keyed by
// node id. Reading events are not streamed.
type KafkaSink struct {
	pub queue.Publisher
}

// NewKafkaSink creates a sink over a producer bound to the incident topic
func NewKafkaSink(pub queue.Publisher) *KafkaSink {
	return &KafkaSink{pub: pub}
}

// Name implements Sink
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Deliver implements Sink
func (s *KafkaSink) Deliver(ctx context.Context, ev Event) error {
	if ev.Kind != protocol.EventIncidentUpdate {
		return nil
	}

	data, err := protocol.EncodeEvent(ev.Body)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.pub.Publish(ctx, ev.Key, data)
}
