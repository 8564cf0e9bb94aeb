// Package relay forwards acknowledged frames from the gateway to the broker.
package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/protocol"
	"github.com/firewatch/flames/internal/queue"
)

// DefaultTopic is the single uplink topic all gateways publish to
const DefaultTopic = "lora/uplink"

// Relay encodes envelopes and publishes them with a bounded wait
type Relay struct {
	pub     queue.Publisher
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a relay. A non-positive timeout means 5s.
func New(pub queue.Publisher, timeout time.Duration, logger *zap.Logger) *Relay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		pub:     pub,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish encodes env and hands it to the broker, keyed by node id.
// Delivery is at-most-once; the error is for the caller to log.
func (r *Relay) Publish(ctx context.Context, env *protocol.Envelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("refusing to relay envelope: %w", err)
	}

	payload, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	node := string(env.Payload.Node)
	if err := r.pub.Publish(ctx, node, payload); err != nil {
		return fmt.Errorf("failed to relay frame from %s: %w", node, err)
	}

	r.logger.Debug("Envelope relayed", zap.String("node_id", node), zap.Int("bytes", len(payload)))
	return nil
}
