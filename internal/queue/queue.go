// Package queue carries envelopes and events between the gateway, the
// worker and downstream consumers. MQTT and Kafka transports satisfy the
// same two interfaces.
package queue

import "context"

// MessageHandler processes one message. A returned error is logged by the
// transport and never stops delivery.
type MessageHandler func(ctx context.Context, payload []byte) error

// Publisher sends a message. Transports without keys ignore key.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Source delivers messages one at a time until ctx is cancelled
type Source interface {
	Serve(ctx context.Context, handler MessageHandler) error
}
