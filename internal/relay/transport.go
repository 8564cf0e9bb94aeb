package relay

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/firewatch/flames/internal/queue"
	"github.com/firewatch/flames/pkg/config"
)

var ErrBrokerDisconnected = errors.New("broker disconnected")

// Transport is the broker connection envelopes travel over
type Transport struct {
	Publisher queue.Publisher
	Source    queue.Source
	Name      string

	close     func()
	connected func() bool
}

// OpenTransport dials the broker named by cfg.Relay.Transport. groupID is
// only used by Kafka consumers; pass "" for a publish-only transport.
func OpenTransport(cfg *config.Config, clientID, groupID string, logger *zap.Logger) (*Transport, error) {
	switch cfg.Relay.Transport {
	case config.TransportMQTT:
		client, err := queue.NewMQTTClient(queue.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: clientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			TLS:      cfg.MQTT.TLS,
		}, logger)
		if err != nil {
			return nil, err
		}
		topic := client.Topic(cfg.Relay.Topic)
		return &Transport{
			Publisher: topic,
			Source:    topic,
			Name:      fmt.Sprintf("mqtt %s %s", cfg.MQTT.Broker, cfg.Relay.Topic),
			close:     client.Disconnect,
			connected: client.IsConnected,
		}, nil

	case config.TransportKafka:
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicUplink)
		t := &Transport{
			Publisher: producer,
			Name:      fmt.Sprintf("kafka %v %s", cfg.Kafka.Brokers, cfg.Kafka.TopicUplink),
		}
		var consumer *queue.Consumer
		if groupID != "" {
			consumer = queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicUplink, groupID, logger)
			t.Source = consumer
		}
		t.close = func() {
			if err := producer.Close(); err != nil {
				logger.Warn("Failed to close Kafka producer", zap.Error(err))
			}
			if consumer != nil {
				if err := consumer.Close(); err != nil {
					logger.Warn("Failed to close Kafka consumer", zap.Error(err))
				}
			}
		}
		return t, nil

	default:
		return nil, fmt.Errorf("unknown relay transport %q", cfg.Relay.Transport)
	}
}

// Check reports whether the broker connection is up. Kafka writers dial per
// request so they are always considered healthy.
func (t *Transport) Check() error {
	if t.connected != nil && !t.connected() {
		return ErrBrokerDisconnected
	}
	return nil
}

// Close releases the broker connection
func (t *Transport) Close() {
	if t.close != nil {
		t.close()
	}
}
