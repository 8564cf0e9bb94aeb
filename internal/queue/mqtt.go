package queue

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const disconnectQuiesce = 250 // ms

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	TLS      bool
}

// MQTTClient wraps a paho client. Subscriptions are restored after every
// reconnect because sessions are clean.
type MQTTClient struct {
	client mqtt.Client
	qos    byte
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

// NewMQTTClient connects to the broker
func NewMQTTClient(cfg MQTTConfig, logger *zap.Logger) (*MQTTClient, error) {
	c := &MQTTClient{
		qos:    cfg.QoS,
		logger: logger.With(zap.String("broker", cfg.Broker)),
		subs:   make(map[string]mqtt.MessageHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("MQTT connection lost", zap.Error(err))
	})

	c.client = mqtt.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return c, nil
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.logger.Info("MQTT connected")

	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, handler := range c.subs {
		if token := client.Subscribe(topic, c.qos, handler); token.Wait() && token.Error() != nil {
			c.logger.Error("Failed to resubscribe", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

// Publish sends payload to topic and waits for the broker to accept it
func (c *MQTTClient) Publish(ctx context.Context, topic string, payload []byte) error {
	token := c.client.Publish(topic, c.qos, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("failed to publish to topic %s: %w", topic, ctx.Err())
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (c *MQTTClient) subscribe(topic string, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if token := c.client.Subscribe(topic, c.qos, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

func (c *MQTTClient) unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	token := c.client.Unsubscribe(topic)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// IsConnected reports the connection state
func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect closes the connection
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(disconnectQuiesce)
}

// Topic returns a Publisher bound to one topic
func (c *MQTTClient) Topic(topic string) *MQTTTopic {
	return &MQTTTopic{client: c, topic: topic}
}

// MQTTTopic publishes to and consumes from a single topic
type MQTTTopic struct {
	client *MQTTClient
	topic  string
}

// Publish implements Publisher. MQTT has no message key.
func (t *MQTTTopic) Publish(ctx context.Context, _ string, value []byte) error {
	return t.client.Publish(ctx, t.topic, value)
}

// Serve subscribes and hands messages to handler one at a time
func (t *MQTTTopic) Serve(ctx context.Context, handler MessageHandler) error {
	messages := make(chan []byte)

	err := t.client.subscribe(t.topic, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case messages <- msg.Payload():
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := t.client.unsubscribe(t.topic); err != nil {
			t.client.logger.Warn("Failed to unsubscribe", zap.String("topic", t.topic), zap.Error(err))
		}
	}()

	t.client.logger.Info("Consuming", zap.String("topic", t.topic))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-messages:
			if err := handler(ctx, payload); err != nil {
				t.client.logger.Warn("Message handler failed", zap.String("topic", t.topic), zap.Error(err))
			}
		}
	}
}
