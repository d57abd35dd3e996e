package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
)

// MQTTConfig selects the broker and topic for news events.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// mqttPublisher is the part of mqtt.Client the broadcaster uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	IsConnected() bool
}

// MQTTBroadcaster publishes events as JSON to a broker topic.
type MQTTBroadcaster struct {
	client mqttPublisher
	topic  string
	log    *slog.Logger
	close  func()
}

// NewMQTTBroadcaster connects to the broker. The client reconnects on its
// own after the initial connection.
func NewMQTTBroadcaster(cfg MQTTConfig, logger *slog.Logger) (*MQTTBroadcaster, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "mqtt", "broker", cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("connected to mqtt broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b := newMQTTBroadcaster(client, cfg.Topic, log)
	b.close = func() { client.Disconnect(250) }
	return b, nil
}

func newMQTTBroadcaster(client mqttPublisher, topic string, log *slog.Logger) *MQTTBroadcaster {
	if topic == "" {
		topic = "newsdesk/news"
	}
	return &MQTTBroadcaster{client: client, topic: topic, log: log, close: func() {}}
}

func (b *MQTTBroadcaster) Broadcast(ctx context.Context, ev Event) error {
	if !b.client.IsConnected() {
		return errors.New("not connected to mqtt broker")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	token := b.client.Publish(b.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("mqtt publish to %s: timeout", b.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", b.topic, err)
	}
	b.log.Debug("published", "topic", b.topic, "news_id", ev.Data.NewsID)
	return nil
}

// Close disconnects from the broker.
func (b *MQTTBroadcaster) Close() {
	b.close()
}
