// Package mqttpub bridges node telemetry to an MQTT broker and optionally
// accepts command lines from a broker topic.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/motor-control/mcn/internal/config"
	"github.com/motor-control/mcn/internal/telemetry"
)

// Client is the subset of mqtt.Client used by the bridge.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// LineHandler receives command lines from the command topic.
type LineHandler func(text, source string)

// Publisher publishes telemetry events as JSON to <prefix>/<type>.
type Publisher struct {
	client   Client
	prefix   string
	qos      byte
	retained bool
	log      *slog.Logger
}

// Connect dials the broker described by cfg.
func Connect(cfg config.MQTTConfig, log *slog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("Connected to MQTT broker", "broker", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect %s: timed out after %v", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}

	return New(client, cfg, log), nil
}

// New wraps a connected client.
func New(client Client, cfg config.MQTTConfig, log *slog.Logger) *Publisher {
	return &Publisher{
		client:   client,
		prefix:   strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:      byte(cfg.QoS),
		retained: cfg.Retained,
		log:      log,
	}
}

// Topic returns the topic for an event type.
func (p *Publisher) Topic(eventType string) string {
	return p.prefix + "/" + eventType
}

// Publish sends event without waiting for the broker; delivery failures are
// logged from a background goroutine.
func (p *Publisher) Publish(event telemetry.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := p.Topic(event.Type)
	token := p.client.Publish(topic, p.qos, p.retained, payload)

	go func() {
		if token.Wait() && token.Error() != nil {
			p.log.Warn("MQTT publish failed", "topic", topic, "error", token.Error())
		}
	}()
	return nil
}

// SubscribeCommands forwards every message on <prefix>/cmd to handle.
func (p *Publisher) SubscribeCommands(timeout time.Duration, handle LineHandler) error {
	topic := p.Topic("cmd")
	token := p.client.Subscribe(topic, p.qos, func(_ mqtt.Client, msg mqtt.Message) {
		handle(string(msg.Payload()), "mqtt:"+msg.Topic())
	})
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	p.log.Info("Subscribed to command topic", "topic", topic)
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
