// Package emitter publishes match results to MQTT.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// ClientConfig configures the broker connection.
type ClientConfig struct {
	Broker         string // host:port or full URL
	ClientID       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
	return c
}

// MQTTClient is a reconnecting paho client shared by the result emitter and
// the control plane.
type MQTTClient struct {
	cfg    ClientConfig
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
}

// NewMQTTClient creates an unconnected client.
func NewMQTTClient(cfg ClientConfig) *MQTTClient {
	return &MQTTClient{cfg: cfg.withDefaults()}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. Reconnection afterwards is
// automatic.
func (c *MQTTClient) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(c.cfg.Broker))
	opts.SetClientID(c.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		c.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", c.cfg.Broker,
			"client_id", c.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", c.cfg.Broker,
		)
	}

	c.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", c.cfg.Broker)

	token := c.client.Connect()
	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("emitter: mqtt connection timeout after %s", c.cfg.ConnectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	c.setConnected(true)
	return nil
}

// Publish sends payload and waits for the broker acknowledgement.
func (c *MQTTClient) Publish(topic string, qos byte, payload []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("emitter: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic.
func (c *MQTTClient) Subscribe(topic string, qos byte, handler func(payload []byte)) error {
	if c.client == nil {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("emitter: subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: subscribe to %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes the subscription for topic.
func (c *MQTTClient) Unsubscribe(topic string) error {
	if c.client == nil || !c.client.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(topic)
	token.WaitTimeout(c.cfg.PublishTimeout)
	return token.Error()
}

// Disconnect closes the connection with a short grace period.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	c.setConnected(false)
}

// Connected reports the last known connection state.
func (c *MQTTClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *MQTTClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
