package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kyuhyong/surveillance-camera/internal/handoff"
)

// ErrNotConnected is returned by Notify while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt not connected")

// MQTTConfig configures the MQTT listener.
type MQTTConfig struct {
	Broker         string
	Topic          string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTListener publishes clip notifications to an MQTT broker
type MQTTListener struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// NewMQTTListener creates a new MQTT listener
func NewMQTTListener(cfg MQTTConfig, logger *slog.Logger) *MQTTListener {
	if cfg.Topic == "" {
		cfg.Topic = "survcam/clips"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "survcam-" + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTListener{cfg: cfg, logger: logger.With("component", "mqtt", "broker", cfg.Broker)}
}

// BrokerURL adds the tcp scheme when the broker is a bare host:port.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes connection to the MQTT broker
func (l *MQTTListener) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(l.cfg.Broker))
	opts.SetClientID(l.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		l.setConnected(true)
		l.logger.Info("mqtt connection established", "client_id", l.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		l.setConnected(false)
		l.logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
	}

	l.client = mqtt.NewClient(opts)
	l.logger.Info("connecting to mqtt broker")

	token := l.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(l.cfg.ConnectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	l.setConnected(true)
	return nil
}

// Name implements Listener.
func (l *MQTTListener) Name() string { return "mqtt" }

// Notify publishes n as JSON on the configured topic.
func (l *MQTTListener) Notify(ctx context.Context, n handoff.Notification) error {
	if !l.isConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	token := l.client.Publish(l.cfg.Topic, l.cfg.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish timeout: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	l.logger.Debug("notification published", "topic", l.cfg.Topic, "qos", l.cfg.QoS, "size", len(payload))
	return nil
}

// Disconnect closes the MQTT connection
func (l *MQTTListener) Disconnect() {
	if l.client != nil {
		l.client.Disconnect(250) // 250ms grace period
		l.logger.Info("mqtt disconnected")
	}
	l.setConnected(false)
}

func (l *MQTTListener) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

func (l *MQTTListener) isConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}
