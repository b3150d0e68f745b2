package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-facemesh/internal/types"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	// disconnectQuiesce is the grace period in milliseconds given to paho
	disconnectQuiesce = 250
)

// ErrNotConnected is returned by Consume while the broker link is down
var ErrNotConnected = errors.New("sink: mqtt not connected")

// MQTTConfig configures the MQTT sink
type MQTTConfig struct {
	InstanceID  string
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Format      Format
}

// ObservationsTopic is where every observation is published
func (c MQTTConfig) ObservationsTopic() string {
	return c.TopicPrefix + "/observations"
}

// PresenceTopic is where presence transitions are published
func (c MQTTConfig) PresenceTopic() string {
	return c.TopicPrefix + "/presence"
}

// MQTTStats is a snapshot of MQTT sink counters
type MQTTStats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// MQTT publishes observations to an MQTT broker
type MQTT struct {
	cfg    MQTTConfig
	logger *slog.Logger
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool

	// prev is only touched from Consume
	prev    types.PresenceState
	started bool
}

// NewMQTT creates an MQTT sink. Call Connect before the first Consume.
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("sink: mqtt broker is required")
	}
	if cfg.TopicPrefix == "" {
		return nil, fmt.Errorf("sink: mqtt topic prefix is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("sink: mqtt qos must be 0, 1 or 2, got %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = cfg.InstanceID
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MQTT{
		cfg:       cfg,
		logger:    logger,
		published: make(map[string]uint64),
	}, nil
}

// Connect establishes the broker connection. Paho reconnects on its own
// after the first successful connect.
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", m.cfg.Broker))
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.setConnected(true)
		m.logger.Info("sink: mqtt connection established",
			"broker", m.cfg.Broker,
			"client_id", m.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.setConnected(false)
		m.logger.Warn("sink: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", m.cfg.Broker,
		)
	}

	m.client = mqtt.NewClient(opts)

	m.logger.Info("sink: connecting to mqtt broker", "broker", m.cfg.Broker)

	if err := waitToken(ctx, m.client.Connect(), connectTimeout); err != nil {
		return fmt.Errorf("sink: mqtt connect to %s: %w", m.cfg.Broker, err)
	}
	m.setConnected(true)

	return nil
}

// Consume implements Sink. It publishes obs to the observations topic and,
// when the presence state changed, a transition to the presence topic. The
// previous state advances only once the transition is out, so a failed tick
// is published again on the next one.
func (m *MQTT) Consume(ctx context.Context, obs types.Observation) error {
	if err := m.publish(ctx, m.cfg.ObservationsTopic(), NewObservationPayload(m.cfg.InstanceID, obs)); err != nil {
		return err
	}

	if m.started && obs.State == m.prev {
		return nil
	}

	err := m.publish(ctx, m.cfg.PresenceTopic(), PresencePayload{
		InstanceID: m.cfg.InstanceID,
		Seq:        obs.Seq,
		TraceID:    obs.TraceID,
		Timestamp:  obs.Timestamp,
		From:       presenceFrom(m.prev, m.started),
		To:         obs.State.String(),
	})
	if err != nil {
		return err
	}

	m.prev = obs.State
	m.started = true
	return nil
}

func (m *MQTT) publish(ctx context.Context, topic string, v any) error {
	if m.client == nil || !m.isConnected() {
		m.countError()
		return ErrNotConnected
	}

	payload, err := Encode(m.cfg.Format, v)
	if err != nil {
		m.countError()
		return err
	}

	if err := waitToken(ctx, m.client.Publish(topic, m.cfg.QoS, false, payload), publishTimeout); err != nil {
		m.countError()
		return fmt.Errorf("sink: publish to %s: %w", topic, err)
	}

	m.mu.Lock()
	m.published[topic]++
	m.mu.Unlock()

	m.logger.Debug("sink: published",
		"topic", topic,
		"qos", m.cfg.QoS,
		"size", len(payload),
	)

	return nil
}

// Close disconnects from the broker
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(disconnectQuiesce)
		m.logger.Info("sink: mqtt disconnected")
	}
	m.setConnected(false)
	return nil
}

// Stats returns a snapshot of sink counters
func (m *MQTT) Stats() MQTTStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	published := make(map[string]uint64, len(m.published))
	for k, v := range m.published {
		published[k] = v
	}

	return MQTTStats{
		Connected: m.connected,
		Published: published,
		Errors:    m.errors,
	}
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTT) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// waitToken waits for a paho token, the timeout or ctx, whichever is first
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
