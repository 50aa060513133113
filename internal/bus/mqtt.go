// MQTT bus adapter, grounded directly on the teacher's
// transport/mqtt.Transport (connection options, reconnect handling,
// logging via slog.WithGroup), narrowed from a MeshCore-framed single-topic
// transport into a generic multi-channel pub/sub Adapter — every channel
// is simply an MQTT topic, and payloads are opaque bytes (our JSON packet
// wire format) instead of base64-wrapped MeshCore binary frames.
package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds the configuration for an MQTT-backed bus adapter.
type MQTTConfig struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username/Password authenticate to the broker. Leave empty if not
	// required.
	Username string
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is
	// generated.
	ClientID string
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// MQTT implements Adapter over an MQTT broker connection.
type MQTT struct {
	cfg    MQTTConfig
	client paho.Client
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
	subs   map[string]Handler
}

// NewMQTT creates an MQTT adapter and connects to the broker. The returned
// adapter is ready for Subscribe/Publish once Connect succeeds.
func NewMQTT(ctx context.Context, cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("bus/mqtt: broker URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &MQTT{
		cfg:  cfg,
		log:  cfg.Logger.WithGroup("bus.mqtt"),
		subs: make(map[string]Handler),
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "routingd-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(m.onConnected).
		SetConnectionLostHandler(m.onConnectionLost).
		SetReconnectingHandler(m.onReconnecting)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	m.client = paho.NewClient(opts)

	token := m.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, errors.New("bus/mqtt: connection timeout")
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("bus/mqtt: connecting to broker: %w", token.Error())
	}

	return m, nil
}

func (m *MQTT) Subscribe(channel string, handler Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.subs[channel] = handler
	m.mu.Unlock()

	token := m.client.Subscribe(channel, 0, func(_ paho.Client, msg paho.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (m *MQTT) Publish(channel string, payload []byte) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	token := m.client.Publish(channel, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("bus/mqtt: timeout publishing")
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.client != nil {
		m.client.Disconnect(1000)
	}
	return nil
}

func (m *MQTT) onConnected(_ paho.Client) {
	m.log.Info("connected to MQTT broker", "broker", m.cfg.Broker)
}

func (m *MQTT) onConnectionLost(_ paho.Client, err error) {
	m.log.Error("MQTT connection lost", "error", err)
}

func (m *MQTT) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	m.log.Info("reconnecting to MQTT broker")
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
