package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled         bool        `json:"enabled"`
	Broker          string      `json:"broker"`
	ClientID        string      `json:"client_id"`
	Username        string      `json:"username"`
	Password        string      `json:"password"`
	TopicPrefix     string      `json:"topic_prefix"`
	DeviceID        string      `json:"device_id"`
	DiscoveryPrefix string      `json:"discovery_prefix"`
	QoS             byte        `json:"qos"`
	Retain          bool        `json:"retain"`
	UseTLS          bool        `json:"use_tls"`
	ClientCert      string      `json:"client_cert"`
	ClientKey       string      `json:"client_key"`
	CABundle        string      `json:"ca_bundle"`
	MaxRetries      int         `json:"max_retries"`
	BackoffMS       int         `json:"backoff_ms"`
	TLSConfig       *tls.Config `json:"-"`
}

// SetDefaults fills empty fields with their default values.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "arbitrage"
	}
	if c.DeviceID == "" {
		c.DeviceID = "battery"
	}
	if c.DiscoveryPrefix == "" {
		c.DiscoveryPrefix = "homeassistant"
	}
	if c.ClientID == "" {
		c.ClientID = "arbitrage-" + uuid.NewString()[:8]
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffMS <= 0 {
		c.BackoffMS = 100
	}
}

// Validate checks the settings required to connect.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

func (c Config) topic(leaf string) string {
	return c.TopicPrefix + "/" + c.DeviceID + "/" + leaf
}

// AvailabilityTopic carries "online" while connected and "offline" as the
// broker-side last will.
func (c Config) AvailabilityTopic() string { return c.topic("availability") }

// ScheduleTopic carries the full retained schedule.
func (c Config) ScheduleTopic() string { return c.topic("schedule") }

// StateTopic carries the set points of the current hour.
func (c Config) StateTopic() string { return c.topic("state") }

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// NewClientOptions builds paho client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.TopicPrefix != "" {
		opts.SetWill(cfg.AvailabilityTopic(), payloadOffline, cfg.QoS, true)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("ca bundle %s holds no certificate", c.CABundle)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
