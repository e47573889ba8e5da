package mqtt

import (
	"errors"
	"net/url"
	"time"
)

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// ConnectTimeout for the initial connection. Default is 5s.
	ConnectTimeout time.Duration

	// CleanStart indicates whether to start a clean session.
	// Command links are rebuilt from scratch on every connection, so
	// this is normally true for drclink sessions.
	CleanStart bool

	// SessionExpiry in seconds. Zero means the session ends as soon as
	// the network connection closes.
	SessionExpiry uint32

	// InsecureSkipVerify disables TLS certificate verification.
	// Required for gateways fronted by self-signed certs.
	InsecureSkipVerify bool

	// WillTopic, if non-empty, registers a last-will message that the
	// broker publishes when this client drops without a clean disconnect.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	// QueueSize bounds the inbound dispatch queue. Messages arriving
	// while the queue is full are dropped. Default is 1024.
	QueueSize int

	// Debug routes paho wire-level logging through the drclink logger.
	Debug bool
}

// setDefaultConfig applies safe default values to the configuration.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return err
	}
	return nil
}
