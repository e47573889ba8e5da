package drc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/drclink-io/drclink/pkg/log"
	"github.com/drclink-io/drclink/pkg/mqtt"
)

// DefaultLinkHeartbeatInterval is the keepalive period used for the
// heartbeat started by SetupControl.
const DefaultLinkHeartbeatInterval = 1 * time.Second

// Config assembles a full control client for one vehicle gateway. Only
// GatewaySN and a broker source (MQTT or Client) are required; zero values
// elsewhere select the defaults.
type Config struct {
	// GatewaySN is the vehicle gateway serial number. Required.
	GatewaySN string

	// MQTT configures the broker link.
	MQTT *mqtt.ClientConfig

	// Client, when non-nil, is used instead of building one from MQTT.
	Client mqtt.Client

	// UserID and UserCallsign identify the operator claiming control
	// authority.
	UserID       string
	UserCallsign string

	// OSDFrequency and HSIFrequency are the telemetry push rates in Hz.
	OSDFrequency int
	HSIFrequency int

	// Relay is the broker the vehicle dials for the DRC link. Left zero,
	// it is derived from MQTT: same host and credentials.
	Relay RelayConfig

	// CallTimeout bounds each service round trip.
	CallTimeout time.Duration

	// HeartbeatInterval is the DRC keepalive period.
	HeartbeatInterval time.Duration

	// OfflineTimeout, ReconnectAttempts and ReconnectInterval shape link
	// supervision.
	OfflineTimeout    time.Duration
	ReconnectAttempts int
	ReconnectInterval time.Duration

	// OnStateChange observes link state changes. Optional.
	OnStateChange func(from, to string)

	// Metrics receives client observations. Optional.
	Metrics Metrics
}

// Client ties the pieces of a DRC link together: the session holding the
// broker connection and telemetry cache, the commander issuing control
// commands, and the monitor keeping the link alive. One Client controls
// one vehicle gateway.
type Client struct {
	cfg       Config
	session   *Session
	commander *Commander
	monitor   *Monitor
	log       log.Logger

	mu sync.Mutex
	up bool
}

// NewClient wires a control client. No connection is made until
// SetupControl.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.GatewaySN == "" {
		return nil, fmt.Errorf("drc: gateway serial number is required")
	}

	c := &Client{cfg: *cfg}

	if c.cfg.HeartbeatInterval <= 0 {
		c.cfg.HeartbeatInterval = DefaultLinkHeartbeatInterval
	}
	if c.cfg.Relay == (RelayConfig{}) && c.cfg.MQTT != nil {
		c.cfg.Relay = relayFromBrokerConfig(c.cfg.MQTT)
	}

	session, err := NewSession(&SessionConfig{
		GatewaySN:   c.cfg.GatewaySN,
		MQTT:        c.cfg.MQTT,
		Client:      c.cfg.Client,
		CallTimeout: c.cfg.CallTimeout,
		Metrics:     c.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	c.session = session
	c.commander = NewCommander(session, CommanderConfig{
		GatewaySN:    c.cfg.GatewaySN,
		UserID:       c.cfg.UserID,
		UserCallsign: c.cfg.UserCallsign,
		OSDFrequency: c.cfg.OSDFrequency,
		HSIFrequency: c.cfg.HSIFrequency,
		Relay:        c.cfg.Relay,
	})
	c.monitor = NewMonitor(session.Cache(), session, c.commander, MonitorConfig{
		OfflineTimeout:    c.cfg.OfflineTimeout,
		ReconnectAttempts: c.cfg.ReconnectAttempts,
		ReconnectInterval: c.cfg.ReconnectInterval,
		HeartbeatInterval: c.cfg.HeartbeatInterval,
		OnStateChange:     c.cfg.OnStateChange,
		Metrics:           c.cfg.Metrics,
	})
	c.log = log.WithName("drclink").WithValues("gateway", c.cfg.GatewaySN)

	return c, nil
}

// SetupControl runs the full control bring-up: broker connection, control
// authority, DRC mode, keepalive, link supervision. On success the vehicle
// streams telemetry and accepts stick input. A failure after the broker
// connection tears the connection down again.
func (c *Client) SetupControl(ctx context.Context) error {
	c.mu.Lock()
	if c.up {
		c.mu.Unlock()
		return nil
	}
	c.up = true
	c.mu.Unlock()

	if err := c.session.Start(ctx); err != nil {
		c.reset()
		return fmt.Errorf("start session: %w", err)
	}

	if err := c.commander.RequestControlAuth(ctx); err != nil {
		c.session.Stop(ctx)
		c.reset()
		return fmt.Errorf("request control auth: %w", err)
	}

	if err := c.commander.EnterDRCMode(ctx); err != nil {
		c.session.Stop(ctx)
		c.reset()
		return fmt.Errorf("enter drc mode: %w", err)
	}

	hb := NewHeartbeat(c.session, c.cfg.HeartbeatInterval, c.cfg.Metrics)
	hb.Start()
	c.monitor.AdoptHeartbeat(hb)
	c.monitor.Start()

	c.log.Info("Control link established")
	return nil
}

// TeardownControl releases control cleanly. Supervision and the keepalive
// stop first, then the vehicle leaves DRC mode and authority is handed
// back, and last the broker connection closes. Vehicle-side refusals are
// reported but do not stop the teardown.
func (c *Client) TeardownControl(ctx context.Context) error {
	c.mu.Lock()
	if !c.up {
		c.mu.Unlock()
		return nil
	}
	c.up = false
	c.mu.Unlock()

	c.monitor.Stop()

	var errs []error
	if err := c.commander.ExitDRCMode(ctx); err != nil {
		c.log.Error(err, "DRC mode exit failed during teardown")
		errs = append(errs, err)
	}
	if err := c.commander.ReleaseControlAuth(ctx); err != nil {
		c.log.Error(err, "Control release failed during teardown")
		errs = append(errs, err)
	}

	c.session.Stop(ctx)
	c.log.Info("Control link torn down")
	return errors.Join(errs...)
}

func (c *Client) reset() {
	c.mu.Lock()
	c.up = false
	c.mu.Unlock()
}

// Session exposes the underlying session.
func (c *Client) Session() *Session { return c.session }

// Commander exposes the command surface.
func (c *Client) Commander() *Commander { return c.commander }

// Telemetry exposes the live telemetry cache.
func (c *Client) Telemetry() *TelemetryCache { return c.session.Cache() }

// LinkState reports the supervised link state: online, reconnecting or
// offline.
func (c *Client) LinkState() string { return c.monitor.State() }

// ReturnHome sends the vehicle back to its takeoff point. Returns
// ErrLinkOffline once recovery has given the link up.
func (c *Client) ReturnHome(ctx context.Context) error {
	if err := c.guardLink(); err != nil {
		return err
	}
	return c.commander.ReturnHome(ctx)
}

// FlyToPoint starts a fly-to task and returns its id. Returns
// ErrLinkOffline once recovery has given the link up.
func (c *Client) FlyToPoint(ctx context.Context, req FlyToRequest) (string, error) {
	if err := c.guardLink(); err != nil {
		return "", err
	}
	return c.commander.FlyToPoint(ctx, req)
}

// WaitForFlyTo blocks until the fly-to task reaches a terminal status.
func (c *Client) WaitForFlyTo(ctx context.Context, flyToID string, cfg FlyToWaitConfig) (*FlyToProgress, error) {
	return WaitForFlyTo(ctx, c.session.Cache(), flyToID, cfg)
}

// SendStickControl publishes one stick frame on the DRC downlink. Returns
// ErrLinkOffline once recovery has given the link up.
func (c *Client) SendStickControl(ctx context.Context, stick StickControl) error {
	if err := c.guardLink(); err != nil {
		return err
	}
	return c.commander.SendStickControl(ctx, stick)
}

// guardLink fails commands fast before control is up or once the monitor
// declared the link dead. Reconnecting is not gated; calls during
// recovery fail or succeed on their own timeouts.
func (c *Client) guardLink() error {
	c.mu.Lock()
	up := c.up
	c.mu.Unlock()

	if !up {
		return ErrNotConnected
	}
	if c.monitor.State() == LinkOffline {
		return ErrLinkOffline
	}
	return nil
}

// relayFromBrokerConfig reuses the dialed broker for the vehicle side of
// the DRC link.
func relayFromBrokerConfig(cfg *mqtt.ClientConfig) RelayConfig {
	r := RelayConfig{
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if u, err := url.Parse(cfg.BrokerURL); err == nil && u.Host != "" {
		r.Address = u.Host
		switch strings.ToLower(u.Scheme) {
		case "ssl", "tls", "mqtts", "wss":
			r.EnableTLS = true
		}
	}
	return r
}
