package drc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drclink-io/drclink/pkg/log"
)

// Service methods exchanged on the services topic pair.
const (
	methodControlAuthRequest = "cloud_control_auth_request"
	methodControlAuthRelease = "cloud_control_auth_release"
	methodDRCModeEnter       = "drc_mode_enter"
	methodDRCModeExit        = "drc_mode_exit"
	methodReturnHome         = "return_home"
	methodFlyToPoint         = "fly_to_point"
)

// methodStickControl goes out on the DRC downlink, not the services topic.
const methodStickControl = "stick_control"

// Stick channel range. Values are raw RC channel units.
const (
	StickMin    = 364
	StickMax    = 1684
	StickCenter = 1024
)

// Command defaults.
const (
	DefaultUserID       = "pilot"
	DefaultUserCallsign = "Cloud Pilot"
	DefaultOSDFrequency = 30
	DefaultHSIFrequency = 10
	DefaultFlyToSpeed   = 12

	// MaxFlyToSpeed is the highest max_speed the vehicle accepts, in m/s.
	MaxFlyToSpeed = 15

	// drcCredentialTTL is the lifetime of the relay credentials handed to
	// the vehicle on DRC mode entry.
	drcCredentialTTL = time.Hour
)

// StickControl is one frame of virtual stick input. Every channel uses the
// [StickMin, StickMax] range, StickCenter is neutral. Roll and pitch
// translate the vehicle sideways and forward, throttle climbs, yaw rotates.
type StickControl struct {
	Roll     int `json:"roll"`
	Pitch    int `json:"pitch"`
	Throttle int `json:"throttle"`
	Yaw      int `json:"yaw"`
}

// NeutralStick returns a hover frame with all channels centered.
func NeutralStick() StickControl {
	return StickControl{
		Roll:     StickCenter,
		Pitch:    StickCenter,
		Throttle: StickCenter,
		Yaw:      StickCenter,
	}
}

func (s StickControl) validate() error {
	channels := []struct {
		name  string
		value int
	}{
		{"roll", s.Roll},
		{"pitch", s.Pitch},
		{"throttle", s.Throttle},
		{"yaw", s.Yaw},
	}
	for _, ch := range channels {
		if ch.value < StickMin || ch.value > StickMax {
			return &RangeError{Param: ch.name, Value: ch.value, Min: StickMin, Max: StickMax}
		}
	}
	return nil
}

// FlyToRequest describes a fly-to task. An empty FlyToID gets a generated
// one, a zero MaxSpeed selects DefaultFlyToSpeed.
type FlyToRequest struct {
	FlyToID  string  `json:"fly_to_id"`
	MaxSpeed int     `json:"max_speed"`
	Points   []Point `json:"points"`
}

// RelayConfig describes the broker the vehicle dials for the DRC link,
// as reachable from the vehicle. That address can differ from the one
// this client dialed.
type RelayConfig struct {
	Address   string
	Username  string
	Password  string
	EnableTLS bool
}

// CommanderConfig shapes the control commands. Zero values select the
// defaults.
type CommanderConfig struct {
	GatewaySN    string
	UserID       string
	UserCallsign string
	OSDFrequency int
	HSIFrequency int
	Relay        RelayConfig
}

func (c *CommanderConfig) setDefaults() {
	if c.UserID == "" {
		c.UserID = DefaultUserID
	}
	if c.UserCallsign == "" {
		c.UserCallsign = DefaultUserCallsign
	}
	if c.OSDFrequency <= 0 {
		c.OSDFrequency = DefaultOSDFrequency
	}
	if c.HSIFrequency <= 0 {
		c.HSIFrequency = DefaultHSIFrequency
	}
}

// serviceCaller is the slice of Session the commander needs.
type serviceCaller interface {
	Call(ctx context.Context, method string, data any) (json.RawMessage, error)
	SendDRC(ctx context.Context, method string, data any) error
}

// Commander issues control commands to a single vehicle gateway. All
// replied commands go through the services topic pair, stick frames go out
// fire-and-forget on the DRC downlink.
type Commander struct {
	caller serviceCaller
	cfg    CommanderConfig
	log    log.Logger
}

// NewCommander creates a commander bound to the given caller and gateway.
func NewCommander(caller serviceCaller, cfg CommanderConfig) *Commander {
	cfg.setDefaults()
	return &Commander{
		caller: caller,
		cfg:    cfg,
		log:    log.WithName("commander").WithValues("gatewaySN", cfg.GatewaySN),
	}
}

type controlAuthRequest struct {
	UserID       string   `json:"user_id"`
	UserCallsign string   `json:"user_callsign"`
	ControlKeys  []string `json:"control_keys"`
}

type drcModeBroker struct {
	Address    string `json:"address"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	ExpireTime int64  `json:"expire_time"`
	EnableTLS  bool   `json:"enable_tls"`
}

type drcModeEnterRequest struct {
	MQTTBroker   drcModeBroker `json:"mqtt_broker"`
	OSDFrequency int           `json:"osd_frequency"`
	HSIFrequency int           `json:"hsi_frequency"`
}

// RequestControlAuth claims flight control authority for this client.
// Without it the vehicle rejects DRC mode entry.
func (c *Commander) RequestControlAuth(ctx context.Context) error {
	req := controlAuthRequest{
		UserID:       c.cfg.UserID,
		UserCallsign: c.cfg.UserCallsign,
		ControlKeys:  []string{"flight"},
	}
	if _, err := c.caller.Call(ctx, methodControlAuthRequest, req); err != nil {
		return err
	}
	c.log.Info("Control authority granted", "userID", c.cfg.UserID, "callsign", c.cfg.UserCallsign)
	return nil
}

// ReleaseControlAuth hands flight control authority back to the vehicle.
func (c *Commander) ReleaseControlAuth(ctx context.Context) error {
	if _, err := c.caller.Call(ctx, methodControlAuthRelease, nil); err != nil {
		return err
	}
	c.log.Info("Control authority released")
	return nil
}

// EnterDRCMode asks the vehicle to dial the relay broker and start pushing
// telemetry at the configured rates. The relay credentials expire after an
// hour; re-entering refreshes them.
func (c *Commander) EnterDRCMode(ctx context.Context) error {
	req := drcModeEnterRequest{
		MQTTBroker: drcModeBroker{
			Address:    c.cfg.Relay.Address,
			ClientID:   drcClientID(c.cfg.GatewaySN),
			Username:   c.cfg.Relay.Username,
			Password:   c.cfg.Relay.Password,
			ExpireTime: time.Now().Add(drcCredentialTTL).Unix(),
			EnableTLS:  c.cfg.Relay.EnableTLS,
		},
		OSDFrequency: c.cfg.OSDFrequency,
		HSIFrequency: c.cfg.HSIFrequency,
	}
	if _, err := c.caller.Call(ctx, methodDRCModeEnter, req); err != nil {
		return err
	}
	c.log.Info("DRC mode active", "osdHz", c.cfg.OSDFrequency, "hsiHz", c.cfg.HSIFrequency)
	return nil
}

// ExitDRCMode takes the vehicle out of DRC mode. Telemetry pushes stop.
func (c *Commander) ExitDRCMode(ctx context.Context) error {
	if _, err := c.caller.Call(ctx, methodDRCModeExit, nil); err != nil {
		return err
	}
	c.log.Info("DRC mode exited")
	return nil
}

// ReturnHome sends the vehicle back to its takeoff point.
func (c *Commander) ReturnHome(ctx context.Context) error {
	if _, err := c.caller.Call(ctx, methodReturnHome, nil); err != nil {
		return err
	}
	c.log.Info("Return home accepted")
	return nil
}

// FlyToPoint starts a fly-to task toward the given waypoints and returns
// the task id that progress events will carry. The vehicle enforces a
// minimum flight height of 20 m relative to takeoff and climbs first if
// below it.
func (c *Commander) FlyToPoint(ctx context.Context, req FlyToRequest) (string, error) {
	if len(req.Points) == 0 {
		return "", errors.New("drc: fly-to needs at least one point")
	}
	if req.FlyToID == "" {
		req.FlyToID = uuid.NewString()
	}
	if req.MaxSpeed <= 0 {
		req.MaxSpeed = DefaultFlyToSpeed
	}
	if req.MaxSpeed > MaxFlyToSpeed {
		return "", &RangeError{Param: "max_speed", Value: req.MaxSpeed, Min: 0, Max: MaxFlyToSpeed}
	}

	if _, err := c.caller.Call(ctx, methodFlyToPoint, req); err != nil {
		return "", err
	}
	c.log.Info("Fly-to task accepted",
		"flyToID", req.FlyToID,
		"points", len(req.Points),
		"maxSpeed", req.MaxSpeed)
	return req.FlyToID, nil
}

// SendStickControl publishes one stick frame on the DRC downlink. Frames
// are fire-and-forget; the caller owns the send rate. 5 to 10 Hz keeps
// the vehicle responsive.
func (c *Commander) SendStickControl(ctx context.Context, stick StickControl) error {
	if err := stick.validate(); err != nil {
		return err
	}
	return c.caller.SendDRC(ctx, methodStickControl, stick)
}

// ReestablishLink rebuilds control after a link loss: authority first, then
// DRC mode. Satisfies Recoverer.
func (c *Commander) ReestablishLink(ctx context.Context) error {
	if err := c.RequestControlAuth(ctx); err != nil {
		return fmt.Errorf("request control auth: %w", err)
	}
	if err := c.EnterDRCMode(ctx); err != nil {
		return fmt.Errorf("enter drc mode: %w", err)
	}
	return nil
}

// drcClientID builds the MQTT client id the vehicle uses on the relay.
func drcClientID(gatewaySN string) string {
	return fmt.Sprintf("drc-%s-%s", gatewaySN, uuid.NewString()[:3])
}
