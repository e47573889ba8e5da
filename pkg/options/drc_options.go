package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DrcOptions)(nil)

// DrcOptions contains configuration for the DRC control link of a single
// gateway: who is flying, how chatty the telemetry should be, and how the
// link supervises itself.
type DrcOptions struct {
	// GatewaySN is the serial number of the gateway to control. Required.
	GatewaySN string `json:"gateway-sn" mapstructure:"gateway-sn"`

	// UserID and UserCallsign identify the operator requesting flight
	// control authority.
	UserID       string `json:"user-id" mapstructure:"user-id"`
	UserCallsign string `json:"user-callsign" mapstructure:"user-callsign"`

	// OSDFrequency and HSIFrequency are the telemetry push rates in Hz
	// requested when entering DRC mode.
	OSDFrequency int `json:"osd-frequency" mapstructure:"osd-frequency"`
	HSIFrequency int `json:"hsi-frequency" mapstructure:"hsi-frequency"`

	// CallTimeout bounds how long a service request waits for its reply.
	CallTimeout time.Duration `json:"call-timeout" mapstructure:"call-timeout"`

	// HeartbeatInterval is the period of the DRC keepalive beat.
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`

	// OfflineTimeout is how long telemetry may stay silent before the
	// link is considered lost.
	OfflineTimeout time.Duration `json:"offline-timeout" mapstructure:"offline-timeout"`

	// ReconnectAttempts and ReconnectInterval shape the recovery loop
	// once the link is considered lost.
	ReconnectAttempts int           `json:"reconnect-attempts" mapstructure:"reconnect-attempts"`
	ReconnectInterval time.Duration `json:"reconnect-interval" mapstructure:"reconnect-interval"`
}

// NewDrcOptions creates a new DrcOptions with default values.
func NewDrcOptions() *DrcOptions {
	return &DrcOptions{
		UserID:            "pilot",
		UserCallsign:      "Cloud Pilot",
		OSDFrequency:      30,
		HSIFrequency:      10,
		CallTimeout:       10 * time.Second,
		HeartbeatInterval: 1 * time.Second,
		OfflineTimeout:    2 * time.Second,
		ReconnectAttempts: 10,
		ReconnectInterval: 1 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *DrcOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.GatewaySN == "" {
		errors = append(errors, fmt.Errorf("drc.gateway-sn is required"))
	}
	if o.OSDFrequency < 1 || o.OSDFrequency > 100 {
		errors = append(errors, fmt.Errorf("drc.osd-frequency must be in [1, 100], got %d", o.OSDFrequency))
	}
	if o.HSIFrequency < 1 || o.HSIFrequency > 100 {
		errors = append(errors, fmt.Errorf("drc.hsi-frequency must be in [1, 100], got %d", o.HSIFrequency))
	}
	if o.HeartbeatInterval <= 0 {
		errors = append(errors, fmt.Errorf("drc.heartbeat-interval must be positive, got %v", o.HeartbeatInterval))
	}
	if o.ReconnectAttempts < 0 {
		errors = append(errors, fmt.Errorf("drc.reconnect-attempts must not be negative, got %d", o.ReconnectAttempts))
	}

	return errors
}

// AddFlags adds flags for DrcOptions to the specified FlagSet.
func (o *DrcOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.GatewaySN, "drc.gateway-sn", o.GatewaySN, "Serial number of the gateway to control.")
	fs.StringVar(&o.UserID, "drc.user-id", o.UserID, "Operator ID used when requesting flight control authority.")
	fs.StringVar(&o.UserCallsign, "drc.user-callsign", o.UserCallsign, "Operator callsign used when requesting flight control authority.")

	fs.IntVar(&o.OSDFrequency, "drc.osd-frequency", o.OSDFrequency, "Requested OSD telemetry push rate in Hz.")
	fs.IntVar(&o.HSIFrequency, "drc.hsi-frequency", o.HSIFrequency, "Requested HSI telemetry push rate in Hz.")

	fs.DurationVar(&o.CallTimeout, "drc.call-timeout", o.CallTimeout, "Timeout for a single service request/reply round trip.")
	fs.DurationVar(&o.HeartbeatInterval, "drc.heartbeat-interval", o.HeartbeatInterval, "Period of the DRC keepalive beat.")
	fs.DurationVar(&o.OfflineTimeout, "drc.offline-timeout", o.OfflineTimeout, "Telemetry silence after which the link counts as lost.")
	fs.IntVar(&o.ReconnectAttempts, "drc.reconnect-attempts", o.ReconnectAttempts, "Number of recovery attempts before giving up on the link.")
	fs.DurationVar(&o.ReconnectInterval, "drc.reconnect-interval", o.ReconnectInterval, "Pause between recovery attempts.")
}
