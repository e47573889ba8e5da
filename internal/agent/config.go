package agent

import (
	"fmt"

	"github.com/drclink-io/drclink/internal/agent/server"
	"github.com/drclink-io/drclink/internal/pkg/metrics"
	"github.com/drclink-io/drclink/pkg/drc"
	"github.com/drclink-io/drclink/pkg/options"
)

type Config struct {
	MqttOptions *options.MqttOptions
	DrcOptions  *options.DrcOptions
	HttpOptions *options.HttpOptions
}

func (cfg *Config) NewAgent() (*Agent, error) {
	collector, err := metrics.NewCollector(nil)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	client, err := drc.NewClient(&drc.Config{
		GatewaySN:         cfg.DrcOptions.GatewaySN,
		MQTT:              cfg.MqttOptions.ToClientConfig(),
		UserID:            cfg.DrcOptions.UserID,
		UserCallsign:      cfg.DrcOptions.UserCallsign,
		OSDFrequency:      cfg.DrcOptions.OSDFrequency,
		HSIFrequency:      cfg.DrcOptions.HSIFrequency,
		CallTimeout:       cfg.DrcOptions.CallTimeout,
		HeartbeatInterval: cfg.DrcOptions.HeartbeatInterval,
		OfflineTimeout:    cfg.DrcOptions.OfflineTimeout,
		ReconnectAttempts: cfg.DrcOptions.ReconnectAttempts,
		ReconnectInterval: cfg.DrcOptions.ReconnectInterval,
		Metrics:           collector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build control client: %w", err)
	}

	if err := collector.RegisterRateGauge(client.Telemetry().OSDRate); err != nil {
		return nil, fmt.Errorf("register telemetry rate gauge: %w", err)
	}

	// Ready once the broker link is up and supervision has not written
	// the link off.
	ready := func() error {
		if !client.Session().IsConnected() {
			return fmt.Errorf("broker connection down")
		}
		if client.LinkState() == drc.LinkOffline {
			return drc.ErrLinkOffline
		}
		return nil
	}

	return NewAgent(
		cfg.DrcOptions.GatewaySN,
		client,
		server.NewServer(cfg.HttpOptions, ready, collector.Handler()),
	), nil
}
