package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drclink-io/drclink/internal/agent/server"
	"github.com/drclink-io/drclink/pkg/drc"
	"github.com/drclink-io/drclink/pkg/mqtt/mqtttest"
	"github.com/drclink-io/drclink/pkg/options"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newAgentRig(t *testing.T, sn string) (*Agent, *mqtttest.Vehicle) {
	t.Helper()
	broker := mqtttest.NewBroker()

	vehicle := mqtttest.NewVehicle(broker, sn)
	if err := vehicle.Start(context.Background()); err != nil {
		t.Fatalf("start vehicle: %v", err)
	}
	t.Cleanup(vehicle.Stop)

	client, err := drc.NewClient(&drc.Config{
		GatewaySN:         sn,
		Client:            broker.Client(),
		CallTimeout:       2 * time.Second,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new control client: %v", err)
	}

	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"

	return NewAgent(sn, client, server.NewServer(httpOpts, nil, nil)), vehicle
}

func TestAgentRunLifecycle(t *testing.T) {
	a, vehicle := newAgentRig(t, "SN1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, 2*time.Second, vehicle.DRCActive, "vehicle never entered DRC mode")
	waitFor(t, 2*time.Second, func() bool { return vehicle.Heartbeats() > 0 }, "no keepalive beat arrived")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancel, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if vehicle.DRCActive() {
		t.Fatal("vehicle still in DRC mode after shutdown")
	}
	if got := vehicle.Requests("cloud_control_auth_release"); got != 1 {
		t.Fatalf("control release requests = %d, want 1", got)
	}
}

func TestAgentRunFailsWhenAuthRefused(t *testing.T) {
	a, vehicle := newAgentRig(t, "SN1")
	vehicle.FailWithCode("cloud_control_auth_request", 514100, "another operator holds control")

	err := a.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded despite refused control authority")
	}
	var svcErr *drc.ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != 514100 {
		t.Fatalf("Run error = %v, want service error with code 514100", err)
	}
}

func TestConfigNewAgentValidatesClient(t *testing.T) {
	cfg := &Config{
		MqttOptions: options.NewMqttOptions(),
		DrcOptions:  options.NewDrcOptions(),
		HttpOptions: options.NewHttpOptions(),
	}

	// Missing gateway serial number must be rejected before anything dials.
	if _, err := cfg.NewAgent(); err == nil {
		t.Fatal("NewAgent succeeded without a gateway serial number")
	}

	cfg.DrcOptions.GatewaySN = "SN1"
	a, err := cfg.NewAgent()
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	if a.Client() == nil {
		t.Fatal("agent has no control client")
	}
}
