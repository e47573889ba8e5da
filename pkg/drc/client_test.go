package drc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/drclink-io/drclink/pkg/mqtt/mqtttest"
)

func newClientRig(t *testing.T, sn string) (*Client, *mqtttest.Vehicle) {
	t.Helper()
	broker := mqtttest.NewBroker()

	vehicle := mqtttest.NewVehicle(broker, sn)
	vehicle.SetAutoOSD(10 * time.Millisecond)
	if err := vehicle.Start(context.Background()); err != nil {
		t.Fatalf("start vehicle: %v", err)
	}
	t.Cleanup(vehicle.Stop)

	c, err := NewClient(&Config{
		GatewaySN:         sn,
		Client:            broker.Client(),
		CallTimeout:       2 * time.Second,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { c.TeardownControl(context.Background()) })

	return c, vehicle
}

func TestClientSetupTeardownRoundTrip(t *testing.T) {
	c, vehicle := newClientRig(t, "SN1")
	ctx := context.Background()

	if err := c.SetupControl(ctx); err != nil {
		t.Fatalf("SetupControl: %v", err)
	}

	if got := vehicle.Requests("cloud_control_auth_request"); got != 1 {
		t.Errorf("auth requests = %d, want 1", got)
	}
	if !vehicle.DRCActive() {
		t.Error("vehicle not in DRC mode after setup")
	}
	waitFor(t, time.Second, "keepalive beats", func() bool { return vehicle.Heartbeats() > 0 })
	waitFor(t, time.Second, "telemetry flowing", func() bool {
		return c.Telemetry().IsOnline(time.Second)
	})
	if got := c.LinkState(); got != LinkOnline {
		t.Errorf("LinkState() = %q, want %q", got, LinkOnline)
	}

	// A second setup must not redo the bring-up.
	if err := c.SetupControl(ctx); err != nil {
		t.Fatalf("second SetupControl: %v", err)
	}
	if got := vehicle.Requests("cloud_control_auth_request"); got != 1 {
		t.Errorf("auth requests after second setup = %d, want 1", got)
	}

	if err := c.ReturnHome(ctx); err != nil {
		t.Fatalf("ReturnHome: %v", err)
	}

	if err := c.TeardownControl(ctx); err != nil {
		t.Fatalf("TeardownControl: %v", err)
	}
	if vehicle.DRCActive() {
		t.Error("vehicle still in DRC mode after teardown")
	}
	if got := vehicle.Requests("drc_mode_exit"); got != 1 {
		t.Errorf("exit requests = %d, want 1", got)
	}
	if got := vehicle.Requests("cloud_control_auth_release"); got != 1 {
		t.Errorf("release requests = %d, want 1", got)
	}

	// And a second teardown must not redo it either.
	if err := c.TeardownControl(ctx); err != nil {
		t.Fatalf("second TeardownControl: %v", err)
	}
	if got := vehicle.Requests("drc_mode_exit"); got != 1 {
		t.Errorf("exit requests after second teardown = %d, want 1", got)
	}
}

func TestClientCommandsRequireSetup(t *testing.T) {
	c, vehicle := newClientRig(t, "SN1")
	ctx := context.Background()

	if err := c.ReturnHome(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReturnHome error = %v, want ErrNotConnected", err)
	}
	req := FlyToRequest{Points: []Point{{Latitude: 22.5, Longitude: 113.9, Height: 100}}}
	if _, err := c.FlyToPoint(ctx, req); !errors.Is(err, ErrNotConnected) {
		t.Errorf("FlyToPoint error = %v, want ErrNotConnected", err)
	}
	if err := c.SendStickControl(ctx, NeutralStick()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendStickControl error = %v, want ErrNotConnected", err)
	}

	if got := vehicle.Requests("return_home"); got != 0 {
		t.Errorf("vehicle saw %d requests before setup, want 0", got)
	}
}

func TestClientSetupFailureResetsState(t *testing.T) {
	c, vehicle := newClientRig(t, "SN1")
	vehicle.FailWithCode("cloud_control_auth_request", 514100, "another operator holds control")

	err := c.SetupControl(context.Background())

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != 514100 {
		t.Fatalf("SetupControl error = %v, want service error with code 514100", err)
	}
	if vehicle.DRCActive() {
		t.Error("vehicle entered DRC mode despite refused authority")
	}

	// The failed setup must leave the client down, not half up.
	if err := c.ReturnHome(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReturnHome error = %v, want ErrNotConnected", err)
	}
}
