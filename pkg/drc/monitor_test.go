package drc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRecoverer struct {
	mu     sync.Mutex
	calls  int
	broken bool
	onCall func()
}

func (r *fakeRecoverer) ReestablishLink(ctx context.Context) error {
	r.mu.Lock()
	r.calls++
	broken := r.broken
	hook := r.onCall
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	if broken {
		return errors.New("vehicle unreachable")
	}
	return nil
}

func (r *fakeRecoverer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRecoverer) setBroken(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broken = v
}

// feeder refreshes the cache like a live telemetry stream while active.
type feeder struct {
	cache  *TelemetryCache
	active atomic.Bool
	stop   chan struct{}
}

func startFeeder(cache *TelemetryCache) *feeder {
	f := &feeder{cache: cache, stop: make(chan struct{})}
	f.active.Store(true)
	go func() {
		t := time.NewTicker(10 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-f.stop:
				return
			case <-t.C:
				if f.active.Load() {
					f.cache.applyOSD(OSDInfo{}, time.Now())
				}
			}
		}
	}()
	return f
}

func (f *feeder) halt() { close(f.stop) }

type stateRecorder struct {
	mu          sync.Mutex
	transitions []string
}

func (r *stateRecorder) record(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+">"+to)
}

func (r *stateRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

func testMonitorConfig(rec *stateRecorder, attempts int) MonitorConfig {
	cfg := MonitorConfig{
		OfflineTimeout:    60 * time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		ReconnectAttempts: attempts,
		ReconnectInterval: 10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}
	if rec != nil {
		cfg.OnStateChange = rec.record
	}
	return cfg
}

func TestMonitorStaysOnlineWhileTelemetryFlows(t *testing.T) {
	cache := NewTelemetryCache()
	f := startFeeder(cache)
	defer f.halt()

	rec := &fakeRecoverer{}
	m := NewMonitor(cache, &capturePublisher{}, rec, testMonitorConfig(nil, 3))
	m.Start()
	defer m.Stop()

	time.Sleep(150 * time.Millisecond)

	if got := m.State(); got != LinkOnline {
		t.Errorf("State() = %q, want %q", got, LinkOnline)
	}
	if rec.callCount() != 0 {
		t.Errorf("recoverer called %d times while healthy", rec.callCount())
	}
}

func TestMonitorRecoversAfterSilence(t *testing.T) {
	cache := NewTelemetryCache()
	f := startFeeder(cache)
	defer f.halt()

	states := &stateRecorder{}
	pub := &capturePublisher{}
	rec := &fakeRecoverer{}
	// Recovery brings the telemetry stream back, like a successful DRC
	// re-entry does.
	rec.onCall = func() { f.active.Store(true) }

	m := NewMonitor(cache, pub, rec, testMonitorConfig(states, 5))
	m.Start()
	defer m.Stop()

	waitFor(t, time.Second, "initial online state", func() bool { return m.State() == LinkOnline })

	f.active.Store(false)
	waitFor(t, 2*time.Second, "recovery", func() bool {
		return rec.callCount() >= 1 && m.State() == LinkOnline
	})

	// The monitor replaced the keepalive after recovery.
	waitFor(t, time.Second, "restarted heartbeat", func() bool { return pub.count() >= 2 })

	got := states.all()
	if len(got) < 2 || got[0] != "online>reconnecting" || got[1] != "reconnecting>online" {
		t.Errorf("transitions = %v, want online>reconnecting then reconnecting>online", got)
	}
}

func TestMonitorGoesOfflineWhenRecoveryExhausted(t *testing.T) {
	cache := NewTelemetryCache()

	states := &stateRecorder{}
	rec := &fakeRecoverer{}
	rec.setBroken(true)

	m := NewMonitor(cache, &capturePublisher{}, rec, testMonitorConfig(states, 2))
	m.Start()
	defer m.Stop()

	waitFor(t, 2*time.Second, "offline state", func() bool { return m.State() == LinkOffline })

	if got := rec.callCount(); got != 2 {
		t.Errorf("recovery attempts = %d, want 2", got)
	}

	// Offline is terminal; resumed telemetry must not revive the link.
	cache.applyOSD(OSDInfo{}, time.Now())
	time.Sleep(100 * time.Millisecond)
	if got := m.State(); got != LinkOffline {
		t.Errorf("State() = %q after telemetry resumed, want %q", got, LinkOffline)
	}

	got := states.all()
	if len(got) < 2 || got[len(got)-1] != "reconnecting>offline" {
		t.Errorf("transitions = %v, want reconnecting>offline last", got)
	}
	offline := 0
	for _, tr := range got {
		if tr == "reconnecting>offline" {
			offline++
		}
	}
	if offline != 1 {
		t.Errorf("offline observed %d times, want exactly 1", offline)
	}
}

func TestMonitorTakesResumedTelemetryOverRetries(t *testing.T) {
	cache := NewTelemetryCache()
	f := startFeeder(cache)
	defer f.halt()

	rec := &fakeRecoverer{}
	rec.setBroken(true)

	cfg := testMonitorConfig(nil, 100)
	cfg.ReconnectInterval = 30 * time.Millisecond

	m := NewMonitor(cache, &capturePublisher{}, rec, cfg)
	m.Start()
	defer m.Stop()

	waitFor(t, time.Second, "initial online state", func() bool { return m.State() == LinkOnline })

	f.active.Store(false)
	waitFor(t, 2*time.Second, "reconnect attempts", func() bool { return rec.callCount() >= 2 })

	// Telemetry comes back on its own; the loop must exit without a
	// successful recovery call.
	f.active.Store(true)
	waitFor(t, 2*time.Second, "online after resume", func() bool { return m.State() == LinkOnline })

	calls := rec.callCount()
	time.Sleep(150 * time.Millisecond)
	if got := rec.callCount(); got != calls {
		t.Errorf("recoverer still being called after resume: %d -> %d", calls, got)
	}
}

func TestMonitorSilenceGuardCancels(t *testing.T) {
	cache := NewTelemetryCache()
	m := NewMonitor(cache, &capturePublisher{}, &fakeRecoverer{}, testMonitorConfig(nil, 3))

	// Telemetry is fresh, so the guard must cancel the transition.
	cache.applyOSD(OSDInfo{}, time.Now())

	err := m.fsm.Event(context.Background(), eventSilenceDetected)
	if err == nil {
		t.Fatal("event succeeded, want guard cancellation")
	}
	if !benignEventErr(err) {
		t.Fatalf("guard returned a real error: %v", err)
	}
	if got := m.State(); got != LinkOnline {
		t.Errorf("State() = %q, want %q", got, LinkOnline)
	}
}

func TestMonitorStopJoinsLoop(t *testing.T) {
	cache := NewTelemetryCache()
	m := NewMonitor(cache, &capturePublisher{}, &fakeRecoverer{}, testMonitorConfig(nil, 3))

	hb := NewHeartbeat(&capturePublisher{}, time.Hour, nil)
	hb.Start()
	m.AdoptHeartbeat(hb)

	m.Start()
	m.Stop()
	m.Stop()

	select {
	case <-m.done:
	default:
		t.Error("monitor loop still running after Stop")
	}

	// The adopted heartbeat must be stopped with the monitor.
	select {
	case <-hb.done:
	default:
		t.Error("adopted heartbeat still running after Stop")
	}
}
