package drc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	fsmutil "github.com/drclink-io/drclink/internal/pkg/util/fsm"
	"github.com/drclink-io/drclink/pkg/log"
)

// Link states reported by the health monitor.
const (
	// LinkOnline means telemetry is flowing.
	LinkOnline = "online"
	// LinkReconnecting means telemetry went silent and recovery is running.
	LinkReconnecting = "reconnecting"
	// LinkOffline means recovery gave up. Terminal.
	LinkOffline = "offline"
)

const (
	eventSilenceDetected    = "silence_detected"
	eventTelemetryResumed   = "telemetry_resumed"
	eventReconnectSucceeded = "reconnect_succeeded"
	eventReconnectExhausted = "reconnect_exhausted"
)

// Monitor supervision defaults.
const (
	DefaultOfflineTimeout    = 2 * time.Second
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultReconnectAttempts = 10
	DefaultReconnectInterval = 1 * time.Second

	monitorStopTimeout = 2 * time.Second
)

// Recoverer re-establishes control after the link went silent. Commander
// implements it by re-requesting authority and re-entering DRC mode.
type Recoverer interface {
	ReestablishLink(ctx context.Context) error
}

// MonitorConfig shapes link supervision. Zero values select the defaults.
type MonitorConfig struct {
	// OfflineTimeout is the telemetry silence after which the link
	// counts as lost.
	OfflineTimeout time.Duration

	// PollInterval is the pause between liveness checks.
	PollInterval time.Duration

	// ReconnectAttempts bounds the recovery loop.
	ReconnectAttempts int

	// ReconnectInterval is the fixed pacing between recovery attempts.
	ReconnectInterval time.Duration

	// HeartbeatInterval is used for the keepalive started after a
	// successful recovery.
	HeartbeatInterval time.Duration

	// OnStateChange is invoked in its own goroutine on every state
	// change. Optional.
	OnStateChange func(from, to string)

	// Metrics receives supervision observations. Optional.
	Metrics Metrics
}

func (c *MonitorConfig) setDefaults() {
	if c.OfflineTimeout <= 0 {
		c.OfflineTimeout = DefaultOfflineTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// Monitor watches telemetry liveness and drives link recovery. State
// lives in a small FSM: online until telemetry goes silent, reconnecting
// while recovery runs, offline once recovery is exhausted. Offline is
// terminal; a dead link needs a fresh control setup, not more retries.
type Monitor struct {
	cache   *TelemetryCache
	pub     drcPublisher
	rec     Recoverer
	cfg     MonitorConfig
	fsm     *fsm.FSM
	metrics Metrics
	log     log.Logger

	hbMu      sync.Mutex
	heartbeat *Heartbeat

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMonitor creates a monitor over the given cache. Recovery uses rec to
// rebuild control and pub to publish the restarted keepalive.
func NewMonitor(cache *TelemetryCache, pub drcPublisher, rec Recoverer, cfg MonitorConfig) *Monitor {
	cfg.setDefaults()

	m := &Monitor{
		cache:   cache,
		pub:     pub,
		rec:     rec,
		cfg:     cfg,
		metrics: cfg.Metrics,
		log:     log.WithName("monitor"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	m.fsm = fsm.NewFSM(
		LinkOnline,
		fsm.Events{
			{Name: eventSilenceDetected, Src: []string{LinkOnline}, Dst: LinkReconnecting},
			{Name: eventTelemetryResumed, Src: []string{LinkReconnecting}, Dst: LinkOnline},
			{Name: eventReconnectSucceeded, Src: []string{LinkReconnecting}, Dst: LinkOnline},
			{Name: eventReconnectExhausted, Src: []string{LinkReconnecting}, Dst: LinkOffline},
		},
		fsm.Callbacks{
			// Guards (before_...): decide if a transition is allowed
			"before_" + eventSilenceDetected: fsmutil.WrapEvent(m.guardStillSilent),

			// Side-Effects (enter_...): observed on every state change
			"enter_state": fsmutil.WrapEvent(m.actionStateChanged),
		},
	)

	return m
}

// guardStillSilent is a "Guard" callback. Telemetry can resume between
// the poll that saw silence and the event firing; in that case the
// transition is canceled.
func (m *Monitor) guardStillSilent(ctx context.Context, e *fsm.Event) error {
	if m.cache.IsOnline(m.cfg.OfflineTimeout) {
		e.Cancel(fsm.NoTransitionError{})
	}
	return nil
}

// actionStateChanged is a "Side-Effect" callback fired on every state
// change.
func (m *Monitor) actionStateChanged(ctx context.Context, e *fsm.Event) error {
	m.log.Info("Link state changed", "from", e.Src, "to", e.Dst)

	if m.metrics != nil {
		m.metrics.ObserveLinkState(e.Dst)
	}

	if cb := m.cfg.OnStateChange; cb != nil {
		// The callback must not block or crash state handling.
		go func(from, to string) {
			defer func() {
				_ = recover()
			}()
			cb(from, to)
		}(e.Src, e.Dst)
	}
	return nil
}

// AdoptHeartbeat hands the monitor ownership of the current keepalive. It
// will be replaced on link recovery and stopped with the monitor.
func (m *Monitor) AdoptHeartbeat(hb *Heartbeat) {
	m.hbMu.Lock()
	old := m.heartbeat
	m.heartbeat = hb
	m.hbMu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// State returns the current link state.
func (m *Monitor) State() string {
	return m.fsm.Current()
}

// Start launches the supervision loop. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.log.Info("Health monitor started",
		"offlineTimeout", m.cfg.OfflineTimeout,
		"attempts", m.cfg.ReconnectAttempts,
		"interval", m.cfg.ReconnectInterval)
	go m.run()
}

// Stop halts supervision and the adopted keepalive. Safe to call multiple
// times and before Start.
func (m *Monitor) Stop() {
	if m.started.Load() {
		m.stopOnce.Do(func() { close(m.stop) })
		select {
		case <-m.done:
		case <-time.After(monitorStopTimeout):
			m.log.Warn("Monitor loop did not exit in time", "timeout", monitorStopTimeout)
		}
	}

	m.hbMu.Lock()
	hb := m.heartbeat
	m.heartbeat = nil
	m.hbMu.Unlock()

	if hb != nil {
		hb.Stop()
	}
}

func (m *Monitor) run() {
	defer close(m.done)

	for {
		select {
		case <-m.stop:
			return
		case <-time.After(m.cfg.PollInterval):
		}
		m.check()
	}
}

func (m *Monitor) check() {
	online := m.cache.IsOnline(m.cfg.OfflineTimeout)

	switch m.fsm.Current() {
	case LinkOnline:
		if online {
			return
		}
		if err := m.fsm.Event(context.Background(), eventSilenceDetected); err != nil {
			// Usually the guard canceling because telemetry resumed
			// between the poll and the event.
			if !benignEventErr(err) {
				m.log.Error(err, "Silence transition failed")
			}
			return
		}
		m.log.Warn("Telemetry silent, starting recovery", "timeout", m.cfg.OfflineTimeout)
		m.reconnectLoop()

	case LinkReconnecting:
		// Only reachable when a previous recovery pass was interrupted.
		if online {
			_ = m.fsm.Event(context.Background(), eventTelemetryResumed)
		}

	case LinkOffline:
		// Terminal.
	}
}

func (m *Monitor) reconnectLoop() {
	attempts := m.cfg.ReconnectAttempts

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-m.stop:
			return
		default:
		}

		// Telemetry can come back on its own while we retry; take the
		// cheap exit instead of re-entering DRC mode.
		if m.cache.IsOnline(m.cfg.OfflineTimeout) {
			_ = m.fsm.Event(context.Background(), eventTelemetryResumed)
			return
		}

		m.log.Info("Reconnect attempt", "attempt", attempt, "max", attempts)

		if err := m.reenter(); err != nil {
			if m.metrics != nil {
				m.metrics.ObserveReconnect(false)
			}
			m.log.Error(err, "Reconnect attempt failed", "attempt", attempt)

			if attempt < attempts {
				select {
				case <-m.stop:
					return
				case <-time.After(m.cfg.ReconnectInterval):
				}
			}
			continue
		}

		if m.metrics != nil {
			m.metrics.ObserveReconnect(true)
		}
		_ = m.fsm.Event(context.Background(), eventReconnectSucceeded)
		m.log.Info("Link recovered", "attempt", attempt)
		return
	}

	_ = m.fsm.Event(context.Background(), eventReconnectExhausted)
	m.log.Warn("Link recovery exhausted, gateway offline", "attempts", attempts)
}

// reenter rebuilds the DRC link: fresh control authority, fresh DRC mode,
// fresh keepalive.
func (m *Monitor) reenter() error {
	if err := m.rec.ReestablishLink(context.Background()); err != nil {
		return err
	}

	m.restartHeartbeat()
	return nil
}

func (m *Monitor) restartHeartbeat() {
	m.hbMu.Lock()
	old := m.heartbeat
	m.heartbeat = NewHeartbeat(m.pub, m.cfg.HeartbeatInterval, m.metrics)
	m.heartbeat.Start()
	m.hbMu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// benignEventErr reports whether the error only says the transition did
// not happen.
func benignEventErr(err error) bool {
	var noTransition fsm.NoTransitionError
	var canceled fsm.CanceledError
	return errors.As(err, &noTransition) || errors.As(err, &canceled)
}
