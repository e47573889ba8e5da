package drc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/drclink-io/drclink/pkg/log"
	"github.com/drclink-io/drclink/pkg/mqtt"
	"github.com/drclink-io/drclink/pkg/mqtt/topic"
)

// DefaultCallTimeout bounds a service request/reply round trip when the
// config does not say otherwise.
const DefaultCallTimeout = 10 * time.Second

// Session lifecycle states.
const (
	SessionDisconnected = "disconnected"
	SessionConnecting   = "connecting"
	SessionConnected    = "connected"
)

// SessionConfig collects what a Session needs to reach one gateway.
type SessionConfig struct {
	// GatewaySN is the serial number of the gateway. Required.
	GatewaySN string

	// MQTT configures the broker connection. ClientID may be left empty
	// to have the session generate one.
	MQTT *mqtt.ClientConfig

	// Client, when non-nil, is used instead of building a client from
	// MQTT. Tests supply in-process clients through this.
	Client mqtt.Client

	// CallTimeout bounds each service call. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// Metrics receives session observations. Optional.
	Metrics Metrics
}

// Session owns the MQTT link to one gateway: the subscriptions, the
// telemetry cache fed by pushes, and the correlator matching service
// replies to their callers.
type Session struct {
	sn      string
	topics  *topic.TopicBuilder
	client  mqtt.Client
	cache   *TelemetryCache
	corr    *Correlator
	timeout time.Duration
	metrics Metrics
	log     log.Logger

	state atomic.Value
	seq   atomic.Int64
}

// NewSession creates a session for one gateway. No connection is made
// until Start.
func NewSession(cfg *SessionConfig) (*Session, error) {
	if cfg == nil || cfg.GatewaySN == "" {
		return nil, fmt.Errorf("drc: gateway serial number is required")
	}

	client := cfg.Client
	if client == nil {
		if cfg.MQTT == nil {
			return nil, fmt.Errorf("drc: mqtt config is required")
		}

		// Copy so defaulting the client id does not mutate the caller's config.
		mqttCfg := *cfg.MQTT
		if mqttCfg.ClientID == "" {
			mqttCfg.ClientID = SessionClientID(cfg.GatewaySN)
		}

		var err error
		client, err = mqtt.NewClient(&mqttCfg)
		if err != nil {
			return nil, err
		}
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	s := &Session{
		sn:      cfg.GatewaySN,
		topics:  topic.NewTopicBuilder(cfg.GatewaySN),
		client:  client,
		cache:   NewTelemetryCache(),
		corr:    NewCorrelator(),
		timeout: timeout,
		metrics: cfg.Metrics,
		log:     log.WithName("drc").WithValues("gateway", cfg.GatewaySN),
	}

	s.state.Store(SessionDisconnected)

	// Seeding from the wall clock keeps drc/down sequence numbers unique
	// across client restarts.
	s.seq.Store(time.Now().UnixMilli())

	return s, nil
}

// SessionClientID generates the MQTT client id for a gateway link. The
// random suffix keeps concurrent instances apart.
func SessionClientID(gatewaySN string) string {
	return fmt.Sprintf("drclink-%s-%s", gatewaySN, uuid.NewString()[:3])
}

// Start connects to the broker and installs the inbound subscriptions.
// The context governs both the connection attempt and, for clients built
// by the session, the life of the connection manager.
func (s *Session) Start(ctx context.Context) error {
	s.state.Store(SessionConnecting)

	if err := s.client.Start(ctx); err != nil {
		s.state.Store(SessionDisconnected)
		return err
	}

	if err := s.client.AwaitConnection(ctx); err != nil {
		// No retry at this level; tear the transport down again so a
		// failed Start leaves nothing running.
		s.client.Disconnect(ctx)
		s.state.Store(SessionDisconnected)
		return &ConnectError{Err: err}
	}

	subs := []struct {
		name string
		qos  int
	}{
		{s.topics.ServicesReply(), 1},
		{s.topics.DRCUp(), 0},
		{s.topics.Events(), 0},
		{s.topics.Status(), 0},
	}

	for _, sub := range subs {
		if err := s.client.Subscribe(ctx, sub.name, sub.qos, s.handleInbound); err != nil {
			s.client.Disconnect(ctx)
			s.state.Store(SessionDisconnected)
			return fmt.Errorf("drc: subscribe %s: %w", sub.name, err)
		}
	}

	s.state.Store(SessionConnected)
	s.log.Info("Session started")
	return nil
}

// Stop disconnects from the broker. In-flight handlers finish; queued
// messages are dropped.
func (s *Session) Stop(ctx context.Context) {
	s.client.Disconnect(ctx)
	s.state.Store(SessionDisconnected)
	s.log.Info("Session stopped")
}

// Call publishes a service request and waits for the matching reply. On
// success the reply body is returned. Gateway-reported failures surface
// as *ServiceError, missing replies as *TimeoutError.
func (s *Session) Call(ctx context.Context, method string, data any) (json.RawMessage, error) {
	req := NewServiceRequest(method, data)
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("drc: marshal %s request: %w", method, err)
	}

	start := time.Now()
	ch := s.corr.Register(req.TID)

	if err := s.client.Publish(ctx, s.topics.Services(), 1, false, payload); err != nil {
		s.corr.Cancel(req.TID)
		s.observeCall(method, "error", start)
		return nil, fmt.Errorf("drc: publish %s: %w", method, err)
	}
	s.log.Debug("Service request sent", "method", method, "tid", req.TID)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case rep := <-ch:
		if rep.signalsDisagree() {
			s.log.Warn("Reply error signals disagree, following the body",
				"method", method, "tid", req.TID, "infoCode", rep.Info.Code)
		}
		if err := rep.Err(); err != nil {
			s.observeCall(method, "error", start)
			return nil, err
		}
		s.observeCall(method, "ok", start)
		return rep.Data, nil

	case <-timer.C:
		s.corr.Cancel(req.TID)
		s.observeCall(method, "timeout", start)
		return nil, &TimeoutError{Op: "service call " + method, Duration: s.timeout}

	case <-ctx.Done():
		s.corr.Cancel(req.TID)
		s.observeCall(method, "error", start)
		return nil, ctx.Err()
	}
}

// PublishDRC publishes a pre-built frame on the drc/down channel (QoS 0).
func (s *Session) PublishDRC(ctx context.Context, frame *DRCFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("drc: marshal %s frame: %w", frame.Method, err)
	}
	return s.client.Publish(ctx, s.topics.DRCDown(), 0, false, payload)
}

// SendDRC builds a frame with a fresh sequence number and publishes it on
// the drc/down channel.
func (s *Session) SendDRC(ctx context.Context, method string, data any) error {
	frame, err := NewDRCFrame(s.nextSeq(), method, data)
	if err != nil {
		return fmt.Errorf("drc: marshal %s frame: %w", method, err)
	}
	return s.PublishDRC(ctx, frame)
}

// nextSeq returns a strictly increasing sequence number.
func (s *Session) nextSeq() int64 {
	return s.seq.Add(1)
}

// Cache returns the telemetry cache fed by this session.
func (s *Session) Cache() *TelemetryCache {
	return s.cache
}

// GatewaySN returns the serial number of the gateway this session serves.
func (s *Session) GatewaySN() string {
	return s.sn
}

// State returns the lifecycle state: disconnected, connecting or
// connected. Transport-level drops after a successful Start do not move
// the state; the connection manager redials and the monitor supervises
// link health.
func (s *Session) State() string {
	return s.state.Load().(string)
}

// IsConnected reports whether the broker link is currently up.
func (s *Session) IsConnected() bool {
	return s.client.IsConnected()
}

// AwaitConnection blocks until the broker link is up.
func (s *Session) AwaitConnection(ctx context.Context) error {
	return s.client.AwaitConnection(ctx)
}

func (s *Session) observeCall(method, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveCall(method, outcome, time.Since(start))
	}
}

func (s *Session) observePush(method string) {
	if s.metrics != nil {
		s.metrics.ObservePush(method)
	}
}

func (s *Session) observeDrop(reason string) {
	if s.metrics != nil {
		s.metrics.ObserveDrop(reason)
	}
}
