// Package metrics exposes the drclink client runtime as Prometheus
// metrics. The Collector implements drc.Metrics, so wiring it into a
// client config is enough to light every series up.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drclink-io/drclink/pkg/drc"
)

// Link states exported on the drclink_link_state gauge. One series per
// state; the current state reads 1, the others 0.
var linkStates = []string{drc.LinkOnline, drc.LinkReconnecting, drc.LinkOffline}

// Collector bundles the Prometheus metrics of one control client.
type Collector struct {
	gatherer prometheus.Gatherer
	reg      prometheus.Registerer

	ServiceCalls        *prometheus.CounterVec
	ServiceCallDuration *prometheus.HistogramVec
	TelemetryPushes     *prometheus.CounterVec
	HeartbeatsSent      prometheus.Counter
	LinkState           *prometheus.GaugeVec
	ReconnectAttempts   *prometheus.CounterVec
	InboundDrops        *prometheus.CounterVec
}

var _ drc.Metrics = (*Collector)(nil)

// NewCollector registers the client runtime metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drclink_service_calls_total",
		Help: "Total number of finished service calls, labeled by method and outcome (ok, error, timeout).",
	}, []string{"method", "outcome"})
	calls, err := registerCounterVec(reg, calls, "drclink_service_calls_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drclink_service_call_duration_seconds",
		Help:    "Service call round-trip latency in seconds.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})
	durations, err = registerHistogramVec(reg, durations, "drclink_service_call_duration_seconds")
	if err != nil {
		return nil, err
	}

	pushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drclink_telemetry_pushes_total",
		Help: "Total number of inbound telemetry and progress pushes, labeled by method.",
	}, []string{"method"})
	pushes, err = registerCounterVec(reg, pushes, "drclink_telemetry_pushes_total")
	if err != nil {
		return nil, err
	}

	heartbeats, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drclink_heartbeats_sent_total",
		Help: "Total number of keepalive beats published on the DRC downlink.",
	}), "drclink_heartbeats_sent_total")
	if err != nil {
		return nil, err
	}

	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "drclink_link_state",
		Help: "Supervised link state as a state set; the current state reads 1.",
	}, []string{"state"})
	state, err = registerGaugeVec(reg, state, "drclink_link_state")
	if err != nil {
		return nil, err
	}

	reconnects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drclink_reconnect_attempts_total",
		Help: "Total number of link recovery attempts, labeled by result (success, failure).",
	}, []string{"result"})
	reconnects, err = registerCounterVec(reg, reconnects, "drclink_reconnect_attempts_total")
	if err != nil {
		return nil, err
	}

	drops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drclink_inbound_drops_total",
		Help: "Total number of inbound messages discarded by the router, labeled by reason (malformed, unmatched, unhandled).",
	}, []string{"reason"})
	drops, err = registerCounterVec(reg, drops, "drclink_inbound_drops_total")
	if err != nil {
		return nil, err
	}

	c := &Collector{
		gatherer:            gatherer,
		reg:                 reg,
		ServiceCalls:        calls,
		ServiceCallDuration: durations,
		TelemetryPushes:     pushes,
		HeartbeatsSent:      heartbeats,
		LinkState:           state,
		ReconnectAttempts:   reconnects,
		InboundDrops:        drops,
	}

	// The link starts online; seed the state set so all three series
	// exist from the first scrape.
	c.ObserveLinkState(drc.LinkOnline)

	return c, nil
}

// ObserveCall records a finished service call.
func (c *Collector) ObserveCall(method, outcome string, d time.Duration) {
	c.ServiceCalls.WithLabelValues(method, outcome).Inc()
	c.ServiceCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObservePush records one inbound telemetry or progress push.
func (c *Collector) ObservePush(method string) {
	c.TelemetryPushes.WithLabelValues(method).Inc()
}

// ObserveHeartbeat records one published keepalive beat.
func (c *Collector) ObserveHeartbeat() {
	c.HeartbeatsSent.Inc()
}

// ObserveLinkState records the health monitor entering a state.
func (c *Collector) ObserveLinkState(state string) {
	for _, s := range linkStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.LinkState.WithLabelValues(s).Set(v)
	}
}

// ObserveReconnect records one recovery attempt.
func (c *Collector) ObserveReconnect(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.ReconnectAttempts.WithLabelValues(result).Inc()
}

// ObserveDrop records an inbound message the router discarded.
func (c *Collector) ObserveDrop(reason string) {
	c.InboundDrops.WithLabelValues(reason).Inc()
}

// RegisterRateGauge exposes a live telemetry rate reading, usually
// TelemetryCache.OSDRate, as a gauge sampled at scrape time.
func (c *Collector) RegisterRateGauge(rate func() float64) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "drclink_telemetry_rate_hz",
		Help: "Current OSD telemetry push rate in Hz over the sliding window.",
	}, rate)

	if err := c.reg.Register(gauge); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
