package drc

import (
	"time"
)

// Metrics receives observations from the session and its supervisors.
// Implementations must be safe for concurrent use. A nil Metrics on the
// config disables reporting entirely.
type Metrics interface {
	// ObserveCall records a finished service call with its outcome,
	// one of "ok", "error" or "timeout".
	ObserveCall(method, outcome string, d time.Duration)

	// ObservePush records an inbound telemetry or progress push by method.
	ObservePush(method string)

	// ObserveHeartbeat records one published keepalive beat.
	ObserveHeartbeat()

	// ObserveLinkState records the health monitor entering a state.
	ObserveLinkState(state string)

	// ObserveReconnect records one recovery attempt.
	ObserveReconnect(success bool)

	// ObserveDrop records an inbound message the router discarded:
	// "malformed" payloads, replies "unmatched" to any waiting call, or
	// methods left "unhandled".
	ObserveDrop(reason string)
}
