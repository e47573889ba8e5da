package drc

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned when an operation needs a started
	// session and there is none.
	ErrNotConnected = errors.New("drc: session not connected")

	// ErrLinkOffline is returned once the health monitor has exhausted
	// its recovery attempts and declared the control link dead.
	ErrLinkOffline = errors.New("drc: control link offline")
)

// ConnectError reports a broker connection that could not be brought up.
// Connecting does not retry; recovery after an established link drops is
// the monitor's job.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("drc: broker connection: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ServiceError reports a request the gateway answered with a failure code,
// either in the reply envelope or in the reply body.
type ServiceError struct {
	Method  string
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("drc: service %s failed (code=%d): %s", e.Method, e.Code, e.Message)
}

// TimeoutError reports an operation that saw no answer in time: a service
// call without a reply, or a fly-to task that never reached a terminal
// status.
type TimeoutError struct {
	Op       string
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("drc: %s timed out after %v", e.Op, e.Duration)
}

// Timeout marks the error as such for callers using net-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// RangeError reports a command parameter outside its allowed range.
type RangeError struct {
	Param string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("drc: %s must be in range [%d, %d], got %d", e.Param, e.Min, e.Max, e.Value)
}
