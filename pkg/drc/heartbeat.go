package drc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drclink-io/drclink/pkg/log"
)

// DefaultHeartbeatInterval is the beat period used when the config does
// not say otherwise. The gateway tears the DRC channel down after a few
// seconds of silence, so the default stays well under that.
const DefaultHeartbeatInterval = 200 * time.Millisecond

// heartbeatStopTimeout bounds how long Stop waits for the loop to exit.
const heartbeatStopTimeout = 5 * time.Second

// drcPublisher is the slice of Session the heartbeat needs.
type drcPublisher interface {
	PublishDRC(ctx context.Context, frame *DRCFrame) error
}

type heartbeatData struct {
	Timestamp int64 `json:"timestamp"`
}

// Heartbeat keeps the DRC channel alive by publishing periodic beats on
// drc/down. The first beat goes out immediately on Start; afterwards the
// loop ticks on a fixed schedule and resynchronizes after stalls instead
// of bursting to catch up.
type Heartbeat struct {
	pub      drcPublisher
	interval time.Duration
	metrics  Metrics
	log      log.Logger

	seq  int64
	sent atomic.Int64

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewHeartbeat creates a heartbeat publisher over the given session. A
// non-positive interval selects the default.
func NewHeartbeat(pub drcPublisher, interval time.Duration, m Metrics) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		pub:      pub,
		interval: interval,
		metrics:  m,
		log:      log.WithName("heartbeat"),
		seq:      time.Now().UnixMilli(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the beat loop. Calling Start twice is a no-op.
func (h *Heartbeat) Start() {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	h.log.Info("Heartbeat started", "interval", h.interval)
	go h.run()
}

// Stop signals the loop and waits for it to exit, warning if it overruns
// the join timeout. Safe to call multiple times and before Start.
func (h *Heartbeat) Stop() {
	if !h.started.Load() {
		return
	}

	h.stopOnce.Do(func() { close(h.stop) })

	select {
	case <-h.done:
	case <-time.After(heartbeatStopTimeout):
		h.log.Warn("Heartbeat loop did not exit in time", "timeout", heartbeatStopTimeout)
	}
}

// Sent returns the number of beats published so far.
func (h *Heartbeat) Sent() int64 {
	return h.sent.Load()
}

func (h *Heartbeat) run() {
	defer close(h.done)

	next := time.Now()
	for {
		now := time.Now()
		if !now.Before(next) {
			h.beat(now)
			next = next.Add(h.interval)
			if next.Before(now) {
				// The schedule fell behind, resync rather than burst.
				next = now.Add(h.interval)
			}
		}

		d := time.Until(next)
		if d > h.interval {
			d = h.interval
		}
		if d < 0 {
			d = 0
		}

		select {
		case <-h.stop:
			h.log.Info("Heartbeat stopped", "sent", h.sent.Load())
			return
		case <-time.After(d):
		}
	}
}

func (h *Heartbeat) beat(now time.Time) {
	h.seq++
	frame, err := NewDRCFrame(h.seq, "heart_beat", heartbeatData{Timestamp: now.UnixMilli()})
	if err != nil {
		h.log.Error(err, "Failed to build heartbeat frame")
		return
	}

	if err := h.pub.PublishDRC(context.Background(), frame); err != nil {
		h.log.Error(err, "Failed to publish heartbeat", "seq", h.seq)
		return
	}

	h.sent.Add(1)
	if h.metrics != nil {
		h.metrics.ObserveHeartbeat()
	}
}
