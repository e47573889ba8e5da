package drc

import (
	"context"
	"fmt"
	"time"
)

// Fly-to wait defaults.
const (
	DefaultFlyToTimeout      = 120 * time.Second
	DefaultFlyToPollInterval = 1 * time.Second
)

// FlyToWaitConfig shapes WaitForFlyTo. Zero values select the defaults.
type FlyToWaitConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// WaitForFlyTo polls the cache until the fly-to task with the given id
// reaches a terminal status and returns its final progress. Progress
// pushes carrying other task ids are ignored, so a stale event from an
// earlier task cannot satisfy the wait. Returns a TimeoutError when the
// task does not terminate inside the window, or ctx.Err() on cancellation.
func WaitForFlyTo(ctx context.Context, cache *TelemetryCache, flyToID string, cfg FlyToWaitConfig) (*FlyToProgress, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFlyToTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultFlyToPollInterval
	}

	deadline := time.Now().Add(cfg.Timeout)
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		if p := cache.FlyTo(); p != nil && p.FlyToID == flyToID && p.Terminal() {
			return p, nil
		}
		if time.Now().After(deadline) {
			return nil, &TimeoutError{Op: fmt.Sprintf("fly-to task %s", flyToID), Duration: cfg.Timeout}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
