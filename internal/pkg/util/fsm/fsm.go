// Package fsm adapts looplab/fsm callbacks to the error-returning style
// used across drclink. looplab callbacks cannot return errors directly;
// they report failures by assigning to Event.Err, which WrapEvent hides.
package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent lifts an error-returning callback into a looplab Callback.
// Guards cancel a transition by returning an error (or calling
// event.Cancel themselves); side-effect callbacks usually return nil.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}
