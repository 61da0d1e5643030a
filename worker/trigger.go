package worker

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Trigger is a coalescing wake-up signal for a Loop. Any number of Fire
// calls between two passes collapse into a single pending signal, and
// consecutive wake-ups are spaced by at least the trigger's interval.
type Trigger struct {
	ch      chan struct{}
	limiter *rate.Limiter
}

// NewTrigger creates a Trigger whose wake-ups are at least interval apart.
// A non-positive interval disables pacing.
func NewTrigger(interval time.Duration) *Trigger {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Trigger{
		ch:      make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Fire requests a pass. It never blocks.
func (t *Trigger) Fire() {
	select {
	case t.ch <- struct{}{}:
	default:
	}
}

// C returns the channel that receives a value when a pass is requested.
func (t *Trigger) C() <-chan struct{} { return t.ch }

// Pending reports whether a wake-up is queued.
func (t *Trigger) Pending() bool { return len(t.ch) > 0 }

// Pace blocks until the limiter admits another triggered pass or ctx is
// done.
func (t *Trigger) Pace(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
