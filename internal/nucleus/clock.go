package nucleus

import (
	"context"
	"time"

	"github.com/uberscott/mechtron/internal/logging"
)

// Clock drives a Nucleus's RunCycle, either on a fixed interval or once
// per explicit Tick call. Restored from original_source/rust's simtron.rs,
// a minimal external clock-driver with no phase-timeout behavior of its
// own (spec.md §9's open question on phase timeouts is resolved by NOT
// adding one -- a phase handler that never returns simply never returns;
// the original has no watchdog for it either).
type Clock struct {
	n        *Nucleus
	interval time.Duration
	stop     chan struct{}
}

// NewClock builds a Clock over n. A zero interval means Tick must be
// called explicitly (the synchronous driving mode tests use); a non-zero
// interval additionally arms Run's ticker mode.
func NewClock(n *Nucleus, interval time.Duration) *Clock {
	return &Clock{n: n, interval: interval, stop: make(chan struct{})}
}

// Tick runs exactly one cycle, synchronously, regardless of interval.
func (c *Clock) Tick(ctx context.Context) error {
	return c.n.RunCycle(ctx)
}

// Run drives cycles on c.interval until ctx is cancelled or Stop is
// called. A cycle error is logged and the ticker keeps running -- one bad
// cycle should not halt the whole node, mirroring the per-mechtron panic
// isolation RunCycle already applies one level down.
func (c *Clock) Run(ctx context.Context) {
	if c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.n.RunCycle(ctx); err != nil {
				log.Error("cycle failed", logging.F("nucleus", c.n.Key.String()), logging.F("err", err))
			}
		}
	}
}

// Stop halts a running Run loop. Not idempotent: a second Stop panics on
// the already-closed channel, so a Clock is stopped at most once.
func (c *Clock) Stop() {
	close(c.stop)
}
