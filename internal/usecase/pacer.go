package usecase

import (
	"context"
	"time"

	"ReviewInsights/internal/ports"
)

// RealClock is the wall clock.
type RealClock struct{}

var _ ports.Clock = RealClock{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Pacer spaces capability invocations so that at least interval elapses between
// the end of one call and the start of the next. It is not safe for concurrent use;
// the pipeline serializes calls.
type Pacer struct {
	interval time.Duration
	clock    ports.Clock
	last     time.Time
	started  bool
}

// NewPacer builds a gate with the given minimum spacing. A nil clock means RealClock.
func NewPacer(interval time.Duration, clock ports.Clock) *Pacer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Pacer{interval: interval, clock: clock}
}

// Wait blocks until the next call may start. The first call never waits.
func (p *Pacer) Wait(ctx context.Context) error {
	if !p.started || p.interval <= 0 {
		return ctx.Err()
	}

	remaining := p.interval - p.clock.Now().Sub(p.last)
	if remaining <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(remaining):
		return nil
	}
}

// Done records the end of a call. Call it whether the call succeeded or not.
func (p *Pacer) Done() {
	p.last = p.clock.Now()
	p.started = true
}

// Interval returns the configured minimum spacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}
