// Package clock abstracts wall-clock and sleep access so the bootstrap
// driver can be driven by either real time or, in tests, a virtual
// clock that advances deterministically.
package clock

import (
	"context"
	"time"
)

// SleepProvider is the runtime collaborator the driver uses for every
// timed suspension: retry delays and reset deadlines alike. A real
// implementation tolerates cancellation via ctx; the mock implementation
// in this package does too.
type SleepProvider interface {
	// Wallclock returns the current wall-clock time.
	Wallclock() time.Time

	// Sleep blocks until dur has elapsed or ctx is done, whichever
	// comes first.
	Sleep(ctx context.Context, dur time.Duration) error

	// SleepUntilWallclock blocks until the wall clock reaches t or ctx
	// is done, whichever comes first. If t is already in the past, it
	// returns immediately.
	SleepUntilWallclock(ctx context.Context, t time.Time) error
}

// System is the real SleepProvider, backed by the OS clock.
type System struct{}

func (System) Wallclock() time.Time { return time.Now() }

func (System) Sleep(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s System) SleepUntilWallclock(ctx context.Context, t time.Time) error {
	return s.Sleep(ctx, time.Until(t))
}

var _ SleepProvider = System{}
