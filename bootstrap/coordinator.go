// Package bootstrap is the directory bootstrap and maintenance engine:
// it drives a dirstate.DirState from empty to usable to complete,
// draining whatever the cache already has before falling back to
// network fetches, and exposes a one-shot "first usable" signal and a
// lossy progress-status channel to the rest of the client.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/sambacha/mirror-arti/circuit"
	"github.com/sambacha/mirror-arti/clock"
	"github.com/sambacha/mirror-arti/dirclient"
	"github.com/sambacha/mirror-arti/dirstate"
	"github.com/sambacha/mirror-arti/metrics"
	"github.com/sambacha/mirror-arti/store"
)

// Coordinator runs a single bootstrap: one call to Run drains the
// cache, then retries network downloads phase by phase until the
// directory state is Complete or its retry budget for some phase is
// exhausted. A Coordinator holds the sole strong reference to the
// circuit manager; background fetch goroutines only ever see a weak
// reference, so Close promptly stops them from building new circuits.
type Coordinator struct {
	store   store.Store
	client  dirclient.Client
	sleeper clock.SleepProvider
	weak    circuit.WeakManager

	alive atomic.Bool

	statusMu sync.Mutex
	statusCh chan dirstate.BootstrapStatus

	usableOnce sync.Once
	usableCh   chan struct{}
}

// NewCoordinator wires together the collaborators a bootstrap run
// needs. mgr is retained strongly by the Coordinator itself; every
// worker goroutine spawned during Run only ever holds the weak view
// returned by c.weak, so calling Close here is what actually severs
// their ability to keep building circuits.
func NewCoordinator(st store.Store, client dirclient.Client, sleeper clock.SleepProvider, mgr circuit.Manager, cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		store:    st,
		client:   client,
		sleeper:  sleeper,
		statusCh: make(chan dirstate.BootstrapStatus, cfg.StatusChannelSize),
		usableCh: make(chan struct{}),
	}
	c.alive.Store(true)
	c.weak = circuit.NewWeakManager(mgr, func() bool { return c.alive.Load() })
	return c, nil
}

// Close ends this Coordinator's lease on the circuit manager: any
// fetch goroutine still in flight will see ErrManagerDropped the next
// time it tries to upgrade its weak reference.
func (c *Coordinator) Close() {
	c.alive.Store(false)
}

// Status returns the lossy bootstrap-status publish channel: only the
// latest value is guaranteed to be observed by a consumer that isn't
// keeping up.
func (c *Coordinator) Status() <-chan dirstate.BootstrapStatus { return c.statusCh }

// Usable returns a channel that closes exactly once, the first time
// the directory state this Coordinator is driving becomes Usable.
func (c *Coordinator) Usable() <-chan struct{} { return c.usableCh }

func (c *Coordinator) publish(status dirstate.BootstrapStatus) {
	metrics.SetBootstrapFraction(status.Fraction)
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	for {
		select {
		case c.statusCh <- status:
			return
		default:
		}
		select {
		case <-c.statusCh:
		default:
		}
	}
}

func (c *Coordinator) fireUsable() {
	c.usableOnce.Do(func() { close(c.usableCh) })
}

// Run drives state from wherever it currently is toward Complete. It
// returns the final state reached (so a caller whose retry budget was
// exhausted can resume later with the same state) and, on anything
// short of Complete, ErrCantAdvanceState or whatever fatal error ended
// the run early (context cancellation, a broken DirState implementation,
// or the manager being dropped mid-flight).
func (c *Coordinator) Run(ctx context.Context, state dirstate.DirState) (dirstate.DirState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		// Drain whatever the cache already has before touching the
		// network, every time around this loop: a phase reached via
		// Advance or a reset deadline may already be fully satisfiable
		// from cache, and must not pay for a network round-trip it
		// doesn't need.
		var err error
		state, err = load(ctx, state, c.store, c.publish)
		if err != nil {
			return state, err
		}
		if state.IsReady(dirstate.Usable) {
			c.fireUsable()
		}
		if state.IsReady(dirstate.Complete) {
			return state, nil
		}

		schedule, err := state.DLConfig()
		if err != nil {
			return state, fmt.Errorf("reading download schedule: %w", err)
		}
		retry := schedule.Schedule()

		resetAt, hasReset := state.ResetTime()
		resetDeadline := noMoreThanAWeekFrom(c.sleeper.Wallclock(), resetAt, hasReset)

		madeProgress := false

		for _, attempt := range schedule.Attempts() {
			if err := ctx.Err(); err != nil {
				return state, err
			}
			if _, err := c.weak.Upgrade(); err != nil {
				return state, ErrManagerDropped
			}

			if attempt > 0 {
				delay := retry.NextDelay()
				resetFired, err := racePreDelay(ctx, c.sleeper, delay, resetDeadline)
				if err != nil {
					return state, err
				}
				if resetFired {
					state, madeProgress, err = c.resetState(state)
					if err != nil {
						return state, err
					}
					break
				}
			}

			now := c.sleeper.Wallclock()
			curState := state
			resetFired, outcome := runAttemptRacingDeadline(ctx, c.sleeper, resetDeadline, func(ctx2 context.Context) (bool, error) {
				return downloadAttempt(ctx2, now, curState, c.store, int(schedule.Parallelism), c.weak, c.client)
			})
			if resetFired {
				state, madeProgress, err = c.resetState(state)
				if err != nil {
					return state, err
				}
				break
			}
			if outcome.err != nil {
				if errors.Is(outcome.err, ErrManagerDropped) {
					return state, outcome.err
				}
				log.WithError(outcome.err).WithField("state", state.Describe()).Warn("bootstrap: download attempt failed, retrying")
				continue
			}
			if outcome.changed {
				c.publish(state.BootstrapStatus())
			}
			if state.IsReady(dirstate.Usable) {
				c.fireUsable()
			}
			if state.IsReady(dirstate.Complete) {
				return state, nil
			}
			if state.CanAdvance() {
				next, err := state.Advance()
				if err != nil {
					return state, fmt.Errorf("advancing directory state: %w", err)
				}
				state = next
				c.publish(state.BootstrapStatus())
				madeProgress = true
				break
			}
		}

		if madeProgress {
			continue
		}
		return state, ErrCantAdvanceState
	}
}

func (c *Coordinator) resetState(state dirstate.DirState) (dirstate.DirState, bool, error) {
	metrics.ObserveReset(state.Describe())
	next, err := state.Reset()
	if err != nil {
		return state, false, fmt.Errorf("resetting directory state: %w", err)
	}
	c.publish(next.BootstrapStatus())
	return next, true, nil
}
