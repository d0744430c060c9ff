package clock

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MockSleepProvider is a test-only SleepProvider that ignores the real
// clock and instead keeps its own monotonic and wall-clock view of the
// current time. Advance moves both forward in step and wakes any
// pending sleepers whose deadline has passed, in deadline order. JumpTo
// moves only the wall clock, simulating a clock discontinuity without
// affecting anything already sleeping on the monotonic clock.
//
// This is not for production use.
type MockSleepProvider struct {
	mu sync.Mutex

	elapsed   time.Duration // monotonic time elapsed since creation
	wallclock time.Time
	sleepers  sleeperHeap
}

// NewMockSleepProvider creates a MockSleepProvider starting at the given
// wall-clock time.
func NewMockSleepProvider(wallclock time.Time) *MockSleepProvider {
	return &MockSleepProvider{wallclock: wallclock}
}

type sleeperEntry struct {
	when  time.Duration
	ch    chan struct{}
	index int
}

// sleeperHeap is a container/heap min-heap ordered by deadline.
type sleeperHeap []*sleeperEntry

func (h sleeperHeap) Len() int            { return len(h) }
func (h sleeperHeap) Less(i, j int) bool  { return h[i].when < h[j].when }
func (h sleeperHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *sleeperHeap) Push(x any) {
	e := x.(*sleeperEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *sleeperHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

func (p *MockSleepProvider) Wallclock() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wallclock
}

// Advance moves the simulated timeline forward by dur, waking any
// pending sleepers whose deadline has now passed, earliest first.
func (p *MockSleepProvider) Advance(dur time.Duration) {
	p.mu.Lock()
	p.wallclock = p.wallclock.Add(dur)
	p.elapsed += dur
	var fired []chan struct{}
	for p.sleepers.Len() > 0 && p.sleepers[0].when <= p.elapsed {
		e := heap.Pop(&p.sleepers).(*sleeperEntry)
		fired = append(fired, e.ch)
	}
	p.mu.Unlock()

	for _, ch := range fired {
		close(ch)
	}
}

// JumpTo simulates a discontinuity in the system clock by moving only
// the wall clock to newWallclock. Pending Sleep calls, which are keyed
// on the monotonic clock, are unaffected; a SleepUntilWallclock call
// made after the jump will recompute its duration against the new wall
// clock.
func (p *MockSleepProvider) JumpTo(newWallclock time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallclock = newWallclock
}

func (p *MockSleepProvider) Sleep(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dur <= 0 {
		return nil
	}

	p.mu.Lock()
	deadline := p.elapsed + dur
	if p.elapsed >= deadline {
		p.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	heap.Push(&p.sleepers, &sleeperEntry{when: deadline, ch: ch})
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MockSleepProvider) SleepUntilWallclock(ctx context.Context, t time.Time) error {
	p.mu.Lock()
	dur := t.Sub(p.wallclock)
	p.mu.Unlock()
	return p.Sleep(ctx, dur)
}

var _ SleepProvider = (*MockSleepProvider)(nil)
