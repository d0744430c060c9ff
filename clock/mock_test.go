package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockSleepProviderWakesInOrder(t *testing.T) {
	p := NewMockSleepProvider(time.Now())
	oneHour := time.Hour

	var b1, b2, b3 atomic.Bool
	var wg sync.WaitGroup
	wg.Add(3)

	go func() { defer wg.Done(); _ = p.Sleep(context.Background(), oneHour); b1.Store(true) }()
	go func() { defer wg.Done(); _ = p.Sleep(context.Background(), oneHour*3); b2.Store(true) }()
	go func() { defer wg.Done(); _ = p.Sleep(context.Background(), oneHour*5); b3.Store(true) }()

	// Give the goroutines a chance to register before advancing.
	time.Sleep(10 * time.Millisecond)

	p.Advance(oneHour * 2)
	waitUntil(t, func() bool { return b1.Load() })
	require.False(t, b2.Load())
	require.False(t, b3.Load())

	p.Advance(oneHour * 2)
	waitUntil(t, func() bool { return b2.Load() })
	require.False(t, b3.Load())

	p.Advance(oneHour * 2)
	waitUntil(t, func() bool { return b3.Load() })

	wg.Wait()
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMockSleepProviderSleepZeroIsImmediate(t *testing.T) {
	p := NewMockSleepProvider(time.Now())
	require.NoError(t, p.Sleep(context.Background(), 0))
}

func TestMockSleepProviderJumpToDoesNotWakeSleepers(t *testing.T) {
	p := NewMockSleepProvider(time.Now())
	done := make(chan struct{})
	go func() {
		_ = p.Sleep(context.Background(), time.Hour)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	p.JumpTo(p.Wallclock().Add(30 * 24 * time.Hour))

	select {
	case <-done:
		t.Fatal("JumpTo must not wake a pending Sleep, which is keyed on the monotonic clock")
	case <-time.After(20 * time.Millisecond):
	}

	p.Advance(time.Hour)
	waitUntil(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
}

func TestSleepUntilWallclockRecomputesAfterJump(t *testing.T) {
	p := NewMockSleepProvider(time.Now())
	target := p.Wallclock().Add(time.Hour)

	p.JumpTo(target) // wall clock already past target; monotonic clock untouched.

	done := make(chan error, 1)
	go func() { done <- p.SleepUntilWallclock(context.Background(), target) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SleepUntilWallclock should return immediately once wallclock already reached target")
	}
}
