package dirstate

import (
	"math/rand/v2"
	"time"
)

// DownloadSchedule configures a phase's retry behavior: how many
// attempts to make, the base delay between them, whether to jitter that
// delay, and how many requests may be in flight at once.
type DownloadSchedule struct {
	NAttempts  uint32
	BaseDelay  time.Duration
	Jitter     bool
	Parallelism uint8
}

// DefaultDownloadSchedule is a reasonable default for phases that don't
// need anything special: three attempts with a one-second base delay
// (see NextDelay), jittered, four requests in flight at a time.
func DefaultDownloadSchedule() DownloadSchedule {
	return DownloadSchedule{
		NAttempts:   3,
		BaseDelay:   time.Second,
		Jitter:      true,
		Parallelism: 4,
	}
}

// Attempts returns the 0-based attempt indices this schedule will make.
func (c DownloadSchedule) Attempts() []int {
	out := make([]int, c.NAttempts)
	for i := range out {
		out[i] = i
	}
	return out
}

// Retry produces the sequence of delays between attempts, one per
// attempt-to-attempt gap, consumed in order by NextDelay.
type Retry struct {
	base   time.Duration
	jitter bool
	n      int
}

// Schedule returns a fresh Retry sequence generator for this config.
func (c DownloadSchedule) Schedule() *Retry {
	return &Retry{base: c.BaseDelay, jitter: c.Jitter}
}

// NextDelay returns the delay before the next attempt. Delay grows
// linearly with attempt number (base, 2*base, 3*base, ...); when Jitter
// is set, up to an additional 50% of that delay is added at random so
// that many clients retrying in lockstep don't all hit a directory cache
// at the same instant.
func (r *Retry) NextDelay() time.Duration {
	r.n++
	delay := r.base * time.Duration(r.n)
	if r.jitter && delay > 0 {
		delay += time.Duration(rand.Int64N(int64(delay) / 2))
	}
	return delay
}
