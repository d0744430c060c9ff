package store

import (
	"context"
	"sync"
	"time"

	"github.com/sambacha/mirror-arti/docid"
)

// Locked wraps a Store with a single mutual-exclusion lock, acquired for
// the duration of each call and never held across a suspension point.
// This is the discipline spec.md §5 requires of the shared Store: many
// concurrent readers are fine at the interface level, but the reference
// driver always goes through a single lock per manager instance.
type Locked struct {
	mu    sync.Mutex
	inner Store
}

// NewLocked wraps inner so that every Store method acquires mu first.
func NewLocked(inner Store) *Locked {
	return &Locked{inner: inner}
}

func (l *Locked) LatestConsensusMeta(flavor docid.Flavor) (Meta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.LatestConsensusMeta(flavor)
}

func (l *Locked) StoreMicrodescs(ctx context.Context, pairs []MicrodescPair, when time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.StoreMicrodescs(ctx, pairs, when)
}

func (l *Locked) Load(ctx context.Context, ids []docid.ID, into map[docid.ID]docid.Text) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Load(ctx, ids, into)
}

var _ Store = (*Locked)(nil)
