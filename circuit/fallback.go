package circuit

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// directConn is a Circuit backed by a direct (unwrapped) connection to a
// bootstrap-known fallback relay, used before any network view exists to
// build real anonymous circuits through.
type directConn struct {
	source Source
}

func (d directConn) Source() Source { return d.source }

// FallbackManager is a Manager that always returns a direct connection
// to one of a fixed list of fallback relays, round-robin, and tracks
// per-source error counts in a bounded LRU cache so that a source which
// fails repeatedly can be deprioritized without the failure history
// growing without bound across a long-running process.
type FallbackManager struct {
	mu        sync.Mutex
	relays    []string
	next      int
	failures  *lru.Cache[string, int]
}

// NewFallbackManager returns a FallbackManager that round-robins over
// relays. It panics if relays is empty or capacity is non-positive:
// both are programmer errors, not runtime conditions.
func NewFallbackManager(relays []string, capacity int) *FallbackManager {
	if len(relays) == 0 {
		panic("circuit: NewFallbackManager requires at least one fallback relay")
	}
	cache, err := lru.New[string, int](capacity)
	if err != nil {
		panic(fmt.Sprintf("circuit: building failure-tracking cache: %v", err))
	}
	return &FallbackManager{relays: relays, failures: cache}
}

func (m *FallbackManager) BuildOrUseDirectoryCircuit(ctx context.Context) (Circuit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Prefer a relay we haven't seen fail recently; fall back to plain
	// round-robin if every candidate has some failure history.
	for i := 0; i < len(m.relays); i++ {
		idx := (m.next + i) % len(m.relays)
		if n, ok := m.failures.Get(m.relays[idx]); !ok || n == 0 {
			m.next = (idx + 1) % len(m.relays)
			return directConn{source: Source{Identity: m.relays[idx]}}, nil
		}
	}
	idx := m.next
	m.next = (m.next + 1) % len(m.relays)
	return directConn{source: Source{Identity: m.relays[idx]}}, nil
}

func (m *FallbackManager) NoteCacheSuccess(source Source) {
	m.failures.Remove(source.Identity)
}

func (m *FallbackManager) NoteCacheError(source Source, err error) {
	m.mu.Lock()
	n, _ := m.failures.Get(source.Identity)
	m.failures.Add(source.Identity, n+1)
	m.mu.Unlock()
	log.WithFields(log.Fields{"source": source.Identity, "failures": n + 1}).
		WithError(err).Warn("directory source reported an error")
}

var _ Manager = (*FallbackManager)(nil)
