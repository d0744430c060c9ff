// Package store defines the contract the bootstrap driver uses to load
// cached directory documents and persist freshly downloaded ones. The
// driver never assumes a particular backing format; see the memstore and
// sqlitestore subpackages for two concrete implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sambacha/mirror-arti/docid"
)

// Sentinel errors a Store may wrap with fmt.Errorf("...: %w", ...).
// The bootstrap driver treats all three as fatal to the current load
// attempt, but never fatal to the overall bootstrap process.
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrCorrupt          = errors.New("store contents corrupt")
	ErrIo               = errors.New("store io error")
)

// Meta describes what's cached about the latest consensus of some
// flavor. It is an alias for docid.ConsensusMeta (rather than a
// structurally-identical redeclaration) so that a Store is usable
// anywhere a docid.ConsensusMetaSource is expected without a wrapper:
// Go only treats a method's result as satisfying an interface-typed
// return position when the types are identical, not merely
// structurally compatible.
type Meta = docid.ConsensusMeta

// MicrodescPair is a single microdescriptor body paired with the digest
// it should be stored and later retrieved under.
type MicrodescPair struct {
	Digest docid.Digest
	Body   []byte
}

// Store is the read/write contract the bootstrap driver uses. All
// methods may be called concurrently by readers. The driver takes no
// lock of its own around the store; the Locked helper in this package
// wraps a Store in a single mutual-exclusion lock held only for the
// duration of one call (never across a suspension point), and the
// dirmgr-bootstrap command wraps its store that way.
type Store interface {
	// LatestConsensusMeta returns the cached metadata for the current
	// consensus of the given flavor, or (nil, nil) if none is cached.
	LatestConsensusMeta(flavor docid.Flavor) (Meta, error)

	// StoreMicrodescs persists a batch of microdescriptors with an
	// arrival timestamp. It is idempotent: storing the same digest
	// twice is not an error and does not duplicate data.
	StoreMicrodescs(ctx context.Context, pairs []MicrodescPair, when time.Time) error

	// Load populates into with every requested id this store has
	// cached, keyed by the id. IDs with no cached entry are simply
	// absent from into; that is not an error.
	Load(ctx context.Context, ids []docid.ID, into map[docid.ID]docid.Text) error
}
