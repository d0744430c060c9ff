// Package dirstate defines the opaque state-machine abstraction the
// bootstrap driver advances: DirState. Concrete phases live in phases.go;
// a minimal test double lives in the dirstatetest subpackage.
package dirstate

import (
	"context"
	"time"

	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/store"
)

// Readiness is a level of directory completeness a DirState may report.
type Readiness int

const (
	// Usable means the client can begin building non-directory circuits.
	Usable Readiness = iota
	// Complete means the network view is fully populated.
	Complete
)

func (r Readiness) String() string {
	if r == Usable {
		return "usable"
	}
	return "complete"
}

// BootstrapStatus is a progress snapshot, consumed by an external
// publisher (see bootstrap.Coordinator's status channel).
type BootstrapStatus struct {
	// Description is the current state's human-readable tag.
	Description string
	// Fraction is a coarse completion estimate in [0, 1]. The last
	// status emitted before Complete must read 1.0.
	Fraction float64
}

// DirState is an opaque state-machine node. It is mutated only through
// AddFromCache, AddFromDownload, Advance, and Reset; ownership is
// exclusive to whichever driver call currently holds it.
//
// MissingDocs must never grow across Add* calls within a single phase:
// once a document is no longer "missing", no subsequent Add* call may
// reintroduce it as missing again short of a full Reset.
//
// CanAdvance is not assumed to be monotonic: an implementation may
// legitimately report true and then later false again, for instance if a
// download invalidated previously-accepted data.
type DirState interface {
	// Describe returns a short human-readable tag for logs and tests.
	Describe() string

	// BootstrapStatus summarizes current progress.
	BootstrapStatus() BootstrapStatus

	// IsReady reports whether this state has reached the given
	// readiness level.
	IsReady(r Readiness) bool

	// CanAdvance reports whether enough has been collected to
	// transition to the next phase.
	CanAdvance() bool

	// MissingDocs lists the documents this state still needs.
	MissingDocs() []docid.ID

	// AddFromCache merges cached documents into the state. It reports
	// whether anything changed. A stale ("cache expired") entry is not
	// an error: implementations should simply treat it as absent.
	AddFromCache(ctx context.Context, docs map[docid.ID]docid.Text, st store.Store) (bool, error)

	// AddFromDownload merges one freshly-downloaded response into the
	// state, keyed by the request that produced it. It reports whether
	// anything changed.
	AddFromDownload(ctx context.Context, text string, req docid.ClientRequest, st store.Store) (bool, error)

	// DLConfig returns the retry schedule and parallelism this phase
	// should use for downloads.
	DLConfig() (DownloadSchedule, error)

	// Advance consumes self and returns the next state. If CanAdvance()
	// is false, Advance returns the receiver unchanged.
	Advance() (DirState, error)

	// ResetTime is the wall-clock deadline after which this phase is no
	// longer valid and must be reset, if any.
	ResetTime() (deadline time.Time, ok bool)

	// Reset restarts this phase from scratch, discarding any partial
	// progress.
	Reset() (DirState, error)
}
