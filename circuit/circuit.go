// Package circuit defines the circuit manager collaborator the download
// driver uses to route directory fetches over the anonymity network
// once a network view exists, falling back to a hardcoded relay list
// before it does.
package circuit

import (
	"context"
	"errors"
)

// ErrManagerDropped is returned when a weak reference to the directory
// manager fails to upgrade: the manager has been shut down and the
// worker holding the weak reference must abandon its operation.
var ErrManagerDropped = errors.New("directory manager dropped")

// DirectoryParallelism is the launch parallelism the reference circuit
// manager uses for directory traffic. Nothing in this module reads it:
// FallbackManager hands out one direct connection per call, and the
// download driver's concurrency comes from each phase's
// DownloadSchedule.Parallelism.
const DirectoryParallelism = 3

// Source identifies the directory peer (relay or fallback) a response
// came from, for success/failure attribution.
type Source struct {
	// Identity is an opaque string identifying the relay or fallback;
	// callers should not assume any particular format.
	Identity string
}

// Circuit is a built anonymous circuit usable for directory traffic.
type Circuit interface {
	// Source identifies which relay this circuit's directory hop is.
	Source() Source
}

// Manager is the circuit manager collaborator: it builds (or reuses) a
// circuit suitable for directory traffic, and is told the outcome of
// requests made over circuits it built so that repeatedly-failing
// sources can be penalized.
type Manager interface {
	// BuildOrUseDirectoryCircuit returns a circuit usable for directory
	// traffic. It may return a freshly built circuit or reuse an
	// existing one.
	BuildOrUseDirectoryCircuit(ctx context.Context) (Circuit, error)

	// NoteCacheSuccess records that a request against source succeeded.
	NoteCacheSuccess(source Source)

	// NoteCacheError records that a request against source failed with
	// err, so that a source which fails repeatedly can be deprioritized
	// or skipped.
	NoteCacheError(source Source, err error)
}

// WeakManager is a non-owning view of a Manager: worker tasks hold this
// instead of a strong reference, so that releasing the manager's last
// strong reference promptly halts its workers instead of being kept
// alive by them.
type WeakManager struct {
	get func() (Manager, bool)
}

// NewWeakManager wraps mgr so that Upgrade succeeds exactly as long as
// the caller-supplied liveness check alive reports true. Callers
// typically back alive with a sync/atomic flag or a context's Done
// channel cleared on shutdown.
func NewWeakManager(mgr Manager, alive func() bool) WeakManager {
	return WeakManager{get: func() (Manager, bool) {
		if !alive() {
			return nil, false
		}
		return mgr, true
	}}
}

// Upgrade attempts to recover a strong reference to the manager. It
// fails with ErrManagerDropped once the manager has been shut down.
func (w WeakManager) Upgrade() (Manager, error) {
	mgr, ok := w.get()
	if !ok {
		return nil, ErrManagerDropped
	}
	return mgr, nil
}
