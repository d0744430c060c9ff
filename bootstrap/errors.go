package bootstrap

import "errors"

// Sentinel errors identifying the taxonomy spec'd for this driver. They
// exist for errors.Is checks at call sites; the differentiated recovery
// policy itself lives in loader.go/download.go, not here.
var (
	// ErrCantAdvanceState is returned by Coordinator.Run when a phase's
	// retry budget is exhausted without the state becoming able to
	// advance. Run also returns the state reached so far, so the caller
	// may retry later with it.
	ErrCantAdvanceState = errors.New("bootstrap: exhausted retries without advancing directory state")

	// ErrManagerDropped is returned in place of circuit.ErrManagerDropped
	// once a weak manager reference fails to upgrade, so callers can
	// check for it without importing circuit themselves.
	ErrManagerDropped = errors.New("bootstrap: circuit manager was dropped")

	// ErrDocumentParseFatal is available for DirState implementations to
	// wrap around a severe state-update failure. Nothing in this driver
	// raises it or checks for it: an AddFromDownload error wrapping it is
	// logged and attributed to its source like any other, and the
	// download loop carries on.
	ErrDocumentParseFatal = errors.New("bootstrap: fatal document parse error")
)
