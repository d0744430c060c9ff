// Package dirstatetest provides a minimal DirState double used by the
// bootstrap package's end-to-end tests. It wants a fixed set of
// microdescriptors and doesn't care how it gets them, mirroring the
// demo state machine the reference directory manager itself uses in
// its own test suite.
package dirstatetest

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sambacha/mirror-arti/dirstate"
	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/store"
)

// Five arbitrary 32-byte digests used as fixture data across the
// bootstrap package's end-to-end tests.
var (
	D1 = fixtureDigest("the first relay you ever connect through")
	D2 = fixtureDigest("never tells you its real name or address")
	D3 = fixtureDigest("the second and third hops trust each other")
	D4 = fixtureDigest("only by the circuit that was built between")
	D5 = fixtureDigest("them, one cell at a time, onion-wrapped----")
)

func fixtureDigest(s string) docid.Digest {
	var d docid.Digest
	copy(d[:], s)
	return d
}

// DemoState is a DirState that wants a fixed set of microdescriptors.
// Its first phase wants two of them; once both are in hand, Advance
// produces a second phase that wants the remaining three. It never
// reports CanAdvance once in its second phase: it reports Complete
// directly instead, exactly as the bootstrap download loop expects from
// a terminal phase.
type DemoState struct {
	secondPhase   bool
	wanted        map[docid.Digest]bool // digest -> have
	resetDeadline time.Time
}

// NewDemoState1 returns the first-phase demo state, wanting D1 and D2.
func NewDemoState1() *DemoState {
	return &DemoState{wanted: map[docid.Digest]bool{D1: false, D2: false}}
}

// NewDemoState2 returns the second-phase demo state, wanting D3, D4, D5.
func NewDemoState2() *DemoState {
	return &DemoState{secondPhase: true, wanted: map[docid.Digest]bool{D3: false, D4: false, D5: false}}
}

func (s *DemoState) nReady() int {
	n := 0
	for _, got := range s.wanted {
		if got {
			n++
		}
	}
	return n
}

func (s *DemoState) Describe() string {
	return fmt.Sprintf("DemoState{second=%v, ready=%d/%d}", s.secondPhase, s.nReady(), len(s.wanted))
}

func (s *DemoState) BootstrapStatus() dirstate.BootstrapStatus {
	frac := 0.0
	if len(s.wanted) > 0 {
		frac = float64(s.nReady()) / float64(len(s.wanted))
	}
	return dirstate.BootstrapStatus{Description: s.Describe(), Fraction: frac}
}

func (s *DemoState) IsReady(r dirstate.Readiness) bool {
	if !s.secondPhase {
		return false
	}
	switch r {
	case dirstate.Complete:
		return s.nReady() == len(s.wanted)
	default: // Usable
		return s.nReady() >= len(s.wanted)-1
	}
}

func (s *DemoState) CanAdvance() bool {
	if s.secondPhase {
		return false
	}
	return s.nReady() == len(s.wanted)
}

func (s *DemoState) MissingDocs() []docid.ID {
	var out []docid.ID
	for digest, got := range s.wanted {
		if !got {
			out = append(out, docid.Microdesc(digest))
		}
	}
	return out
}

func (s *DemoState) AddFromCache(_ context.Context, docs map[docid.ID]docid.Text, _ store.Store) (bool, error) {
	changed := false
	for id := range docs {
		if id.Kind() != docid.KindMicrodesc {
			continue
		}
		if got, tracked := s.wanted[id.Digest()]; tracked && !got {
			s.wanted[id.Digest()] = true
			changed = true
		}
	}
	return changed, nil
}

func (s *DemoState) AddFromDownload(_ context.Context, text string, _ docid.ClientRequest, _ store.Store) (bool, error) {
	changed := false
	for _, tok := range strings.Fields(text) {
		raw, err := hex.DecodeString(tok)
		if err != nil || len(raw) != len(docid.Digest{}) {
			continue
		}
		var digest docid.Digest
		copy(digest[:], raw)
		if got, tracked := s.wanted[digest]; tracked && !got {
			s.wanted[digest] = true
			changed = true
		}
	}
	return changed, nil
}

func (s *DemoState) DLConfig() (dirstate.DownloadSchedule, error) {
	return dirstate.DefaultDownloadSchedule(), nil
}

func (s *DemoState) Advance() (dirstate.DirState, error) {
	if !s.CanAdvance() {
		return s, nil
	}
	return NewDemoState2(), nil
}

func (s *DemoState) ResetTime() (time.Time, bool) {
	if s.resetDeadline.IsZero() {
		return time.Time{}, false
	}
	return s.resetDeadline, true
}

func (s *DemoState) Reset() (dirstate.DirState, error) {
	return NewDemoState1(), nil
}

// WithResetDeadline returns s with a wall-clock reset deadline attached,
// used by tests of the two-timer race in the download loop.
func (s *DemoState) WithResetDeadline(t time.Time) *DemoState {
	s.resetDeadline = t
	return s
}

var _ dirstate.DirState = (*DemoState)(nil)
