package dirstate

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/store"
)

// phaseKind distinguishes the three phases a real bootstrap passes
// through: consensus, then certificates, then microdescriptors.
type phaseKind int

const (
	phaseConsensus phaseKind = iota
	phaseCerts
	phaseMicrodescs
)

// consensusManifest is the trivial stand-in this repo uses for the real
// Tor consensus grammar, which spec.md §1 explicitly keeps external. It
// names, as whitespace-separated hex tokens on two lines, the
// certificates and microdescriptors the consensus references:
//
//	CERTS <identity:digest> <identity:digest> ...
//	MDS <digest> <digest> ...
//
// A production system would replace consensusManifest's parsing with a
// real netdoc parser; nothing else in ThreePhase depends on the format.
type consensusManifest struct {
	certs      []docid.ID
	microdescs []docid.ID
}

func parseConsensusManifest(text string) (consensusManifest, error) {
	var m consensusManifest
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "CERTS":
			for _, tok := range fields[1:] {
				idHex, digestHex, ok := strings.Cut(tok, ":")
				if !ok {
					return m, fmt.Errorf("malformed cert reference %q", tok)
				}
				var identity docid.Identity
				var digest docid.Digest
				if err := decodeFixed(idHex, identity[:]); err != nil {
					return m, err
				}
				if err := decodeFixed(digestHex, digest[:]); err != nil {
					return m, err
				}
				m.certs = append(m.certs, docid.AuthCert(identity, digest))
			}
		case "MDS":
			for _, tok := range fields[1:] {
				var digest docid.Digest
				if err := decodeFixed(tok, digest[:]); err != nil {
					return m, err
				}
				m.microdescs = append(m.microdescs, docid.Microdesc(digest))
			}
		}
	}
	return m, nil
}

func decodeFixed(h string, out []byte) error {
	b, err := hex.DecodeString(h)
	if err != nil {
		return fmt.Errorf("decoding hex token %q: %w", h, err)
	}
	n := copy(out, b)
	if n != len(out) {
		return fmt.Errorf("token %q decodes to %d bytes, want %d", h, len(b), len(out))
	}
	return nil
}

// ThreePhase is the production-shaped DirState: consensus, then
// authority certificates, then microdescriptors, each phase downloading
// only what the previous phase named as required.
type ThreePhase struct {
	kind   phaseKind
	flavor docid.Flavor

	resetDeadline    time.Time
	hasResetDeadline bool

	consensusManifest consensusManifest
	haveConsensus     bool

	have map[docid.ID]bool
}

// NewBootstrap returns the initial ThreePhase state: waiting on the
// current consensus of flavor.
func NewBootstrap(flavor docid.Flavor) *ThreePhase {
	return &ThreePhase{kind: phaseConsensus, flavor: flavor}
}

func (s *ThreePhase) Describe() string {
	switch s.kind {
	case phaseConsensus:
		return fmt.Sprintf("awaiting consensus(%s)", s.flavor)
	case phaseCerts:
		return fmt.Sprintf("awaiting %d/%d certificates", s.nMissing(), len(s.have))
	default:
		return fmt.Sprintf("awaiting %d/%d microdescriptors", s.nMissing(), len(s.have))
	}
}

func (s *ThreePhase) nMissing() int {
	n := 0
	for _, got := range s.have {
		if !got {
			n++
		}
	}
	return n
}

func (s *ThreePhase) BootstrapStatus() BootstrapStatus {
	switch s.kind {
	case phaseConsensus:
		frac := 0.0
		if s.haveConsensus {
			frac = 1.0 / 3
		}
		return BootstrapStatus{Description: s.Describe(), Fraction: frac}
	case phaseCerts:
		return BootstrapStatus{Description: s.Describe(), Fraction: 1.0/3 + s.phaseFraction()/3}
	default:
		return BootstrapStatus{Description: s.Describe(), Fraction: 2.0/3 + s.phaseFraction()/3}
	}
}

func (s *ThreePhase) phaseFraction() float64 {
	if len(s.have) == 0 {
		return 1
	}
	got := len(s.have) - s.nMissing()
	return float64(got) / float64(len(s.have))
}

func (s *ThreePhase) IsReady(r Readiness) bool {
	if s.kind != phaseMicrodescs {
		return false
	}
	if r == Complete {
		return s.nMissing() == 0
	}
	// Usable: all but (up to) one microdescriptor in hand is enough to
	// start building ordinary circuits.
	return s.nMissing() <= 1
}

func (s *ThreePhase) CanAdvance() bool {
	switch s.kind {
	case phaseConsensus:
		return s.haveConsensus
	case phaseCerts:
		return s.nMissing() == 0
	default:
		return false // microdescs phase advances by becoming Complete, not by Advance().
	}
}

func (s *ThreePhase) MissingDocs() []docid.ID {
	switch s.kind {
	case phaseConsensus:
		if s.haveConsensus {
			return nil
		}
		return []docid.ID{docid.LatestConsensus(s.flavor)}
	default:
		var out []docid.ID
		for id, got := range s.have {
			if !got {
				out = append(out, id)
			}
		}
		return out
	}
}

func (s *ThreePhase) AddFromCache(_ context.Context, docs map[docid.ID]docid.Text, _ store.Store) (bool, error) {
	return s.ingest(docs)
}

func (s *ThreePhase) AddFromDownload(_ context.Context, text string, req docid.ClientRequest, _ store.Store) (bool, error) {
	switch s.kind {
	case phaseConsensus:
		if req.Kind() != docid.KindLatestConsensus {
			return false, nil
		}
		manifest, err := parseConsensusManifest(text)
		if err != nil {
			return false, err
		}
		s.consensusManifest = manifest
		s.haveConsensus = true
		return true, nil
	case phaseCerts:
		docs := map[docid.ID]docid.Text{}
		for _, tok := range strings.Fields(text) {
			idHex, digestHex, ok := strings.Cut(tok, ":")
			if !ok {
				continue // not a cert reference token; ignore.
			}
			var identity docid.Identity
			var digest docid.Digest
			if decodeFixed(idHex, identity[:]) != nil || decodeFixed(digestHex, digest[:]) != nil {
				continue
			}
			id := docid.AuthCert(identity, digest)
			docs[id] = docid.Text{Digest: digest, Body: []byte(tok)}
		}
		return s.ingest(docs)
	default:
		docs := map[docid.ID]docid.Text{}
		for _, tok := range strings.Fields(text) {
			b, err := hex.DecodeString(tok)
			if err != nil || len(b) != len(docid.Digest{}) {
				continue // not a digest token; ignore.
			}
			var digest docid.Digest
			copy(digest[:], b)
			docs[docid.Microdesc(digest)] = docid.Text{Digest: digest, Body: b}
		}
		return s.ingest(docs)
	}
}

func (s *ThreePhase) ingest(docs map[docid.ID]docid.Text) (bool, error) {
	changed := false
	for id := range docs {
		if got, tracked := s.have[id]; tracked && !got {
			s.have[id] = true
			changed = true
		}
	}
	return changed, nil
}

func (s *ThreePhase) DLConfig() (DownloadSchedule, error) {
	return DefaultDownloadSchedule(), nil
}

func (s *ThreePhase) Advance() (DirState, error) {
	if !s.CanAdvance() {
		return s, nil
	}
	switch s.kind {
	case phaseConsensus:
		have := make(map[docid.ID]bool, len(s.consensusManifest.certs))
		for _, id := range s.consensusManifest.certs {
			have[id] = false
		}
		return &ThreePhase{
			kind:              phaseCerts,
			flavor:            s.flavor,
			consensusManifest: s.consensusManifest,
			haveConsensus:     true,
			have:              have,
		}, nil
	case phaseCerts:
		have := make(map[docid.ID]bool, len(s.consensusManifest.microdescs))
		for _, id := range s.consensusManifest.microdescs {
			have[id] = false
		}
		return &ThreePhase{
			kind:              phaseMicrodescs,
			flavor:            s.flavor,
			consensusManifest: s.consensusManifest,
			haveConsensus:     true,
			have:              have,
		}, nil
	default:
		return s, nil
	}
}

func (s *ThreePhase) ResetTime() (time.Time, bool) {
	return s.resetDeadline, s.hasResetDeadline
}

// WithResetDeadline returns a copy of s with a wall-clock reset deadline
// set. Used by tests that exercise the two-timer race.
func (s *ThreePhase) WithResetDeadline(t time.Time) *ThreePhase {
	cp := *s
	cp.resetDeadline = t
	cp.hasResetDeadline = true
	return &cp
}

func (s *ThreePhase) Reset() (DirState, error) {
	return NewBootstrap(s.flavor), nil
}

var _ DirState = (*ThreePhase)(nil)
