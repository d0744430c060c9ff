// Package memstore is an in-memory store.Store, used by tests and by
// short-lived tooling that doesn't need a persistent cache.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/store"
)

type consensusMeta struct {
	validAfter time.Time
	digest     docid.Digest
}

func (m consensusMeta) ValidAfter() time.Time      { return m.validAfter }
func (m consensusMeta) DigestOfSigned() docid.Digest { return m.digest }

// Store is a map-backed store.Store. The zero value is not usable; use
// New.
type Store struct {
	mu sync.Mutex

	consensusMeta map[docid.Flavor]consensusMeta
	docs          map[docid.ID]docid.Text
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		consensusMeta: make(map[docid.Flavor]consensusMeta),
		docs:          make(map[docid.ID]docid.Text),
	}
}

func (s *Store) LatestConsensusMeta(flavor docid.Flavor) (store.Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.consensusMeta[flavor]
	if !ok {
		return nil, nil
	}
	return m, nil
}

// StoreMicrodescs persists a batch of microdescriptors, ignoring when:
// the in-memory store neither records arrival times nor expires
// entries itself.
func (s *Store) StoreMicrodescs(_ context.Context, pairs []store.MicrodescPair, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		id := docid.Microdesc(p.Digest)
		s.docs[id] = docid.Text{Digest: p.Digest, Body: p.Body}
	}
	return nil
}

// StoreConsensus records consensus metadata so a later
// LatestConsensusMeta call can see it. This is outside the store.Store
// interface proper (real backends would derive it from the stored
// consensus body), but is convenient for tests and demos that need to
// seed cache state directly.
func (s *Store) StoreConsensus(flavor docid.Flavor, validAfter time.Time, digest docid.Digest, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consensusMeta[flavor] = consensusMeta{validAfter: validAfter, digest: digest}
	s.docs[docid.LatestConsensus(flavor)] = docid.Text{Digest: digest, Body: body}
}

func (s *Store) Load(_ context.Context, ids []docid.ID, into map[docid.ID]docid.Text) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if text, ok := s.docs[id]; ok {
			into[id] = text
		}
	}
	return nil
}

var _ store.Store = (*Store)(nil)
