package docid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeMeta struct {
	validAfter time.Time
	digest     Digest
}

func (m fakeMeta) ValidAfter() time.Time  { return m.validAfter }
func (m fakeMeta) DigestOfSigned() Digest { return m.digest }

type fakeMetaSource struct {
	meta ConsensusMeta
	err  error
}

func (s fakeMetaSource) LatestConsensusMeta(Flavor) (ConsensusMeta, error) { return s.meta, s.err }

func TestMakeConsensusRequestNoCache(t *testing.T) {
	now := time.Now()
	req, err := MakeConsensusRequest(now, FlavorMicrodesc, fakeMetaSource{})
	require.NoError(t, err)
	require.Equal(t, KindLatestConsensus, req.Kind())
	require.Nil(t, req.Consensus().PriorDigest)
	require.Equal(t, DefaultConsensusCutoff(now), req.Consensus().Since)
}

func TestMakeConsensusRequestWithCache(t *testing.T) {
	now := time.Now()
	validAfter := now.Add(-time.Hour)
	digest := digestFor(9)
	src := fakeMetaSource{meta: fakeMeta{validAfter: validAfter, digest: digest}}

	req, err := MakeConsensusRequest(now, FlavorNS, src)
	require.NoError(t, err)
	require.NotNil(t, req.Consensus().PriorDigest)
	require.Equal(t, digest, *req.Consensus().PriorDigest)
	// Since is clamped to the later of valid_after and the default cutoff.
	require.Equal(t, validAfter, req.Consensus().Since)
}

func TestMakeConsensusRequestClampsStaleCache(t *testing.T) {
	now := time.Now()
	validAfter := now.Add(-365 * 24 * time.Hour) // ancient
	src := fakeMetaSource{meta: fakeMeta{validAfter: validAfter, digest: digestFor(1)}}

	req, err := MakeConsensusRequest(now, FlavorNS, src)
	require.NoError(t, err)
	require.Equal(t, DefaultConsensusCutoff(now), req.Consensus().Since)
}

func TestMakeRequestsForDocuments(t *testing.T) {
	now := time.Now()
	docs := []ID{
		LatestConsensus(FlavorNS),
		Microdesc(digestFor(1)),
		AuthCert(Identity{}, digestFor(2)),
	}
	reqs := MakeRequestsForDocuments(now, docs, fakeMetaSource{})
	require.Len(t, reqs, 3)

	kinds := map[Kind]bool{}
	for _, r := range reqs {
		kinds[r.Kind()] = true
	}
	require.True(t, kinds[KindLatestConsensus])
	require.True(t, kinds[KindMicrodesc])
	require.True(t, kinds[KindAuthCert])
}
