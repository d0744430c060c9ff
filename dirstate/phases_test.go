package dirstate

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/store"
)

func hexDigest(b byte) string {
	var d docid.Digest
	d[0] = b
	return hex.EncodeToString(d[:])
}

func TestThreePhaseFullCycle(t *testing.T) {
	s := NewBootstrap(docid.FlavorMicrodesc)
	require.Equal(t, []docid.ID{docid.LatestConsensus(docid.FlavorMicrodesc)}, s.MissingDocs())
	require.False(t, s.CanAdvance())

	consensusText := "CERTS\nMDS " + hexDigest(1) + " " + hexDigest(2)
	changed, err := s.AddFromDownload(context.Background(), consensusText, docid.ClientRequest{}, nil)
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, s.CanAdvance())

	var next DirState
	next, err = s.Advance()
	require.NoError(t, err)
	certs, ok := next.(*ThreePhase)
	require.True(t, ok)
	require.Equal(t, phaseCerts, certs.kind)
	// No certs were named, so the certs phase can advance immediately.
	require.True(t, certs.CanAdvance())

	next, err = certs.Advance()
	require.NoError(t, err)
	mds := next.(*ThreePhase)
	require.Equal(t, phaseMicrodescs, mds.kind)
	require.Len(t, mds.MissingDocs(), 2)
	require.False(t, mds.IsReady(Complete))

	changed, err = mds.AddFromDownload(context.Background(), hexDigest(1)+" "+hexDigest(2), docid.ClientRequest{}, nil)
	require.NoError(t, err)
	require.True(t, changed)
	require.True(t, mds.IsReady(Complete))
	require.True(t, mds.IsReady(Usable))
}

func TestThreePhaseResetRestartsFromScratch(t *testing.T) {
	s := NewBootstrap(docid.FlavorNS)
	_, _ = s.AddFromDownload(context.Background(), "CERTS\nMDS "+hexDigest(1), docid.ClientRequest{}, nil)
	reset, err := s.Reset()
	require.NoError(t, err)
	require.Equal(t, []docid.ID{docid.LatestConsensus(docid.FlavorNS)}, reset.MissingDocs())
}

func TestThreePhaseAddFromCacheIdempotent(t *testing.T) {
	s := NewBootstrap(docid.FlavorNS)
	_, _ = s.AddFromDownload(context.Background(), "CERTS\nMDS "+hexDigest(1)+" "+hexDigest(2), docid.ClientRequest{}, nil)
	next, _ := s.Advance()
	certs := next.(*ThreePhase)
	next, _ = certs.Advance()
	mds := next.(*ThreePhase)

	docs := map[docid.ID]docid.Text{
		docid.Microdesc(mustDigest(1)): {Digest: mustDigest(1)},
	}
	changed, err := mds.AddFromCache(context.Background(), docs, store.Store(nil))
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = mds.AddFromCache(context.Background(), docs, store.Store(nil))
	require.NoError(t, err)
	require.False(t, changed, "re-adding an already-satisfied doc must not report change")
}

func mustDigest(b byte) docid.Digest {
	var d docid.Digest
	d[0] = b
	return d
}
