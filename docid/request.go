package docid

import "time"

// ConsensusMeta describes what the local cache already knows about the
// most recent consensus of some flavor, enough to drive a conditional
// (diff-capable) fetch of the next one.
type ConsensusMeta interface {
	ValidAfter() time.Time
	DigestOfSigned() Digest
}

// ConsensusMetaSource is the narrow slice of the Store contract that
// request construction needs. A store.Store satisfies this by structure.
type ConsensusMetaSource interface {
	LatestConsensusMeta(flavor Flavor) (ConsensusMeta, error)
}

// ConsensusRequest carries the hints that let a directory cache return a
// diff instead of a full consensus body.
type ConsensusRequest struct {
	Flavor Flavor
	// Since is the earliest valid-after date we'll accept, clamped to
	// DefaultConsensusCutoff so a stale cache entry can't pin it
	// arbitrarily far in the past.
	Since time.Time
	// PriorDigest, if set, is the signed-body digest of the consensus we
	// already have, enabling a diff-based response.
	PriorDigest *Digest
}

// ClientRequest is a request object carrying enough hints to drive
// conditional fetches. Exactly one of its accessors is meaningful,
// selected by Kind.
type ClientRequest struct {
	kind Kind

	consensus   ConsensusRequest
	authCerts   []ID
	microdescs  []Digest
	routerDescs []Digest
}

func (r ClientRequest) Kind() Kind                    { return r.kind }
func (r ClientRequest) Consensus() ConsensusRequest    { return r.consensus }
func (r ClientRequest) AuthCertIDs() []ID              { return r.authCerts }
func (r ClientRequest) MicrodescDigests() []Digest     { return r.microdescs }
func (r ClientRequest) RouterDescDigests() []Digest    { return r.routerDescs }

// DefaultConsensusCutoff returns a time far enough in the past to obtain a
// fresh consensus, but not so far that a misconfigured clock produces an
// unusable (already-expired, or impossibly fresh) document. The policy
// here — 24 hours — matches the conservative default a directory client
// uses when it has no better information; callers with sharper knowledge
// of network consensus lifetimes may substitute their own.
func DefaultConsensusCutoff(now time.Time) time.Time {
	return now.Add(-24 * time.Hour)
}

// MakeConsensusRequest builds the request used to fetch (or diff-update)
// the current consensus of the given flavor, consulting store for what we
// already have cached. A store error is logged by the caller and treated
// as "no cached consensus", not a fatal condition.
func MakeConsensusRequest(now time.Time, flavor Flavor, store ConsensusMetaSource) (ClientRequest, error) {
	cutoff := DefaultConsensusCutoff(now)

	meta, err := store.LatestConsensusMeta(flavor)
	if err != nil || meta == nil {
		return ClientRequest{
			kind: KindLatestConsensus,
			consensus: ConsensusRequest{
				Flavor: flavor,
				Since:  cutoff,
			},
		}, err
	}

	since := meta.ValidAfter()
	if cutoff.After(since) {
		since = cutoff
	}
	digest := meta.DigestOfSigned()

	return ClientRequest{
		kind: KindLatestConsensus,
		consensus: ConsensusRequest{
			Flavor:      flavor,
			Since:       since,
			PriorDigest: &digest,
		},
	}, nil
}

// MakeRequestsForDocuments partitions docs by kind, splits any oversize
// batch, and builds one ClientRequest per resulting chunk. A store read
// failure while building the consensus request is swallowed (the caller
// is expected to have already logged it via MakeConsensusRequest's error
// return, when called directly); here it simply falls back to an
// unconditional consensus fetch.
func MakeRequestsForDocuments(now time.Time, docs []ID, store ConsensusMetaSource) []ClientRequest {
	var out []ClientRequest
	for _, q := range PartitionByType(docs) {
		for _, chunk := range q.SplitForDownload() {
			switch chunk.Kind() {
			case KindLatestConsensus:
				req, _ := MakeConsensusRequest(now, chunk.Flavor(), store)
				out = append(out, req)
			case KindAuthCert:
				out = append(out, ClientRequest{kind: KindAuthCert, authCerts: chunk.IDs()})
			case KindMicrodesc:
				out = append(out, ClientRequest{kind: KindMicrodesc, microdescs: digestsOf(chunk.IDs())})
			case KindRouterDesc:
				out = append(out, ClientRequest{kind: KindRouterDesc, routerDescs: digestsOf(chunk.IDs())})
			}
		}
	}
	return out
}

func digestsOf(ids []ID) []Digest {
	out := make([]Digest, len(ids))
	for i, id := range ids {
		out[i] = id.Digest()
	}
	return out
}
