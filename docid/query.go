package docid

// MaxMicrodescsPerRequest bounds how many microdescriptor digests may be
// batched into a single protocol-level request. Oversize batches are split
// into chunks no larger than this.
const MaxMicrodescsPerRequest = 500

// MaxRouterDescsPerRequest bounds router-descriptor batching the same way.
const MaxRouterDescsPerRequest = 500

// Query accumulates the identifiers of a single Kind, produced by
// PartitionByType. It is the thing that gets turned into protocol-level
// requests (see the dirclient and bootstrap packages).
type Query struct {
	kind Kind

	flavor      Flavor
	authCerts   []ID
	microdescs  []ID
	routerDescs []ID
}

// Kind reports which document kind this query accumulates.
func (q *Query) Kind() Kind { return q.kind }

// Flavor is valid only for a KindLatestConsensus query.
func (q *Query) Flavor() Flavor { return q.flavor }

// IDs returns the identifiers accumulated in this query, in the order
// they were added.
func (q *Query) IDs() []ID {
	switch q.kind {
	case KindLatestConsensus:
		return []ID{LatestConsensus(q.flavor)}
	case KindAuthCert:
		return append([]ID(nil), q.authCerts...)
	case KindMicrodesc:
		return append([]ID(nil), q.microdescs...)
	case KindRouterDesc:
		return append([]ID(nil), q.routerDescs...)
	default:
		return nil
	}
}

func (q *Query) add(id ID) {
	switch id.kind {
	case KindLatestConsensus:
		q.flavor = id.flavor
	case KindAuthCert:
		q.authCerts = append(q.authCerts, id)
	case KindMicrodesc:
		q.microdescs = append(q.microdescs, id)
	case KindRouterDesc:
		q.routerDescs = append(q.routerDescs, id)
	}
}

// PartitionByType splits a mixed bag of document identifiers into one
// Query accumulator per Kind. The union of every returned query's IDs()
// equals the set of input ids, and every returned query's Kind() matches
// the bucket it was placed in.
func PartitionByType(ids []ID) map[Kind]*Query {
	out := make(map[Kind]*Query)
	for _, id := range ids {
		q, ok := out[id.kind]
		if !ok {
			q = &Query{kind: id.kind}
			out[id.kind] = q
		}
		q.add(id)
	}
	return out
}

// SplitForDownload breaks an oversize query into chunks that each respect
// the protocol's per-request limit. A LatestConsensus or AuthCert query is
// never split: there is exactly one current consensus per flavor, and
// certificate bundles are not chunked by this driver. The union of the
// returned chunks' IDs() equals q.IDs().
func (q *Query) SplitForDownload() []*Query {
	limit := 0
	switch q.kind {
	case KindMicrodesc:
		limit = MaxMicrodescsPerRequest
	case KindRouterDesc:
		limit = MaxRouterDescsPerRequest
	default:
		return []*Query{q}
	}

	ids := q.IDs()
	if len(ids) <= limit {
		return []*Query{q}
	}

	var chunks []*Query
	for start := 0; start < len(ids); start += limit {
		end := start + limit
		if end > len(ids) {
			end = len(ids)
		}
		chunk := &Query{kind: q.kind}
		for _, id := range ids[start:end] {
			chunk.add(id)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
