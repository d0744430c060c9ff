// Package docid defines the typed identifiers used to name directory
// documents: the current consensus, authority certificates, and
// micro-descriptors referenced from the consensus.
package docid

import "fmt"

// Flavor distinguishes the two consensus document formats a directory
// client may request.
type Flavor int

const (
	// FlavorNS is the classic "networkstatus" consensus flavor.
	FlavorNS Flavor = iota
	// FlavorMicrodesc is the flavor that references microdescriptors
	// by digest rather than embedding full router descriptors.
	FlavorMicrodesc
)

func (f Flavor) String() string {
	switch f {
	case FlavorNS:
		return "ns"
	case FlavorMicrodesc:
		return "microdesc"
	default:
		return fmt.Sprintf("flavor(%d)", int(f))
	}
}

// Digest is a content-addressed fixed-width digest over a document's
// signed body. The reference implementation this package is modeled on
// uses SHA3-256; this module computes no digests itself and treats a
// Digest as an opaque 32-byte value supplied by the caller.
type Digest [32]byte

func (d Digest) String() string {
	return fmt.Sprintf("%x", [32]byte(d))
}

// Identity identifies a directory authority's signing key by its RSA
// identity fingerprint.
type Identity [20]byte

func (id Identity) String() string {
	return fmt.Sprintf("%x", [20]byte(id))
}

// Kind tags the variant of an ID/Query pair, so that a mixed bag of
// identifiers can be partitioned cleanly.
type Kind int

const (
	KindLatestConsensus Kind = iota
	KindAuthCert
	KindMicrodesc
	KindRouterDesc
)

func (k Kind) String() string {
	switch k {
	case KindLatestConsensus:
		return "latest-consensus"
	case KindAuthCert:
		return "auth-cert"
	case KindMicrodesc:
		return "microdesc"
	case KindRouterDesc:
		return "router-desc"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ID is a document identifier: a tagged variant over the document kinds
// the directory system can name. Only the fields belonging to the
// variant selected by Kind are meaningful.
type ID struct {
	kind Kind

	flavor           Flavor
	identity         Identity
	signingKeyDigest Digest
	digest           Digest
}

// LatestConsensus names the single current consensus of the given flavor.
func LatestConsensus(flavor Flavor) ID {
	return ID{kind: KindLatestConsensus, flavor: flavor}
}

// AuthCert names a certificate by authority identity and signing key digest.
func AuthCert(identity Identity, signingKeyDigest Digest) ID {
	return ID{kind: KindAuthCert, identity: identity, signingKeyDigest: signingKeyDigest}
}

// Microdesc names a micro-descriptor by its content digest.
func Microdesc(digest Digest) ID {
	return ID{kind: KindMicrodesc, digest: digest}
}

// RouterDesc names a full router descriptor by its content digest.
// RouterDesc support is a compiled-in kind: most deployments never
// request it, but the identifier space still partitions it cleanly.
func RouterDesc(digest Digest) ID {
	return ID{kind: KindRouterDesc, digest: digest}
}

// Kind reports which variant this ID holds.
func (id ID) Kind() Kind { return id.kind }

// Flavor is valid only when Kind() == KindLatestConsensus.
func (id ID) Flavor() Flavor { return id.flavor }

// Identity is valid only when Kind() == KindAuthCert.
func (id ID) Identity() Identity { return id.identity }

// SigningKeyDigest is valid only when Kind() == KindAuthCert.
func (id ID) SigningKeyDigest() Digest { return id.signingKeyDigest }

// Digest is valid when Kind() is KindMicrodesc or KindRouterDesc.
func (id ID) Digest() Digest { return id.digest }

func (id ID) String() string {
	switch id.kind {
	case KindLatestConsensus:
		return fmt.Sprintf("consensus(%s)", id.flavor)
	case KindAuthCert:
		return fmt.Sprintf("auth-cert(%s/%s)", id.identity, id.signingKeyDigest)
	case KindMicrodesc:
		return fmt.Sprintf("microdesc(%s)", id.digest)
	case KindRouterDesc:
		return fmt.Sprintf("router-desc(%s)", id.digest)
	default:
		return "invalid-docid"
	}
}

// Text is an opaque, immutable document body together with the
// content-addressed digest it was stored or retrieved under. Storing then
// loading by identifier must yield the same bytes.
type Text struct {
	Digest Digest
	Body   []byte
}

func (t Text) String() string {
	return string(t.Body)
}
