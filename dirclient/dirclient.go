// Package dirclient is the network protocol layer the download driver
// talks to: given a request and a circuit to carry it over, it fetches
// a response and reports which source answered so the caller can
// attribute success or failure back to the circuit manager.
package dirclient

import (
	"context"

	"github.com/sambacha/mirror-arti/circuit"
	"github.com/sambacha/mirror-arti/docid"
)

// Response is a raw directory-protocol response: a status code, the
// response body, and the identity of the source that produced it so
// the caller can attribute outcomes without re-threading that state
// through every layer.
type Response struct {
	StatusCode int
	Body       []byte
	Source     circuit.Source
}

// OK reports whether the response represents a usable document
// (status 200). Any other status is a "cache declined" signal and the
// body must be discarded without being treated as an error.
func (r Response) OK() bool { return r.StatusCode == 200 }

// Client is the network protocol layer consumed by the download
// driver. GetResource fetches the named request over circ and returns
// the raw response, or an error if the fetch itself failed (network,
// timeout, malformed transport-level response) — as opposed to a
// non-2xx response, which is a normal Response, not an error.
type Client interface {
	GetResource(ctx context.Context, req docid.ClientRequest, circ circuit.Circuit) (Response, error)
}
