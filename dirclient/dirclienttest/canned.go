// Package dirclienttest provides a test double for dirclient.Client.
//
// The reference implementation this module is modeled on tests its
// download driver against a process-wide mutable global holding a
// canned response, which every test in the process shares and must
// carefully reset between cases. That pattern doesn't survive
// translation: Go tests in the same package commonly run with
// t.Parallel, and a shared global turns into a data race or silent
// cross-test leakage. Canned is a per-instance collaborator instead —
// construct one per test, hand it to whatever the test is exercising,
// and there is nothing to reset or to accidentally share.
package dirclienttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/sambacha/mirror-arti/circuit"
	"github.com/sambacha/mirror-arti/dirclient"
	"github.com/sambacha/mirror-arti/docid"
)

// Canned is a dirclient.Client that returns a scripted response (or
// error) for each request kind, recording the requests it was asked to
// serve for assertions. It is safe for concurrent use, matching the
// concurrency fetch_multiple actually exercises it under.
type Canned struct {
	mu sync.Mutex

	byKind map[docid.Kind]func(docid.ClientRequest, circuit.Circuit) (dirclient.Response, error)
	calls  []docid.ClientRequest
}

// New returns an empty Canned client; use On to script responses before
// handing it to the code under test.
func New() *Canned {
	return &Canned{byKind: make(map[docid.Kind]func(docid.ClientRequest, circuit.Circuit) (dirclient.Response, error))}
}

// On scripts the response returned for every request of the given kind.
func (c *Canned) On(kind docid.Kind, resp dirclient.Response) *Canned {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKind[kind] = func(docid.ClientRequest, circuit.Circuit) (dirclient.Response, error) {
		return resp, nil
	}
	return c
}

// OnFunc scripts a function computing the response (or error) for
// every request of the given kind, for tests that need the response to
// depend on the concrete request (e.g. echoing back the requested
// digests).
func (c *Canned) OnFunc(kind docid.Kind, fn func(docid.ClientRequest, circuit.Circuit) (dirclient.Response, error)) *Canned {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKind[kind] = fn
	return c
}

// OnError scripts every request of the given kind to fail with err, as
// GetResource itself returning an error (a transport-level failure, not
// a non-2xx response).
func (c *Canned) OnError(kind docid.Kind, err error) *Canned {
	return c.OnFunc(kind, func(docid.ClientRequest, circuit.Circuit) (dirclient.Response, error) {
		return dirclient.Response{}, err
	})
}

// Calls returns every request this double has been asked to serve, in
// order, for assertions about what the download driver requested.
func (c *Canned) Calls() []docid.ClientRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]docid.ClientRequest(nil), c.calls...)
}

func (c *Canned) GetResource(ctx context.Context, req docid.ClientRequest, circ circuit.Circuit) (dirclient.Response, error) {
	if err := ctx.Err(); err != nil {
		return dirclient.Response{}, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, req)
	fn, ok := c.byKind[req.Kind()]
	c.mu.Unlock()

	if !ok {
		return dirclient.Response{}, fmt.Errorf("dirclienttest: no canned response scripted for %s", req.Kind())
	}
	return fn(req, circ)
}

var _ dirclient.Client = (*Canned)(nil)
