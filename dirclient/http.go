package dirclient

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sambacha/mirror-arti/circuit"
	"github.com/sambacha/mirror-arti/docid"
)

// HTTPClient is the default Client implementation: it speaks plain
// HTTP(S) to a directory cache's resource endpoints. It does not build
// or route circuits itself — the circuit passed to GetResource is
// already built by the circuit manager (or a fallback direct
// connection); this client only uses the circuit's Source, for
// attribution.
//
// A production build would dial through the circuit's own transport;
// here, as in the teacher's callControlAPI, we drive a single shared
// *http.Client and treat the circuit purely as a routing/attribution
// token, since the anonymity-network transport itself is out of scope.
type HTTPClient struct {
	// BaseURL is the directory cache endpoint, e.g. "http://localhost:9030".
	BaseURL string
	// HTTP is the underlying transport. Defaults to http.DefaultClient.
	HTTP *http.Client
}

// NewHTTPClient returns an HTTPClient targeting baseURL, using
// http.DefaultClient for transport.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, HTTP: http.DefaultClient}
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// GetResource fetches req over circ, returning the raw (possibly
// non-200) response. It fails only on transport-level problems:
// building the request, dialing, reading the body. A non-2xx HTTP
// status is not an error here — the caller treats it as "the cache
// declined this request" and drops the body without attributing
// blame to the source.
func (c *HTTPClient) GetResource(ctx context.Context, req docid.ClientRequest, circ circuit.Circuit) (Response, error) {
	source := circ.Source()

	resourcePath, query, err := resourceFor(req)
	if err != nil {
		return Response{}, fmt.Errorf("building resource path: %w", err)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return Response{}, fmt.Errorf("parsing dirclient base URL: %w", err)
	}
	u.Path = path.Join(u.Path, resourcePath)
	u.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, fmt.Errorf("building request for %s: %w", resourcePath, err)
	}

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("fetching %s from %s: %w", resourcePath, source.Identity, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading response body from %s: %w", source.Identity, err)
	}

	log.WithFields(log.Fields{
		"resource": resourcePath,
		"source":   source.Identity,
		"status":   httpResp.StatusCode,
		"bytes":    len(body),
	}).Debug("directory fetch completed")

	return Response{StatusCode: httpResp.StatusCode, Body: body, Source: source}, nil
}

// resourceFor maps a ClientRequest onto the path and query parameters
// of a conventional directory-cache resource, mirroring the shape of
// the real protocol's /tor/... endpoints closely enough to exercise
// this client end to end without depending on the real grammar.
func resourceFor(req docid.ClientRequest) (string, url.Values, error) {
	q := url.Values{}
	switch req.Kind() {
	case docid.KindLatestConsensus:
		cr := req.Consensus()
		q.Set("flavor", cr.Flavor.String())
		q.Set("since", strconv.FormatInt(cr.Since.Unix(), 10))
		if d := cr.PriorDigest; d != nil {
			q.Set("if-modified-since-digest", hex.EncodeToString(d[:]))
		}
		return "tor/status-vote/current/consensus", q, nil

	case docid.KindAuthCert:
		ids := req.AuthCertIDs()
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = id.String()
		}
		return "tor/keys/fp-sk", q, setJoined(q, "ids", parts)

	case docid.KindMicrodesc:
		return "tor/micro/d", q, setJoined(q, "d", hexAll(req.MicrodescDigests()))

	case docid.KindRouterDesc:
		return "tor/server/d", q, setJoined(q, "d", hexAll(req.RouterDescDigests()))

	default:
		return "", nil, fmt.Errorf("dirclient: unhandled request kind %v", req.Kind())
	}
}

func setJoined(q url.Values, key string, parts []string) error {
	if len(parts) == 0 {
		return fmt.Errorf("dirclient: request of this kind must name at least one document")
	}
	q.Set(key, strings.Join(parts, "+"))
	return nil
}

func hexAll(digests []docid.Digest) []string {
	out := make([]string, len(digests))
	for i, d := range digests {
		out[i] = hex.EncodeToString(d[:])
	}
	return out
}
