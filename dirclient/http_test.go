package dirclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sambacha/mirror-arti/circuit"
	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/store/memstore"
)

func TestHTTPClientGetResourceConsensus(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello-consensus"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	store := memstore.New()
	req, err := docid.MakeConsensusRequest(time.Now(), docid.FlavorMicrodesc, store)
	require.NoError(t, err)

	circ := directTestCircuit{source: circuit.Source{Identity: "relay1"}}
	resp, err := c.GetResource(context.Background(), req, circ)
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Equal(t, "hello-consensus", string(resp.Body))
	require.Equal(t, circuit.Source{Identity: "relay1"}, resp.Source)
	require.Contains(t, gotPath, "tor/status-vote/current/consensus")
	require.Contains(t, gotQuery, "flavor=microdesc")
}

func TestHTTPClientGetResourceNon200IsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	store := memstore.New()
	req, err := docid.MakeConsensusRequest(time.Now(), docid.FlavorNS, store)
	require.NoError(t, err)

	circ := directTestCircuit{source: circuit.Source{Identity: "relay1"}}
	resp, err := c.GetResource(context.Background(), req, circ)
	require.NoError(t, err)
	require.False(t, resp.OK())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type directTestCircuit struct{ source circuit.Source }

func (d directTestCircuit) Source() circuit.Source { return d.source }
