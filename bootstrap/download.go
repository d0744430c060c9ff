package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/sambacha/mirror-arti/circuit"
	"github.com/sambacha/mirror-arti/clock"
	"github.com/sambacha/mirror-arti/dirclient"
	"github.com/sambacha/mirror-arti/dirstate"
	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/metrics"
	"github.com/sambacha/mirror-arti/store"
)

// downloadPair is a completed, usable fetch: a request together with
// the (status-200) response it produced.
type downloadPair struct {
	req  docid.ClientRequest
	resp dirclient.Response
}

// fetchSingle selects a directory source via weakMgr — which may
// itself route over an anonymous circuit or fall back to a direct
// connection, depending on whether a network view exists yet — fetches
// req over it, and reports the outcome back to the manager for
// per-source attribution. It fails with ErrManagerDropped or whatever
// transport error the client returned; a non-2xx response is not an
// error at this layer.
func fetchSingle(ctx context.Context, req docid.ClientRequest, weakMgr circuit.WeakManager, client dirclient.Client) (dirclient.Response, error) {
	mgr, err := weakMgr.Upgrade()
	if err != nil {
		return dirclient.Response{}, ErrManagerDropped
	}

	circ, err := mgr.BuildOrUseDirectoryCircuit(ctx)
	if err != nil {
		return dirclient.Response{}, fmt.Errorf("building directory circuit: %w", err)
	}

	resp, err := client.GetResource(ctx, req, circ)
	if err != nil {
		mgr.NoteCacheError(circ.Source(), err)
		return dirclient.Response{}, fmt.Errorf("fetching %s: %w", req.Kind(), err)
	}
	mgr.NoteCacheSuccess(circ.Source())
	return resp, nil
}

// fetchMultiple builds one ClientRequest per chunk of missing under a
// single store read, then fans out up to parallelism concurrent
// fetchSingle calls. Non-2xx responses and per-request errors are
// logged and dropped — they are "cache declined" or transient-failure
// signals, not fatal — so the result only ever contains usable pairs.
func fetchMultiple(ctx context.Context, now time.Time, missing []docid.ID, st store.Store, parallelism int, weakMgr circuit.WeakManager, client dirclient.Client) []downloadPair {
	requests := docid.MakeRequestsForDocuments(now, missing, st)
	if len(requests) == 0 {
		return nil
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	var (
		mu      sync.Mutex
		results []downloadPair
		wg      sync.WaitGroup
		sem     = make(chan struct{}, parallelism)
	)

	for _, req := range requests {
		req := req
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := fetchSingle(ctx, req, weakMgr, client)
			if err != nil {
				log.WithError(err).WithField("kind", req.Kind()).Warn("directory fetch failed")
				return
			}
			if !resp.OK() {
				log.WithFields(log.Fields{"kind": req.Kind(), "status": resp.StatusCode}).
					Debug("directory cache declined request")
				return
			}

			mu.Lock()
			results = append(results, downloadPair{req: req, resp: resp})
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// loadPriorConsensusBody fetches the signed body of whatever consensus
// is already cached for the flavor req targets, for use as the base of
// a diff expansion. Absence is not an error: it just means no diff can
// be applied, which dirclient.ExpandResponseText already handles.
func loadPriorConsensusBody(ctx context.Context, st store.Store, req docid.ClientRequest) []byte {
	if req.Kind() != docid.KindLatestConsensus {
		return nil
	}
	into := map[docid.ID]docid.Text{}
	id := docid.LatestConsensus(req.Consensus().Flavor)
	if err := st.Load(ctx, []docid.ID{id}, into); err != nil {
		return nil
	}
	if text, ok := into[id]; ok {
		return text.Body
	}
	return nil
}

// downloadAttempt performs one round of fetch_multiple against state's
// current MissingDocs, then ingests every usable response: it decodes
// the body as UTF-8, expands it (diff or identity), and hands it to
// state.AddFromDownload, attributing success or failure back to the
// circuit manager per response. It returns whether anything changed.
func downloadAttempt(ctx context.Context, now time.Time, state dirstate.DirState, st store.Store, parallelism int, weakMgr circuit.WeakManager, client dirclient.Client) (bool, error) {
	missing := state.MissingDocs()
	if len(missing) == 0 {
		return false, nil
	}

	pairs := fetchMultiple(ctx, now, missing, st, parallelism, weakMgr, client)

	changed := false
	for _, p := range pairs {
		mgr, err := weakMgr.Upgrade()
		if err != nil {
			return changed, ErrManagerDropped
		}

		if !utf8.Valid(p.resp.Body) {
			log.WithField("source", p.resp.Source.Identity).Warn("directory response was not valid UTF-8, dropping")
			mgr.NoteCacheError(p.resp.Source, fmt.Errorf("bootstrap: non-UTF-8 response body"))
			metrics.ObserveSourceError(p.resp.Source.Identity)
			metrics.ObserveDownloadAttempt(state.Describe(), "error")
			continue
		}

		prior := loadPriorConsensusBody(ctx, st, p.req)
		expanded, err := dirclient.ExpandResponseText(p.req, p.resp.Body, prior)
		if err != nil {
			log.WithError(err).WithField("source", p.resp.Source.Identity).Warn("expanding directory response failed")
			mgr.NoteCacheError(p.resp.Source, err)
			metrics.ObserveSourceError(p.resp.Source.Identity)
			metrics.ObserveDownloadAttempt(state.Describe(), "error")
			continue
		}

		didChange, err := state.AddFromDownload(ctx, string(expanded), p.req, st)
		if err != nil {
			log.WithError(err).WithField("source", p.resp.Source.Identity).Warn("ingesting directory response failed")
			mgr.NoteCacheError(p.resp.Source, err)
			metrics.ObserveSourceError(p.resp.Source.Identity)
			metrics.ObserveDownloadAttempt(state.Describe(), "error")
			continue
		}

		mgr.NoteCacheSuccess(p.resp.Source)
		metrics.ObserveDownloadAttempt(state.Describe(), "success")
		changed = changed || didChange
	}
	return changed, nil
}

// attemptOutcome carries downloadAttempt's result across the goroutine
// boundary in runAttemptRacingDeadline.
type attemptOutcome struct {
	changed bool
	err     error
}

// racePreDelay sleeps for dur (the next scheduled retry delay), or
// returns early with resetFired=true if the phase's reset deadline
// elapses first. The deadline channel is peeked without blocking
// before the real select, so a deadline that has already been reported
// wins; when both sleeps end at the same instant (as one mock-clock
// Advance can cause), whichever goroutine reports first decides.
func racePreDelay(ctx context.Context, sleeper clock.SleepProvider, dur time.Duration, resetDeadline time.Time) (resetFired bool, err error) {
	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()

	deadlineCh := make(chan error, 1)
	delayCh := make(chan error, 1)
	go func() { deadlineCh <- sleeper.SleepUntilWallclock(ctx2, resetDeadline) }()
	go func() { delayCh <- sleeper.Sleep(ctx2, dur) }()

	select {
	case err := <-deadlineCh:
		return true, err
	default:
	}
	select {
	case err := <-deadlineCh:
		return true, err
	case err := <-delayCh:
		return false, err
	}
}

// runAttemptRacingDeadline runs doAttempt concurrently with a sleep to
// resetDeadline. If the deadline elapses first, doAttempt's goroutine
// is left to finish in the background (its result is simply not
// consulted) and resetFired is reported true; ctx cancellation (via
// ctx2) gives it a chance to unwind promptly.
func runAttemptRacingDeadline(ctx context.Context, sleeper clock.SleepProvider, resetDeadline time.Time, doAttempt func(context.Context) (bool, error)) (resetFired bool, outcome attemptOutcome) {
	ctx2, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan attemptOutcome, 1)
	go func() {
		changed, err := doAttempt(ctx2)
		resultCh <- attemptOutcome{changed: changed, err: err}
	}()
	deadlineCh := make(chan error, 1)
	go func() { deadlineCh <- sleeper.SleepUntilWallclock(ctx2, resetDeadline) }()

	select {
	case <-deadlineCh:
		return true, attemptOutcome{}
	default:
	}
	select {
	case <-deadlineCh:
		return true, attemptOutcome{}
	case res := <-resultCh:
		return false, res
	}
}
