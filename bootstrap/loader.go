package bootstrap

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/sambacha/mirror-arti/dirstate"
	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/metrics"
	"github.com/sambacha/mirror-arti/store"
)

// maxNoProgressIterations bounds the fixed-point loop in load: if this
// many consecutive iterations report a change or an advance while the
// state's Describe() and number of missing documents stay the same, the
// state machine is stuck and that is a bug in the DirState
// implementation, not a transient condition worth retrying forever. (An
// iteration in which neither loadOnce nor Advance reports anything ends
// load at once, handing off to the download driver.)
const maxNoProgressIterations = 100

// loadOnce drains whatever of state's MissingDocs the store already
// has cached, in a single batched read. It returns whether anything
// changed. A store read failure is logged and treated as "nothing
// changed" — fatal to this attempt, not to the bootstrap process.
func loadOnce(ctx context.Context, state dirstate.DirState, st store.Store) (bool, error) {
	missing := state.MissingDocs()
	if len(missing) == 0 {
		return false, nil
	}

	into := make(map[docid.ID]docid.Text)
	if err := st.Load(ctx, missing, into); err != nil {
		log.WithError(err).Warn("bootstrap: store load failed, treating as cache miss for this attempt")
		return false, nil
	}
	if len(into) == 0 {
		return false, nil
	}

	changed, err := state.AddFromCache(ctx, into, st)
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			// A cache entry failed its validity check (expired/corrupt
			// signed content): not an error, just a miss.
			return false, nil
		}
		log.WithError(err).Warn("bootstrap: add-from-cache failed")
		return false, nil
	}
	return changed, nil
}

// load drives loadOnce and Advance to a fixed point: keep draining the
// cache and advancing phases until neither call can make progress. The
// safety counter guards against a DirState whose CanAdvance/Advance
// pair never converges; tripping it is treated as a programmer error
// in the state machine, not a condition callers should retry around.
func load(ctx context.Context, state dirstate.DirState, st store.Store, publish func(dirstate.BootstrapStatus)) (dirstate.DirState, error) {
	prevDescribe := ""
	prevMissing := -1
	noProgress := 0

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		changed, err := loadOnce(ctx, state, st)
		if err != nil {
			return state, err
		}
		metrics.ObserveCacheLoad(state.Describe(), changed)
		if changed && publish != nil {
			publish(state.BootstrapStatus())
		}

		advanced := false
		if state.CanAdvance() {
			next, err := state.Advance()
			if err != nil {
				return state, fmt.Errorf("advancing directory state: %w", err)
			}
			state = next
			advanced = true
			if publish != nil {
				publish(state.BootstrapStatus())
			}
		}

		if state.IsReady(dirstate.Complete) {
			return state, nil
		}

		if !changed && !advanced {
			// Neither the cache nor Advance produced anything new this
			// round; whatever remains missing needs a network fetch,
			// which is the download driver's job, not the loader's.
			return state, nil
		}

		missing := len(state.MissingDocs())
		describe := state.Describe()
		if describe == prevDescribe && missing == prevMissing {
			noProgress++
		} else {
			noProgress = 0
		}
		prevDescribe, prevMissing = describe, missing

		if noProgress >= maxNoProgressIterations {
			panic(fmt.Sprintf("bootstrap: load made no progress in %d iterations; DirState %q is stuck", maxNoProgressIterations, state.Describe()))
		}
	}
}
