package dirclient

import (
	"fmt"

	"github.com/sambacha/mirror-arti/docid"
)

// ErrExpandFailed is returned by ExpandResponseText when a response
// claims to carry a diff but cannot be reconciled against the local
// copy it's supposed to be a diff of. Callers attribute this to the
// responding source and drop the body, per the StateUpdateFailed /
// ExpandFailed policy.
var ErrExpandFailed = fmt.Errorf("dirclient: failed to expand directory response")

// ExpandResponseText turns a decoded response body into the document
// text the DirState layer consumes. For most request kinds this is the
// identity transform; a consensus response carrying a prior digest may
// come back as a compressed diff against that prior document, which
// must be reconstituted against the caller's existing copy before the
// state machine can parse it.
//
// The real protocol's diff format (ed-style line diffs over the
// previous consensus, optionally further compressed) is out of scope
// here; this stub recognizes a simple self-describing marker so the
// full expand/attribute code path is still exercised end to end.
func ExpandResponseText(req docid.ClientRequest, body []byte, prior []byte) ([]byte, error) {
	const diffMarker = "DIFF-OF-PRIOR\n"

	if req.Kind() != docid.KindLatestConsensus {
		return body, nil
	}
	if len(body) < len(diffMarker) || string(body[:len(diffMarker)]) != diffMarker {
		return body, nil
	}
	if prior == nil {
		return nil, fmt.Errorf("%w: diff response but no prior document held locally", ErrExpandFailed)
	}
	return append(append([]byte{}, prior...), body[len(diffMarker):]...), nil
}
