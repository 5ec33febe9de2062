// Package safety classifies text flowing into and out of the model.
//
// The gate layers two checks:
//  1. A local prompt-injection prefilter (see prompt.go) that blocks common
//     override, role-play, and jailbreak patterns without a network call.
//  2. A remote guard classifier (see guard.go) that applies the agency's
//     content policy to both user prompts and model responses.
//
// Results are never cached: a verdict must reflect the policy at call time.
package safety

import "errors"

// ErrUnavailable indicates the remote guard could not produce a verdict.
// Callers decide whether to fail open or closed; the gate itself does not
// retry.
var ErrUnavailable = errors.New("safety validator unavailable")

// Direction distinguishes user input from model output. The remote guard
// applies different policy templates per direction.
type Direction string

const (
	// DirectionInput marks text submitted by a user.
	DirectionInput Direction = "input"

	// DirectionOutput marks text generated by the model.
	DirectionOutput Direction = "output"
)

// Verdict is the outcome of a safety check.
type Verdict string

const (
	// VerdictSafe allows the text to proceed.
	VerdictSafe Verdict = "SAFE"

	// VerdictBlocked rejects the text with a reason.
	VerdictBlocked Verdict = "BLOCKED"

	// VerdictUnchecked records that no verdict was obtained, used when the
	// guard is unavailable and the caller chose to proceed.
	VerdictUnchecked Verdict = "UNCHECKED"
)

// Result is the outcome of one safety check.
type Result struct {
	Verdict    Verdict
	Reason     string // populated when blocked
	Confidence string // classifier confidence tier, when reported
}

// Blocked reports whether the result rejects the text.
func (r Result) Blocked() bool {
	return r.Verdict == VerdictBlocked
}
