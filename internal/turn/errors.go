package turn

import (
	"errors"
	"fmt"
)

// Kind classifies why a turn was rejected or failed. Non-fatal degradations
// (FAQ backend down, weather unavailable, unknown tool names) never surface
// here; they are folded into tool payloads and the turn completes.
type Kind string

const (
	// KindInputBlocked means the input gate rejected the user's question.
	KindInputBlocked Kind = "input_blocked"

	// KindOutputBlocked means the output gate rejected the drafted answer.
	KindOutputBlocked Kind = "output_blocked"

	// KindValidationUnavailable means a gate verdict could not be obtained
	// and the orchestrator is configured to fail closed.
	KindValidationUnavailable Kind = "validation_unavailable"

	// KindModelUnavailable means generation failed after retries.
	KindModelUnavailable Kind = "model_unavailable"

	// KindToolLoopExceeded means the model kept requesting tools past the
	// round limit without producing an answer.
	KindToolLoopExceeded Kind = "tool_loop_exceeded"
)

// Error is a classified turn failure. The Record produced alongside it
// carries the user-facing notice; Error itself is for callers and logs.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the turn failure kind from err, or "" when err is not a
// turn error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
