package turn

import (
	"time"

	"github.com/polarops/snowdesk/internal/safety"
)

// State tracks a turn through its lifecycle. Every turn ends in exactly one
// of Complete, Rejected, or Failed.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateValidating  State = "VALIDATING"
	StateGenerating  State = "GENERATING"
	StateDispatching State = "DISPATCHING"
	StateComplete    State = "COMPLETE"
	StateRejected    State = "REJECTED"
	StateFailed      State = "FAILED"
)

// Query is one user question submitted to the orchestrator. Coordinates are
// optional; when present they are surfaced to the model as the user's
// location context.
type Query struct {
	Text      string
	Latitude  *float64
	Longitude *float64
}

// ToolCall records one dispatched tool execution.
type ToolCall struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// Record is the audit trail of one turn. A record is produced for every
// turn, including rejected and failed ones.
type Record struct {
	ID            string         `json:"id"`
	Question      string         `json:"question"`
	Answer        string         `json:"answer"`
	State         State          `json:"state"`
	InputVerdict  safety.Verdict `json:"input_verdict"`
	OutputVerdict safety.Verdict `json:"output_verdict,omitempty"`
	BlockReason   string         `json:"block_reason,omitempty"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	Rounds        int            `json:"rounds"`
	Error         string         `json:"error,omitempty"`
	Start         time.Time      `json:"start"`
	Duration      time.Duration  `json:"duration"`
}

// ToolNames returns the names of all dispatched tools in call order.
func (r *Record) ToolNames() []string {
	if len(r.ToolCalls) == 0 {
		return nil
	}
	names := make([]string, len(r.ToolCalls))
	for i, c := range r.ToolCalls {
		names[i] = c.Name
	}
	return names
}

// Blocked reports whether either gate rejected the turn.
func (r *Record) Blocked() bool {
	return r.State == StateRejected
}
