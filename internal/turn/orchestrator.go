// Package turn orchestrates one question-answer exchange: input screening,
// bounded model rounds with tool dispatch, output screening, and an audit
// record for every outcome.
package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/polarops/snowdesk/internal/log"
	"github.com/polarops/snowdesk/internal/model"
	"github.com/polarops/snowdesk/internal/safety"
)

// Fixed user-facing notices. Blocked and failed turns never echo model or
// user text back.
const (
	// SecurityNotice replaces the answer when a gate rejects the turn.
	SecurityNotice = "I apologize, but I cannot process this request due to security concerns. Please rephrase your question or contact the department directly."

	// FailureNotice replaces the answer when the turn fails for any other
	// reason.
	FailureNotice = "I apologize, but I encountered an error processing your question. Please try again or contact the department directly."
)

// DefaultMaxToolRounds bounds how many times the model may request tools in
// one turn before the turn fails.
const DefaultMaxToolRounds = 4

const defaultToolTimeout = 15 * time.Second

// Gate screens text in one direction and returns a verdict.
type Gate interface {
	Check(ctx context.Context, text string, dir safety.Direction) (safety.Result, error)
}

// Generator runs one model round over the accumulated conversation.
type Generator interface {
	Generate(ctx context.Context, messages []*ai.Message, tools []ai.ToolRef) (model.Reply, error)
}

// Dispatcher executes tool requests and exposes the declarations offered to
// the model. Dispatch must not fail; backend problems become payloads.
type Dispatcher interface {
	Refs() []ai.ToolRef
	Dispatch(ctx context.Context, req *ai.ToolRequest) *ai.Part
}

// Recorder persists the audit record of a finished turn. Recording must not
// fail the turn.
type Recorder interface {
	Record(rec *Record)
}

// Config holds the orchestrator's dependencies.
type Config struct {
	Gate       Gate       // required
	Generator  Generator  // required
	Dispatcher Dispatcher // required
	Recorder   Recorder   // required
	Logger     log.Logger // required

	// MaxToolRounds bounds tool-requesting model rounds per turn.
	MaxToolRounds int

	// ToolTimeout bounds each individual tool execution.
	ToolTimeout time.Duration

	// GuardFailOpen lets turns proceed unchecked when the gate is
	// unavailable. Defaults to failing closed.
	GuardFailOpen bool
}

// Orchestrator drives complete turns. Safe for concurrent use.
type Orchestrator struct {
	gate        Gate
	generator   Generator
	dispatcher  Dispatcher
	recorder    Recorder
	logger      log.Logger
	maxRounds   int
	toolTimeout time.Duration
	failOpen    bool
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Gate == nil {
		return nil, fmt.Errorf("Config.Gate is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("Config.Generator is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("Config.Dispatcher is required")
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("Config.Recorder is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("Config.Logger is required")
	}
	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	return &Orchestrator{
		gate:        cfg.Gate,
		generator:   cfg.Generator,
		dispatcher:  cfg.Dispatcher,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		maxRounds:   maxRounds,
		toolTimeout: toolTimeout,
		failOpen:    cfg.GuardFailOpen,
	}, nil
}

// Answer runs one complete turn. A Record is returned on every path,
// including rejections and failures; the error classifies what went wrong.
// The record is handed to the Recorder before Answer returns.
func (o *Orchestrator) Answer(ctx context.Context, q Query) (*Record, error) {
	rec := &Record{
		ID:       uuid.NewString(),
		Question: q.Text,
		State:    StateReceived,
		Start:    time.Now(),
	}
	defer func() {
		rec.Duration = time.Since(rec.Start)
		o.recorder.Record(rec)
	}()

	text := strings.TrimSpace(q.Text)
	if text == "" {
		rec.State = StateFailed
		rec.Answer = FailureNotice
		err := fmt.Errorf("empty query")
		rec.Error = err.Error()
		return rec, err
	}

	// Input gate.
	rec.State = StateValidating
	verdict, terr := o.screen(ctx, text, safety.DirectionInput)
	rec.InputVerdict = verdict.Verdict
	if terr != nil {
		return o.fail(rec, terr)
	}
	if verdict.Blocked() {
		rec.State = StateRejected
		rec.Answer = SecurityNotice
		rec.BlockReason = verdict.Reason
		err := &Error{Kind: KindInputBlocked, Err: fmt.Errorf("%s", verdict.Reason)}
		rec.Error = err.Error()
		o.logger.Info("turn rejected at input gate", "turn_id", rec.ID, "reason", verdict.Reason)
		return rec, err
	}

	// Model rounds. The loop is explicit and bounded: each iteration is one
	// generation; tool batches extend the conversation and continue.
	messages := []*ai.Message{ai.NewUserMessage(ai.NewTextPart(userContent(text, q)))}
	var answer string

	rec.State = StateGenerating
	final := false
	for round := 0; round <= o.maxRounds; round++ {
		reply, err := o.generator.Generate(ctx, messages, o.dispatcher.Refs())
		if err != nil {
			return o.fail(rec, &Error{Kind: KindModelUnavailable, Err: err})
		}

		switch r := reply.(type) {
		case model.FinalAnswer:
			answer = r.Text
			final = true
		case model.ToolCallBatch:
			if round == o.maxRounds {
				// Out of rounds with tools still pending.
				break
			}
			rec.Rounds++
			rec.State = StateDispatching
			parts := o.dispatchAll(ctx, rec, r.Requests)
			messages = append(messages, r.Message, ai.NewMessage(ai.RoleTool, nil, parts...))
			rec.State = StateGenerating
		default:
			return o.fail(rec, &Error{Kind: KindModelUnavailable, Err: fmt.Errorf("unexpected reply type %T", reply)})
		}
		if final {
			break
		}
	}
	if !final {
		return o.fail(rec, &Error{
			Kind: KindToolLoopExceeded,
			Err:  fmt.Errorf("no answer after %d tool rounds", o.maxRounds),
		})
	}

	// Output gate. A blocked draft is never returned, partially or whole.
	rec.State = StateValidating
	verdict, terr = o.screen(ctx, answer, safety.DirectionOutput)
	rec.OutputVerdict = verdict.Verdict
	if terr != nil {
		return o.fail(rec, terr)
	}
	if verdict.Blocked() {
		rec.State = StateRejected
		rec.Answer = SecurityNotice
		rec.BlockReason = verdict.Reason
		err := &Error{Kind: KindOutputBlocked, Err: fmt.Errorf("%s", verdict.Reason)}
		rec.Error = err.Error()
		o.logger.Warn("turn rejected at output gate", "turn_id", rec.ID, "reason", verdict.Reason)
		return rec, err
	}

	rec.State = StateComplete
	rec.Answer = answer
	return rec, nil
}

// screen runs one gate check, translating unavailability according to the
// fail-open setting. The returned *Error is nil when the turn may proceed.
func (o *Orchestrator) screen(ctx context.Context, text string, dir safety.Direction) (safety.Result, *Error) {
	result, err := o.gate.Check(ctx, text, dir)
	if err == nil {
		return result, nil
	}
	if o.failOpen {
		o.logger.Warn("gate unavailable, proceeding unchecked", "direction", dir, "error", err)
		return safety.Result{Verdict: safety.VerdictUnchecked}, nil
	}
	return safety.Result{}, &Error{Kind: KindValidationUnavailable, Err: err}
}

// fail finalizes rec as failed with the generic notice.
func (o *Orchestrator) fail(rec *Record, err *Error) (*Record, error) {
	rec.State = StateFailed
	rec.Answer = FailureNotice
	rec.Error = err.Error()
	o.logger.Error("turn failed", "turn_id", rec.ID, "kind", err.Kind, "error", err.Err)
	return rec, err
}

// dispatchAll executes one batch of tool requests concurrently, preserving
// request order in the returned parts so response refs line up.
func (o *Orchestrator) dispatchAll(ctx context.Context, rec *Record, requests []*ai.ToolRequest) []*ai.Part {
	parts := make([]*ai.Part, len(requests))
	calls := make([]ToolCall, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, o.toolTimeout)
			defer cancel()

			start := time.Now()
			parts[i] = o.dispatcher.Dispatch(tctx, req)
			calls[i] = ToolCall{Name: req.Name, Duration: time.Since(start)}
			return nil
		})
	}
	// Dispatch never errors; Wait only joins the goroutines.
	_ = g.Wait()

	rec.ToolCalls = append(rec.ToolCalls, calls...)
	return parts
}

// userContent renders the user message, appending location context when the
// caller supplied coordinates.
func userContent(text string, q Query) string {
	if q.Latitude == nil || q.Longitude == nil {
		return text
	}
	return fmt.Sprintf("%s\n\n[User location: %.4f, %.4f]", text, *q.Latitude, *q.Longitude)
}
