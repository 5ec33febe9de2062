// Package turnlog persists the audit record of every turn as a structured
// log event. Recording is strictly non-fatal: a logging failure increments a
// counter and the turn result still reaches the user.
package turnlog

import (
	"os"
	"sync/atomic"

	"github.com/polarops/snowdesk/internal/log"
	"github.com/polarops/snowdesk/internal/turn"
)

// Log writes one structured event per finished turn.
type Log struct {
	logger  log.Logger
	dropped atomic.Uint64
}

// New creates a Log writing through the given logger. Pass a JSON logger for
// machine-readable audit lines.
func New(logger log.Logger) *Log {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Log{logger: logger}
}

// Open creates a Log appending JSON events to the file at path. The returned
// close function flushes and closes the file.
func Open(path string) (*Log, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	logger := log.NewWithWriter(f, log.Config{JSON: true})
	return New(logger), f.Close, nil
}

// Record writes rec as one event. It never returns an error and recovers
// from handler panics; failures only increment the dropped counter.
func (l *Log) Record(rec *turn.Record) {
	if rec == nil {
		l.dropped.Add(1)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.dropped.Add(1)
		}
	}()

	l.logger.Info("turn",
		"turn_id", rec.ID,
		"state", string(rec.State),
		"question", rec.Question,
		"answer", rec.Answer,
		"answer_length", len(rec.Answer),
		"input_verdict", string(rec.InputVerdict),
		"output_verdict", string(rec.OutputVerdict),
		"block_reason", rec.BlockReason,
		"tools", rec.ToolNames(),
		"rounds", rec.Rounds,
		"error", rec.Error,
		"duration_ms", rec.Duration.Milliseconds(),
	)
}

// Dropped reports how many records failed to persist.
func (l *Log) Dropped() uint64 {
	return l.dropped.Load()
}
