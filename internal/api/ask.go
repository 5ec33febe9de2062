package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/polarops/snowdesk/internal/turn"
)

// maxAskBodyBytes caps the request body to keep pathological payloads out
// of the validation pipeline.
const maxAskBodyBytes = 1 << 20

// Answerer runs a full question-answering turn.
type Answerer interface {
	Answer(ctx context.Context, q turn.Query) (*turn.Record, error)
}

// askRequest is the POST /api/v1/ask request body.
type askRequest struct {
	Query     string   `json:"query"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// askResponse is the POST /api/v1/ask response body.
type askResponse struct {
	TurnID        string   `json:"turn_id"`
	Answer        string   `json:"answer"`
	Blocked       bool     `json:"blocked"`
	InputVerdict  string   `json:"input_verdict,omitempty"`
	OutputVerdict string   `json:"output_verdict,omitempty"`
	ToolsUsed     []string `json:"tools_used"`
	ProcessingMS  int64    `json:"processing_ms"`
}

// handleAsk answers a citizen question about snow operations.
//
// Blocked and degraded turns still return 200 with a notice answer. The
// caller asked a question and gets a human-readable reply either way;
// only malformed requests and handler-level failures surface as errors.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodyBytes)

	var req askRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large", s.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON request body", s.logger)
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "EMPTY_QUERY", "Field 'query' is required", s.logger)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		writeError(w, http.StatusBadRequest, "INVALID_LOCATION", "Fields 'latitude' and 'longitude' must be provided together", s.logger)
		return
	}

	rec, err := s.answerer.Answer(r.Context(), turn.Query{
		Text:      req.Query,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if rec == nil {
		s.logger.Error("turn produced no record", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", s.logger)
		return
	}
	if err != nil {
		s.logger.Warn("turn completed with error",
			"turn_id", rec.ID,
			"kind", string(turn.KindOf(err)),
			"error", err,
			"request_id", RequestIDFrom(r.Context()),
		)
	}

	writeJSON(w, http.StatusOK, askResponse{
		TurnID:        rec.ID,
		Answer:        rec.Answer,
		Blocked:       rec.Blocked(),
		InputVerdict:  string(rec.InputVerdict),
		OutputVerdict: string(rec.OutputVerdict),
		ToolsUsed:     rec.ToolNames(),
		ProcessingMS:  rec.Duration.Milliseconds(),
	}, s.logger)
}
