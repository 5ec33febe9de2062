// Package knowledge stores curated FAQ passages and retrieves the most
// similar ones for a citizen question using pgvector cosine search.
package knowledge

import (
	"errors"
	"time"
)

// VectorDimension is the embedding width of the faqs schema. The embedder
// must be configured to produce vectors of this dimensionality.
const VectorDimension int32 = 768

// ErrUnavailable indicates the retrieval backend failed or returned a
// malformed response. Callers treat this as a degraded turn, not a fatal one.
var ErrUnavailable = errors.New("knowledge backend unavailable")

// FAQ is one curated question/answer passage.
type FAQ struct {
	ID       string
	Question string
	Answer   string
	Source   string
	Created  time.Time
}

// Match is a retrieved FAQ with its similarity to the query, in [0,1].
// Matches are ordered by descending similarity in backend order; ties keep
// the backend's native ordering.
type Match struct {
	FAQ        FAQ
	Similarity float32
}
