package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/polarops/snowdesk/internal/log"
)

// searchTimeout bounds one vector search including embedding generation.
const searchTimeout = 10 * time.Second

// Querier is the subset of pgxpool.Pool the store needs. Defined here, by
// the consumer, so tests can substitute a failing implementation.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store manages FAQ passages with vector search. Safe for concurrent use.
type Store struct {
	db       Querier
	embedder ai.Embedder
	minSim   float32
	logger   log.Logger
}

// StoreConfig holds the store's dependencies.
type StoreConfig struct {
	DB       Querier     // required
	Embedder ai.Embedder // required
	MinSim   float32     // similarity floor; 0 keeps everything
	Logger   log.Logger  // required
}

// NewStore creates a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database querier is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Store{
		db:       cfg.DB,
		embedder: cfg.Embedder,
		minSim:   cfg.MinSim,
		logger:   cfg.Logger,
	}, nil
}

// Search returns up to k FAQ passages ranked by descending cosine
// similarity, in the backend's native order. An empty result means no
// sufficiently similar FAQ exists; it is not an error. Backend or embedding
// failures wrap ErrUnavailable.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if k <= 0 {
		k = 3
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := s.embedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrUnavailable, err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, question, answer, source, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM faqs
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: search query: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var sim float64
		if err := rows.Scan(&m.FAQ.ID, &m.FAQ.Question, &m.FAQ.Answer, &m.FAQ.Source, &m.FAQ.Created, &sim); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %w", ErrUnavailable, err)
		}
		m.Similarity = clampSimilarity(sim)
		if m.Similarity < s.minSim {
			// Ordered by similarity, so everything after is weaker too.
			break
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading rows: %w", ErrUnavailable, err)
	}

	s.logger.Debug("FAQ search completed", "query_length", len(query), "matches", len(matches))
	return matches, nil
}

// Add upserts one FAQ, embedding its question and answer together so
// retrieval matches either phrasing.
func (s *Store) Add(ctx context.Context, faq FAQ) error {
	if faq.ID == "" || faq.Question == "" {
		return fmt.Errorf("faq requires an id and a question")
	}

	vec, err := s.embedText(ctx, faq.Question+"\n"+faq.Answer)
	if err != nil {
		return fmt.Errorf("embedding faq %q: %w", faq.ID, err)
	}

	created := faq.Created
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO faqs (id, question, answer, source, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			question = EXCLUDED.question,
			answer = EXCLUDED.answer,
			source = EXCLUDED.source,
			embedding = EXCLUDED.embedding`,
		faq.ID, faq.Question, faq.Answer, faq.Source, vec, created)
	if err != nil {
		return fmt.Errorf("upserting faq %q: %w", faq.ID, err)
	}
	return nil
}

// Count returns the number of stored FAQ passages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	rows, err := s.db.Query(ctx, `SELECT count(*) FROM faqs`)
	if err != nil {
		return 0, fmt.Errorf("counting faqs: %w", err)
	}
	defer rows.Close()

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("scanning count: %w", err)
		}
	}
	return count, rows.Err()
}

// embedText generates the query/document embedding, truncated to the schema
// dimensionality via the embedder's output-dimensionality option.
func (s *Store) embedText(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("embedder returned no vector")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// clampSimilarity converts a cosine-distance complement to the [0,1] score
// the rest of the system expects. Floating point can push the raw value
// slightly outside the range.
func clampSimilarity(sim float64) float32 {
	switch {
	case sim < 0:
		return 0
	case sim > 1:
		return 1
	default:
		return float32(sim)
	}
}
