package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// ScriptedModel provides deterministic model responses for testing. It
// matches the last user message against registered substrings and replies
// with the scripted text or tool requests.
//
// Thread-safe for concurrent use.
type ScriptedModel struct {
	mu       sync.Mutex
	rules    []scriptRule
	fallback string
	err      error
	calls    int
}

type scriptRule struct {
	pattern  string
	response string
	tools    []*ai.ToolRequest
}

// NewScriptedModel creates a scripted model with the given fallback text,
// returned when no pattern matches.
func NewScriptedModel(fallback string) *ScriptedModel {
	return &ScriptedModel{fallback: fallback}
}

// Respond registers a substring pattern and the text to answer with.
// Patterns are checked in registration order; first match wins.
func (m *ScriptedModel) Respond(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, scriptRule{pattern: strings.ToLower(pattern), response: response})
}

// RespondWithTools registers a pattern that triggers tool requests.
// Once tool responses come back, matching falls through to later rules.
func (m *ScriptedModel) RespondWithTools(pattern string, tools ...*ai.ToolRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, scriptRule{pattern: strings.ToLower(pattern), tools: tools})
}

// Fail makes every subsequent generation return err.
func (m *ScriptedModel) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many generations were attempted.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Register registers the scripted model with Genkit under
// "scripted/test-model" and returns the model reference.
func (m *ScriptedModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "scripted/test-model", &ai.ModelOptions{
		Label: "Scripted Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *ScriptedModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	m.mu.Lock()
	m.calls++
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}

	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	// A tool round is in flight when the latest message carries tool responses.
	toolRound := len(req.Messages) > 0 && req.Messages[len(req.Messages)-1].Role == ai.RoleTool

	var matched *scriptRule
	lower := strings.ToLower(userText)
	for i := range m.rules {
		r := &m.rules[i]
		if !strings.Contains(lower, r.pattern) {
			continue
		}
		if toolRound && len(r.tools) > 0 {
			continue
		}
		matched = r
		break
	}

	responseText := m.fallback
	if matched != nil && matched.response != "" {
		responseText = matched.response
	}
	m.mu.Unlock()

	var parts []*ai.Part
	if matched != nil && len(matched.tools) > 0 {
		for _, tr := range matched.tools {
			parts = append(parts, &ai.Part{Kind: ai.PartToolRequest, ToolRequest: tr})
		}
	} else {
		parts = append(parts, ai.NewTextPart(responseText))
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{Role: ai.RoleModel, Content: parts},
	}, nil
}

// ScriptedEmbedder provides deterministic embedding vectors for testing.
// Each distinct input hashes to a stable unit vector; explicit vectors can
// be pinned for precise similarity control.
type ScriptedEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewScriptedEmbedder creates an embedder producing vectors of dim elements.
func NewScriptedEmbedder(dim int) *ScriptedEmbedder {
	return &ScriptedEmbedder{vectors: make(map[string][]float32), dim: dim}
}

// Pin registers an explicit vector for the given content.
func (e *ScriptedEmbedder) Pin(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

// Register registers the embedder with Genkit under "scripted/test-embedder".
func (e *ScriptedEmbedder) Register(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "scripted/test-embedder", &ai.EmbedderOptions{
		Label:      "Scripted Test Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *ScriptedEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		var sb strings.Builder
		for _, p := range doc.Content {
			if p.Kind == ai.PartText {
				sb.WriteString(p.Text)
			}
		}
		embeddings[i] = &ai.Embedding{Embedding: e.vectorFor(sb.String())}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *ScriptedEmbedder) vectorFor(content string) []float32 {
	e.mu.Lock()
	if v, ok := e.vectors[content]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()
	return hashVector(content, e.dim)
}

// hashVector generates a normalized vector from content using SHA-256, so
// the same content always embeds identically.
func hashVector(content string, dim int) []float32 {
	hash := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)

	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}
