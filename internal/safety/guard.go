package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/polarops/snowdesk/internal/log"
)

// maxGuardResponse caps the guard response body size.
const maxGuardResponse = 1 << 20 // 1MB

// GuardConfig configures the Guard classifier client.
type GuardConfig struct {
	Endpoint string        // base URL of the guard service, required
	Timeout  time.Duration // per-call timeout (default 10s)
	Logger   log.Logger    // required
	Screen   *PromptScreen // optional local prefilter for input direction
	Client   *http.Client  // optional, for tests
}

// Guard checks text against the content policy. Input text passes through
// the local prompt screen first; everything then goes to the remote
// classifier. One remote call per Check, no retry: a transient failure
// surfaces as ErrUnavailable and the caller's policy decides the turn.
type Guard struct {
	endpoint string
	client   *http.Client
	screen   *PromptScreen
	logger   log.Logger
}

// NewGuard creates a Guard client.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("guard endpoint is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &Guard{
		endpoint: cfg.Endpoint,
		client:   client,
		screen:   cfg.Screen,
		logger:   cfg.Logger,
	}, nil
}

// guardRequest is the classifier request body. Exactly one of the two data
// fields is set, selected by direction.
type guardRequest struct {
	UserPromptData    *textData `json:"userPromptData,omitempty"`
	ModelResponseData *textData `json:"modelResponseData,omitempty"`
}

type textData struct {
	Text string `json:"text"`
}

// guardResponse mirrors the classifier's sanitization result. Each filter
// reports an inner result object keyed by filter kind; any MATCH_FOUND
// blocks the text.
type guardResponse struct {
	SanitizationResult struct {
		FilterResults map[string]map[string]filterResult `json:"filterResults"`
	} `json:"sanitizationResult"`
}

type filterResult struct {
	MatchState      string `json:"matchState"`
	ConfidenceLevel string `json:"confidenceLevel"`
}

// Check classifies text for the given direction. A blocked verdict carries
// the matching filter names as the reason. Remote failures wrap
// ErrUnavailable and never produce a verdict.
func (g *Guard) Check(ctx context.Context, text string, dir Direction) (Result, error) {
	// Local prefilter applies to user input only; model output is judged by
	// the remote policy alone.
	if dir == DirectionInput && g.screen != nil {
		if res := g.screen.Screen(text); !res.Safe {
			g.logger.Warn("prompt screen blocked input", "patterns", len(res.Patterns))
			return Result{
				Verdict:    VerdictBlocked,
				Reason:     "prompt injection pattern detected",
				Confidence: "HIGH",
			}, nil
		}
	}

	body := guardRequest{}
	if dir == DirectionInput {
		body.UserPromptData = &textData{Text: text}
	} else {
		body.ModelResponseData = &textData{Text: text}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encoding request: %w", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("%w: building request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: guard returned status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxGuardResponse))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}

	var parsed guardResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: malformed response: %w", ErrUnavailable, err)
	}

	var blocked []string
	confidence := ""
	for filterName, inner := range parsed.SanitizationResult.FilterResults {
		for _, fr := range inner {
			if fr.MatchState == "MATCH_FOUND" {
				blocked = append(blocked, filterName)
				if fr.ConfidenceLevel != "" {
					confidence = fr.ConfidenceLevel
				}
			}
		}
	}

	if len(blocked) > 0 {
		g.logger.Info("guard blocked text", "direction", dir, "filters", blocked)
		return Result{
			Verdict:    VerdictBlocked,
			Reason:     "blocked by policy filters: " + joinSorted(blocked),
			Confidence: confidence,
		}, nil
	}

	return Result{Verdict: VerdictSafe}, nil
}

// joinSorted joins filter names deterministically; map iteration order would
// otherwise make reasons unstable across identical responses.
func joinSorted(names []string) string {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	return strings.Join(sorted, ", ")
}
