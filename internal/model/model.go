// Package model wraps Genkit generation behind a small client that returns
// a tagged reply: either a final answer or a batch of tool requests. Tool
// execution stays with the caller, which keeps the turn loop explicit and
// bounded.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/polarops/snowdesk/internal/log"
)

// ErrUnavailable indicates the model could not produce a response after
// retries. Callers treat it as a turn-fatal failure.
var ErrUnavailable = errors.New("model unavailable")

// fallbackAnswer is returned when the model produces neither text nor tool
// requests.
const fallbackAnswer = "I'm sorry, I wasn't able to generate a response. Please try rephrasing your question."

// Reply is the result of one generation round.
// Exactly one concrete type is returned: FinalAnswer or ToolCallBatch.
type Reply interface {
	isReply()
}

// FinalAnswer carries the model's answer text with no pending tool work.
type FinalAnswer struct {
	Text string
}

// ToolCallBatch carries the tool requests the model wants executed, along
// with the model message to append to the conversation before the tool
// responses.
type ToolCallBatch struct {
	Requests []*ai.ToolRequest
	Message  *ai.Message
}

func (FinalAnswer) isReply()   {}
func (ToolCallBatch) isReply() {}

// Config holds the client's dependencies and generation parameters.
type Config struct {
	Genkit       *genkit.Genkit // required
	Logger       log.Logger     // required
	ModelName    string         // required, e.g. "googleai/gemini-2.5-flash"
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	Timeout      time.Duration // per-call budget including retries
	Limiter      *rate.Limiter // optional, applied before each attempt
	Retry        RetryConfig
}

// Client issues generation calls with rate limiting and retry.
type Client struct {
	g       *genkit.Genkit
	logger  log.Logger
	name    string
	system  string
	genCfg  *genai.GenerateContentConfig
	timeout time.Duration
	limiter *rate.Limiter
	retry   RetryConfig
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialInterval == 0 {
		retry = DefaultRetryConfig()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		g:      cfg.Genkit,
		logger: cfg.Logger,
		name:   cfg.ModelName,
		system: cfg.SystemPrompt,
		genCfg: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(cfg.Temperature),
			MaxOutputTokens: int32(cfg.MaxTokens),
		},
		timeout: timeout,
		limiter: cfg.Limiter,
		retry:   retry,
	}, nil
}

// Generate runs one model round over the accumulated conversation. Tool
// declarations are passed through; tool requests come back unexecuted so the
// caller dispatches them itself.
func (c *Client) Generate(ctx context.Context, messages []*ai.Message, tools []ai.ToolRef) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.generateWithRetry(ctx, messages, tools)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if requests := resp.ToolRequests(); len(requests) > 0 {
		return ToolCallBatch{Requests: requests, Message: resp.Message}, nil
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		c.logger.Warn("model returned empty response with no tool requests")
		text = fallbackAnswer
	}
	return FinalAnswer{Text: text}, nil
}

// generateWithRetry executes generation with exponential backoff. Each
// attempt waits on the rate limiter so retries cannot burst past quota.
func (c *Client) generateWithRetry(ctx context.Context, messages []*ai.Message, tools []ai.ToolRef) (*ai.ModelResponse, error) {
	opts := []ai.GenerateOption{
		ai.WithModelName(c.name),
		ai.WithMessages(messages...),
		ai.WithConfig(c.genCfg),
		ai.WithReturnToolRequests(true),
	}
	if c.system != "" {
		opts = append(opts, ai.WithSystem(c.system))
	}
	if len(tools) > 0 {
		opts = append(opts, ai.WithTools(tools...))
	}

	var lastErr error
	delay := c.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := genkit.Generate(ctx, c.g, opts...)
		if err == nil {
			c.logger.Debug("generation completed",
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}

		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Debug("retrying generation",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, c.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed: %v): %w",
		c.retry.MaxRetries, time.Since(start), lastErr)
}
