package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/athenaclew/athena/internal/knowledge"
)

const (
	// DefaultCallTimeout bounds each model call so a stalled collaborator
	// becomes a stage failure instead of hanging the pipeline.
	DefaultCallTimeout = 8 * time.Second

	// rateLimitBackoff is the fixed pause before the single retry after a
	// detected rate-limit error.
	rateLimitBackoff = 2 * time.Second
)

// Config holds client settings for the OpenAI-compatible model endpoint.
type Config struct {
	// BaseURL is the API base URL (any OpenAI-compatible endpoint).
	BaseURL string

	// Model is the chat model name.
	Model string

	// APIKey authenticates against the endpoint.
	APIKey string

	// CallTimeout bounds each model call; DefaultCallTimeout when zero.
	CallTimeout time.Duration

	// RequestsPerSecond throttles outgoing calls; 0 disables throttling.
	RequestsPerSecond float64
}

// Client implements Analyzer and Extractor over a langchaingo model.
type Client struct {
	model   llms.Model
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

var (
	_ Analyzer  = (*Client)(nil)
	_ Extractor = (*Client)(nil)
)

// NewClient builds a client for the configured endpoint.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	return NewClientWithModel(model, cfg, logger), nil
}

// NewClientWithModel wraps an existing model, mainly for tests.
func NewClientWithModel(model llms.Model, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		model:   model,
		timeout: timeout,
		limiter: limiter,
		logger:  logger,
	}
}

// Analyze classifies the error and proposes a root cause.
func (c *Client) Analyze(ctx context.Context, errorMessage, stack string) (*Analysis, error) {
	if strings.TrimSpace(errorMessage) == "" {
		return nil, ErrEmptyErrorText
	}

	prompt := analyzePrompt(errorMessage, stack)
	start := time.Now()
	text, tokens, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("analyzing error: %w", err)
	}
	elapsed := time.Since(start)

	var parsed struct {
		Classification string   `json:"classification"`
		RootCause      string   `json:"rootCause"`
		Patterns       []string `json:"patterns"`
		Confidence     float64  `json:"confidence"`
	}
	if err := decodeJSON(text, &parsed); err != nil {
		return nil, err
	}

	classification := knowledge.Category(parsed.Classification)
	if !knowledge.IsValidPrincipleCategory(parsed.Classification) {
		classification = knowledge.CategoryUnknown
	}
	confidence := parsed.Confidence
	if confidence <= 0 {
		confidence = 0.5
	}

	c.logger.Debug("error analyzed",
		zap.String("classification", string(classification)),
		zap.Duration("response_time", elapsed),
		zap.Int("tokens_used", tokens))

	return &Analysis{
		Classification: classification,
		RootCause:      parsed.RootCause,
		Confidence:     confidence,
		Patterns:       parsed.Patterns,
		TokensUsed:     tokens,
		ResponseTime:   elapsed,
	}, nil
}

// Extract distills a reusable principle from a successful fix.
func (c *Client) Extract(ctx context.Context, errorMessage, solution string, analysis *Analysis) (*Extraction, error) {
	if strings.TrimSpace(errorMessage) == "" {
		return nil, ErrEmptyErrorText
	}
	if strings.TrimSpace(solution) == "" {
		return nil, ErrEmptySolution
	}

	prompt := extractPrompt(errorMessage, solution, analysis)
	text, tokens, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("extracting principle: %w", err)
	}

	var parsed struct {
		Principle  string  `json:"principle"`
		Category   string  `json:"category"`
		Reasoning  string  `json:"reasoning"`
		Confidence float64 `json:"confidence"`
	}
	if err := decodeJSON(text, &parsed); err != nil {
		return nil, err
	}
	if strings.TrimSpace(parsed.Principle) == "" {
		return nil, fmt.Errorf("%w: missing principle statement", ErrBadResponse)
	}
	if !strings.Contains(strings.ToLower(parsed.Principle), "when") {
		c.logger.Warn("principle does not follow condition/action form",
			zap.String("statement", parsed.Principle))
	}

	category := knowledge.Category(parsed.Category)
	if !knowledge.IsValidPrincipleCategory(parsed.Category) {
		category = knowledge.CategoryOther
	}
	confidence := parsed.Confidence
	if confidence <= 0 {
		confidence = 0.7
	}

	return &Extraction{
		Statement:  parsed.Principle,
		Category:   category,
		Reasoning:  parsed.Reasoning,
		Confidence: confidence,
		TokensUsed: tokens,
	}, nil
}

// generate runs one model call with timeout, throttling, and a single
// fixed-backoff retry on rate limiting.
func (c *Client) generate(ctx context.Context, prompt string) (string, int, error) {
	attempts := 0
	for {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return "", 0, err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.model.GenerateContent(callCtx,
			[]llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)},
			llms.WithTemperature(0.3))
		cancel()

		if err != nil {
			if isRateLimit(err) && attempts == 1 {
				c.logger.Warn("rate limit hit, retrying once",
					zap.Duration("backoff", rateLimitBackoff))
				select {
				case <-time.After(rateLimitBackoff):
					continue
				case <-ctx.Done():
					return "", 0, ctx.Err()
				}
			}
			if isRateLimit(err) {
				return "", 0, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return "", 0, err
		}

		if len(resp.Choices) == 0 {
			return "", 0, fmt.Errorf("%w: empty response", ErrBadResponse)
		}
		choice := resp.Choices[0]
		return choice.Content, totalTokens(choice.GenerationInfo), nil
	}
}

// isRateLimit detects quota/429 style errors from the provider.
func isRateLimit(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit")
}

// totalTokens pulls a token count out of provider generation info.
func totalTokens(info map[string]any) int {
	for _, key := range []string{"TotalTokens", "CompletionTokens"} {
		if v, ok := info[key]; ok {
			if n, ok := v.(int); ok {
				return n
			}
		}
	}
	return 0
}

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// decodeJSON parses a model response that should be a single JSON object,
// tolerating fenced code blocks and surrounding prose.
func decodeJSON(text string, out any) error {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if err := json.Unmarshal([]byte(cleaned), out); err == nil {
		return nil
	}
	if m := jsonObjectRe.FindString(text); m != "" {
		if err := json.Unmarshal([]byte(m), out); err == nil {
			return nil
		}
	}
	return ErrBadResponse
}
