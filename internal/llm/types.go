// Package llm defines the contracts for the two LLM collaborators the
// pipeline consumes, the Error Analyzer and the Principle Extractor, plus a
// langchaingo-backed client implementing both.
//
// Implementations must fail cleanly with an error rather than return
// malformed data: the orchestrator's fallback substitution depends on that
// contract.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/athenaclew/athena/internal/knowledge"
)

// Common errors for LLM boundary operations.
var (
	ErrEmptyErrorText = errors.New("error text cannot be empty")
	ErrEmptySolution  = errors.New("solution text cannot be empty")
	ErrBadResponse    = errors.New("invalid JSON response from model")
	ErrRateLimited    = errors.New("model rate limit reached")
)

// Analysis is the Error Analyzer's verdict on one error submission.
type Analysis struct {
	// Classification places the error in the taxonomy, "unknown" when the
	// model could not decide.
	Classification knowledge.Category `json:"classification"`

	// RootCause is a brief explanation of what went wrong.
	RootCause string `json:"root_cause"`

	// Confidence is the model's self-reported certainty in [0, 1].
	Confidence float64 `json:"confidence"`

	// Patterns lists recurring shapes the model spotted in the input.
	Patterns []string `json:"patterns,omitempty"`

	// TokensUsed and ResponseTime are usage metadata for bookkeeping.
	TokensUsed   int           `json:"tokens_used"`
	ResponseTime time.Duration `json:"response_time"`
}

// Extraction is the Principle Extractor's generalized takeaway from a fix.
type Extraction struct {
	// Statement is the principle text, expected to read
	// "When <condition>, then <action>".
	Statement string `json:"statement"`

	// Category places the principle in the taxonomy.
	Category knowledge.Category `json:"category"`

	// Reasoning explains why the principle generalizes.
	Reasoning string `json:"reasoning,omitempty"`

	// Confidence is the model's self-reported certainty in [0, 1].
	Confidence float64 `json:"confidence"`

	// TokensUsed is usage metadata for bookkeeping.
	TokensUsed int `json:"tokens_used"`
}

// Analyzer classifies an error and proposes its root cause.
type Analyzer interface {
	Analyze(ctx context.Context, errorMessage, stack string) (*Analysis, error)
}

// Extractor distills a reusable principle from a successful fix.
type Extractor interface {
	Extract(ctx context.Context, errorMessage, solution string, analysis *Analysis) (*Extraction, error)
}
