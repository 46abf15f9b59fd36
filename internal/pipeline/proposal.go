package pipeline

import (
	"time"

	"github.com/athenaclew/athena/internal/knowledge"
	"github.com/athenaclew/athena/internal/llm"
	"github.com/athenaclew/athena/internal/ranking"
	"github.com/athenaclew/athena/internal/similarity"
)

// PromotedConfidence is the fixed confidence assigned to past fixes
// promoted into solution entries when ranking comes back empty.
const PromotedConfidence = 0.85

// Solution is one actionable entry surfaced to the user.
type Solution struct {
	// Title is a short label for the entry.
	Title string `json:"title"`

	// Description is the solution body.
	Description string `json:"description"`

	// CodeSnippet is an optional illustrative snippet.
	CodeSnippet string `json:"code_snippet,omitempty"`

	// Confidence is the entry's confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Source labels where the entry came from, e.g. "Past Fix" or
	// "Project: API Service" for cross-project promotions.
	Source string `json:"source"`
}

// Proposal is the pipeline's output for one submission, held until the user
// records feedback. Exactly one proposal is live at a time; each new
// submission overwrites it.
type Proposal struct {
	SessionID string
	ProjectID string

	// ErrorText and Stack are the submission as received.
	ErrorText string
	Stack     string

	// Classification is the final classification after the analyzer result
	// and the keyword classifier have both had their say.
	Classification knowledge.Category

	// Analysis is the analyzer's verdict, possibly the fallback.
	Analysis *llm.Analysis

	// DejaVu is set when the detector short-circuited the run.
	DejaVu *similarity.Match

	// PastFixes are the retrieved historical fixes, newest-first. Entries
	// found in other projects carry Origin metadata.
	PastFixes []knowledge.Fix

	// Extraction is the distilled principle, nil when the stage was
	// skipped or failed.
	Extraction *llm.Extraction

	// RankedPrinciples are stored principles scored against this error,
	// best first.
	RankedPrinciples []ranking.Scored

	// Solutions are the entries surfaced to the user, including past fixes
	// promoted when ranking returned nothing.
	Solutions []Solution

	// UsedPastFixID is set once the user applies a déjà-vu match.
	UsedPastFixID string

	// EvaluatedPrincipleID is the principle whose success rate this run's
	// feedback reinforces, empty when none was surfaced.
	EvaluatedPrincipleID string

	CreatedAt time.Time
}

// ShortCircuited reports whether this proposal is a déjà-vu short-circuit
// still awaiting the user's apply/continue decision.
func (p *Proposal) ShortCircuited() bool {
	return p.DejaVu != nil && p.UsedPastFixID == "" && p.Analysis == nil
}
