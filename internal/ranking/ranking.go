// Package ranking scores stored principles against the error currently
// being debugged.
//
// The score is a fixed three-bucket heuristic (category match, keyword
// overlap, historical success rate) chosen for explainability over
// precision; the weights are part of the behavioral contract and must not
// drift.
package ranking

import (
	"sort"
	"strings"

	"github.com/athenaclew/athena/internal/knowledge"
)

// Scoring weights. Each term is clamped into its own bucket before summing
// and the final score is clamped to [0, 1].
const (
	// CategoryWeight is awarded for an exact category match only; there is
	// no partial credit for taxonomy proximity.
	CategoryWeight = 0.5

	// OverlapPerToken is the contribution of each principle token that
	// appears verbatim in the error message.
	OverlapPerToken = 0.1

	// OverlapCap bounds the keyword-overlap bucket.
	OverlapCap = 0.3

	// SuccessRateWeight scales the principle's historical success rate.
	SuccessRateWeight = 0.2

	// DefaultSuccessRate stands in when a principle carries no history,
	// contributing DefaultSuccessRate * SuccessRateWeight.
	DefaultSuccessRate = 0.5
)

// ErrorContext is the error being debugged, as seen by the ranker.
type ErrorContext struct {
	Message        string
	Classification knowledge.Category
}

// Scored pairs a principle with its relevance score.
type Scored struct {
	Principle knowledge.Principle
	Score     float64
}

// Rank scores every principle against the error and returns them sorted by
// score descending.
//
// The sort is stable: the store pre-sorts its results by success rate
// descending, so principles that tie after scoring keep that secondary
// order.
func Rank(principles []knowledge.Principle, errCtx ErrorContext) []Scored {
	scored := make([]Scored, 0, len(principles))
	for _, p := range principles {
		scored = append(scored, Scored{
			Principle: p,
			Score:     Score(p, errCtx),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Score computes the relevance of one principle to the error.
func Score(p knowledge.Principle, errCtx ErrorContext) float64 {
	score := 0.0

	if p.Category == errCtx.Classification {
		score += CategoryWeight
	}

	overlap := float64(overlapCount(p.Statement, errCtx.Message)) * OverlapPerToken
	if overlap > OverlapCap {
		overlap = OverlapCap
	}
	score += overlap

	rate := p.Context.SuccessRate
	if p.Context.AppliedCount == 0 {
		rate = DefaultSuccessRate
	}
	score += rate * SuccessRateWeight

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// overlapCount counts principle tokens that appear verbatim in the error
// message. Whitespace tokenization, case-insensitive, no stemming.
func overlapCount(statement, message string) int {
	errorWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(message)) {
		errorWords[w] = struct{}{}
	}

	count := 0
	for _, w := range strings.Fields(strings.ToLower(statement)) {
		if _, ok := errorWords[w]; ok {
			count++
		}
	}
	return count
}
