package pipeline

import (
	"github.com/athenaclew/athena/internal/knowledge"
	"github.com/athenaclew/athena/internal/llm"
	"github.com/athenaclew/athena/internal/similarity"
)

// Stage names the pipeline's five stages for logging, metrics, and the
// fallback table.
type Stage string

const (
	StageDetection  Stage = "detection"
	StageAnalysis   Stage = "analysis"
	StageRetrieval  Stage = "retrieval"
	StageExtraction Stage = "extraction"
	StageRanking    Stage = "ranking"
)

// fallbackAnalysis is the documented substitute when the analyzer fails:
// the pipeline continues with an unknown classification rather than abort.
func fallbackAnalysis() *llm.Analysis {
	return &llm.Analysis{
		Classification: knowledge.CategoryUnknown,
		Confidence:     0.3,
		RootCause:      "AI analysis unavailable",
	}
}

// stageFallbacks is the single place the per-stage degradation contract
// lives; every stage handler substitutes its entry on failure. Detection
// and extraction degrade to "nothing found"; analysis degrades to the fixed
// unknown verdict; the read stages degrade to empty result sets.
var stageFallbacks = map[Stage]func() any{
	StageDetection:  func() any { return (*similarity.Match)(nil) },
	StageAnalysis:   func() any { return fallbackAnalysis() },
	StageRetrieval:  func() any { return []knowledge.Fix(nil) },
	StageExtraction: func() any { return (*llm.Extraction)(nil) },
	StageRanking:    func() any { return []knowledge.Principle(nil) },
}

// FallbackFor returns the substitute value for a failed stage, nil when the
// stage's contract is to skip.
func FallbackFor(stage Stage) any {
	if f, ok := stageFallbacks[stage]; ok {
		return f()
	}
	return nil
}
