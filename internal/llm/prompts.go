package llm

import (
	"fmt"
	"strings"
)

// analyzePrompt builds the Error Analyzer prompt. The model must answer with
// a single JSON object; decodeJSON tolerates code fences around it.
func analyzePrompt(errorMessage, stack string) string {
	var b strings.Builder
	b.WriteString("You are a debugging assistant. Analyze this error and respond with ONLY a JSON object, no other text.\n\n")
	fmt.Fprintf(&b, "Error message:\n%s\n", errorMessage)
	if strings.TrimSpace(stack) != "" {
		fmt.Fprintf(&b, "\nStack trace:\n%s\n", stack)
	}
	b.WriteString(`
Respond with this exact JSON shape:
{
  "classification": "async|dependency|state|logic|syntax|unknown",
  "rootCause": "one or two sentences explaining what went wrong",
  "patterns": ["recurring patterns you notice, if any"],
  "confidence": 0.0
}

Classification guide:
- async: timing, promises, race conditions, network timeouts
- dependency: missing modules, version conflicts, import failures
- state: stale or inconsistent application state
- logic: null/undefined access, wrong branch conditions, off-by-one
- syntax: parse errors, unexpected tokens
- unknown: none of the above fits

Set confidence between 0 and 1 based on how certain you are.`)
	return b.String()
}

// extractPrompt builds the Principle Extractor prompt. The statement must be
// phrased as a condition/action rule so it generalizes beyond this one fix.
func extractPrompt(errorMessage, solution string, analysis *Analysis) string {
	var b strings.Builder
	b.WriteString("You are a debugging assistant. A developer just fixed an error. Extract one reusable debugging principle and respond with ONLY a JSON object, no other text.\n\n")
	fmt.Fprintf(&b, "Error:\n%s\n\nWhat fixed it:\n%s\n", errorMessage, solution)
	if analysis != nil {
		fmt.Fprintf(&b, "\nEarlier analysis: classification=%s, root cause: %s\n",
			analysis.Classification, analysis.RootCause)
	}
	b.WriteString(`
Respond with this exact JSON shape:
{
  "principle": "When <condition>, then <action>",
  "category": "async|dependency|state|logic|syntax|other",
  "reasoning": "why this principle generalizes beyond this one error",
  "confidence": 0.0
}

The principle must be phrased as "When <condition>, then <action>" and be
general enough to apply to future errors of the same kind, not a restatement
of this specific fix.`)
	return b.String()
}
