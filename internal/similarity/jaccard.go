// Package similarity implements the text-similarity detector used to
// recognize near-duplicate errors before a full analysis run.
//
// Similarity is Jaccard overlap on token sets: deterministic, explainable,
// and deliberately not an embedding model.
package similarity

import (
	"strings"
)

// minTokenLen drops short noise tokens ("of", "at", "is") from the sets.
const minTokenLen = 3

// Tokenize normalizes text into the token set used for Jaccard overlap.
//
// Lowercases, replaces every character outside [a-z0-9] and whitespace with
// a space, splits on whitespace, and discards tokens of length <= 2.
func Tokenize(text string) map[string]struct{} {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	set := make(map[string]struct{})
	for _, tok := range strings.Fields(b.String()) {
		if len(tok) < minTokenLen {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard returns |A ∩ B| / |A ∪ B| for the token sets of a and b.
//
// When either side tokenizes to the empty set the result is 0, never NaN.
// The function is symmetric and returns 1.0 for identical non-empty sets.
func Jaccard(a, b string) float64 {
	setA := Tokenize(a)
	setB := Tokenize(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
