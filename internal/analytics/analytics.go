// Package analytics provides read-only reducers over a session's fixes and
// principles: overall success rate, error-type breakdowns, per-project
// summaries, and the flattened knowledge-base view.
package analytics

import (
	"sort"

	"github.com/athenaclew/athena/internal/knowledge"
)

// SessionStats is the session-wide roll-up.
type SessionStats struct {
	TotalFixes int `json:"total_fixes"`

	// HelpfulFixes counts fixes judged helpful. A fix with a stored
	// solution and no recorded feedback counts as helpful; only an
	// explicit not-helpful verdict counts against.
	HelpfulFixes int `json:"helpful_fixes"`

	// SuccessRate is HelpfulFixes / TotalFixes, 0 with no fixes.
	SuccessRate float64 `json:"success_rate"`

	TotalPrinciples int `json:"total_principles"`

	// UniqueStatements counts distinct principle statement texts.
	UniqueStatements int `json:"unique_statements"`
}

// TypeCount is one slice of the error-type breakdown.
type TypeCount struct {
	Type  knowledge.Category `json:"type"`
	Count int                `json:"count"`

	// Share is the fraction of all fixes carrying this type, in [0, 1].
	Share float64 `json:"share"`
}

// ProjectStats summarizes one project's debugging history.
type ProjectStats struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
	FixCount    int    `json:"fix_count"`

	// TopErrorType is the project's most frequent error type and TopShare
	// its fraction of the project's fixes. Empty/zero with no fixes.
	TopErrorType knowledge.Category `json:"top_error_type,omitempty"`
	TopShare     float64            `json:"top_share"`
}

// TaggedPrinciple is a principle annotated with its project of origin for
// the cross-project knowledge-base view.
type TaggedPrinciple struct {
	knowledge.Principle
	ProjectName string `json:"project_name"`
}

// fixCountsAsHelpful applies the default-helpful rule.
func fixCountsAsHelpful(f knowledge.Fix) bool {
	if f.Feedback != nil {
		return f.Feedback.Helpful
	}
	return f.Solution.Text != ""
}

// Aggregate rolls all fixes and principles in a session into one summary.
func Aggregate(fixes []knowledge.Fix, principles []knowledge.Principle) SessionStats {
	stats := SessionStats{
		TotalFixes:      len(fixes),
		TotalPrinciples: len(principles),
	}
	for _, f := range fixes {
		if fixCountsAsHelpful(f) {
			stats.HelpfulFixes++
		}
	}
	if stats.TotalFixes > 0 {
		stats.SuccessRate = float64(stats.HelpfulFixes) / float64(stats.TotalFixes)
	}

	seen := make(map[string]struct{}, len(principles))
	for _, p := range principles {
		seen[p.Statement] = struct{}{}
	}
	stats.UniqueStatements = len(seen)
	return stats
}

// Breakdown counts fixes per error type, largest share first.
func Breakdown(fixes []knowledge.Fix) []TypeCount {
	counts := make(map[knowledge.Category]int)
	for _, f := range fixes {
		counts[f.Error.Type]++
	}

	out := make([]TypeCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TypeCount{
			Type:  t,
			Count: n,
			Share: float64(n) / float64(len(fixes)),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// ProjectBreakdown summarizes one project from its fixes.
func ProjectBreakdown(project knowledge.Project, fixes []knowledge.Fix) ProjectStats {
	stats := ProjectStats{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		FixCount:    len(fixes),
	}
	if len(fixes) == 0 {
		return stats
	}
	top := Breakdown(fixes)[0]
	stats.TopErrorType = top.Type
	stats.TopShare = top.Share
	return stats
}

// KnowledgeBase flattens per-project principles into one list tagged with
// project names, sorted by success rate descending.
func KnowledgeBase(projects []knowledge.Project, principlesByProject map[string][]knowledge.Principle) []TaggedPrinciple {
	names := make(map[string]string, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
	}

	var out []TaggedPrinciple
	for projectID, principles := range principlesByProject {
		for _, p := range principles {
			out = append(out, TaggedPrinciple{
				Principle:   p,
				ProjectName: names[projectID],
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Context.SuccessRate != out[j].Context.SuccessRate {
			return out[i].Context.SuccessRate > out[j].Context.SuccessRate
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
