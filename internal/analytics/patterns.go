package analytics

import (
	"fmt"

	"github.com/athenaclew/athena/internal/knowledge"
)

// Pattern-alert thresholds: a type must recur at least minOccurrences times
// and account for at least minShare of the project's fixes to raise an
// alert.
const (
	minOccurrences = 3
	minShare       = 0.4
)

// PatternAlert flags an error type that keeps recurring in one project.
type PatternAlert struct {
	ProjectID   string             `json:"project_id"`
	ProjectName string             `json:"project_name"`
	Type        knowledge.Category `json:"type"`
	Count       int                `json:"count"`
	Share       float64            `json:"share"`
	Message     string             `json:"message"`
}

// DetectPatterns scans a project's fixes for dominant recurring error
// types. Returns nil when nothing crosses the thresholds.
func DetectPatterns(project knowledge.Project, fixes []knowledge.Fix) []PatternAlert {
	if len(fixes) < minOccurrences {
		return nil
	}

	var alerts []PatternAlert
	for _, tc := range Breakdown(fixes) {
		if tc.Count < minOccurrences || tc.Share < minShare {
			continue
		}
		if tc.Type == knowledge.CategoryUnknown {
			continue
		}
		alerts = append(alerts, PatternAlert{
			ProjectID:   project.ID,
			ProjectName: project.Name,
			Type:        tc.Type,
			Count:       tc.Count,
			Share:       tc.Share,
			Message: fmt.Sprintf("%d of your last %d errors in %s were %s errors",
				tc.Count, len(fixes), project.Name, tc.Type),
		})
	}
	return alerts
}
