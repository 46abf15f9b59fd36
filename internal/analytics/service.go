package analytics

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/athenaclew/athena/internal/knowledge"
)

// Service loads session data and runs the reducers over it.
type Service struct {
	store  knowledge.Store
	logger *zap.Logger
}

// NewService creates an analytics service over the given store.
func NewService(store knowledge.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}, nil
}

// Overview is the full session report.
type Overview struct {
	Stats     SessionStats      `json:"stats"`
	Breakdown []TypeCount       `json:"breakdown"`
	Projects  []ProjectStats    `json:"projects"`
	Knowledge []TaggedPrinciple `json:"knowledge"`
	Alerts    []PatternAlert    `json:"alerts,omitempty"`
}

// SessionOverview aggregates every project in the session. Per-project read
// failures are logged and skipped so a single bad read does not blank the
// whole report.
func (s *Service) SessionOverview(ctx context.Context, sessionID string) (*Overview, error) {
	projects, err := s.store.GetAllProjectsForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	var (
		allFixes      []knowledge.Fix
		allPrinciples []knowledge.Principle
		perProject    []ProjectStats
		alerts        []PatternAlert
	)
	principlesByProject := make(map[string][]knowledge.Principle, len(projects))

	for _, project := range projects {
		fixes, err := s.store.GetAllFixesForProject(ctx, sessionID, project.ID)
		if err != nil {
			s.logger.Warn("loading fixes for analytics failed, skipping project",
				zap.Error(err), zap.String("project_id", project.ID))
			continue
		}
		principles, err := s.store.GetPrinciplesByCategory(ctx, sessionID, project.ID, knowledge.AnyCategory(), 0)
		if err != nil {
			s.logger.Warn("loading principles for analytics failed, skipping project",
				zap.Error(err), zap.String("project_id", project.ID))
			continue
		}

		allFixes = append(allFixes, fixes...)
		allPrinciples = append(allPrinciples, principles...)
		principlesByProject[project.ID] = principles
		perProject = append(perProject, ProjectBreakdown(project, fixes))
		alerts = append(alerts, DetectPatterns(project, fixes)...)
	}

	return &Overview{
		Stats:     Aggregate(allFixes, allPrinciples),
		Breakdown: Breakdown(allFixes),
		Projects:  perProject,
		Knowledge: KnowledgeBase(projects, principlesByProject),
		Alerts:    alerts,
	}, nil
}
