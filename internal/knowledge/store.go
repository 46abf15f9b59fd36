package knowledge

import (
	"context"
)

// Query limits shared by every Store implementation.
const (
	// SameProjectFixLimit caps same-project retrieval by classification.
	SameProjectFixLimit = 5

	// CrossProjectFixLimit caps per-project results during cross-project
	// fallback retrieval.
	CrossProjectFixLimit = 3

	// AllFixesLimit caps GetAllFixesForProject.
	AllFixesLimit = 50
)

// CategoryFilter is a tagged optional category for principle queries.
//
// The zero value matches every category; use OneCategory to restrict.
// This replaces "nil means unfiltered" semantics in the store contract.
type CategoryFilter struct {
	category Category
	set      bool
}

// AnyCategory returns a filter matching every principle category.
func AnyCategory() CategoryFilter {
	return CategoryFilter{}
}

// OneCategory returns a filter matching exactly the given category.
func OneCategory(c Category) CategoryFilter {
	return CategoryFilter{category: c, set: true}
}

// Matches reports whether the filter admits the given category.
func (f CategoryFilter) Matches(c Category) bool {
	return !f.set || f.category == c
}

// Restricted reports whether the filter names a single category, and which.
func (f CategoryFilter) Restricted() (Category, bool) {
	return f.category, f.set
}

// Store is the knowledge-store access contract consumed by every pipeline
// stage. Implementations are expected to be safe for use from the single
// logical thread of one pipeline run; no cross-writer atomicity is promised
// for the read-then-write success-rate update.
type Store interface {
	// Sessions and projects.

	// CreateSession persists a new session record.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession loads a session, ErrSessionNotFound when absent.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// TouchSession refreshes the session's last-active timestamp.
	TouchSession(ctx context.Context, sessionID string) error

	// SetCurrentProject moves the session's current-project pointer.
	SetCurrentProject(ctx context.Context, sessionID, projectID string) error

	// CreateProject persists a project and returns its id.
	CreateProject(ctx context.Context, p *Project) (string, error)

	// GetAllProjectsForSession lists a session's projects, newest-first.
	GetAllProjectsForSession(ctx context.Context, sessionID string) ([]Project, error)

	// DeleteProject removes a project and its fixes and principles.
	DeleteProject(ctx context.Context, sessionID, projectID string) error

	// Fixes.

	// CreateFix persists a fix and returns its id.
	CreateFix(ctx context.Context, sessionID, projectID string, fix *Fix) (string, error)

	// GetFixesByClassification returns fixes whose error type matches the
	// classification, newest-first, capped at limit.
	GetFixesByClassification(ctx context.Context, sessionID, projectID string, classification Category, limit int) ([]Fix, error)

	// GetAllFixesForProject returns the project's fixes newest-first,
	// capped at AllFixesLimit.
	GetAllFixesForProject(ctx context.Context, sessionID, projectID string) ([]Fix, error)

	// BumpFixUsage increments the fix's applied count and stamps
	// last-applied.
	BumpFixUsage(ctx context.Context, sessionID, projectID, fixID string) error

	// SetFixFeedback records the user's helpful judgement on a fix.
	SetFixFeedback(ctx context.Context, sessionID, projectID, fixID string, helpful bool) error

	// LinkPrinciple appends a principle id to the fix's linked list.
	LinkPrinciple(ctx context.Context, sessionID, projectID, fixID, principleID string) error

	// Principles.

	// CreatePrinciple persists a principle linked to the given fix and
	// returns the principle id.
	CreatePrinciple(ctx context.Context, sessionID, projectID string, p *Principle, linkedFixID string) (string, error)

	// GetPrinciplesByCategory returns principles admitted by the filter,
	// sorted by success rate descending, capped at limit (<=0 means no cap).
	GetPrinciplesByCategory(ctx context.Context, sessionID, projectID string, filter CategoryFilter, limit int) ([]Principle, error)

	// GetPrinciple loads one principle, ErrPrincipleNotFound when absent.
	GetPrinciple(ctx context.Context, sessionID, projectID, principleID string) (*Principle, error)

	// UpdatePrincipleSuccessRate overwrites the principle's reinforcement
	// state. Returns ErrPrincipleNotFound when the id does not resolve.
	UpdatePrincipleSuccessRate(ctx context.Context, sessionID, projectID, principleID string, newRate float64, newCount int) error
}
