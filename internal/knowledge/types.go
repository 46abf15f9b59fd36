package knowledge

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors for knowledge store operations.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrProjectNotFound   = errors.New("project not found")
	ErrFixNotFound       = errors.New("fix not found")
	ErrPrincipleNotFound = errors.New("principle not found")
	ErrEmptySessionID    = errors.New("session ID cannot be empty")
	ErrEmptyProjectID    = errors.New("project ID cannot be empty")
	ErrEmptyProjectName  = errors.New("project name is required")
	ErrProjectNameTooLong = errors.New("project name too long (max 100 characters)")
	ErrEmptyErrorMessage = errors.New("error message cannot be empty")
	ErrEmptyStatement    = errors.New("principle statement cannot be empty")
	ErrInvalidSuccessRate = errors.New("success rate must be between 0.0 and 1.0")
	ErrLastProject       = errors.New("cannot delete the only project in a session")
)

// MaxProjectNameLen bounds project names per the storage contract.
const MaxProjectNameLen = 100

// Category classifies an error or a principle into the fixed taxonomy.
type Category string

const (
	// CategoryAsync covers timing, promise/await, and network ordering errors.
	CategoryAsync Category = "async"

	// CategoryDependency covers missing modules, packages, and imports.
	CategoryDependency Category = "dependency"

	// CategoryState covers stale or inconsistent application state.
	CategoryState Category = "state"

	// CategoryLogic covers type errors, nil/undefined access, and flow bugs.
	CategoryLogic Category = "logic"

	// CategorySyntax covers parse-level errors.
	CategorySyntax Category = "syntax"

	// CategoryOther is the catch-all principle category.
	CategoryOther Category = "other"

	// CategoryUnknown is used only for error classification, never as a
	// principle category. It marks errors the analyzer could not place.
	CategoryUnknown Category = "unknown"
)

// ValidPrincipleCategories maps the categories a principle may carry.
// "unknown" is deliberately absent: it is a classification wildcard.
var ValidPrincipleCategories = map[string]Category{
	"async":      CategoryAsync,
	"dependency": CategoryDependency,
	"state":      CategoryState,
	"logic":      CategoryLogic,
	"syntax":     CategorySyntax,
	"other":      CategoryOther,
}

// IsValidPrincipleCategory returns true for a recognized principle category.
func IsValidPrincipleCategory(s string) bool {
	_, ok := ValidPrincipleCategories[s]
	return ok
}

// Session scopes all stored data to one browser/user.
//
// A session is immutable after creation except for the last-active refresh
// and the pointer to the currently selected project.
type Session struct {
	// ID is the opaque session identifier (UUID).
	ID string `json:"id"`

	// CurrentProjectID points at the single currently selected project.
	CurrentProjectID string `json:"current_project_id,omitempty"`

	// DeviceFingerprint is advisory provenance for the originating client.
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`

	// CreatedAt is when the session was first established.
	CreatedAt time.Time `json:"created_at"`

	// LastActive is refreshed on every session touch.
	LastActive time.Time `json:"last_active"`
}

// NewSession creates a session with a generated UUID and current timestamps.
func NewSession(fingerprint string) *Session {
	now := time.Now()
	return &Session{
		ID:                uuid.New().String(),
		DeviceFingerprint: fingerprint,
		CreatedAt:         now,
		LastActive:        now,
	}
}

// ProjectContext is free-text context describing what the project is.
type ProjectContext struct {
	// TechStack lists the technologies in play (advisory, for display).
	TechStack []string `json:"tech_stack,omitempty"`

	// Description is a short free-text summary.
	Description string `json:"description,omitempty"`
}

// Project is a named debugging workspace owned by exactly one session.
type Project struct {
	// ID is the unique project identifier (UUID).
	ID string `json:"id"`

	// SessionID identifies the owning session.
	SessionID string `json:"session_id"`

	// Name is the trimmed display name, 1-100 characters.
	Name string `json:"name"`

	// Context describes the project's stack and purpose.
	Context ProjectContext `json:"context"`

	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewProject creates a project with a generated UUID after validating
// the name constraints (required, trimmed, max 100 chars).
func NewProject(sessionID, name string, pctx ProjectContext) (*Project, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyProjectName
	}
	if len(name) > MaxProjectNameLen {
		return nil, ErrProjectNameTooLong
	}

	return &Project{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Name:      name,
		Context:   pctx,
		CreatedAt: time.Now(),
	}, nil
}

// ErrorDescriptor captures the error side of a fix.
type ErrorDescriptor struct {
	// Message is the raw error text as submitted.
	Message string `json:"message"`

	// Stack is the optional stack trace.
	Stack string `json:"stack,omitempty"`

	// Type is the classification assigned when the fix was stored.
	Type Category `json:"type"`
}

// SolutionDescriptor captures the remedy side of a fix.
type SolutionDescriptor struct {
	// Text is the solution description.
	Text string `json:"text"`

	// Explanation gives optional extra reasoning.
	Explanation string `json:"explanation,omitempty"`

	// CodeSnippet is an optional illustrative snippet.
	CodeSnippet string `json:"code_snippet,omitempty"`
}

// LLMUsage records token and latency metadata from the analysis call.
type LLMUsage struct {
	TokensUsed     int           `json:"tokens_used"`
	ResponseTime   time.Duration `json:"response_time"`
}

// FixFeedback is the user's explicit helpful/not-helpful judgement.
// A nil FixFeedback on a Fix means no feedback was ever recorded.
type FixFeedback struct {
	Helpful bool `json:"helpful"`
}

// Origin tags a fix surfaced from another project in the same session.
type Origin struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
}

// Fix is one stored, successful resolution of an error.
//
// A fix is created exactly once, on positive user feedback. Afterwards only
// its reuse metrics are bumped and principle links appended; the original
// error and solution content never changes.
type Fix struct {
	// ID is the unique fix identifier (UUID).
	ID string `json:"id"`

	// ProjectID identifies the owning project.
	ProjectID string `json:"project_id"`

	// Error describes what went wrong.
	Error ErrorDescriptor `json:"error"`

	// Solution describes what resolved it.
	Solution SolutionDescriptor `json:"solution"`

	// Usage records LLM metadata from the originating analysis.
	Usage LLMUsage `json:"usage"`

	// Feedback is the user's judgement, nil when never recorded.
	Feedback *FixFeedback `json:"feedback,omitempty"`

	// AppliedCount tracks how many times this fix was reapplied.
	AppliedCount int `json:"applied_count"`

	// LastAppliedAt is when the fix was last reapplied, zero if never.
	LastAppliedAt time.Time `json:"last_applied_at,omitzero"`

	// LinkedPrinciples holds ids of principles distilled from this fix.
	// Advisory linkage for display, not a referential-integrity contract.
	LinkedPrinciples []string `json:"linked_principles,omitempty"`

	// Origin is set when the fix was surfaced cross-project.
	Origin *Origin `json:"origin,omitempty"`

	// CreatedAt is when the fix was stored.
	CreatedAt time.Time `json:"created_at"`
}

// NewFix creates a fix with a generated UUID and creation timestamp.
func NewFix(projectID string, errDesc ErrorDescriptor, sol SolutionDescriptor, usage LLMUsage) (*Fix, error) {
	if projectID == "" {
		return nil, ErrEmptyProjectID
	}
	if strings.TrimSpace(errDesc.Message) == "" {
		return nil, ErrEmptyErrorMessage
	}
	if errDesc.Type == "" {
		errDesc.Type = CategoryUnknown
	}

	return &Fix{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Error:     errDesc,
		Solution:  sol,
		Usage:     usage,
		CreatedAt: time.Now(),
	}, nil
}

// PrincipleContext carries the reinforcement state of a principle.
type PrincipleContext struct {
	// ErrorPatterns holds free-text notes on the error shapes this
	// principle was distilled from.
	ErrorPatterns []string `json:"error_patterns,omitempty"`

	// SuccessRate is the cumulative mean of helpful/not-helpful outcomes
	// over AppliedCount trials, always in [0, 1].
	SuccessRate float64 `json:"success_rate"`

	// AppliedCount is the number of trials folded into SuccessRate, >= 1.
	AppliedCount int `json:"applied_count"`
}

// Principle is a generalized, reusable statement distilled from one
// successful fix, expected to read "When <condition>, then <action>".
type Principle struct {
	// ID is the unique principle identifier (UUID).
	ID string `json:"id"`

	// ProjectID identifies the owning project.
	ProjectID string `json:"project_id"`

	// Statement is the principle text.
	Statement string `json:"statement"`

	// Category places the principle in the fixed taxonomy.
	Category Category `json:"category"`

	// Context carries the reinforcement state.
	Context PrincipleContext `json:"context"`

	// LinkedFixes holds ids of fixes this principle was distilled from.
	LinkedFixes []string `json:"linked_fixes,omitempty"`

	// CreatedAt is when the principle was stored.
	CreatedAt time.Time `json:"created_at"`
}

// NewPrinciple creates a principle with a generated UUID.
//
// The originating fix is definitionally a success, so the reinforcement
// state starts at SuccessRate=1.0 with AppliedCount=1. Categories outside
// the taxonomy collapse to "other"; a statement that does not follow the
// "When X, then Y" shape is accepted as-is (callers log the violation).
func NewPrinciple(projectID, statement string, category Category, errorPatterns []string) (*Principle, error) {
	if projectID == "" {
		return nil, ErrEmptyProjectID
	}
	if strings.TrimSpace(statement) == "" {
		return nil, ErrEmptyStatement
	}
	if !IsValidPrincipleCategory(string(category)) {
		category = CategoryOther
	}

	return &Principle{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Statement: statement,
		Category:  category,
		Context: PrincipleContext{
			ErrorPatterns: errorPatterns,
			SuccessRate:   1.0,
			AppliedCount:  1,
		},
		CreatedAt: time.Now(),
	}, nil
}

// FollowsConditionActionForm reports whether the statement reads like
// "When <condition>, then <action>". Violations are logged, not rejected.
func (p *Principle) FollowsConditionActionForm() bool {
	s := strings.ToLower(p.Statement)
	return strings.Contains(s, "when")
}

// Validate checks the principle's invariants.
func (p *Principle) Validate() error {
	if p.ID == "" {
		return errors.New("principle ID cannot be empty")
	}
	if p.ProjectID == "" {
		return ErrEmptyProjectID
	}
	if strings.TrimSpace(p.Statement) == "" {
		return ErrEmptyStatement
	}
	if !IsValidPrincipleCategory(string(p.Category)) {
		return errors.New("category must be one of: async, dependency, state, logic, syntax, other")
	}
	if p.Context.SuccessRate < 0.0 || p.Context.SuccessRate > 1.0 {
		return ErrInvalidSuccessRate
	}
	if p.Context.AppliedCount < 1 {
		return errors.New("applied count must be at least 1")
	}
	return nil
}
