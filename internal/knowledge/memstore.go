package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store implementation for tests and offline use.
type MemStore struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	projects   map[string][]*Project   // sessionID -> projects, insertion order
	fixes      map[string][]*Fix       // projectKey -> fixes, insertion order
	principles map[string][]*Principle // projectKey -> principles
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:   make(map[string]*Session),
		projects:   make(map[string][]*Project),
		fixes:      make(map[string][]*Fix),
		principles: make(map[string][]*Principle),
	}
}

func projectKey(sessionID, projectID string) string {
	return sessionID + "/" + projectID
}

// CreateSession persists a session.
func (m *MemStore) CreateSession(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return ErrEmptySessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// GetSession loads a session by id.
func (m *MemStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// TouchSession refreshes last-active.
func (m *MemStore) TouchSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastActive = time.Now()
	return nil
}

// SetCurrentProject moves the current-project pointer.
func (m *MemStore) SetCurrentProject(ctx context.Context, sessionID, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.CurrentProjectID = projectID
	return nil
}

// CreateProject persists a project.
func (m *MemStore) CreateProject(ctx context.Context, p *Project) (string, error) {
	if p == nil || p.SessionID == "" {
		return "", ErrEmptySessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.SessionID] = append(m.projects[p.SessionID], &cp)
	return p.ID, nil
}

// GetAllProjectsForSession lists projects newest-first.
func (m *MemStore) GetAllProjectsForSession(ctx context.Context, sessionID string) ([]Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.projects[sessionID]
	out := make([]Project, 0, len(src))
	for _, p := range src {
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteProject removes the project and its owned data.
func (m *MemStore) DeleteProject(ctx context.Context, sessionID, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.projects[sessionID]
	kept := src[:0]
	found := false
	for _, p := range src {
		if p.ID == projectID {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return ErrProjectNotFound
	}
	m.projects[sessionID] = kept
	key := projectKey(sessionID, projectID)
	delete(m.fixes, key)
	delete(m.principles, key)
	return nil
}

// CreateFix persists a fix.
func (m *MemStore) CreateFix(ctx context.Context, sessionID, projectID string, fix *Fix) (string, error) {
	if fix == nil || projectID == "" {
		return "", ErrEmptyProjectID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *fix
	key := projectKey(sessionID, projectID)
	m.fixes[key] = append(m.fixes[key], &cp)
	return fix.ID, nil
}

// GetFixesByClassification returns matching fixes newest-first.
func (m *MemStore) GetFixesByClassification(ctx context.Context, sessionID, projectID string, classification Category, limit int) ([]Fix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Fix
	for _, f := range m.fixes[projectKey(sessionID, projectID)] {
		if f.Error.Type == classification {
			out = append(out, *f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetAllFixesForProject returns fixes newest-first, capped at AllFixesLimit.
func (m *MemStore) GetAllFixesForProject(ctx context.Context, sessionID, projectID string) ([]Fix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.fixes[projectKey(sessionID, projectID)]
	out := make([]Fix, 0, len(src))
	for _, f := range src {
		out = append(out, *f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > AllFixesLimit {
		out = out[:AllFixesLimit]
	}
	return out, nil
}

// BumpFixUsage increments the applied counter and stamps last-applied.
func (m *MemStore) BumpFixUsage(ctx context.Context, sessionID, projectID, fixID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.findFix(sessionID, projectID, fixID)
	if f == nil {
		return ErrFixNotFound
	}
	f.AppliedCount++
	f.LastAppliedAt = time.Now()
	return nil
}

// SetFixFeedback records the helpful judgement.
func (m *MemStore) SetFixFeedback(ctx context.Context, sessionID, projectID, fixID string, helpful bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.findFix(sessionID, projectID, fixID)
	if f == nil {
		return ErrFixNotFound
	}
	f.Feedback = &FixFeedback{Helpful: helpful}
	return nil
}

// LinkPrinciple appends a principle id to the fix.
func (m *MemStore) LinkPrinciple(ctx context.Context, sessionID, projectID, fixID, principleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.findFix(sessionID, projectID, fixID)
	if f == nil {
		return ErrFixNotFound
	}
	f.LinkedPrinciples = append(f.LinkedPrinciples, principleID)
	return nil
}

// CreatePrinciple persists a principle and links it to the fix.
func (m *MemStore) CreatePrinciple(ctx context.Context, sessionID, projectID string, p *Principle, linkedFixID string) (string, error) {
	if p == nil || projectID == "" {
		return "", ErrEmptyProjectID
	}
	m.mu.Lock()
	cp := *p
	if linkedFixID != "" {
		cp.LinkedFixes = append(append([]string{}, p.LinkedFixes...), linkedFixID)
	}
	key := projectKey(sessionID, projectID)
	m.principles[key] = append(m.principles[key], &cp)
	m.mu.Unlock()

	if linkedFixID != "" {
		// Back-link is advisory; a missing fix is not an error here.
		_ = m.LinkPrinciple(ctx, sessionID, projectID, linkedFixID, p.ID)
	}
	return p.ID, nil
}

// GetPrinciplesByCategory returns admitted principles by success rate desc.
func (m *MemStore) GetPrinciplesByCategory(ctx context.Context, sessionID, projectID string, filter CategoryFilter, limit int) ([]Principle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Principle
	for _, p := range m.principles[projectKey(sessionID, projectID)] {
		if filter.Matches(p.Category) {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Context.SuccessRate > out[j].Context.SuccessRate
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetPrinciple loads one principle.
func (m *MemStore) GetPrinciple(ctx context.Context, sessionID, projectID, principleID string) (*Principle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.principles[projectKey(sessionID, projectID)] {
		if p.ID == principleID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPrincipleNotFound
}

// UpdatePrincipleSuccessRate overwrites the reinforcement state.
func (m *MemStore) UpdatePrincipleSuccessRate(ctx context.Context, sessionID, projectID, principleID string, newRate float64, newCount int) error {
	if newRate < 0.0 || newRate > 1.0 {
		return ErrInvalidSuccessRate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principles[projectKey(sessionID, projectID)] {
		if p.ID == principleID {
			p.Context.SuccessRate = newRate
			p.Context.AppliedCount = newCount
			return nil
		}
	}
	return ErrPrincipleNotFound
}

// findFix returns the stored fix or nil; callers hold the lock.
func (m *MemStore) findFix(sessionID, projectID, fixID string) *Fix {
	for _, f := range m.fixes[projectKey(sessionID, projectID)] {
		if f.ID == fixID {
			return f
		}
	}
	return nil
}
