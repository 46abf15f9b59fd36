// Package session manages session and project lifecycle on top of the
// knowledge store.
package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/athenaclew/athena/internal/knowledge"
)

// DefaultProjectName names the project auto-created with a fresh session.
const DefaultProjectName = "Default Project"

const defaultProjectDescription = "Your default debugging workspace"

// Manager owns session establishment and project switching.
type Manager struct {
	store  knowledge.Store
	logger *zap.Logger
}

// NewManager creates a manager over the given store.
func NewManager(store knowledge.Store, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}, nil
}

// GetOrCreate resolves a session id to a live session.
//
// An empty or unknown id establishes a fresh session with an auto-created
// default project already selected. A known id is touched and returned
// as-is.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, fingerprint string) (*knowledge.Session, error) {
	if sessionID != "" {
		sess, err := m.store.GetSession(ctx, sessionID)
		if err == nil {
			if err := m.store.TouchSession(ctx, sessionID); err != nil {
				return nil, fmt.Errorf("touching session: %w", err)
			}
			return sess, nil
		}
		if !errors.Is(err, knowledge.ErrSessionNotFound) {
			return nil, fmt.Errorf("loading session: %w", err)
		}
	}

	sess := knowledge.NewSession(fingerprint)
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	project, err := knowledge.NewProject(sess.ID, DefaultProjectName, knowledge.ProjectContext{
		Description: defaultProjectDescription,
	})
	if err != nil {
		return nil, fmt.Errorf("building default project: %w", err)
	}
	projectID, err := m.store.CreateProject(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating default project: %w", err)
	}
	if err := m.store.SetCurrentProject(ctx, sess.ID, projectID); err != nil {
		return nil, fmt.Errorf("selecting default project: %w", err)
	}
	sess.CurrentProjectID = projectID

	m.logger.Info("session established",
		zap.String("session_id", sess.ID),
		zap.String("default_project_id", projectID))
	return sess, nil
}

// CurrentProject returns the session's currently selected project.
func (m *Manager) CurrentProject(ctx context.Context, sessionID string) (*knowledge.Project, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.CurrentProjectID == "" {
		return nil, knowledge.ErrProjectNotFound
	}
	return m.findProject(ctx, sessionID, sess.CurrentProjectID)
}

// ListProjects returns the session's projects, newest-first.
func (m *Manager) ListProjects(ctx context.Context, sessionID string) ([]knowledge.Project, error) {
	return m.store.GetAllProjectsForSession(ctx, sessionID)
}

// CreateProject adds a project to the session and selects it.
func (m *Manager) CreateProject(ctx context.Context, sessionID, name string, pctx knowledge.ProjectContext) (*knowledge.Project, error) {
	project, err := knowledge.NewProject(sessionID, name, pctx)
	if err != nil {
		return nil, err
	}
	projectID, err := m.store.CreateProject(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	if err := m.store.SetCurrentProject(ctx, sessionID, projectID); err != nil {
		return nil, fmt.Errorf("selecting project: %w", err)
	}
	m.logger.Info("project created",
		zap.String("session_id", sessionID),
		zap.String("project_id", projectID),
		zap.String("name", project.Name))
	return project, nil
}

// SwitchProject moves the session's current-project pointer after verifying
// the target belongs to this session.
func (m *Manager) SwitchProject(ctx context.Context, sessionID, projectID string) error {
	if _, err := m.findProject(ctx, sessionID, projectID); err != nil {
		return err
	}
	if err := m.store.SetCurrentProject(ctx, sessionID, projectID); err != nil {
		return fmt.Errorf("switching project: %w", err)
	}
	return nil
}

// DeleteProject removes a project and everything stored under it.
//
// The only project in a session cannot be deleted. Deleting the currently
// selected project first switches the session to the newest remaining one.
func (m *Manager) DeleteProject(ctx context.Context, sessionID, projectID string) error {
	projects, err := m.store.GetAllProjectsForSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(projects) <= 1 {
		return knowledge.ErrLastProject
	}

	found := false
	for _, p := range projects {
		if p.ID == projectID {
			found = true
			break
		}
	}
	if !found {
		return knowledge.ErrProjectNotFound
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.CurrentProjectID == projectID {
		for _, p := range projects {
			if p.ID != projectID {
				if err := m.store.SetCurrentProject(ctx, sessionID, p.ID); err != nil {
					return fmt.Errorf("switching away from deleted project: %w", err)
				}
				break
			}
		}
	}

	if err := m.store.DeleteProject(ctx, sessionID, projectID); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	m.logger.Info("project deleted",
		zap.String("session_id", sessionID),
		zap.String("project_id", projectID))
	return nil
}

func (m *Manager) findProject(ctx context.Context, sessionID, projectID string) (*knowledge.Project, error) {
	projects, err := m.store.GetAllProjectsForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].ID == projectID {
			return &projects[i], nil
		}
	}
	return nil, knowledge.ErrProjectNotFound
}
