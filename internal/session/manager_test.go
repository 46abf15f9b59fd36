package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athenaclew/athena/internal/knowledge"
)

func newManager(t *testing.T) (*Manager, knowledge.Store) {
	t.Helper()
	store := knowledge.NewMemStore()
	m, err := NewManager(store, nil)
	require.NoError(t, err)
	return m, store
}

func TestGetOrCreateFreshSession(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "", "fp-1")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.NotEmpty(t, sess.CurrentProjectID)

	project, err := m.CurrentProject(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultProjectName, project.Name)
	assert.Equal(t, "Your default debugging workspace", project.Context.Description)
}

func TestGetOrCreateExistingSession(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "", "")
	require.NoError(t, err)

	second, err := m.GetOrCreate(ctx, first.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CurrentProjectID, second.CurrentProjectID)
}

func TestGetOrCreateUnknownIDMakesNewSession(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "no-such-session", "")
	require.NoError(t, err)
	assert.NotEqual(t, "no-such-session", sess.ID)
	assert.NotEmpty(t, sess.CurrentProjectID)
}

func TestCreateProjectSelectsIt(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	sess, err := m.GetOrCreate(ctx, "", "")
	require.NoError(t, err)

	project, err := m.CreateProject(ctx, sess.ID, "  API Service  ", knowledge.ProjectContext{})
	require.NoError(t, err)
	assert.Equal(t, "API Service", project.Name)

	loaded, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, project.ID, loaded.CurrentProjectID)
}

func TestCreateProjectValidatesName(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	sess, err := m.GetOrCreate(ctx, "", "")
	require.NoError(t, err)

	_, err = m.CreateProject(ctx, sess.ID, "   ", knowledge.ProjectContext{})
	assert.ErrorIs(t, err, knowledge.ErrEmptyProjectName)

	long := make([]byte, knowledge.MaxProjectNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = m.CreateProject(ctx, sess.ID, string(long), knowledge.ProjectContext{})
	assert.ErrorIs(t, err, knowledge.ErrProjectNameTooLong)
}

func TestSwitchProject(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	sess, err := m.GetOrCreate(ctx, "", "")
	require.NoError(t, err)
	defaultID := sess.CurrentProjectID

	project, err := m.CreateProject(ctx, sess.ID, "Second", knowledge.ProjectContext{})
	require.NoError(t, err)

	require.NoError(t, m.SwitchProject(ctx, sess.ID, defaultID))
	loaded, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, defaultID, loaded.CurrentProjectID)

	err = m.SwitchProject(ctx, sess.ID, "bogus")
	assert.ErrorIs(t, err, knowledge.ErrProjectNotFound)
	_ = project
}

func TestDeleteProjectRefusesLast(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	sess, err := m.GetOrCreate(ctx, "", "")
	require.NoError(t, err)

	err = m.DeleteProject(ctx, sess.ID, sess.CurrentProjectID)
	assert.ErrorIs(t, err, knowledge.ErrLastProject)
}

func TestDeleteCurrentProjectSwitchesAway(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()
	sess, err := m.GetOrCreate(ctx, "", "")
	require.NoError(t, err)
	defaultID := sess.CurrentProjectID

	second, err := m.CreateProject(ctx, sess.ID, "Second", knowledge.ProjectContext{})
	require.NoError(t, err)

	require.NoError(t, m.DeleteProject(ctx, sess.ID, second.ID))

	loaded, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, defaultID, loaded.CurrentProjectID)

	projects, err := m.ListProjects(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, defaultID, projects[0].ID)
}

func TestDeleteUnknownProject(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	sess, err := m.GetOrCreate(ctx, "", "")
	require.NoError(t, err)
	_, err = m.CreateProject(ctx, sess.ID, "Second", knowledge.ProjectContext{})
	require.NoError(t, err)

	err = m.DeleteProject(ctx, sess.ID, "bogus")
	assert.ErrorIs(t, err, knowledge.ErrProjectNotFound)
}
