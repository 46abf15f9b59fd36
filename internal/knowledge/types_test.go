package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProjectValidation(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		project   string
		wantErr   error
		wantName  string
	}{
		{name: "valid", sessionID: "s", project: "Web App", wantName: "Web App"},
		{name: "trims whitespace", sessionID: "s", project: "  Web App  ", wantName: "Web App"},
		{name: "empty session", sessionID: "", project: "Web App", wantErr: ErrEmptySessionID},
		{name: "empty name", sessionID: "s", project: "   ", wantErr: ErrEmptyProjectName},
		{name: "too long", sessionID: "s", project: strings.Repeat("x", MaxProjectNameLen+1), wantErr: ErrProjectNameTooLong},
		{name: "max length ok", sessionID: "s", project: strings.Repeat("x", MaxProjectNameLen), wantName: strings.Repeat("x", MaxProjectNameLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProject(tt.sessionID, tt.project, ProjectContext{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, p.ID)
			assert.Equal(t, tt.wantName, p.Name)
			assert.False(t, p.CreatedAt.IsZero())
		})
	}
}

func TestNewFix(t *testing.T) {
	_, err := NewFix("", ErrorDescriptor{Message: "boom"}, SolutionDescriptor{}, LLMUsage{})
	assert.ErrorIs(t, err, ErrEmptyProjectID)

	_, err = NewFix("p", ErrorDescriptor{Message: "   "}, SolutionDescriptor{}, LLMUsage{})
	assert.ErrorIs(t, err, ErrEmptyErrorMessage)

	fix, err := NewFix("p", ErrorDescriptor{Message: "boom"}, SolutionDescriptor{Text: "fixed"}, LLMUsage{})
	require.NoError(t, err)
	assert.NotEmpty(t, fix.ID)
	assert.Equal(t, CategoryUnknown, fix.Error.Type, "missing type defaults to unknown")
	assert.Nil(t, fix.Feedback)
	assert.Zero(t, fix.AppliedCount)
}

func TestNewPrincipleStartsAsSuccess(t *testing.T) {
	p, err := NewPrinciple("proj", "When a promise is unhandled, then await it", CategoryAsync, []string{"unhandled rejection"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Context.SuccessRate)
	assert.Equal(t, 1, p.Context.AppliedCount)
	assert.Equal(t, CategoryAsync, p.Category)
	assert.True(t, p.FollowsConditionActionForm())
	assert.NoError(t, p.Validate())
}

func TestNewPrincipleCollapsesInvalidCategory(t *testing.T) {
	p, err := NewPrinciple("proj", "When x, then y", Category("cosmic"), nil)
	require.NoError(t, err)
	assert.Equal(t, CategoryOther, p.Category)

	// The classification wildcard is not a principle category.
	p, err = NewPrinciple("proj", "When x, then y", CategoryUnknown, nil)
	require.NoError(t, err)
	assert.Equal(t, CategoryOther, p.Category)
}

func TestNewPrincipleValidation(t *testing.T) {
	_, err := NewPrinciple("", "When x, then y", CategoryLogic, nil)
	assert.ErrorIs(t, err, ErrEmptyProjectID)

	_, err = NewPrinciple("proj", "  ", CategoryLogic, nil)
	assert.ErrorIs(t, err, ErrEmptyStatement)
}

func TestPrincipleValidate(t *testing.T) {
	valid := func() *Principle {
		p, err := NewPrinciple("proj", "When x, then y", CategoryLogic, nil)
		require.NoError(t, err)
		return p
	}

	p := valid()
	p.Context.SuccessRate = 1.5
	assert.ErrorIs(t, p.Validate(), ErrInvalidSuccessRate)

	p = valid()
	p.Context.AppliedCount = 0
	assert.Error(t, p.Validate())

	p = valid()
	p.Category = CategoryUnknown
	assert.Error(t, p.Validate())
}

func TestFollowsConditionActionForm(t *testing.T) {
	p := &Principle{Statement: "Always check your imports"}
	assert.False(t, p.FollowsConditionActionForm())
	p.Statement = "When imports fail, then check the package name"
	assert.True(t, p.FollowsConditionActionForm())
}

func TestCategoryFilter(t *testing.T) {
	any := AnyCategory()
	assert.True(t, any.Matches(CategoryAsync))
	assert.True(t, any.Matches(CategoryOther))
	_, restricted := any.Restricted()
	assert.False(t, restricted)

	one := OneCategory(CategoryAsync)
	assert.True(t, one.Matches(CategoryAsync))
	assert.False(t, one.Matches(CategoryLogic))
	c, restricted := one.Restricted()
	assert.True(t, restricted)
	assert.Equal(t, CategoryAsync, c)
}
