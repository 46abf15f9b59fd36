package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/athenaclew/athena/internal/knowledge"
)

// fakeModel returns canned responses, optionally failing the first n calls.
type fakeModel struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	content := f.responses[0]
	if idx < len(f.responses) {
		content = f.responses[idx]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        content,
			GenerationInfo: map[string]any{"TotalTokens": 42},
		}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, nil, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newTestClient(model llms.Model) *Client {
	return NewClientWithModel(model, Config{CallTimeout: time.Second}, nil)
}

func TestAnalyzeParsesResponse(t *testing.T) {
	model := &fakeModel{responses: []string{"```json\n" + `{
		"classification": "async",
		"rootCause": "missing await on the fetch call",
		"patterns": ["unawaited promise"],
		"confidence": 0.85
	}` + "\n```"}}
	c := newTestClient(model)

	analysis, err := c.Analyze(context.Background(), "timeout fetching users", "")
	require.NoError(t, err)
	assert.Equal(t, knowledge.CategoryAsync, analysis.Classification)
	assert.Equal(t, "missing await on the fetch call", analysis.RootCause)
	assert.Equal(t, []string{"unawaited promise"}, analysis.Patterns)
	assert.Equal(t, 0.85, analysis.Confidence)
	assert.Equal(t, 42, analysis.TokensUsed)
}

func TestAnalyzeUnknownCategory(t *testing.T) {
	model := &fakeModel{responses: []string{`{"classification": "cosmic", "rootCause": "no idea", "confidence": 0.4}`}}
	c := newTestClient(model)

	analysis, err := c.Analyze(context.Background(), "weird error", "")
	require.NoError(t, err)
	assert.Equal(t, knowledge.CategoryUnknown, analysis.Classification)
}

func TestAnalyzeRejectsEmptyInput(t *testing.T) {
	c := newTestClient(&fakeModel{responses: []string{"{}"}})
	_, err := c.Analyze(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyErrorText)
}

func TestAnalyzeBadJSON(t *testing.T) {
	model := &fakeModel{responses: []string{"I could not produce JSON, sorry"}}
	c := newTestClient(model)
	_, err := c.Analyze(context.Background(), "boom", "")
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestGenerateRetriesOnceOnRateLimit(t *testing.T) {
	model := &fakeModel{
		errs:      []error{errors.New("429 Too Many Requests")},
		responses: []string{"", `{"classification": "logic", "rootCause": "nil access", "confidence": 0.7}`},
	}
	c := newTestClient(model)

	analysis, err := c.Analyze(context.Background(), "boom", "")
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls)
	assert.Equal(t, knowledge.CategoryLogic, analysis.Classification)
}

func TestGenerateGivesUpAfterSecondRateLimit(t *testing.T) {
	model := &fakeModel{
		errs:      []error{errors.New("quota exceeded"), errors.New("quota exceeded")},
		responses: []string{""},
	}
	c := newTestClient(model)

	_, err := c.Analyze(context.Background(), "boom", "")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2, model.calls)
}

func TestExtractParsesResponse(t *testing.T) {
	model := &fakeModel{responses: []string{`{
		"principle": "When a fetch times out, then check for a missing await",
		"category": "async",
		"reasoning": "unawaited promises surface as timeouts",
		"confidence": 0.8
	}`}}
	c := newTestClient(model)

	extraction, err := c.Extract(context.Background(), "timeout fetching users", "added await", nil)
	require.NoError(t, err)
	assert.Equal(t, "When a fetch times out, then check for a missing await", extraction.Statement)
	assert.Equal(t, knowledge.CategoryAsync, extraction.Category)
	assert.Equal(t, 0.8, extraction.Confidence)
}

func TestExtractValidation(t *testing.T) {
	c := newTestClient(&fakeModel{responses: []string{"{}"}})

	_, err := c.Extract(context.Background(), "", "fix", nil)
	assert.ErrorIs(t, err, ErrEmptyErrorText)

	_, err = c.Extract(context.Background(), "boom", "  ", nil)
	assert.ErrorIs(t, err, ErrEmptySolution)

	// A response without a principle statement is malformed.
	_, err = c.Extract(context.Background(), "boom", "fix", nil)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestExtractInvalidCategoryCollapsesToOther(t *testing.T) {
	model := &fakeModel{responses: []string{`{"principle": "When x, then y", "category": "unknown", "confidence": 0.6}`}}
	c := newTestClient(model)

	extraction, err := c.Extract(context.Background(), "boom", "fix", nil)
	require.NoError(t, err)
	assert.Equal(t, knowledge.CategoryOther, extraction.Category)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain object", input: `{"name": "a"}`, want: "a"},
		{name: "fenced", input: "```json\n{\"name\": \"b\"}\n```", want: "b"},
		{name: "bare fence", input: "```\n{\"name\": \"c\"}\n```", want: "c"},
		{name: "surrounded by prose", input: "Here you go: {\"name\": \"d\"} hope it helps", want: "d"},
		{name: "no json at all", input: "nothing here", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out payload
			err := decodeJSON(tt.input, &out)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Name)
		})
	}
}

func TestIsRateLimit(t *testing.T) {
	assert.True(t, isRateLimit(errors.New("HTTP 429")))
	assert.True(t, isRateLimit(errors.New("Quota exceeded for project")))
	assert.True(t, isRateLimit(errors.New("rate limit reached")))
	assert.False(t, isRateLimit(errors.New("connection refused")))
}
