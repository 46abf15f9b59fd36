package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athenaclew/athena/internal/knowledge"
	"github.com/athenaclew/athena/internal/llm"
	"github.com/athenaclew/athena/internal/similarity"
)

type stubAnalyzer struct {
	analysis *llm.Analysis
	err      error
	calls    int
	started  chan struct{}
	gate     chan struct{}
}

func (s *stubAnalyzer) Analyze(ctx context.Context, errorMessage, stack string) (*llm.Analysis, error) {
	s.calls++
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.analysis, nil
}

type stubExtractor struct {
	extraction *llm.Extraction
	err        error
	calls      int
}

func (s *stubExtractor) Extract(ctx context.Context, errorMessage, solution string, analysis *llm.Analysis) (*llm.Extraction, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.extraction, nil
}

func seedWorkspace(t *testing.T, store knowledge.Store) (sessionID, projectID string) {
	t.Helper()
	ctx := context.Background()
	sess := knowledge.NewSession("")
	require.NoError(t, store.CreateSession(ctx, sess))
	project, err := knowledge.NewProject(sess.ID, "Default Project", knowledge.ProjectContext{})
	require.NoError(t, err)
	_, err = store.CreateProject(ctx, project)
	require.NoError(t, err)
	require.NoError(t, store.SetCurrentProject(ctx, sess.ID, project.ID))
	return sess.ID, project.ID
}

func seedFix(t *testing.T, store knowledge.Store, sessionID, projectID, message string, category knowledge.Category, solution string) *knowledge.Fix {
	t.Helper()
	fix, err := knowledge.NewFix(projectID,
		knowledge.ErrorDescriptor{Message: message, Type: category},
		knowledge.SolutionDescriptor{Text: solution},
		knowledge.LLMUsage{})
	require.NoError(t, err)
	_, err = store.CreateFix(context.Background(), sessionID, projectID, fix)
	require.NoError(t, err)
	return fix
}

func newOrchestrator(t *testing.T, store knowledge.Store, analyzer llm.Analyzer, extractor llm.Extractor) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(store, analyzer, extractor, nil, nil)
	require.NoError(t, err)
	return o
}

func TestSubmitValidation(t *testing.T) {
	store := knowledge.NewMemStore()
	o := newOrchestrator(t, store, nil, nil)
	ctx := context.Background()

	_, err := o.Submit(ctx, "s", "p", "   ", "", SubmitOptions{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = o.Submit(ctx, "", "p", "boom", "", SubmitOptions{})
	assert.ErrorIs(t, err, knowledge.ErrEmptySessionID)

	_, err = o.Submit(ctx, "s", "", "boom", "", SubmitOptions{})
	assert.ErrorIs(t, err, ErrNoProjectSelected)
}

func TestSubmitRejectsConcurrentRun(t *testing.T) {
	store := knowledge.NewMemStore()
	sessionID, projectID := seedWorkspace(t, store)

	gate := make(chan struct{})
	analyzer := &stubAnalyzer{
		analysis: &llm.Analysis{Classification: knowledge.CategoryLogic, Confidence: 0.9},
		started:  make(chan struct{}, 1),
		gate:     gate,
	}
	o := newOrchestrator(t, store, analyzer, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(ctx, sessionID, projectID, "slow error", "", SubmitOptions{SkipDejaVu: true})
		done <- err
	}()

	select {
	case <-analyzer.started:
	case <-time.After(time.Second):
		t.Fatal("first submission never reached the analyzer")
	}

	_, err := o.Submit(ctx, sessionID, projectID, "second error", "", SubmitOptions{SkipDejaVu: true})
	assert.ErrorIs(t, err, ErrAlreadyProcessing)

	close(gate)
	require.NoError(t, <-done)
}

func TestColdStartEndToEnd(t *testing.T) {
	store := knowledge.NewMemStore()
	sessionID, projectID := seedWorkspace(t, store)

	extractor := &stubExtractor{extraction: &llm.Extraction{
		Statement:  "When accessing nested properties, then guard against undefined values",
		Category:   knowledge.CategoryLogic,
		Confidence: 0.8,
	}}
	o := newOrchestrator(t, store, nil, extractor)
	ctx := context.Background()

	proposal, err := o.Submit(ctx, sessionID, projectID,
		"TypeError: Cannot read property 'x' of undefined", "", SubmitOptions{})
	require.NoError(t, err)

	// No analyzer: fallback verdict, keyword classifier still places it.
	assert.Equal(t, knowledge.CategoryLogic, proposal.Classification)
	assert.Equal(t, "AI analysis unavailable", proposal.Analysis.RootCause)
	assert.Empty(t, proposal.PastFixes)
	assert.Nil(t, proposal.Extraction)
	assert.Empty(t, proposal.RankedPrinciples)
	assert.Empty(t, proposal.Solutions)
	assert.Zero(t, extractor.calls, "extraction must not run without retrieved fixes")
	assert.Equal(t, StateAwaitingFeedback, o.State())

	result, err := o.RecordFeedback(ctx, true)
	require.NoError(t, err)
	require.NotEmpty(t, result.FixID)
	require.NotEmpty(t, result.PrincipleID)
	assert.Equal(t, 1, extractor.calls, "helpful feedback triggers just-in-time extraction")
	assert.Equal(t, StateIdle, o.State())
	assert.Nil(t, o.Current())

	fixes, err := store.GetAllFixesForProject(ctx, sessionID, projectID)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, "Manual fix applied by user", fixes[0].Solution.Text)
	assert.Contains(t, fixes[0].Solution.Explanation, "Resolved by user")
	assert.Equal(t, []string{result.PrincipleID}, fixes[0].LinkedPrinciples)

	principle, err := store.GetPrinciple(ctx, sessionID, projectID, result.PrincipleID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, principle.Context.SuccessRate)
	assert.Equal(t, 1, principle.Context.AppliedCount)
	assert.Contains(t, principle.LinkedFixes, result.FixID)
}

func TestAnalyzerFailureSubstitutesFallback(t *testing.T) {
	store := knowledge.NewMemStore()
	sessionID, projectID := seedWorkspace(t, store)

	analyzer := &stubAnalyzer{err: errors.New("model exploded")}
	o := newOrchestrator(t, store, analyzer, nil)

	proposal, err := o.Submit(context.Background(), sessionID, projectID,
		"something novel happened", "", SubmitOptions{SkipDejaVu: true})
	require.NoError(t, err)

	assert.Equal(t, knowledge.CategoryUnknown, proposal.Analysis.Classification)
	assert.Equal(t, 0.3, proposal.Analysis.Confidence)
	assert.Equal(t, "AI analysis unavailable", proposal.Analysis.RootCause)
	assert.Equal(t, knowledge.CategoryUnknown, proposal.Classification)
}

func TestDejaVuShortCircuitAndUsePastFix(t *testing.T) {
	store := knowledge.NewMemStore()
	sessionID, projectID := seedWorkspace(t, store)
	errText := "TypeError: Cannot read property 'name' of undefined in render loop"
	fix := seedFix(t, store, sessionID, projectID, errText, knowledge.CategoryLogic, "Guard the object before rendering")

	analyzer := &stubAnalyzer{analysis: &llm.Analysis{Classification: knowledge.CategoryLogic}}
	o := newOrchestrator(t, store, analyzer, nil)
	ctx := context.Background()

	proposal, err := o.Submit(ctx, sessionID, projectID, errText, "", SubmitOptions{})
	require.NoError(t, err)
	require.NotNil(t, proposal.DejaVu)
	assert.Equal(t, fix.ID, proposal.DejaVu.Fix.ID)
	assert.True(t, proposal.ShortCircuited())
	assert.Equal(t, StateAwaitingPastFixDecision, o.State())
	assert.Zero(t, analyzer.calls, "short-circuit must not reach the analyzer")

	applied, err := o.UsePastFix(ctx)
	require.NoError(t, err)
	assert.Equal(t, fix.ID, applied.UsedPastFixID)
	require.Len(t, applied.Solutions, 1)
	assert.Equal(t, "Guard the object before rendering", applied.Solutions[0].Description)
	assert.Equal(t, "Past Fix", applied.Solutions[0].Source)
	assert.Equal(t, PromotedConfidence, applied.Solutions[0].Confidence)
	assert.Equal(t, StateAwaitingFeedback, o.State())

	fixes, err := store.GetAllFixesForProject(ctx, sessionID, projectID)
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, 1, fixes[0].AppliedCount)
	assert.False(t, fixes[0].LastAppliedAt.IsZero())

	_, err = o.RecordFeedback(ctx, true)
	require.NoError(t, err)

	fixes, err = store.GetAllFixesForProject(ctx, sessionID, projectID)
	require.NoError(t, err)
	require.Len(t, fixes, 2, "helpful feedback on a reused fix stores a new fix record")
	for _, f := range fixes {
		if f.ID == fix.ID {
			require.NotNil(t, f.Feedback)
			assert.True(t, f.Feedback.Helpful)
		}
	}
}

func TestContinueAnalysisSkipsDetectionOnce(t *testing.T) {
	store := knowledge.NewMemStore()
	sessionID, projectID := seedWorkspace(t, store)
	errText := "ReferenceError: moment is not defined when formatting dates"
	seedFix(t, store, sessionID, projectID, errText, knowledge.CategoryDependency, "npm install moment")

	analyzer := &stubAnalyzer{analysis: &llm.Analysis{Classification: knowledge.CategoryDependency, Confidence: 0.9}}
	extractor := &stubExtractor{extraction: &llm.Extraction{
		Statement: "When a library symbol is undefined, then verify the package is installed and imported",
		Category:  knowledge.CategoryDependency,
	}}
	o := newOrchestrator(t, store, analyzer, extractor)
	ctx := context.Background()

	proposal, err := o.Submit(ctx, sessionID, projectID, errText, "", SubmitOptions{})
	require.NoError(t, err)
	require.NotNil(t, proposal.DejaVu)

	full, err := o.ContinueAnalysis(ctx)
	require.NoError(t, err)
	assert.Nil(t, full.DejaVu, "continue must bypass detection")
	assert.Equal(t, 1, analyzer.calls)
	assert.Equal(t, knowledge.CategoryDependency, full.Classification)
	require.NotEmpty(t, full.PastFixes)
	assert.Equal(t, 1, extractor.calls, "extraction runs once retrieval has hits")
	assert.Equal(t, StateAwaitingFeedback, o.State())
}

func TestCrossProjectFallbackLabelsOrigin(t *testing.T) {
	store := knowledge.NewMemStore()
	sessionID, projectID := seedWorkspace(t, store)

	other, err := knowledge.NewProject(sessionID, "API Service", knowledge.ProjectContext{})
	require.NoError(t, err)
	_, err = store.CreateProject(context.Background(), other)
	require.NoError(t, err)
	seedFix(t, store, sessionID, other.ID, "Cannot find module 'express'", knowledge.CategoryDependency, "npm install express")
	seedFix(t, store, sessionID, other.ID, "Cannot find module 'lodash'", knowledge.CategoryDependency, "npm install lodash")

	analyzer := &stubAnalyzer{analysis: &llm.Analysis{Classification: knowledge.CategoryDependency, Confidence: 0.9}}
	o := newOrchestrator(t, store, analyzer, nil)

	proposal, err := o.Submit(context.Background(), sessionID, projectID,
		"Error: Cannot find module 'axios'", "", SubmitOptions{SkipDejaVu: true})
	require.NoError(t, err)

	require.Len(t, proposal.PastFixes, 2)
	for _, fix := range proposal.PastFixes {
		require.NotNil(t, fix.Origin)
		assert.Equal(t, other.ID, fix.Origin.ProjectID)
		assert.Equal(t, "API Service", fix.Origin.ProjectName)
	}

	// No principles exist, so the cross-project fixes are promoted.
	require.Len(t, proposal.Solutions, 2)
	for _, sol := range proposal.Solutions {
		assert.Equal(t, "Project: API Service", sol.Source)
		assert.Equal(t, PromotedConfidence, sol.Confidence)
	}
}

func TestRankedPrinciplesSuppressPromotion(t *testing.T) {
	store := knowledge.NewMemStore()
	sessionID, projectID := seedWorkspace(t, store)
	seedFix(t, store, sessionID, projectID, "request timeout after 30s", knowledge.CategoryAsync, "Increase the client timeout")

	principle, err := knowledge.NewPrinciple(projectID,
		"When a request timeout fires, then check for missing await on the call chain",
		knowledge.CategoryAsync, nil)
	require.NoError(t, err)
	_, err = store.CreatePrinciple(context.Background(), sessionID, projectID, principle, "")
	require.NoError(t, err)

	analyzer := &stubAnalyzer{analysis: &llm.Analysis{Classification: knowledge.CategoryAsync, Confidence: 0.9}}
	o := newOrchestrator(t, store, analyzer, nil)

	proposal, err := o.Submit(context.Background(), sessionID, projectID,
		"network request timeout while loading dashboard", "", SubmitOptions{SkipDejaVu: true})
	require.NoError(t, err)

	require.Len(t, proposal.RankedPrinciples, 1)
	assert.Equal(t, principle.ID, proposal.EvaluatedPrincipleID)
	require.Len(t, proposal.Solutions, 1)
	assert.Equal(t, "Learned Principle", proposal.Solutions[0].Source)
}

func TestUnhelpfulFeedbackOnlyReinforces(t *testing.T) {
	store := knowledge.NewMemStore()
	sessionID, projectID := seedWorkspace(t, store)
	seedFix(t, store, sessionID, projectID, "state out of sync after reload", knowledge.CategoryState, "Reset the cache on reload")

	principle, err := knowledge.NewPrinciple(projectID,
		"When state survives a reload unexpectedly, then clear persisted caches first",
		knowledge.CategoryState, nil)
	require.NoError(t, err)
	_, err = store.CreatePrinciple(context.Background(), sessionID, projectID, principle, "")
	require.NoError(t, err)

	analyzer := &stubAnalyzer{analysis: &llm.Analysis{Classification: knowledge.CategoryState, Confidence: 0.9}}
	extractor := &stubExtractor{extraction: &llm.Extraction{Statement: "When x, then y", Category: knowledge.CategoryState}}
	o := newOrchestrator(t, store, analyzer, extractor)
	ctx := context.Background()

	_, err = o.Submit(ctx, sessionID, projectID, "state out of sync again somehow", "", SubmitOptions{SkipDejaVu: true})
	require.NoError(t, err)

	result, err := o.RecordFeedback(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, result.FixID)
	assert.Empty(t, result.PrincipleID)

	// rate (1.0 * 1 + 0) / 2 = 0.5
	updated, err := store.GetPrinciple(ctx, sessionID, projectID, principle.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, updated.Context.SuccessRate, 1e-9)
	assert.Equal(t, 2, updated.Context.AppliedCount)

	fixes, err := store.GetAllFixesForProject(ctx, sessionID, projectID)
	require.NoError(t, err)
	assert.Len(t, fixes, 1, "unhelpful feedback must not store a new fix")
}

func TestRecordFeedbackWithoutProposal(t *testing.T) {
	store := knowledge.NewMemStore()
	o := newOrchestrator(t, store, nil, nil)
	_, err := o.RecordFeedback(context.Background(), true)
	assert.ErrorIs(t, err, ErrNoProposal)
}

func TestUsePastFixWithoutMatch(t *testing.T) {
	store := knowledge.NewMemStore()
	o := newOrchestrator(t, store, nil, nil)
	_, err := o.UsePastFix(context.Background())
	assert.ErrorIs(t, err, ErrNoPastFixMatch)
	_, err = o.ContinueAnalysis(context.Background())
	assert.ErrorIs(t, err, ErrNoPastFixMatch)
}

func TestFeedbackRejectedWhilePastFixUndecided(t *testing.T) {
	store := knowledge.NewMemStore()
	sessionID, projectID := seedWorkspace(t, store)
	errText := "TypeError: Cannot read property 'name' of undefined in render loop"
	seedFix(t, store, sessionID, projectID, errText, knowledge.CategoryLogic, "Guard the object before rendering")

	o := newOrchestrator(t, store, nil, nil)
	ctx := context.Background()

	proposal, err := o.Submit(ctx, sessionID, projectID, errText, "", SubmitOptions{})
	require.NoError(t, err)
	require.True(t, proposal.ShortCircuited())
	require.Equal(t, StateAwaitingPastFixDecision, o.State())

	// The apply/continue decision is still pending; there is no verdict to
	// record yet and nothing may be written.
	_, err = o.RecordFeedback(ctx, true)
	assert.ErrorIs(t, err, ErrPastFixUndecided)
	assert.Equal(t, StateAwaitingPastFixDecision, o.State())

	fixes, err := store.GetAllFixesForProject(ctx, sessionID, projectID)
	require.NoError(t, err)
	require.Len(t, fixes, 1, "rejected feedback must not store a fix")

	// Resolving the decision unblocks feedback.
	_, err = o.UsePastFix(ctx)
	require.NoError(t, err)
	_, err = o.RecordFeedback(ctx, true)
	require.NoError(t, err)
}

func TestFallbackTable(t *testing.T) {
	analysis, ok := FallbackFor(StageAnalysis).(*llm.Analysis)
	require.True(t, ok)
	assert.Equal(t, knowledge.CategoryUnknown, analysis.Classification)
	assert.Equal(t, 0.3, analysis.Confidence)
	assert.Equal(t, "AI analysis unavailable", analysis.RootCause)

	match, ok := FallbackFor(StageDetection).(*similarity.Match)
	require.True(t, ok)
	assert.Nil(t, match)

	extraction, ok := FallbackFor(StageExtraction).(*llm.Extraction)
	require.True(t, ok)
	assert.Nil(t, extraction)

	fixes, ok := FallbackFor(StageRetrieval).([]knowledge.Fix)
	require.True(t, ok)
	assert.Empty(t, fixes)

	principles, ok := FallbackFor(StageRanking).([]knowledge.Principle)
	require.True(t, ok)
	assert.Empty(t, principles)
}
