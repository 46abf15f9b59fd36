// Package pipeline sequences the five debugging stages for one error
// submission: déjà-vu detection, classification, retrieval, principle
// extraction, and ranking.
//
// Each stage degrades independently on failure; a collaborator error never
// aborts the run. The orchestrator holds exactly one proposal between
// Submit and RecordFeedback and rejects re-entrant submissions instead of
// queueing them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/athenaclew/athena/internal/classify"
	"github.com/athenaclew/athena/internal/knowledge"
	"github.com/athenaclew/athena/internal/llm"
	"github.com/athenaclew/athena/internal/ranking"
	"github.com/athenaclew/athena/internal/similarity"
	"github.com/athenaclew/athena/internal/telemetry"
)

// Common errors for pipeline operations.
var (
	ErrAlreadyProcessing = errors.New("a submission is already being processed")
	ErrEmptyInput        = errors.New("error text cannot be empty")
	ErrNoProjectSelected = errors.New("no project selected")
	ErrNoProposal        = errors.New("no proposal awaiting feedback")
	ErrNoPastFixMatch    = errors.New("no past fix match to apply")
	ErrPastFixUndecided  = errors.New("past-fix decision pending: apply it or continue analysis first")
)

// State is the orchestrator's position in the five-stage run.
type State string

const (
	StateIdle       State = "idle"
	StateDetecting  State = "detecting"
	StateAnalyzing  State = "analyzing"
	StateRetrieving State = "retrieving"
	StateExtracting State = "extracting_principle"
	StateRanking    State = "ranking"

	// StateAwaitingPastFixDecision is the déjà-vu short-circuit: the caller
	// must apply the past fix or continue the full analysis.
	StateAwaitingPastFixDecision State = "awaiting_past_fix_decision"

	// StateAwaitingFeedback means a proposal is live and the run completes
	// once the user records a verdict.
	StateAwaitingFeedback State = "awaiting_feedback"
)

// SubmitOptions tunes one submission.
type SubmitOptions struct {
	// SkipDejaVu bypasses the similarity detector. ContinueAnalysis sets
	// it so the short-circuit cannot re-trigger.
	SkipDejaVu bool
}

// FeedbackResult reports what RecordFeedback persisted.
type FeedbackResult struct {
	// FixID is the stored fix, empty on an unhelpful verdict.
	FixID string

	// PrincipleID is the stored principle, empty when extraction was
	// unavailable or the verdict was unhelpful.
	PrincipleID string
}

// Orchestrator runs the pipeline for one session-scoped caller.
type Orchestrator struct {
	store      knowledge.Store
	detector   *similarity.Detector
	classifier *classify.Classifier
	analyzer   llm.Analyzer
	extractor  llm.Extractor
	metrics    *telemetry.Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	busy     bool
	state    State
	proposal *Proposal
}

// NewOrchestrator wires the pipeline. The analyzer and extractor may be nil;
// the corresponding stages then run on their fallbacks.
func NewOrchestrator(store knowledge.Store, analyzer llm.Analyzer, extractor llm.Extractor, metrics *telemetry.Metrics, logger *zap.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = telemetry.NewNop()
	}
	detector, err := similarity.NewDetector(store, logger)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		store:      store,
		detector:   detector,
		classifier: classify.New(),
		analyzer:   analyzer,
		extractor:  extractor,
		metrics:    metrics,
		logger:     logger.Named("pipeline"),
		state:      StateIdle,
	}, nil
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Current returns the live proposal, nil when none is held.
func (o *Orchestrator) Current() *Proposal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.proposal
}

// Submit runs the pipeline for one error and returns the resulting
// proposal. A second Submit while one is in flight fails with
// ErrAlreadyProcessing; it is not queued.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, projectID, errorText, stack string, opts SubmitOptions) (*Proposal, error) {
	if strings.TrimSpace(errorText) == "" {
		return nil, ErrEmptyInput
	}
	if sessionID == "" {
		return nil, knowledge.ErrEmptySessionID
	}
	if projectID == "" {
		return nil, ErrNoProjectSelected
	}

	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return nil, ErrAlreadyProcessing
	}
	o.busy = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
	}()

	// Stage 1: déjà-vu detection.
	if !opts.SkipDejaVu {
		o.setState(StateDetecting)
		match := o.detect(ctx, sessionID, projectID, errorText)
		if match != nil {
			proposal := &Proposal{
				SessionID: sessionID,
				ProjectID: projectID,
				ErrorText: errorText,
				Stack:     stack,
				DejaVu:    match,
				CreatedAt: time.Now(),
			}
			o.setProposal(proposal, StateAwaitingPastFixDecision)
			o.metrics.DejaVuMatches.Inc()
			o.metrics.PipelineRuns.WithLabelValues("deja_vu").Inc()
			return proposal, nil
		}
	}

	// Stage 2: classification.
	o.setState(StateAnalyzing)
	analysis := o.analyze(ctx, errorText, stack)
	classification := o.classifier.Classify(errorText, analysis.Classification)

	// Stage 3: retrieval, same project first, then cross-project.
	o.setState(StateRetrieving)
	fixes := o.retrieve(ctx, sessionID, projectID, classification)

	// Stage 4: principle extraction, only with at least one retrieved fix.
	var extraction *llm.Extraction
	if len(fixes) > 0 {
		o.setState(StateExtracting)
		extraction = o.extract(ctx, errorText, fixes[0], analysis)
	}

	// Stage 5: ranking.
	o.setState(StateRanking)
	ranked := o.rank(ctx, sessionID, projectID, errorText, classification)

	proposal := &Proposal{
		SessionID:        sessionID,
		ProjectID:        projectID,
		ErrorText:        errorText,
		Stack:            stack,
		Classification:   classification,
		Analysis:         analysis,
		PastFixes:        fixes,
		Extraction:       extraction,
		RankedPrinciples: ranked,
		Solutions:        buildSolutions(ranked, fixes),
		CreatedAt:        time.Now(),
	}
	if len(ranked) > 0 {
		proposal.EvaluatedPrincipleID = ranked[0].Principle.ID
	}

	o.setProposal(proposal, StateAwaitingFeedback)
	o.metrics.PipelineRuns.WithLabelValues("completed").Inc()
	o.logger.Info("pipeline run completed",
		zap.String("classification", string(classification)),
		zap.Int("past_fixes", len(fixes)),
		zap.Int("ranked_principles", len(ranked)),
		zap.Int("solutions", len(proposal.Solutions)))
	return proposal, nil
}

// UsePastFix applies the déjà-vu match held by the current proposal: usage
// metrics are bumped and the run jumps straight to awaiting feedback on the
// past fix's data.
func (o *Orchestrator) UsePastFix(ctx context.Context) (*Proposal, error) {
	o.mu.Lock()
	proposal := o.proposal
	o.mu.Unlock()
	if proposal == nil || proposal.DejaVu == nil {
		return nil, ErrNoPastFixMatch
	}

	fix := proposal.DejaVu.Fix
	if err := o.store.BumpFixUsage(ctx, proposal.SessionID, proposal.ProjectID, fix.ID); err != nil {
		o.logger.Warn("bumping fix usage failed", zap.Error(err), zap.String("fix_id", fix.ID))
	}

	proposal.UsedPastFixID = fix.ID
	proposal.Classification = fix.Error.Type
	proposal.Solutions = []Solution{{
		Title:       titleFor(fix.Error.Message),
		Description: fix.Solution.Text,
		CodeSnippet: fix.Solution.CodeSnippet,
		Confidence:  PromotedConfidence,
		Source:      sourceLabel(fix),
	}}
	o.setProposal(proposal, StateAwaitingFeedback)
	return proposal, nil
}

// ContinueAnalysis discards the déjà-vu short-circuit and re-runs the full
// pipeline with detection disabled for this one submission.
func (o *Orchestrator) ContinueAnalysis(ctx context.Context) (*Proposal, error) {
	o.mu.Lock()
	proposal := o.proposal
	o.mu.Unlock()
	if proposal == nil || proposal.DejaVu == nil {
		return nil, ErrNoPastFixMatch
	}
	return o.Submit(ctx, proposal.SessionID, proposal.ProjectID, proposal.ErrorText, proposal.Stack,
		SubmitOptions{SkipDejaVu: true})
}

// setState updates the orchestrator state under lock.
func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// setProposal installs the proposal and moves to the given state.
func (o *Orchestrator) setProposal(p *Proposal, s State) {
	o.mu.Lock()
	o.proposal = p
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) detect(ctx context.Context, sessionID, projectID, errorText string) *similarity.Match {
	start := time.Now()
	defer o.observe(StageDetection, start)

	match, err := o.detector.DetectSimilarError(ctx, sessionID, projectID, errorText)
	if err != nil {
		o.logger.Warn("deja-vu detection failed, continuing", zap.Error(err))
		return FallbackFor(StageDetection).(*similarity.Match)
	}
	return match
}

func (o *Orchestrator) analyze(ctx context.Context, errorText, stack string) *llm.Analysis {
	start := time.Now()
	defer o.observe(StageAnalysis, start)

	if o.analyzer == nil {
		return FallbackFor(StageAnalysis).(*llm.Analysis)
	}
	analysis, err := o.analyzer.Analyze(ctx, errorText, stack)
	if err != nil {
		o.logger.Warn("analyzer failed, substituting fallback", zap.Error(err))
		o.metrics.StageFallbacks.WithLabelValues(string(StageAnalysis)).Inc()
		return FallbackFor(StageAnalysis).(*llm.Analysis)
	}
	o.metrics.LLMTokens.WithLabelValues(string(StageAnalysis)).Add(float64(analysis.TokensUsed))
	return analysis
}

func (o *Orchestrator) retrieve(ctx context.Context, sessionID, projectID string, classification knowledge.Category) []knowledge.Fix {
	start := time.Now()
	defer o.observe(StageRetrieval, start)

	fixes, err := o.store.GetFixesByClassification(ctx, sessionID, projectID, classification, knowledge.SameProjectFixLimit)
	if err != nil {
		o.logger.Warn("same-project retrieval failed, treating as empty", zap.Error(err))
		fixes = FallbackFor(StageRetrieval).([]knowledge.Fix)
	}
	if len(fixes) > 0 {
		return fixes
	}
	return o.retrieveCrossProject(ctx, sessionID, projectID, classification)
}

// retrieveCrossProject searches the session's other projects sequentially,
// tags every hit with its origin, and resorts the combined result
// newest-first.
func (o *Orchestrator) retrieveCrossProject(ctx context.Context, sessionID, currentProjectID string, classification knowledge.Category) []knowledge.Fix {
	projects, err := o.store.GetAllProjectsForSession(ctx, sessionID)
	if err != nil {
		o.logger.Warn("listing projects for cross-project search failed", zap.Error(err))
		return nil
	}

	var combined []knowledge.Fix
	for _, p := range projects {
		if p.ID == currentProjectID {
			continue
		}
		fixes, err := o.store.GetFixesByClassification(ctx, sessionID, p.ID, classification, knowledge.CrossProjectFixLimit)
		if err != nil {
			o.logger.Warn("cross-project retrieval failed for project, skipping",
				zap.Error(err), zap.String("project_id", p.ID))
			continue
		}
		for i := range fixes {
			fixes[i].Origin = &knowledge.Origin{ProjectID: p.ID, ProjectName: p.Name}
		}
		combined = append(combined, fixes...)
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].CreatedAt.After(combined[j].CreatedAt)
	})
	return combined
}

func (o *Orchestrator) extract(ctx context.Context, errorText string, exemplar knowledge.Fix, analysis *llm.Analysis) *llm.Extraction {
	start := time.Now()
	defer o.observe(StageExtraction, start)

	if o.extractor == nil {
		return nil
	}
	extraction, err := o.extractor.Extract(ctx, errorText, exemplar.Solution.Text, analysis)
	if err != nil {
		o.logger.Warn("principle extraction failed, skipping", zap.Error(err))
		o.metrics.StageFallbacks.WithLabelValues(string(StageExtraction)).Inc()
		return FallbackFor(StageExtraction).(*llm.Extraction)
	}
	o.metrics.LLMTokens.WithLabelValues(string(StageExtraction)).Add(float64(extraction.TokensUsed))
	return extraction
}

func (o *Orchestrator) rank(ctx context.Context, sessionID, projectID, errorText string, classification knowledge.Category) []ranking.Scored {
	start := time.Now()
	defer o.observe(StageRanking, start)

	filter := knowledge.AnyCategory()
	if classification != knowledge.CategoryUnknown {
		filter = knowledge.OneCategory(classification)
	}
	principles, err := o.store.GetPrinciplesByCategory(ctx, sessionID, projectID, filter, 0)
	if err != nil {
		o.logger.Warn("principle query failed, ranking on empty set", zap.Error(err))
		principles = FallbackFor(StageRanking).([]knowledge.Principle)
	}
	return ranking.Rank(principles, ranking.ErrorContext{
		Message:        errorText,
		Classification: classification,
	})
}

func (o *Orchestrator) observe(stage Stage, start time.Time) {
	o.metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

// buildSolutions turns ranked principles into display entries. When ranking
// produced nothing but retrieval had hits, the past fixes are promoted so
// the user is never shown an empty result while history exists.
func buildSolutions(ranked []ranking.Scored, fixes []knowledge.Fix) []Solution {
	if len(ranked) > 0 {
		solutions := make([]Solution, 0, len(ranked))
		for _, s := range ranked {
			solutions = append(solutions, Solution{
				Title:       titleFor(s.Principle.Statement),
				Description: s.Principle.Statement,
				Confidence:  s.Score,
				Source:      "Learned Principle",
			})
		}
		return solutions
	}

	solutions := make([]Solution, 0, len(fixes))
	for _, fix := range fixes {
		solutions = append(solutions, Solution{
			Title:       titleFor(fix.Error.Message),
			Description: fix.Solution.Text,
			CodeSnippet: fix.Solution.CodeSnippet,
			Confidence:  PromotedConfidence,
			Source:      sourceLabel(fix),
		})
	}
	return solutions
}

func sourceLabel(fix knowledge.Fix) string {
	if fix.Origin != nil {
		return "Project: " + fix.Origin.ProjectName
	}
	return "Past Fix"
}

func titleFor(text string) string {
	const max = 80
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[:max-3] + "..."
}
