package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/athenaclew/athena/internal/knowledge"
	"github.com/athenaclew/athena/internal/llm"
)

// RecordFeedback commits the user's verdict on the live proposal.
//
// A helpful verdict persists a new fix (synthesizing a "manual fix"
// solution when the proposal offered none), runs a just-in-time principle
// extraction if the pipeline had not already produced one, and stores the
// principle linked to the fix. An unhelpful verdict stores nothing new.
// Both verdicts reinforce the success rate of the principle that was being
// evaluated, best-effort.
//
// Store write failures for the fix or principle are returned to the caller;
// losing the user's feedback silently is not acceptable. Success-rate
// update failures are logged and swallowed.
//
// Feedback is only valid once the run reached AwaitingFeedback. A déjà-vu
// short-circuit still waiting on the apply/continue decision has no verdict
// to record and fails with ErrPastFixUndecided.
func (o *Orchestrator) RecordFeedback(ctx context.Context, helpful bool) (*FeedbackResult, error) {
	o.mu.Lock()
	proposal := o.proposal
	state := o.state
	o.mu.Unlock()
	if proposal == nil {
		return nil, ErrNoProposal
	}
	if state != StateAwaitingFeedback {
		return nil, ErrPastFixUndecided
	}

	verdict := "unhelpful"
	if helpful {
		verdict = "helpful"
	}

	result := &FeedbackResult{}
	if helpful {
		fixID, principleID, err := o.persistHelpfulOutcome(ctx, proposal)
		if err != nil {
			return nil, err
		}
		result.FixID = fixID
		result.PrincipleID = principleID
	}

	if proposal.UsedPastFixID != "" {
		if err := o.store.SetFixFeedback(ctx, proposal.SessionID, proposal.ProjectID, proposal.UsedPastFixID, helpful); err != nil {
			o.logger.Warn("recording feedback on reused fix failed",
				zap.Error(err), zap.String("fix_id", proposal.UsedPastFixID))
		}
	}

	if proposal.EvaluatedPrincipleID != "" {
		o.reinforcePrinciple(ctx, proposal, helpful)
	}

	o.metrics.FeedbackRecorded.WithLabelValues(verdict).Inc()
	o.setProposal(nil, StateIdle)
	o.logger.Info("feedback recorded",
		zap.String("verdict", verdict),
		zap.String("fix_id", result.FixID),
		zap.String("principle_id", result.PrincipleID))
	return result, nil
}

// persistHelpfulOutcome stores the fix and, when an extraction is
// available, the principle distilled from it.
func (o *Orchestrator) persistHelpfulOutcome(ctx context.Context, proposal *Proposal) (fixID, principleID string, err error) {
	solution := solutionFor(proposal)

	errDesc := knowledge.ErrorDescriptor{
		Message: proposal.ErrorText,
		Stack:   proposal.Stack,
		Type:    proposal.Classification,
	}
	var usage knowledge.LLMUsage
	if proposal.Analysis != nil {
		usage = knowledge.LLMUsage{
			TokensUsed:   proposal.Analysis.TokensUsed,
			ResponseTime: proposal.Analysis.ResponseTime,
		}
	}

	fix, err := knowledge.NewFix(proposal.ProjectID, errDesc, solution, usage)
	if err != nil {
		return "", "", fmt.Errorf("building fix: %w", err)
	}
	fixID, err = o.store.CreateFix(ctx, proposal.SessionID, proposal.ProjectID, fix)
	if err != nil {
		return "", "", fmt.Errorf("storing fix: %w", err)
	}

	extraction := proposal.Extraction
	if extraction == nil && o.extractor != nil {
		extraction = o.extractJIT(ctx, proposal, solution.Text)
	}
	if extraction == nil {
		return fixID, "", nil
	}

	var patterns []string
	if proposal.Analysis != nil {
		patterns = proposal.Analysis.Patterns
	}
	principle, err := knowledge.NewPrinciple(proposal.ProjectID, extraction.Statement, extraction.Category, patterns)
	if err != nil {
		return "", "", fmt.Errorf("building principle: %w", err)
	}
	if !principle.FollowsConditionActionForm() {
		o.logger.Warn("principle does not follow condition/action form",
			zap.String("statement", principle.Statement))
	}
	principleID, err = o.store.CreatePrinciple(ctx, proposal.SessionID, proposal.ProjectID, principle, fixID)
	if err != nil {
		return "", "", fmt.Errorf("storing principle: %w", err)
	}
	return fixID, principleID, nil
}

// extractJIT runs the extraction that was skipped during the pipeline,
// now that a confirmed solution exists. Failure is non-fatal.
func (o *Orchestrator) extractJIT(ctx context.Context, proposal *Proposal, solutionText string) *llm.Extraction {
	extraction, err := o.extractor.Extract(ctx, proposal.ErrorText, solutionText, proposal.Analysis)
	if err != nil {
		o.logger.Warn("just-in-time extraction failed, storing fix without principle", zap.Error(err))
		o.metrics.StageFallbacks.WithLabelValues(string(StageExtraction)).Inc()
		return nil
	}
	o.metrics.LLMTokens.WithLabelValues(string(StageExtraction)).Add(float64(extraction.TokensUsed))
	return extraction
}

// reinforcePrinciple folds the verdict into the evaluated principle's
// success rate. Best-effort: a missing principle is a logged no-op because
// feedback may race a deletion, and update failures are swallowed.
func (o *Orchestrator) reinforcePrinciple(ctx context.Context, proposal *Proposal, helpful bool) {
	principle, err := o.store.GetPrinciple(ctx, proposal.SessionID, proposal.ProjectID, proposal.EvaluatedPrincipleID)
	if err != nil {
		if errors.Is(err, knowledge.ErrPrincipleNotFound) {
			o.logger.Warn("evaluated principle no longer exists, skipping reinforcement",
				zap.String("principle_id", proposal.EvaluatedPrincipleID))
			return
		}
		o.logger.Warn("loading evaluated principle failed", zap.Error(err))
		return
	}

	newRate, newCount := knowledge.UpdateSuccessRate(principle.Context.SuccessRate, principle.Context.AppliedCount, helpful)
	if err := o.store.UpdatePrincipleSuccessRate(ctx, proposal.SessionID, proposal.ProjectID, principle.ID, newRate, newCount); err != nil {
		o.logger.Warn("success-rate update failed", zap.Error(err), zap.String("principle_id", principle.ID))
		return
	}
	o.logger.Debug("principle reinforced",
		zap.String("principle_id", principle.ID),
		zap.Float64("success_rate", newRate),
		zap.Int("applied_count", newCount))
}

// solutionFor picks the solution content feedback should persist: the
// proposal's top entry when one exists, otherwise a synthesized manual-fix
// record so a helpful outcome is never lost for lack of a suggestion.
func solutionFor(proposal *Proposal) knowledge.SolutionDescriptor {
	if len(proposal.Solutions) > 0 {
		top := proposal.Solutions[0]
		return knowledge.SolutionDescriptor{
			Text:        top.Description,
			CodeSnippet: top.CodeSnippet,
			Explanation: top.Source,
		}
	}

	explanation := "Resolved by user."
	if proposal.Analysis != nil && proposal.Analysis.RootCause != "" {
		explanation = fmt.Sprintf("Root cause: %s. Resolved by user.", proposal.Analysis.RootCause)
	}
	return knowledge.SolutionDescriptor{
		Text:        "Manual fix applied by user",
		Explanation: explanation,
	}
}
