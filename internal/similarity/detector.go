package similarity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/athenaclew/athena/internal/knowledge"
)

const (
	// Threshold is the strict lower bound for a déjà-vu match. A stored
	// fix with similarity exactly equal to the threshold is excluded.
	Threshold = 0.70

	// RecencyTieBand is the similarity delta under which two candidates
	// count as "close enough in relevance": the fresher fix wins instead
	// of the marginally more similar one.
	RecencyTieBand = 0.10
)

// Match pairs a past fix with its similarity to the current error.
type Match struct {
	Fix        knowledge.Fix
	Similarity float64
}

// Detector finds near-duplicate past errors within a project.
type Detector struct {
	store  knowledge.Store
	logger *zap.Logger
}

// NewDetector creates a detector over the given store.
func NewDetector(store knowledge.Store, logger *zap.Logger) (*Detector, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, logger: logger}, nil
}

// DetectSimilarError compares the current error text against every stored
// fix in the project and returns the best qualifying match, or nil when no
// stored error exceeds the threshold.
//
// Candidates above the threshold are ordered by similarity descending; when
// two candidates sit within RecencyTieBand of each other the newer fix wins.
func (d *Detector) DetectSimilarError(ctx context.Context, sessionID, projectID, errorText string) (*Match, error) {
	fixes, err := d.store.GetAllFixesForProject(ctx, sessionID, projectID)
	if err != nil {
		return nil, fmt.Errorf("loading fixes: %w", err)
	}

	var best *Match
	for _, fix := range fixes {
		score := Jaccard(errorText, fix.Error.Message)
		if score <= Threshold {
			continue
		}
		d.logger.Debug("deja-vu candidate",
			zap.String("fix_id", fix.ID),
			zap.Float64("similarity", score))

		if best == nil {
			best = &Match{Fix: fix, Similarity: score}
			continue
		}
		if better(fix, score, best) {
			best = &Match{Fix: fix, Similarity: score}
		}
	}

	if best != nil {
		d.logger.Info("deja-vu match found",
			zap.String("fix_id", best.Fix.ID),
			zap.Float64("similarity", best.Similarity))
	}
	return best, nil
}

// better reports whether the candidate should replace the current best.
// Within the recency band the newer timestamp decides; outside it the
// higher similarity decides.
func better(fix knowledge.Fix, score float64, best *Match) bool {
	delta := score - best.Similarity
	if delta < 0 {
		delta = -delta
	}
	if delta < RecencyTieBand {
		return fix.CreatedAt.After(best.Fix.CreatedAt)
	}
	return score > best.Similarity
}
