// Package gate decides whether a candidate index snapshot is fit to serve.
//
// A gate rejection is a policy outcome, not an error: the pipeline records
// the decision and leaves the live snapshot untouched.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/index"
)

// Config controls quality gate evaluation.
type Config struct {
	// BaselineQueries are representative queries every candidate snapshot
	// must answer before it can be promoted.
	BaselineQueries []string `koanf:"baseline_queries"`

	// ScoreFloor is the minimum top-1 similarity a baseline query must
	// reach against the candidate.
	ScoreFloor float32 `koanf:"score_floor"`

	// RegressionTolerance is how far a candidate's top-1 score may fall
	// below the live snapshot's for the same query before the candidate
	// is rejected.
	RegressionTolerance float32 `koanf:"regression_tolerance"`
}

// Validate checks gate configuration.
func (c *Config) Validate() error {
	if c.ScoreFloor < -1 || c.ScoreFloor > 1 {
		return fmt.Errorf("score_floor must be within [-1, 1], got %v", c.ScoreFloor)
	}
	if c.RegressionTolerance < 0 {
		return fmt.Errorf("regression_tolerance must be non-negative, got %v", c.RegressionTolerance)
	}
	return nil
}

// Reason explains one failed gate check.
type Reason struct {
	Query  string `json:"query"`
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Decision is the outcome of evaluating one candidate snapshot.
// A rejected decision always carries at least one reason.
type Decision struct {
	Accepted bool     `json:"accepted"`
	Reasons  []Reason `json:"reasons,omitempty"`
}

const (
	checkNonEmpty   = "non_empty"
	checkScoreFloor = "score_floor"
	checkRegression = "regression"
)

// Gate evaluates candidate snapshots against baseline queries.
type Gate struct {
	cfg      Config
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// New creates a quality gate.
func New(cfg Config, embedder embeddings.Embedder, logger *zap.Logger) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate config: %w", err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, embedder: embedder, logger: logger}, nil
}

// Evaluate runs every baseline query against the candidate snapshot and
// returns the promotion decision. live may be nil (first promotion), in which
// case the regression check is skipped. Evaluate never mutates either
// snapshot.
//
// An embedding failure during evaluation is a real error, distinct from a
// rejection: the caller retries or aborts the run, it does not record a
// gate decision.
func (g *Gate) Evaluate(ctx context.Context, candidate, live *index.Snapshot) (Decision, error) {
	if candidate == nil {
		return Decision{}, fmt.Errorf("candidate snapshot is required")
	}

	decision := Decision{Accepted: true}
	if len(g.cfg.BaselineQueries) == 0 {
		g.logger.Warn("no baseline queries configured, accepting candidate unconditionally",
			zap.Uint64("generation", candidate.Generation))
		return decision, nil
	}

	for _, query := range g.cfg.BaselineQueries {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}

		vec, err := g.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return Decision{}, fmt.Errorf("embedding baseline query %q: %w", query, err)
		}

		hits := candidate.Search(vec, 1, index.NoFloor)
		if len(hits) == 0 {
			decision.Reasons = append(decision.Reasons, Reason{
				Query:  query,
				Check:  checkNonEmpty,
				Detail: "candidate returned no results",
			})
			continue
		}

		top := hits[0].Score
		if top < g.cfg.ScoreFloor {
			decision.Reasons = append(decision.Reasons, Reason{
				Query:  query,
				Check:  checkScoreFloor,
				Detail: fmt.Sprintf("top-1 score %.4f below floor %.4f", top, g.cfg.ScoreFloor),
			})
		}

		if live != nil {
			liveHits := live.Search(vec, 1, index.NoFloor)
			if len(liveHits) > 0 && top < liveHits[0].Score-g.cfg.RegressionTolerance {
				decision.Reasons = append(decision.Reasons, Reason{
					Query: query,
					Check: checkRegression,
					Detail: fmt.Sprintf("top-1 score %.4f regressed from live %.4f beyond tolerance %.4f",
						top, liveHits[0].Score, g.cfg.RegressionTolerance),
				})
			}
		}
	}

	if len(decision.Reasons) > 0 {
		decision.Accepted = false
		g.logger.Info("candidate snapshot rejected by quality gate",
			zap.Uint64("generation", candidate.Generation),
			zap.Int("reasons", len(decision.Reasons)))
	}
	return decision, nil
}
