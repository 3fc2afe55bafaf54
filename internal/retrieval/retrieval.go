// Package retrieval serves queries against the live index snapshot.
//
// The engine holds the live snapshot behind an atomic pointer. Each query
// loads the pointer exactly once, so a promotion mid-query is invisible: all
// results in one response come from a single generation.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/index"
)

// ErrEmptyIndex indicates no snapshot has been promoted yet.
var ErrEmptyIndex = errors.New("no index snapshot has been promoted")

// Query is one retrieval request. Floor is optional: nil disables score
// filtering, so even weak matches are returned up to TopK.
type Query struct {
	Text  string   `json:"text"`
	TopK  int      `json:"top_k"`
	Floor *float32 `json:"floor,omitempty"`
}

// Result is the outcome of one retrieval, bound to the snapshot generation
// it was served from.
type Result struct {
	Generation uint64        `json:"generation"`
	Hits       []index.Hit   `json:"hits"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Engine embeds queries and searches the live snapshot.
type Engine struct {
	embedder embeddings.Embedder
	logger   *zap.Logger
	live     atomic.Pointer[index.Snapshot]
}

// NewEngine creates a retrieval engine with no live snapshot. Promote
// installs the first one.
func NewEngine(embedder embeddings.Embedder, logger *zap.Logger) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{embedder: embedder, logger: logger}, nil
}

// Promote atomically installs snap as the live snapshot. In-flight queries
// keep reading the generation they loaded; new queries see snap.
func (e *Engine) Promote(snap *index.Snapshot) {
	e.live.Store(snap)
	if snap != nil {
		e.logger.Info("snapshot promoted",
			zap.Uint64("generation", snap.Generation),
			zap.Int("chunks", len(snap.Entries)))
	}
}

// Live returns the current live snapshot, or nil before the first promotion.
func (e *Engine) Live() *index.Snapshot {
	return e.live.Load()
}

// Search embeds the query text and returns the top matches from the live
// snapshot. Returns ErrEmptyIndex before the first promotion.
func (e *Engine) Search(ctx context.Context, q Query) (*Result, error) {
	snap := e.live.Load()
	if snap == nil {
		return nil, ErrEmptyIndex
	}
	if q.Text == "" {
		return nil, fmt.Errorf("query text is required")
	}
	if q.TopK <= 0 {
		q.TopK = 5
	}

	start := time.Now()
	vec, err := e.embedder.EmbedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	floor := index.NoFloor
	if q.Floor != nil {
		floor = *q.Floor
	}
	hits := snap.Search(vec, q.TopK, floor)
	return &Result{
		Generation: snap.Generation,
		Hits:       hits,
		Elapsed:    time.Since(start),
	}, nil
}
