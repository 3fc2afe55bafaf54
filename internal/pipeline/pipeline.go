// Package pipeline orchestrates indexing runs: collect, detect changes,
// embed, build, gate, promote.
//
// At most one run executes at a time. A trigger that arrives while a run is
// active coalesces into at most one pending run. Promotion is a single
// atomic snapshot swap; a failed or rejected run never mutates the live
// snapshot or the persisted source state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/gate"
	"github.com/fyrsmithlabs/corpusd/internal/index"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
	"github.com/fyrsmithlabs/corpusd/internal/source"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

// ErrRunInProgress is returned by Run when another run holds the pipeline.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// State is the pipeline's current phase.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateDetecting  State = "detecting"
	StateEmbedding  State = "embedding"
	StateBuilding   State = "building"
	StateGating     State = "gating"
	StatePromoting  State = "promoting"
)

// Run statuses recorded in the audit log.
const (
	StatusPromoted = "promoted"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
	StatusNoChange = "no_change"
)

// Per-source outcomes within a run.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// Config controls pipeline scheduling and retry behavior.
type Config struct {
	// Interval between scheduled runs. Zero disables the scheduler;
	// runs then only happen on explicit triggers.
	Interval time.Duration `koanf:"interval"`

	// MaxRetries bounds retries of transient fetch and embedding failures.
	MaxRetries int `koanf:"max_retries"`

	// RetryInterval is the initial backoff delay between retries.
	RetryInterval time.Duration `koanf:"retry_interval"`

	// Concurrency bounds parallel source fetches.
	Concurrency int `koanf:"concurrency"`

	// StaleAfter marks a source stale when its last successful fetch is
	// older than this.
	StaleAfter time.Duration `koanf:"stale_after"`
}

// Validate checks pipeline configuration.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("stale_after must be non-negative")
	}
	return nil
}

// Deps are the collaborators a pipeline drives.
type Deps struct {
	Store    *store.Store
	Gate     *gate.Gate
	Engine   *retrieval.Engine
	Embedder embeddings.Embedder
	Chunker  *chunker.Chunker

	// Sources is the reload hook: it is consulted at the start of every
	// run so source configuration changes take effect without a restart.
	Sources func() []source.Spec

	// Client is used by collectors; nil gets a default client.
	Client *http.Client

	// OnRunFinished, when set, is invoked with every completed run record
	// (metrics hooks and the like).
	OnRunFinished func(rec *store.RunRecord)

	Logger *zap.Logger
}

// Pipeline runs the indexing state machine.
type Pipeline struct {
	cfg      Config
	deps     Deps
	logger   *zap.Logger
	detector *source.Detector
	builder  *index.Builder

	runMu   sync.Mutex
	trigger chan struct{}

	stateMu sync.Mutex
	state   State
	lastRun *store.RunRecord
}

// New creates a pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if deps.Store == nil || deps.Gate == nil || deps.Engine == nil ||
		deps.Embedder == nil || deps.Chunker == nil || deps.Sources == nil {
		return nil, fmt.Errorf("store, gate, engine, embedder, chunker, and sources are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		detector: source.NewDetector(),
		builder:  index.NewBuilder(),
		trigger:  make(chan struct{}, 1),
		state:    StateIdle,
	}, nil
}

// Trigger requests a run. Returns true if the request was queued, false if
// a run was already pending and this trigger coalesced into it.
func (p *Pipeline) Trigger() bool {
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		p.logger.Info("pipeline trigger coalesced into pending run")
		return false
	}
}

// Start runs the scheduler loop until ctx is cancelled. Scheduled ticks and
// explicit triggers both funnel into the same single-run execution path.
func (p *Pipeline) Start(ctx context.Context) {
	var tick <-chan time.Time
	if p.cfg.Interval > 0 {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-p.trigger:
		}

		if _, err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("pipeline run failed", zap.Error(err))
		}
	}
}

// Run executes one pipeline run synchronously. Returns ErrRunInProgress if
// another run is active. The returned record is also appended to the audit
// log regardless of outcome.
func (p *Pipeline) Run(ctx context.Context) (*store.RunRecord, error) {
	if !p.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.runMu.Unlock()
	defer p.setState(StateIdle)

	rec := &store.RunRecord{
		ID:        uuid.NewString(),
		Sources:   make(map[string]string),
		StartedAt: time.Now().UTC(),
	}
	logger := p.logger.With(zap.String("run", rec.ID))
	logger.Info("pipeline run started")

	err := p.execute(ctx, rec, logger)
	rec.FinishedAt = time.Now().UTC()
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	}

	if auditErr := p.deps.Store.AppendRun(*rec); auditErr != nil {
		logger.Error("recording pipeline run", zap.Error(auditErr))
	}
	p.stateMu.Lock()
	p.lastRun = rec
	p.stateMu.Unlock()
	if p.deps.OnRunFinished != nil {
		p.deps.OnRunFinished(rec)
	}

	logger.Info("pipeline run finished",
		zap.String("status", rec.Status),
		zap.Uint64("generation", rec.Generation),
		zap.Duration("elapsed", rec.FinishedAt.Sub(rec.StartedAt)))
	return rec, err
}

func (p *Pipeline) execute(ctx context.Context, rec *store.RunRecord, logger *zap.Logger) error {
	specs := p.deps.Sources()
	if len(specs) == 0 {
		return fmt.Errorf("no sources configured")
	}

	collectors, err := source.NewCollectors(specs, p.deps.Client, logger)
	if err != nil {
		return fmt.Errorf("building collectors: %w", err)
	}

	// Collecting
	if err := p.transition(ctx, StateCollecting); err != nil {
		return err
	}
	fetched, fetchErrs := p.collect(ctx, specs, collectors, logger)
	if len(fetchErrs) == len(specs) {
		for id := range fetchErrs {
			rec.Sources[id] = OutcomeFailed
		}
		return fmt.Errorf("all %d sources failed to fetch", len(specs))
	}

	// Detecting
	if err := p.transition(ctx, StateDetecting); err != nil {
		return err
	}
	states, err := p.deps.Store.ListSourceStates()
	if err != nil {
		return fmt.Errorf("loading source state: %w", err)
	}

	live := p.deps.Engine.Live()
	prev := live
	modelVersion := p.deps.Embedder.ModelVersion()
	fullRebuild := prev != nil && prev.ModelVersion != modelVersion
	if fullRebuild {
		// Vectors from different models are not comparable: nothing from
		// the previous snapshot can be carried over. prev is still passed
		// to the builder so generation numbering stays monotonic.
		logger.Warn("embedding model changed, forcing full rebuild",
			zap.String("previous", prev.ModelVersion),
			zap.String("current", modelVersion))
	}

	changedDocs := make(map[string][]source.Document)
	var unchanged []string
	for _, spec := range specs {
		id := spec.ID
		if fetchErr, ok := fetchErrs[id]; ok {
			rec.Sources[id] = OutcomeFailed
			logger.Warn("source fetch failed, serving previous content",
				zap.String("source", id), zap.Error(fetchErr))
			// Degrade: keep the previously indexed content if any.
			if !fullRebuild && prev != nil {
				if _, ok := prev.Manifest[id]; ok {
					unchanged = append(unchanged, id)
				}
			}
			continue
		}

		docs := fetched[id]
		last := states[id].Fingerprint
		inPrev := false
		if !fullRebuild && prev != nil {
			_, inPrev = prev.Manifest[id]
		}
		if inPrev && !p.detector.HasChanged(last, docs) {
			rec.Sources[id] = OutcomeUnchanged
			unchanged = append(unchanged, id)
			continue
		}
		rec.Sources[id] = OutcomeUpdated
		changedDocs[id] = docs
	}

	// Nothing changed and nothing was added or removed: the live snapshot
	// already reflects the corpus. Re-running must not mint a generation.
	if len(changedDocs) == 0 && prev != nil && len(unchanged) == len(prev.Manifest) {
		rec.Status = StatusNoChange
		rec.Generation = prev.Generation
		p.refreshLastSuccess(rec, states, logger)
		return nil
	}

	// Embedding
	if err := p.transition(ctx, StateEmbedding); err != nil {
		return err
	}
	builds := make(map[string]index.SourceBuild, len(changedDocs))
	for id, docs := range changedDocs {
		build, err := p.embedSource(ctx, id, docs)
		if err != nil {
			return fmt.Errorf("embedding source %q: %w", id, err)
		}
		builds[id] = build
	}

	// Building
	if err := p.transition(ctx, StateBuilding); err != nil {
		return err
	}
	candidate, err := p.builder.Build(prev, modelVersion, builds, unchanged)
	if err != nil {
		return err
	}
	if err := p.deps.Store.SaveSnapshot(candidate); err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}
	rec.Generation = candidate.Generation

	// Gating
	if err := p.transition(ctx, StateGating); err != nil {
		return err
	}
	gateLive := live
	if fullRebuild {
		// The live snapshot's vectors came from another model; comparing
		// scores against it would be meaningless.
		gateLive = nil
	}
	decision, err := p.deps.Gate.Evaluate(ctx, candidate, gateLive)
	if err != nil {
		return fmt.Errorf("evaluating quality gate: %w", err)
	}
	if !decision.Accepted {
		rec.Status = StatusRejected
		rec.Error = gateReasons(decision)
		return nil
	}

	// Promoting. The cancellation check here is the last one: past it the
	// swap, pointer update, and state writes all complete.
	if err := p.transition(ctx, StatePromoting); err != nil {
		return err
	}
	if err := p.deps.Store.SetCurrent(candidate.Generation); err != nil {
		return fmt.Errorf("updating live generation pointer: %w", err)
	}
	p.deps.Engine.Promote(candidate)
	rec.Status = StatusPromoted

	now := time.Now().UTC()
	for id, build := range builds {
		p.saveSourceState(store.SourceState{ID: id, Fingerprint: build.Fingerprint, LastSuccess: now}, logger)
	}
	p.refreshLastSuccess(rec, states, logger)
	for id := range states {
		if _, ok := rec.Sources[id]; !ok {
			// Source removed from configuration.
			if err := p.deps.Store.DeleteSourceState(id); err != nil {
				logger.Error("deleting removed source state", zap.String("source", id), zap.Error(err))
			}
		}
	}

	if err := p.deps.Store.Prune(); err != nil {
		logger.Error("pruning old snapshots", zap.Error(err))
	}
	return nil
}

// collect fetches all sources concurrently. Transient failures are retried;
// a source that still fails is reported in the error map, not fatal.
func (p *Pipeline) collect(ctx context.Context, specs []source.Spec, collectors map[string]source.Collector, logger *zap.Logger) (map[string][]source.Document, map[string]error) {
	var mu sync.Mutex
	fetched := make(map[string][]source.Document)
	fetchErrs := make(map[string]error)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for _, spec := range specs {
		collector := collectors[spec.ID]
		g.Go(func() error {
			var docs []source.Document
			err := p.retry(ctx, func() error {
				var fetchErr error
				docs, fetchErr = collector.Fetch(ctx)
				if fetchErr != nil && !errors.Is(fetchErr, source.ErrFetch) {
					return backoff.Permanent(fetchErr)
				}
				return fetchErr
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fetchErrs[spec.ID] = err
				return nil
			}
			fetched[spec.ID] = docs
			logger.Debug("source fetched",
				zap.String("source", spec.ID), zap.Int("documents", len(docs)))
			return nil
		})
	}
	g.Wait()
	return fetched, fetchErrs
}

// embedSource chunks and embeds one changed source.
func (p *Pipeline) embedSource(ctx context.Context, id string, docs []source.Document) (index.SourceBuild, error) {
	chunks, err := p.deps.Chunker.ChunkAll(docs)
	if err != nil {
		return index.SourceBuild{}, err
	}

	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		err = p.retry(ctx, func() error {
			var embedErr error
			vectors, embedErr = p.deps.Embedder.EmbedDocuments(ctx, texts)
			if embedErr != nil && !errors.Is(embedErr, embeddings.ErrEmbedding) {
				return backoff.Permanent(embedErr)
			}
			return embedErr
		})
		if err != nil {
			return index.SourceBuild{}, err
		}
	}

	return index.SourceBuild{
		Fingerprint: p.detector.Fingerprint(docs),
		Documents:   docs,
		Chunks:      chunks,
		Vectors:     vectors,
	}, nil
}

// retry runs op with exponential backoff for transient failures.
func (p *Pipeline) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	if p.cfg.RetryInterval > 0 {
		bo.InitialInterval = p.cfg.RetryInterval
	}
	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.cfg.MaxRetries)), ctx))
}

// refreshLastSuccess bumps last_success for every source that fetched
// successfully and was unchanged, keeping staleness reporting accurate.
func (p *Pipeline) refreshLastSuccess(rec *store.RunRecord, states map[string]store.SourceState, logger *zap.Logger) {
	now := time.Now().UTC()
	for id, outcome := range rec.Sources {
		if outcome != OutcomeUnchanged {
			continue
		}
		st := states[id]
		st.ID = id
		st.LastSuccess = now
		p.saveSourceState(st, logger)
	}
}

func (p *Pipeline) saveSourceState(st store.SourceState, logger *zap.Logger) {
	if err := p.deps.Store.SaveSourceState(st); err != nil {
		logger.Error("saving source state", zap.String("source", st.ID), zap.Error(err))
	}
}

func (p *Pipeline) transition(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.setState(next)
	return nil
}

func (p *Pipeline) setState(next State) {
	p.stateMu.Lock()
	p.state = next
	p.stateMu.Unlock()
}

func gateReasons(decision gate.Decision) string {
	parts := make([]string, len(decision.Reasons))
	for i, r := range decision.Reasons {
		parts[i] = fmt.Sprintf("%s[%s]: %s", r.Check, r.Query, r.Detail)
	}
	return strings.Join(parts, "; ")
}
