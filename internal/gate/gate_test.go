package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/index"
)

func snapshotOf(t *testing.T, embedder embeddings.Embedder, gen uint64, texts ...string) *index.Snapshot {
	t.Helper()
	snap := &index.Snapshot{
		Generation:   gen,
		BuiltAt:      time.Now().UTC(),
		ModelVersion: embedder.ModelVersion(),
		Manifest:     map[string]string{"s": "fp"},
		Documents:    make(map[string]index.DocumentMeta),
	}
	for i, text := range texts {
		key := chunker.ChunkKey("doc", i)
		vec, err := embedder.EmbedQuery(context.Background(), text)
		require.NoError(t, err)
		snap.Documents["doc"] = index.DocumentMeta{Key: "doc", SourceID: "s"}
		snap.Entries = append(snap.Entries, index.Entry{
			Chunk:  chunker.Chunk{Key: key, DocumentKey: "doc", SourceID: "s", Ordinal: i, Text: text},
			Vector: vec,
		})
	}
	return snap
}

func TestEvaluateAccepts(t *testing.T) {
	embedder := embeddings.NewLocal("test-model", 128)
	g, err := New(Config{
		BaselineQueries: []string{"how to configure widgets"},
		ScoreFloor:      0.5,
	}, embedder, zap.NewNop())
	require.NoError(t, err)

	candidate := snapshotOf(t, embedder, 1, "how to configure widgets in the service")
	decision, err := g.Evaluate(context.Background(), candidate, nil)
	require.NoError(t, err)
	assert.True(t, decision.Accepted)
	assert.Empty(t, decision.Reasons)
}

func TestEvaluateRejectsEmptyResults(t *testing.T) {
	embedder := embeddings.NewLocal("test-model", 128)
	g, err := New(Config{
		BaselineQueries: []string{"anything at all"},
	}, embedder, zap.NewNop())
	require.NoError(t, err)

	candidate := snapshotOf(t, embedder, 1) // no entries
	decision, err := g.Evaluate(context.Background(), candidate, nil)
	require.NoError(t, err)
	assert.False(t, decision.Accepted)
	require.NotEmpty(t, decision.Reasons, "rejection always carries a reason")
	assert.Equal(t, checkNonEmpty, decision.Reasons[0].Check)
}

func TestEvaluateRejectsBelowFloor(t *testing.T) {
	embedder := embeddings.NewLocal("test-model", 128)
	g, err := New(Config{
		BaselineQueries: []string{"how to configure widgets"},
		ScoreFloor:      0.99,
	}, embedder, zap.NewNop())
	require.NoError(t, err)

	candidate := snapshotOf(t, embedder, 1, "completely unrelated musical theory notes")
	decision, err := g.Evaluate(context.Background(), candidate, nil)
	require.NoError(t, err)
	assert.False(t, decision.Accepted)
	require.NotEmpty(t, decision.Reasons)
	assert.Equal(t, checkScoreFloor, decision.Reasons[0].Check)
	assert.Equal(t, "how to configure widgets", decision.Reasons[0].Query)
}

func TestEvaluateRejectsRegression(t *testing.T) {
	embedder := embeddings.NewLocal("test-model", 128)
	g, err := New(Config{
		BaselineQueries:     []string{"how to configure widgets"},
		ScoreFloor:          0,
		RegressionTolerance: 0.01,
	}, embedder, zap.NewNop())
	require.NoError(t, err)

	// Live answers the baseline query exactly; candidate lost that content.
	live := snapshotOf(t, embedder, 1, "how to configure widgets")
	candidate := snapshotOf(t, embedder, 2, "release notes for version two")

	decision, err := g.Evaluate(context.Background(), candidate, live)
	require.NoError(t, err)
	assert.False(t, decision.Accepted)

	var sawRegression bool
	for _, r := range decision.Reasons {
		if r.Check == checkRegression {
			sawRegression = true
		}
	}
	assert.True(t, sawRegression)
}

func TestEvaluateToleratesSmallRegression(t *testing.T) {
	embedder := embeddings.NewLocal("test-model", 128)
	g, err := New(Config{
		BaselineQueries:     []string{"how to configure widgets"},
		ScoreFloor:          0,
		RegressionTolerance: 2, // wide enough to tolerate any drop
	}, embedder, zap.NewNop())
	require.NoError(t, err)

	live := snapshotOf(t, embedder, 1, "how to configure widgets")
	candidate := snapshotOf(t, embedder, 2, "release notes for version two")

	decision, err := g.Evaluate(context.Background(), candidate, live)
	require.NoError(t, err)
	assert.True(t, decision.Accepted)
}

func TestEvaluateNoBaselineQueries(t *testing.T) {
	embedder := embeddings.NewLocal("test-model", 128)
	g, err := New(Config{}, embedder, zap.NewNop())
	require.NoError(t, err)

	candidate := snapshotOf(t, embedder, 1)
	decision, err := g.Evaluate(context.Background(), candidate, nil)
	require.NoError(t, err)
	assert.True(t, decision.Accepted)
}

func TestEvaluateLeavesSnapshotsUntouched(t *testing.T) {
	embedder := embeddings.NewLocal("test-model", 128)
	g, err := New(Config{
		BaselineQueries: []string{"how to configure widgets"},
	}, embedder, zap.NewNop())
	require.NoError(t, err)

	live := snapshotOf(t, embedder, 1, "how to configure widgets")
	candidate := snapshotOf(t, embedder, 2, "other content")
	liveEntries, candEntries := len(live.Entries), len(candidate.Entries)

	_, err = g.Evaluate(context.Background(), candidate, live)
	require.NoError(t, err)
	assert.Len(t, live.Entries, liveEntries)
	assert.Len(t, candidate.Entries, candEntries)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"valid", Config{ScoreFloor: 0.3, RegressionTolerance: 0.05}, false},
		{"floor too high", Config{ScoreFloor: 1.5}, true},
		{"negative tolerance", Config{RegressionTolerance: -0.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
