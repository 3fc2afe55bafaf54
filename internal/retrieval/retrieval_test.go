package retrieval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/index"
)

func snapshotWith(t *testing.T, embedder embeddings.Embedder, generation uint64, texts ...string) *index.Snapshot {
	t.Helper()
	snap := &index.Snapshot{
		Generation:   generation,
		BuiltAt:      time.Now().UTC(),
		ModelVersion: embedder.ModelVersion(),
		Manifest:     map[string]string{"docs": "fp"},
		Documents:    make(map[string]index.DocumentMeta),
	}
	for i, text := range texts {
		docKey := chunker.ChunkKey("doc", i)
		snap.Documents[docKey] = index.DocumentMeta{
			Key: docKey, SourceID: "docs", Title: "Doc", URL: "https://example.com",
			RetrievedAt: time.Now().UTC(),
		}
		vec, err := embedder.EmbedQuery(context.Background(), text)
		require.NoError(t, err)
		snap.Entries = append(snap.Entries, index.Entry{
			Chunk:  chunker.Chunk{Key: docKey + "#0", DocumentKey: docKey, SourceID: "docs", Text: text},
			Vector: vec,
		})
	}
	return snap
}

func newTestEngine(t *testing.T) (*Engine, embeddings.Embedder) {
	t.Helper()
	embedder := embeddings.NewLocal("test-model", 128)
	e, err := NewEngine(embedder, zap.NewNop())
	require.NoError(t, err)
	return e, embedder
}

func TestSearchEmptyIndex(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Search(context.Background(), Query{Text: "anything"})
	require.ErrorIs(t, err, ErrEmptyIndex)
}

func TestSearchBoundToGeneration(t *testing.T) {
	e, embedder := newTestEngine(t)
	e.Promote(snapshotWith(t, embedder, 3, "how to configure widgets"))

	res, err := e.Search(context.Background(), Query{Text: "configure widgets", TopK: 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Generation)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "how to configure widgets", res.Hits[0].Chunk.Text)
}

func TestSearchDefaultsTopK(t *testing.T) {
	e, embedder := newTestEngine(t)
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = "widget configuration notes part " + string(rune('a'+i))
	}
	e.Promote(snapshotWith(t, embedder, 1, texts...))

	res, err := e.Search(context.Background(), Query{Text: "widget configuration"})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Hits), 5)
}

func TestSearchEmptyText(t *testing.T) {
	e, embedder := newTestEngine(t)
	e.Promote(snapshotWith(t, embedder, 1, "content"))

	_, err := e.Search(context.Background(), Query{})
	require.Error(t, err)
}

func TestSearchFloorOptional(t *testing.T) {
	e, embedder := newTestEngine(t)
	e.Promote(snapshotWith(t, embedder, 1, "alpha", "unrelated zebra text"))

	// No floor: every entry is eligible, however weak its score.
	res, err := e.Search(context.Background(), Query{Text: "alpha", TopK: 10})
	require.NoError(t, err)
	assert.Len(t, res.Hits, 2)

	floor := float32(0.9)
	res, err = e.Search(context.Background(), Query{Text: "alpha", TopK: 10, Floor: &floor})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "alpha", res.Hits[0].Chunk.Text)
}

func TestPromotionInvisibleMidStream(t *testing.T) {
	e, embedder := newTestEngine(t)
	gen1 := snapshotWith(t, embedder, 1, "first generation content")
	gen2 := snapshotWith(t, embedder, 2, "second generation content")
	e.Promote(gen1)

	// Hammer queries while promotions flip between generations. Every
	// result must be internally consistent with a single generation.
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			e.Promote(gen2)
			e.Promote(gen1)
		}
	}()

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				res, err := e.Search(context.Background(), Query{Text: "generation content", TopK: 10})
				if err != nil {
					t.Error(err)
					return
				}
				for _, hit := range res.Hits {
					want := "first generation content"
					if res.Generation == 2 {
						want = "second generation content"
					}
					if hit.Chunk.Text != want {
						t.Errorf("generation %d served chunk %q", res.Generation, hit.Chunk.Text)
						return
					}
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestRollbackViaPromote(t *testing.T) {
	e, embedder := newTestEngine(t)
	gen1 := snapshotWith(t, embedder, 1, "first")
	gen2 := snapshotWith(t, embedder, 2, "second")

	e.Promote(gen2)
	e.Promote(gen1) // rollback reinstalls an older retained generation

	res, err := e.Search(context.Background(), Query{Text: "first", TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Generation)
}

func TestAnswerExtractive(t *testing.T) {
	e, embedder := newTestEngine(t)
	e.Promote(snapshotWith(t, embedder, 1, "widgets are configured in the settings file"))

	ans, err := e.Answer(context.Background(), NewExtractive(), "how are widgets configured", 3, nil)
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "widgets are configured in the settings file")
	assert.Contains(t, ans.Text, "https://example.com")
	assert.Greater(t, ans.Confidence, float32(0))
	assert.Equal(t, uint64(1), ans.Result.Generation)
}

func TestAnswerEmptyIndex(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Answer(context.Background(), NewExtractive(), "question", 3, nil)
	require.ErrorIs(t, err, ErrEmptyIndex)
}

func TestExtractiveNoHits(t *testing.T) {
	text, confidence, err := NewExtractive().Generate(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Zero(t, confidence)
}
