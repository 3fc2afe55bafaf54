package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/gate"
	"github.com/fyrsmithlabs/corpusd/internal/index"
	"github.com/fyrsmithlabs/corpusd/internal/pipeline"
	"github.com/fyrsmithlabs/corpusd/internal/retrieval"
	"github.com/fyrsmithlabs/corpusd/internal/source"
	"github.com/fyrsmithlabs/corpusd/internal/store"
)

func newTestServer(t *testing.T) (*Server, *retrieval.Engine, embeddings.Embedder) {
	t.Helper()

	embedder := embeddings.NewLocal("test-model", 64)
	engine, err := retrieval.NewEngine(embedder, zap.NewNop())
	require.NoError(t, err)

	st, err := store.Open(store.Config{DataDir: t.TempDir(), KeepGenerations: 3})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	g, err := gate.New(gate.Config{}, embedder, zap.NewNop())
	require.NoError(t, err)
	ch, err := chunker.New(chunker.Config{MaxTokens: 64, OverlapTokens: 8})
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.Config{Concurrency: 1}, pipeline.Deps{
		Store:    st,
		Gate:     g,
		Engine:   engine,
		Embedder: embedder,
		Chunker:  ch,
		Sources:  func() []source.Spec { return nil },
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)

	s, err := New(config.ServerConfig{Host: "localhost", Port: 0}, engine, retrieval.NewExtractive(), p, NewMetrics(), zap.NewNop())
	require.NoError(t, err)
	return s, engine, embedder
}

func promoteContent(t *testing.T, engine *retrieval.Engine, embedder embeddings.Embedder, text string) {
	t.Helper()
	vec, err := embedder.EmbedQuery(context.Background(), text)
	require.NoError(t, err)
	engine.Promote(&index.Snapshot{
		Generation:   1,
		BuiltAt:      time.Now().UTC(),
		ModelVersion: embedder.ModelVersion(),
		Manifest:     map[string]string{"docs": "fp"},
		Documents: map[string]index.DocumentMeta{
			"d1": {Key: "d1", SourceID: "docs", Title: "Guide", URL: "https://example.com/guide"},
		},
		Entries: []index.Entry{{
			Chunk:  chunker.Chunk{Key: "d1#0", DocumentKey: "d1", SourceID: "docs", Text: text},
			Vector: vec,
		}},
	})
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echoContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestAnswerBeforeFirstPromotion(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(s, http.MethodPost, "/api/v1/answer", `{"question":"how do widgets work"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnswerServesPromotedContent(t *testing.T) {
	s, engine, embedder := newTestServer(t)
	promoteContent(t, engine, embedder, "widgets are assembled from gears and springs")

	rec := do(s, http.MethodPost, "/api/v1/answer", `{"question":"how are widgets assembled","top_k":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var ans retrieval.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.Contains(t, ans.Text, "gears and springs")
	assert.Equal(t, uint64(1), ans.Result.Generation)
}

func TestAnswerValidation(t *testing.T) {
	s, engine, embedder := newTestServer(t)
	promoteContent(t, engine, embedder, "content")

	rec := do(s, http.MethodPost, "/api/v1/answer", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/api/v1/answer", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPipelineRunTriggerAndCoalesce(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/api/v1/pipeline/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp PipelineRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Queued)

	// The pipeline scheduler is not running, so the trigger stays pending
	// and the second request coalesces.
	rec = do(s, http.MethodPost, "/api/v1/pipeline/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Queued)
}

func TestStatus(t *testing.T) {
	s, engine, embedder := newTestServer(t)
	promoteContent(t, engine, embedder, "content")

	rec := do(s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status pipeline.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, pipeline.StateIdle, status.State)
	require.NotNil(t, status.Index)
	assert.Equal(t, int64(1), status.Index.Generation)
}

func TestMetricsEndpoint(t *testing.T) {
	s, engine, embedder := newTestServer(t)
	promoteContent(t, engine, embedder, "widgets and gears")

	rec := do(s, http.MethodPost, "/api/v1/answer", `{"question":"widgets"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "corpusd_queries_total 1")
	assert.Contains(t, body, "corpusd_query_duration_seconds")
}
