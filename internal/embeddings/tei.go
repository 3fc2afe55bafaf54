package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TEI generates embeddings via a text-embeddings-inference HTTP endpoint.
type TEI struct {
	config  Config
	client  *http.Client
	metrics *Metrics
}

const defaultEmbedTimeout = 60 * time.Second

// NewTEI creates a TEI-backed embedder.
func NewTEI(cfg Config) (*TEI, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultEmbedTimeout
	}
	metrics, err := NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	return &TEI{
		config:  cfg,
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

func (t *TEI) ModelVersion() string { return t.config.Model }
func (t *TEI) Dimension() int       { return t.config.Dimension }

// EmbedDocuments generates embeddings for multiple texts, preserving order.
func (t *TEI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		t.metrics.Record(ctx, t.config.Model, "embed_documents", time.Since(start), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := t.embed(ctx, texts)
	if err != nil {
		genErr = err
		return nil, genErr
	}

	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbedding, len(vectors), len(texts))
		return nil, genErr
	}
	for i, vec := range vectors {
		if len(vec) != t.config.Dimension {
			genErr = fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbedding, i, len(vec), t.config.Dimension)
			return nil, genErr
		}
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (t *TEI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		t.metrics.Record(ctx, t.config.Model, "embed_query", time.Since(start), genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := t.embed(ctx, text)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbedding)
		return nil, genErr
	}
	if len(vectors[0]) != t.config.Dimension {
		genErr = fmt.Errorf("%w: query vector has dimension %d, want %d", ErrEmbedding, len(vectors[0]), t.config.Dimension)
		return nil, genErr
	}
	return vectors[0], nil
}

func (t *TEI) embed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbedding, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return vectors, nil
}
