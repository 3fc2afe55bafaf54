// Package embeddings provides embedding generation for chunks and queries.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbedding indicates embedding generation failure: endpoint
	// unreachable or a vector with a mismatched dimension. Transient and
	// retried by the pipeline; a failure aborts the whole embedding step
	// for the run, partial batches are never returned.
	ErrEmbedding = errors.New("embedding generation failed")
)

// Embedder generates fixed-dimension vectors from text.
//
// EmbedDocuments preserves input order: output vector i corresponds to input
// text i. All vectors carry the same dimension; implementations fail with
// ErrEmbedding rather than returning a partial batch.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// ModelVersion tags vectors with the producing model. A version change
	// invalidates all stored vectors and forces a full rebuild.
	ModelVersion() string

	// Dimension is the vector length this embedder produces.
	Dimension() int
}

// Config holds embedding service configuration.
type Config struct {
	// Provider selects the implementation: "tei" or "local".
	Provider string `koanf:"provider"`

	// BaseURL is the TEI endpoint base URL.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model identifier, used as the version tag.
	Model string `koanf:"model"`

	// Dimension is the expected vector dimension.
	Dimension int `koanf:"dimension"`

	// Timeout bounds each embed request to the endpoint. Zero uses the
	// default of 60s.
	Timeout time.Duration `koanf:"timeout"`
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case "tei":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: base_url required for tei provider", ErrInvalidConfig)
		}
	case "local":
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// New creates the embedder selected by the configuration.
func New(cfg Config) (Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "tei":
		return NewTEI(cfg)
	default:
		return NewLocal(cfg.Model, cfg.Dimension), nil
	}
}
