package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// Local is a deterministic, dependency-free embedder.
//
// It hashes normalized tokens into a fixed-dimension bag-of-words vector and
// L2-normalizes the result. The vectors have no semantic quality but are
// stable across runs, which is what tests and offline deployments need.
type Local struct {
	model     string
	dimension int
}

// NewLocal creates a local hash embedder.
func NewLocal(model string, dimension int) *Local {
	if model == "" {
		model = "local-hash-v1"
	}
	if dimension <= 0 {
		dimension = 128
	}
	return &Local{model: model, dimension: dimension}
}

func (l *Local) ModelVersion() string { return l.model }
func (l *Local) Dimension() int       { return l.dimension }

// EmbedDocuments generates one vector per text, preserving order.
func (l *Local) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
		}
		vectors[i] = l.embed(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (l *Local) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	return l.embed(text), nil
}

func (l *Local) embed(text string) []float32 {
	vec := make([]float32, l.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?\"'()[]")
		if token == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		idx := int(sum % uint32(l.dimension))
		// Sign from a high hash bit spreads tokens across both directions.
		if sum&0x80000000 != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
