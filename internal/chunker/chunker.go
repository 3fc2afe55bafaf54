// Package chunker splits documents into overlapping text chunks.
package chunker

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/corpusd/internal/source"
)

// ErrInvalidConfig indicates invalid chunking parameters.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// charsPerToken approximates tokens from character counts. The embedding
// contract only needs a stable upper bound per chunk, not exact tokenizer
// output.
const charsPerToken = 4

// Chunk is one text span derived from a parent document.
//
// Chunks are derived deterministically: the same document and parameters
// always produce the same ordered chunks. A chunk never exists without its
// parent document in the same index generation.
type Chunk struct {
	// Key uniquely identifies the chunk within a snapshot: "<dockey>#<ordinal>".
	Key         string
	DocumentKey string
	SourceID    string
	Ordinal     int
	Text        string
	TokenCount  int
}

// Config holds chunking parameters.
type Config struct {
	// MaxTokens is the approximate token budget per chunk.
	MaxTokens int `koanf:"max_tokens"`

	// OverlapTokens is the approximate overlap carried between adjacent
	// chunks so no semantic unit is fully lost across a boundary.
	OverlapTokens int `koanf:"overlap_tokens"`
}

// Validate validates the chunking parameters.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidConfig)
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxTokens {
		return fmt.Errorf("%w: overlap_tokens must be in [0, max_tokens)", ErrInvalidConfig)
	}
	return nil
}

// Chunker splits document text on word and sentence boundaries.
type Chunker struct {
	config   Config
	splitter textsplitter.RecursiveCharacter
}

// New creates a chunker with the given parameters.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Splitting on paragraph, sentence, then word boundaries keeps chunk
	// edges off mid-word positions.
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.MaxTokens*charsPerToken),
		textsplitter.WithChunkOverlap(cfg.OverlapTokens*charsPerToken),
		textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " "}),
	)

	return &Chunker{config: cfg, splitter: splitter}, nil
}

// Chunk splits a document into ordered overlapping chunks.
// An empty document yields zero chunks.
func (c *Chunker) Chunk(doc source.Document) ([]Chunk, error) {
	if doc.Text == "" {
		return nil, nil
	}

	parts, err := c.splitter.SplitText(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("splitting document %s: %w", doc.Key, err)
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, text := range parts {
		if text == "" {
			continue
		}
		ordinal := len(chunks)
		chunks = append(chunks, Chunk{
			Key:         ChunkKey(doc.Key, ordinal),
			DocumentKey: doc.Key,
			SourceID:    doc.SourceID,
			Ordinal:     ordinal,
			Text:        text,
			TokenCount:  (len(text) + charsPerToken - 1) / charsPerToken,
		})
	}
	return chunks, nil
}

// ChunkAll chunks a batch of documents, preserving document order.
func (c *Chunker) ChunkAll(docs []source.Document) ([]Chunk, error) {
	var all []Chunk
	for _, doc := range docs {
		chunks, err := c.Chunk(doc)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}

// ChunkKey builds the unique chunk key for a document key and ordinal.
func ChunkKey(docKey string, ordinal int) string {
	return fmt.Sprintf("%s#%d", docKey, ordinal)
}
