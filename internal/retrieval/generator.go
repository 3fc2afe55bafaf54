package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// Answer is a generated response with the retrieval context that produced it.
type Answer struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Result     *Result `json:"result"`
}

// Generator turns ranked retrieval context into an answer. The retrieval
// side treats it as opaque; swapping in an LLM-backed implementation changes
// nothing upstream.
type Generator interface {
	Generate(ctx context.Context, question string, hits []Hit) (text string, confidence float32, err error)
}

// Hit is re-exported context for generators: chunk text plus attribution.
type Hit struct {
	Text     string
	Score    float32
	Title    string
	URL      string
	SourceID string
}

// Answer runs retrieval for the question and feeds the ranked context to the
// generator. A nil floor disables score filtering.
func (e *Engine) Answer(ctx context.Context, gen Generator, question string, topK int, floor *float32) (*Answer, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}

	result, err := e.Search(ctx, Query{Text: question, TopK: topK, Floor: floor})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(result.Hits))
	for i, h := range result.Hits {
		hits[i] = Hit{
			Text:     h.Chunk.Text,
			Score:    h.Score,
			Title:    h.Document.Title,
			URL:      h.Document.URL,
			SourceID: h.Document.SourceID,
		}
	}

	text, confidence, err := gen.Generate(ctx, question, hits)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	return &Answer{Text: text, Confidence: confidence, Result: result}, nil
}

// Extractive is the default generator: it returns the highest scoring chunk
// verbatim with its attribution, using the top score as confidence.
type Extractive struct{}

// NewExtractive creates the default extractive generator.
func NewExtractive() *Extractive {
	return &Extractive{}
}

// Generate returns the best chunk's text, annotated with its source.
func (g *Extractive) Generate(_ context.Context, _ string, hits []Hit) (string, float32, error) {
	if len(hits) == 0 {
		return "No relevant content found in the index.", 0, nil
	}

	top := hits[0]
	var b strings.Builder
	b.WriteString(strings.TrimSpace(top.Text))
	if top.Title != "" || top.URL != "" {
		b.WriteString("\n\nSource: ")
		if top.Title != "" {
			b.WriteString(top.Title)
		}
		if top.URL != "" {
			if top.Title != "" {
				b.WriteString(" ")
			}
			b.WriteString("(" + top.URL + ")")
		}
	}
	return b.String(), top.Score, nil
}
