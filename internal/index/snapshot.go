// Package index builds and queries immutable vector index snapshots.
package index

import (
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
)

// DocumentMeta is the per-document metadata retained in a snapshot for
// attribution and recency tie-breaking.
type DocumentMeta struct {
	Key         string
	SourceID    string
	Title       string
	URL         string
	Fingerprint string
	RetrievedAt time.Time
}

// Entry pairs one chunk with its embedding vector.
// Vectors are L2-normalized at build time so search is a dot product.
type Entry struct {
	Chunk  chunker.Chunk
	Vector []float32
}

// Snapshot is one immutable, queryable generation of the index.
//
// Exactly one snapshot is live at any instant; older generations are retained
// on disk for rollback until garbage-collected. Nothing mutates a snapshot
// after Build returns it.
type Snapshot struct {
	// Generation is the monotonically increasing snapshot identifier.
	Generation uint64

	BuiltAt      time.Time
	ModelVersion string

	// Manifest maps every included source ID to the fingerprint its
	// content had when this snapshot was built.
	Manifest map[string]string

	// Documents maps document key to metadata for every parent document
	// of an entry in this snapshot.
	Documents map[string]DocumentMeta

	Entries []Entry
}

// Hit is one search result: a chunk, its similarity score, and the source
// attribution of its parent document.
type Hit struct {
	Chunk    chunker.Chunk
	Score    float32
	Document DocumentMeta
}

// NoFloor disables score filtering in Search: every entry is eligible
// regardless of similarity, including negative scores.
var NoFloor = float32(math.Inf(-1))

// Search returns the top-k entries by cosine similarity to the query vector,
// descending. Entries scoring below floor are excluded; pass NoFloor to keep
// every entry. Ties are broken by the parent document's recency, most
// recently fetched first.
func (s *Snapshot) Search(query []float32, k int, floor float32) []Hit {
	if k <= 0 || len(s.Entries) == 0 {
		return nil
	}

	q := Normalize(query)
	hits := make([]Hit, 0, len(s.Entries))
	for _, entry := range s.Entries {
		score := dot(q, entry.Vector)
		if score < floor {
			continue
		}
		hits = append(hits, Hit{
			Chunk:    entry.Chunk,
			Score:    score,
			Document: s.Documents[entry.Chunk.DocumentKey],
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.RetrievedAt.After(hits[j].Document.RetrievedAt)
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Stats summarizes a snapshot for status reporting.
type Stats struct {
	Generation int64 `json:"generation"`
	Sources    int   `json:"sources"`
	Documents  int   `json:"documents"`
	Chunks     int   `json:"chunks"`
}

// Stats returns summary statistics for the snapshot.
func (s *Snapshot) Stats() Stats {
	return Stats{
		Generation: int64(s.Generation),
		Sources:    len(s.Manifest),
		Documents:  len(s.Documents),
		Chunks:     len(s.Entries),
	}
}

// Normalize returns an L2-normalized copy of the vector.
func Normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
	}
	scale := float32(1 / math.Sqrt(norm))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v * scale
	}
	return out
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
