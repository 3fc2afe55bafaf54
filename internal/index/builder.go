package index

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/source"
)

// ErrBuild indicates an internal invariant violation while assembling a
// snapshot: duplicate chunk keys, chunk/vector count mismatch, or a
// carry-over from an incompatible previous snapshot. Build errors are fatal
// to the run and never partially applied.
var ErrBuild = errors.New("index build failed")

// SourceBuild carries the freshly embedded content of one changed source.
type SourceBuild struct {
	Fingerprint string
	Documents   []source.Document
	Chunks      []chunker.Chunk
	Vectors     [][]float32
}

// Builder assembles index snapshots.
type Builder struct{}

// NewBuilder creates a snapshot builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build assembles a new snapshot from the previous one plus freshly embedded
// content for changed sources.
//
// Entries of sources listed in unchanged are carried over from prev by
// reference; entries of changed sources are replaced wholesale. Sources in
// neither set are dropped (removed from configuration). Generation is
// prev+1, or 1 when prev is nil.
//
// Build is a pure function of its inputs: it reads no hidden state and
// mutates neither prev nor the supplied builds.
func (b *Builder) Build(prev *Snapshot, modelVersion string, changed map[string]SourceBuild, unchanged []string) (*Snapshot, error) {
	if modelVersion == "" {
		return nil, fmt.Errorf("%w: model version required", ErrBuild)
	}
	if len(unchanged) > 0 {
		if prev == nil {
			return nil, fmt.Errorf("%w: cannot carry over sources without a previous snapshot", ErrBuild)
		}
		if prev.ModelVersion != modelVersion {
			return nil, fmt.Errorf("%w: cannot mix vectors from model %q with %q", ErrBuild, prev.ModelVersion, modelVersion)
		}
	}

	next := &Snapshot{
		Generation:   1,
		BuiltAt:      time.Now().UTC(),
		ModelVersion: modelVersion,
		Manifest:     make(map[string]string),
		Documents:    make(map[string]DocumentMeta),
	}
	if prev != nil {
		next.Generation = prev.Generation + 1
	}

	seen := make(map[string]bool)

	// Carry over unchanged sources by reference from the previous snapshot.
	for _, id := range unchanged {
		fp, ok := prev.Manifest[id]
		if !ok {
			return nil, fmt.Errorf("%w: source %q not present in previous snapshot", ErrBuild, id)
		}
		next.Manifest[id] = fp
	}
	if len(unchanged) > 0 {
		carry := make(map[string]bool, len(unchanged))
		for _, id := range unchanged {
			carry[id] = true
		}
		for _, entry := range prev.Entries {
			if !carry[entry.Chunk.SourceID] {
				continue
			}
			if seen[entry.Chunk.Key] {
				return nil, fmt.Errorf("%w: duplicate chunk key %q", ErrBuild, entry.Chunk.Key)
			}
			seen[entry.Chunk.Key] = true
			next.Entries = append(next.Entries, entry)
		}
		for key, meta := range prev.Documents {
			if carry[meta.SourceID] {
				next.Documents[key] = meta
			}
		}
	}

	// Replace changed sources wholesale.
	for id, build := range changed {
		if len(build.Chunks) != len(build.Vectors) {
			return nil, fmt.Errorf("%w: source %q has %d chunks but %d vectors", ErrBuild, id, len(build.Chunks), len(build.Vectors))
		}
		next.Manifest[id] = build.Fingerprint

		for _, doc := range build.Documents {
			next.Documents[doc.Key] = DocumentMeta{
				Key:         doc.Key,
				SourceID:    doc.SourceID,
				Title:       doc.Title,
				URL:         doc.URL,
				Fingerprint: doc.Fingerprint,
				RetrievedAt: doc.RetrievedAt,
			}
		}

		for i, chunk := range build.Chunks {
			if chunk.SourceID != id {
				return nil, fmt.Errorf("%w: chunk %q belongs to source %q, not %q", ErrBuild, chunk.Key, chunk.SourceID, id)
			}
			if _, ok := next.Documents[chunk.DocumentKey]; !ok {
				return nil, fmt.Errorf("%w: chunk %q has no parent document %q", ErrBuild, chunk.Key, chunk.DocumentKey)
			}
			if seen[chunk.Key] {
				return nil, fmt.Errorf("%w: duplicate chunk key %q", ErrBuild, chunk.Key)
			}
			seen[chunk.Key] = true
			next.Entries = append(next.Entries, Entry{
				Chunk:  chunk,
				Vector: Normalize(build.Vectors[i]),
			})
		}
	}

	return next, nil
}
