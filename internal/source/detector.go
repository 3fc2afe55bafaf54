package source

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Detector decides whether a source's content changed since the last
// successful indexing run. Comparing fingerprints bounds pipeline cost to
// the changed portion of the corpus instead of re-embedding everything on
// every run.
type Detector struct{}

// NewDetector creates a change detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Fingerprint computes a deterministic fingerprint over a set of documents.
//
// Per-document fingerprints are sorted by document key before hashing so the
// result is independent of fetch order.
func (d *Detector) Fingerprint(docs []Document) string {
	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	h := sha256.New()
	for _, doc := range sorted {
		h.Write([]byte(doc.Key))
		h.Write([]byte{0})
		h.Write([]byte(doc.Fingerprint))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HasChanged reports whether the fetched documents differ from the last
// indexed state. A source with no previously seen fingerprint (first run)
// is always treated as changed.
func (d *Detector) HasChanged(lastFingerprint string, docs []Document) bool {
	if lastFingerprint == "" {
		return true
	}
	return d.Fingerprint(docs) != lastFingerprint
}
