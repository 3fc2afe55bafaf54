// Package source defines knowledge sources and the collectors that fetch them.
package source

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for collection operations.
var (
	// ErrFetch indicates a network or parse failure while collecting a source.
	// Fetch errors are transient and retried by the pipeline.
	ErrFetch = errors.New("fetch failed")

	// ErrUnknownKind indicates an unrecognized source kind in configuration.
	// Configuration errors are not retried.
	ErrUnknownKind = errors.New("unknown source kind")

	// ErrInvalidSpec indicates an incomplete or malformed source spec.
	ErrInvalidSpec = errors.New("invalid source spec")
)

// Kind identifies the type of a knowledge source.
type Kind string

const (
	KindDocumentation Kind = "documentation"
	KindEncyclopedia  Kind = "encyclopedia"
	KindFeed          Kind = "feed"
	KindRepository    Kind = "repository"
)

// Valid reports whether the kind is one of the supported source kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindDocumentation, KindEncyclopedia, KindFeed, KindRepository:
		return true
	}
	return false
}

// Spec is the declarative configuration of a single knowledge source.
//
// Which fields apply depends on Kind:
//   - documentation: URL (page to scrape), Selector (CSS selector for content)
//   - encyclopedia: Topics (article titles), URL (optional API base override)
//   - feed: URL (RSS/Atom feed), MaxItems
//   - repository: Owner, Repo, Ref, Paths, Token
type Spec struct {
	ID       string   `koanf:"id"`
	Kind     Kind     `koanf:"kind"`
	URL      string   `koanf:"url"`
	Selector string   `koanf:"selector"`
	Topics   []string `koanf:"topics"`
	MaxItems int      `koanf:"max_items"`
	Owner    string   `koanf:"owner"`
	Repo     string   `koanf:"repo"`
	Ref      string   `koanf:"ref"`
	Paths    []string `koanf:"paths"`
	Token    string   `koanf:"token"`

	// RateLimit caps outbound requests per second for this source.
	// Zero means no limit.
	RateLimit float64 `koanf:"rate_limit"`

	// Timeout bounds each fetch request for this source. Zero uses the
	// collector default of 30s.
	Timeout time.Duration `koanf:"timeout"`
}

// Validate checks that the spec is complete for its kind.
func (s Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidSpec)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
	switch s.Kind {
	case KindDocumentation, KindFeed:
		if s.URL == "" {
			return fmt.Errorf("%w: %s source %q requires url", ErrInvalidSpec, s.Kind, s.ID)
		}
	case KindEncyclopedia:
		if len(s.Topics) == 0 {
			return fmt.Errorf("%w: encyclopedia source %q requires topics", ErrInvalidSpec, s.ID)
		}
	case KindRepository:
		if s.Owner == "" || s.Repo == "" {
			return fmt.Errorf("%w: repository source %q requires owner and repo", ErrInvalidSpec, s.ID)
		}
	}
	return nil
}

// Document is one normalized unit of content fetched from a source.
//
// Documents are immutable: when upstream content changes, a new Document with
// the same Key and a different Fingerprint supersedes the old one.
type Document struct {
	SourceID    string
	Key         string
	Title       string
	URL         string
	Text        string
	Fingerprint string
	RetrievedAt time.Time
}
