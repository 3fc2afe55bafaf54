package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxResponseBytes    = 4 * 1024 * 1024
	defaultFetchTimeout = 30 * time.Second
)

// Collector fetches documents from one configured source.
//
// Implementations are selected by Spec.Kind and share this interface so the
// pipeline never branches on source kind. Fetch must be idempotent: repeated
// calls against unchanged upstream content return content-identical
// documents. Fetch has no side effects beyond the returned slice.
type Collector interface {
	// Fetch retrieves and normalizes all documents for the source.
	// Network and parse failures wrap ErrFetch.
	Fetch(ctx context.Context) ([]Document, error)

	// Spec returns the source spec this collector serves.
	Spec() Spec
}

// NewCollector builds the collector variant for the spec's kind.
// The client may be nil, in which case a default client is used.
func NewCollector(spec Spec, client *http.Client, logger *zap.Logger) (Collector, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if spec.Timeout > 0 {
		// Clone so one source's timeout never leaks into the shared client.
		clone := *client
		clone.Timeout = spec.Timeout
		client = &clone
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("source", spec.ID), zap.String("kind", string(spec.Kind)))

	switch spec.Kind {
	case KindDocumentation:
		return newDocumentationCollector(spec, client, logger), nil
	case KindEncyclopedia:
		return newEncyclopediaCollector(spec, client, logger), nil
	case KindFeed:
		return newFeedCollector(spec, client, logger), nil
	case KindRepository:
		return newRepositoryCollector(spec, client, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
}

// NewCollectors builds one collector per spec.
func NewCollectors(specs []Spec, client *http.Client, logger *zap.Logger) (map[string]Collector, error) {
	collectors := make(map[string]Collector, len(specs))
	for _, spec := range specs {
		if _, ok := collectors[spec.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate source id %q", ErrInvalidSpec, spec.ID)
		}
		c, err := NewCollector(spec, client, logger)
		if err != nil {
			return nil, err
		}
		collectors[spec.ID] = c
	}
	return collectors, nil
}

// newLimiter builds the per-source request limiter.
func newLimiter(spec Spec) *rate.Limiter {
	if spec.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(spec.RateLimit), 1)
}

// fetchBody performs a rate-limited GET and returns the response body.
func fetchBody(ctx context.Context, client *http.Client, limiter *rate.Limiter, url string) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", "corpusd/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrFetch, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}
	return body, nil
}
