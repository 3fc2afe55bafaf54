package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// defaultEncyclopediaBaseURL is the Wikipedia REST API.
const defaultEncyclopediaBaseURL = "https://en.wikipedia.org/api/rest_v1"

// encyclopediaCollector fetches article summaries for configured topics from
// a Wikipedia-compatible REST API.
type encyclopediaCollector struct {
	spec    Spec
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newEncyclopediaCollector(spec Spec, client *http.Client, logger *zap.Logger) *encyclopediaCollector {
	baseURL := spec.URL
	if baseURL == "" {
		baseURL = defaultEncyclopediaBaseURL
	}
	return &encyclopediaCollector{
		spec:    spec,
		baseURL: baseURL,
		client:  client,
		limiter: newLimiter(spec),
		logger:  logger,
	}
}

func (c *encyclopediaCollector) Spec() Spec { return c.spec }

// pageSummary is the subset of the REST summary response corpusd consumes.
type pageSummary struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

func (c *encyclopediaCollector) Fetch(ctx context.Context) ([]Document, error) {
	now := time.Now().UTC()
	docs := make([]Document, 0, len(c.spec.Topics))

	for _, topic := range c.spec.Topics {
		endpoint := fmt.Sprintf("%s/page/summary/%s", c.baseURL, url.PathEscape(topic))
		body, err := fetchBody(ctx, c.client, c.limiter, endpoint)
		if err != nil {
			return nil, fmt.Errorf("topic %q: %w", topic, err)
		}

		var summary pageSummary
		if err := json.Unmarshal(body, &summary); err != nil {
			return nil, fmt.Errorf("%w: decoding summary for %q: %v", ErrFetch, topic, err)
		}
		if summary.Extract == "" {
			c.logger.Warn("empty extract for topic", zap.String("topic", topic))
			continue
		}

		key := fmt.Sprintf("encyclopedia/%s", topic)
		d, ok := NewDocument(c.spec.ID, key, summary.Title, summary.ContentURLs.Desktop.Page, summary.Extract, now)
		if !ok {
			continue
		}
		docs = append(docs, d)
	}

	c.logger.Debug("fetched encyclopedia topics",
		zap.Int("topics", len(c.spec.Topics)),
		zap.Int("documents", len(docs)))
	return docs, nil
}
