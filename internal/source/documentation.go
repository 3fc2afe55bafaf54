package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// documentationCollector scrapes a documentation page and extracts the main
// content area via a CSS selector.
type documentationCollector struct {
	spec    Spec
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newDocumentationCollector(spec Spec, client *http.Client, logger *zap.Logger) *documentationCollector {
	return &documentationCollector{
		spec:    spec,
		client:  client,
		limiter: newLimiter(spec),
		logger:  logger,
	}
}

func (c *documentationCollector) Spec() Spec { return c.spec }

func (c *documentationCollector) Fetch(ctx context.Context) ([]Document, error) {
	body, err := fetchBody(ctx, c.client, c.limiter, c.spec.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing html: %v", ErrFetch, err)
	}

	selector := c.spec.Selector
	if selector == "" {
		selector = "body"
	}

	selection := doc.Find(selector)
	if selection.Length() == 0 {
		return nil, fmt.Errorf("%w: selector %q matched nothing at %s", ErrFetch, selector, c.spec.URL)
	}

	title := doc.Find("title").First().Text()
	now := time.Now().UTC()

	var docs []Document
	selection.Each(func(i int, s *goquery.Selection) {
		key := c.spec.URL
		if i > 0 {
			key = fmt.Sprintf("%s#%d", c.spec.URL, i)
		}
		d, ok := NewDocument(c.spec.ID, key, title, c.spec.URL, s.Text(), now)
		if !ok {
			return
		}
		docs = append(docs, d)
	})

	c.logger.Debug("fetched documentation page",
		zap.String("url", c.spec.URL),
		zap.Int("documents", len(docs)))
	return docs, nil
}
