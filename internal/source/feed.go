package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultMaxFeedItems = 50

// feedCollector fetches items from an RSS 2.0 or Atom feed.
type feedCollector struct {
	spec    Spec
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newFeedCollector(spec Spec, client *http.Client, logger *zap.Logger) *feedCollector {
	return &feedCollector{
		spec:    spec,
		client:  client,
		limiter: newLimiter(spec),
		logger:  logger,
	}
}

func (c *feedCollector) Spec() Spec { return c.spec }

type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	Description string `xml:"description"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	ID      string `xml:"id"`
	Summary string `xml:"summary"`
	Content string `xml:"content"`
	Link    struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

func (c *feedCollector) Fetch(ctx context.Context) ([]Document, error) {
	body, err := fetchBody(ctx, c.client, c.limiter, c.spec.URL)
	if err != nil {
		return nil, err
	}

	maxItems := c.spec.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxFeedItems
	}
	now := time.Now().UTC()

	var docs []Document
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		for i, item := range rss.Channel.Items {
			if i >= maxItems {
				break
			}
			key := item.GUID
			if key == "" {
				key = item.Link
			}
			d, ok := NewDocument(c.spec.ID, key, item.Title, item.Link,
				item.Title+". "+item.Description, now)
			if !ok {
				continue
			}
			docs = append(docs, d)
		}
		c.logger.Debug("fetched rss feed", zap.String("url", c.spec.URL), zap.Int("documents", len(docs)))
		return docs, nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		for i, entry := range atom.Entries {
			if i >= maxItems {
				break
			}
			text := entry.Content
			if text == "" {
				text = entry.Summary
			}
			key := entry.ID
			if key == "" {
				key = entry.Link.Href
			}
			d, ok := NewDocument(c.spec.ID, key, entry.Title, entry.Link.Href,
				entry.Title+". "+text, now)
			if !ok {
				continue
			}
			docs = append(docs, d)
		}
		c.logger.Debug("fetched atom feed", zap.String("url", c.spec.URL), zap.Int("documents", len(docs)))
		return docs, nil
	}

	return nil, fmt.Errorf("%w: %s is neither RSS nor Atom", ErrFetch, c.spec.URL)
}
