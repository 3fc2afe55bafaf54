package source

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxRepositoryFileBytes = 512 * 1024

// repositoryCollector fetches the README and configured markdown paths from
// a GitHub repository via the contents API.
type repositoryCollector struct {
	spec    Spec
	gh      *github.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newRepositoryCollector(spec Spec, client *http.Client, logger *zap.Logger) *repositoryCollector {
	gh := github.NewClient(client)
	if spec.Token != "" {
		gh = gh.WithAuthToken(spec.Token)
	}
	return &repositoryCollector{
		spec:    spec,
		gh:      gh,
		limiter: newLimiter(spec),
		logger:  logger,
	}
}

func (c *repositoryCollector) Spec() Spec { return c.spec }

func (c *repositoryCollector) Fetch(ctx context.Context) ([]Document, error) {
	now := time.Now().UTC()
	opts := &github.RepositoryContentGetOptions{Ref: c.spec.Ref}

	var docs []Document

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	readme, _, err := c.gh.Repositories.GetReadme(ctx, c.spec.Owner, c.spec.Repo, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: readme for %s/%s: %v", ErrFetch, c.spec.Owner, c.spec.Repo, err)
	}
	content, err := readme.GetContent()
	if err != nil {
		return nil, fmt.Errorf("%w: decoding readme: %v", ErrFetch, err)
	}
	key := fmt.Sprintf("%s/%s/%s", c.spec.Owner, c.spec.Repo, readme.GetPath())
	if d, ok := NewDocument(c.spec.ID, key, readme.GetPath(), readme.GetHTMLURL(), content, now); ok {
		docs = append(docs, d)
	}

	for _, p := range c.spec.Paths {
		fileDocs, err := c.fetchPath(ctx, p, opts, now)
		if err != nil {
			return nil, err
		}
		docs = append(docs, fileDocs...)
	}

	c.logger.Debug("fetched repository",
		zap.String("repo", c.spec.Owner+"/"+c.spec.Repo),
		zap.Int("documents", len(docs)))
	return docs, nil
}

// fetchPath retrieves one configured path. Directories are listed one level
// deep; only markdown files under the size cap are indexed.
func (c *repositoryCollector) fetchPath(ctx context.Context, p string, opts *github.RepositoryContentGetOptions, now time.Time) ([]Document, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	file, dir, _, err := c.gh.Repositories.GetContents(ctx, c.spec.Owner, c.spec.Repo, p, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: contents of %s: %v", ErrFetch, p, err)
	}

	if file != nil {
		d, err := c.fileDocument(file, now)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return []Document{*d}, nil
		}
		return nil, nil
	}

	var docs []Document
	for _, entry := range dir {
		if entry.GetType() != "file" || !isMarkdown(entry.GetName()) {
			continue
		}
		if entry.GetSize() > maxRepositoryFileBytes {
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		f, _, _, err := c.gh.Repositories.GetContents(ctx, c.spec.Owner, c.spec.Repo, entry.GetPath(), opts)
		if err != nil {
			return nil, fmt.Errorf("%w: contents of %s: %v", ErrFetch, entry.GetPath(), err)
		}
		d, err := c.fileDocument(f, now)
		if err != nil {
			return nil, err
		}
		if d != nil {
			docs = append(docs, *d)
		}
	}
	return docs, nil
}

func (c *repositoryCollector) fileDocument(file *github.RepositoryContent, now time.Time) (*Document, error) {
	if file == nil || !isMarkdown(file.GetName()) {
		return nil, nil
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrFetch, file.GetPath(), err)
	}
	key := fmt.Sprintf("%s/%s/%s", c.spec.Owner, c.spec.Repo, file.GetPath())
	d, ok := NewDocument(c.spec.ID, key, file.GetPath(), file.GetHTMLURL(), content, now)
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func isMarkdown(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".md" || ext == ".markdown" || ext == ".mdx"
}
