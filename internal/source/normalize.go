package source

import (
	"crypto/sha256"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
	"time"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeText strips HTML remnants, unescapes entities, and collapses
// whitespace. Collectors run all fetched content through this before
// fingerprinting so that markup-only upstream changes do not trigger
// re-indexing.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	text = tagPattern.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ContentFingerprint returns the hex-encoded SHA-256 of the given text.
func ContentFingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NewDocument builds a Document with normalized text and a content
// fingerprint. Returns false if the normalized text is empty.
func NewDocument(sourceID, key, title, url, rawText string, retrievedAt time.Time) (Document, bool) {
	text := NormalizeText(rawText)
	if text == "" {
		return Document{}, false
	}
	return Document{
		SourceID:    sourceID,
		Key:         key,
		Title:       title,
		URL:         url,
		Text:        text,
		Fingerprint: ContentFingerprint(text),
		RetrievedAt: retrievedAt,
	}, true
}
