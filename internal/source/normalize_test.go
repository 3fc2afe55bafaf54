package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain text", input: "hello world", want: "hello world"},
		{name: "strips tags", input: "<p>hello <b>world</b></p>", want: "hello world"},
		{name: "unescapes entities", input: "a &amp; b", want: "a & b"},
		{name: "collapses whitespace", input: "  a \n\t b  ", want: "a b"},
		{name: "whitespace only", input: " \n\t ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.input))
		})
	}
}

func TestContentFingerprintDeterministic(t *testing.T) {
	a := ContentFingerprint("same content")
	b := ContentFingerprint("same content")
	c := ContentFingerprint("different content")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64) // hex sha256
}

func TestNewDocument(t *testing.T) {
	now := time.Now()

	doc, ok := NewDocument("src", "key", "Title", "http://x", "<p>body</p>", now)
	require.True(t, ok)
	assert.Equal(t, "body", doc.Text)
	assert.Equal(t, ContentFingerprint("body"), doc.Fingerprint)
	assert.Equal(t, now, doc.RetrievedAt)

	_, ok = NewDocument("src", "key", "Title", "http://x", "  <div></div> ", now)
	assert.False(t, ok, "markup-only content should produce no document")
}
