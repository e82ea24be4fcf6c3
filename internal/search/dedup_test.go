package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJaccardBigram(t *testing.T) {
	assert.Equal(t, 1.0, jaccardBigram("same text", "same text"))
	assert.Equal(t, 1.0, jaccardBigram("same   text", "same text"), "whitespace is normalized")
	assert.Equal(t, 1.0, jaccardBigram("", ""))
	assert.Equal(t, 0.0, jaccardBigram("abc", ""))
	assert.Less(t, jaccardBigram("pasta water sauce", "git feature branch"), 0.2)
}

func TestDedupeResultsByDocid(t *testing.T) {
	results := []*Result{
		{Docid: "abc123", File: "a/x.md", Score: 0.9, Body: "pasta water binds sauce nicely"},
		{Docid: "abc123", File: "b/x.md", Score: 0.8, Body: "pasta water binds sauce nicely"},
		{Docid: "def456", File: "a/y.md", Score: 0.7, Body: "git feature branch workflow notes"},
	}

	out := dedupeResults(results)
	require.Len(t, out, 2)
	assert.Equal(t, "a/x.md", out[0].File)
	assert.Equal(t, []string{"b/x.md"}, out[0].AlsoIn)
	assert.InDelta(t, 0.9, out[0].Score, 1e-9, "higher score survives")
}

func TestDedupeResultsNearContent(t *testing.T) {
	body := "The pasta water binds the sauce because of its starch content."
	results := []*Result{
		{Docid: "aaa111", File: "a/x.md", Score: 0.9, Body: body},
		{Docid: "bbb222", File: "b/copy.md", Score: 0.5, Body: body + " "},
		{Docid: "ccc333", File: "a/z.md", Score: 0.4, Body: "Something entirely different about trains in Japan."},
	}

	out := dedupeResults(results)
	require.Len(t, out, 2)
	assert.Equal(t, "a/x.md", out[0].File)
	assert.Equal(t, []string{"b/copy.md"}, out[0].AlsoIn)
	assert.Equal(t, "a/z.md", out[1].File)
}

func TestDedupeResultsUsesContentOverBody(t *testing.T) {
	// Extract mode returns short (possibly identical) bodies; dedup must
	// compare the underlying document content instead.
	results := []*Result{
		{Docid: "aaa111", File: "x", Score: 0.9, Body: "extracted", content: "document one, all about pasta water"},
		{Docid: "bbb222", File: "y", Score: 0.8, Body: "extracted", content: "an unrelated document about git branches"},
	}
	out := dedupeResults(results)
	assert.Len(t, out, 2)
}

func TestDedupeResultsBelowThresholdKept(t *testing.T) {
	results := []*Result{
		{Docid: "a", File: "x", Score: 0.9, Body: "pasta water binds the sauce"},
		{Docid: "b", File: "y", Score: 0.8, Body: "trains in japan run on time"},
	}
	out := dedupeResults(results)
	assert.Len(t, out, 2)
}
