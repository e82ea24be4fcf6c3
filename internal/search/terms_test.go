package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTerms(t *testing.T) {
	terms := extractTerms("How do I make Pasta")
	// Whole lowercase query always leads as a phrase term.
	assert.Equal(t, "how do i make pasta", terms[0])
	assert.Contains(t, terms, "how")
	assert.Contains(t, terms, "make")
	assert.Contains(t, terms, "pasta")
	// Tokens of length <= 2 are dropped.
	assert.NotContains(t, terms, "do")
	assert.NotContains(t, terms, "i")
}

func TestExtractTermsCJK(t *testing.T) {
	terms := extractTerms("日本の新幹線")
	assert.Contains(t, terms, "日本の新幹線")
	// Trigrams of the CJK word.
	assert.Contains(t, terms, "日本の")
	assert.Contains(t, terms, "本の新")
	assert.Contains(t, terms, "の新幹")
	assert.Contains(t, terms, "新幹線")
}

func TestExtractTermsShortCJK(t *testing.T) {
	terms := extractTerms("東京 trains")
	// CJK words shorter than three runes survive whole.
	assert.Contains(t, terms, "東京")
	assert.Contains(t, terms, "trains")
}

func TestExtractTermsEmpty(t *testing.T) {
	assert.Nil(t, extractTerms("   "))
}

func TestSelectChunks(t *testing.T) {
	body := "# Notes\n\nIrrelevant filler paragraph about nothing.\n\n" +
		"pasta water binds the sauce because of starch\n\n" +
		"more filler text here\n"

	chunks := selectChunks(body, "pasta water", 2)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "pasta water")
	assert.LessOrEqual(t, len(chunks), 2)
}

func TestSelectChunksDeterministicTies(t *testing.T) {
	body := "alpha\n\nbeta\n\ngamma"
	a := selectChunks(body, "zzz", 3)
	b := selectChunks(body, "zzz", 3)
	require.Equal(t, len(a), len(b))
	for i := range a {
		// No term matches anywhere: position order wins.
		assert.Equal(t, a[i].Pos, b[i].Pos)
	}
}

func TestSelectChunksZero(t *testing.T) {
	assert.Nil(t, selectChunks("body", "q", 0))
	assert.Nil(t, selectChunks("", "q", 3))
}
