package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitLineSuffix(t *testing.T) {
	ref, line := splitLineSuffix("notes/pasta.md:12")
	assert.Equal(t, "notes/pasta.md", ref)
	assert.Equal(t, 12, line)

	ref, line = splitLineSuffix("notes/pasta.md")
	assert.Equal(t, "notes/pasta.md", ref)
	assert.Zero(t, line)

	// A trailing non-numeric segment is part of the path.
	ref, line = splitLineSuffix("qmd://notes/odd:name.md")
	assert.Equal(t, "qmd://notes/odd:name.md", ref)
	assert.Zero(t, line)
}

func TestClipLines(t *testing.T) {
	body := "one\ntwo\nthree"
	assert.Equal(t, body, clipLines(body, 0))
	assert.Equal(t, "one\ntwo", clipLines(body, 2))
	assert.Equal(t, body, clipLines(body, 10))
}

func TestJoinArgs(t *testing.T) {
	assert.Equal(t, "how do I", joinArgs([]string{"how", "do", "I"}))
	assert.Equal(t, "single", joinArgs([]string{"single"}))
}

func TestSplitContextPath(t *testing.T) {
	col, path := splitContextPath("/")
	assert.Equal(t, "", col)
	assert.Equal(t, "/", path)

	col, path = splitContextPath("notes/cooking/")
	assert.Equal(t, "notes", col)
	assert.Equal(t, "cooking/", path)

	col, path = splitContextPath("notes")
	assert.Equal(t, "notes", col)
	assert.Equal(t, "", path)
}
