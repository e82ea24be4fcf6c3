package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte(content), 0o644))
}

func TestLoadMissingIsEmpty(t *testing.T) {
	cfg, err := Load(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Collections)
	assert.Equal(t, DefaultIndexName, cfg.IndexName)
	assert.Equal(t, 40, cfg.Caps.RerankDocLimit)
}

func TestLoadCollectionsAndContexts(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
collections:
  - name: notes
    path: /home/me/notes
    glob: "**/*.md"
  - name: work
    path: /home/me/work
    update: "git pull"
contexts:
  - collection: notes
    path: cooking/
    text: personal recipes
  - path: /
    text: everything global
`)

	cfg, err := Load(dir, t.TempDir())
	require.NoError(t, err)
	require.Len(t, cfg.Collections, 2)
	assert.Equal(t, "notes", cfg.Collections[0].Name)
	assert.Equal(t, "git pull", cfg.Collections[1].Update)
	assert.Equal(t, []string{"notes", "work"}, cfg.CollectionNames())
	require.Len(t, cfg.Contexts, 2)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, cfg.AddCollection(Collection{Name: "notes", Path: "/tmp/notes"}))
	cfg.SetContext("notes", "", "my notes")
	require.NoError(t, cfg.Save())

	again, err := Load(dir, cfg.DataDir)
	require.NoError(t, err)
	require.Len(t, again.Collections, 1)
	assert.Equal(t, "notes", again.Collections[0].Name)
	require.Len(t, again.Contexts, 1)
}

func TestAddCollectionUniqueness(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.AddCollection(Collection{Name: "a", Path: "/p", Glob: "**/*.md"}))
	assert.Error(t, cfg.AddCollection(Collection{Name: "a", Path: "/q"}), "duplicate name")
	assert.Error(t, cfg.AddCollection(Collection{Name: "b", Path: "/p", Glob: "**/*.md"}), "duplicate (path, glob)")
	require.NoError(t, cfg.AddCollection(Collection{Name: "b", Path: "/p", Glob: "*.md"}))
}

func TestRenameCollection(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.AddCollection(Collection{Name: "old", Path: "/p"}))
	cfg.SetContext("old", "sub/", "ctx")

	require.NoError(t, cfg.RenameCollection("old", "new"))
	assert.Nil(t, cfg.FindCollection("old"))
	assert.NotNil(t, cfg.FindCollection("new"))
	assert.Equal(t, "new", cfg.Contexts[0].Collection, "contexts follow the rename")

	assert.Error(t, cfg.RenameCollection("missing", "x"))
}

func TestResolveContextSpecificity(t *testing.T) {
	cfg := &Config{Contexts: []Context{
		{Path: "/", Text: "global"},
		{Collection: "notes", Text: "collection root"},
		{Collection: "notes", Path: "cooking/", Text: "cooking prefix"},
		{Collection: "notes", Path: "cooking/italian/", Text: "italian prefix"},
		{Collection: "notes", Path: "cooking/italian/pasta.md", Text: "exact"},
	}}

	assert.Equal(t, "exact", cfg.ResolveContext("notes", "cooking/italian/pasta.md"))
	assert.Equal(t, "italian prefix", cfg.ResolveContext("notes", "cooking/italian/risotto.md"))
	assert.Equal(t, "cooking prefix", cfg.ResolveContext("notes", "cooking/french/crepes.md"))
	assert.Equal(t, "collection root", cfg.ResolveContext("notes", "travel/japan.md"))
	assert.Equal(t, "global", cfg.ResolveContext("work", "anything.md"))
}

func TestRemoveContext(t *testing.T) {
	cfg := &Config{}
	cfg.SetContext("n", "a/", "one")
	cfg.SetContext("n", "a/", "two")
	require.Len(t, cfg.Contexts, 1, "set replaces")
	assert.Equal(t, "two", cfg.Contexts[0].Text)

	assert.True(t, cfg.RemoveContext("n", "a/"))
	assert.False(t, cfg.RemoveContext("n", "a/"))
}

func TestDotEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"QMD_RERANK_DOC_LIMIT=7\nSOME_OTHER_KEY=from-dotenv\n# comment\nQMD_EMBED_BATCH_SIZE=\"16\"\n"), 0o644))

	t.Setenv("SOME_OTHER_KEY", "from-environment")
	t.Setenv("QMD_RERANK_DOC_LIMIT", "")
	os.Unsetenv("QMD_RERANK_DOC_LIMIT")
	t.Cleanup(func() { os.Unsetenv("QMD_EMBED_BATCH_SIZE") })

	cfg, err := Load(dir, t.TempDir())
	require.NoError(t, err)

	// QMD_ keys from .env always apply; other keys only when absent.
	assert.Equal(t, 7, cfg.Caps.RerankDocLimit)
	assert.Equal(t, 16, cfg.EmbedBatchSize)
	assert.Equal(t, "from-environment", os.Getenv("SOME_OTHER_KEY"))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QMD_TIMEOUT_MS", "2500")
	t.Setenv("QMD_RERANK_MODE", "rerank")
	t.Setenv("QMD_EMBED_PROVIDER", "siliconflow")
	t.Setenv("QMD_MAX_INDEX_FILE_BYTES", "1024")

	cfg, err := Load(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2500, cfg.TimeoutMS)
	assert.Equal(t, "rerank", cfg.RerankMode)
	assert.Equal(t, "siliconflow", cfg.EmbedProvider)
	assert.Equal(t, int64(1024), cfg.MaxIndexFileBytes)
}

func TestMaxIndexFileBytesRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"NaN", "-5", "0", "notanumber"} {
		t.Run(bad, func(t *testing.T) {
			t.Setenv("QMD_MAX_INDEX_FILE_BYTES", bad)
			cfg, err := Load(t.TempDir(), t.TempDir())
			require.NoError(t, err)
			assert.Equal(t, int64(64<<20), cfg.MaxIndexFileBytes, "falls back to default")
		})
	}
}

func TestIndexPath(t *testing.T) {
	cfg := &Config{IndexName: "work", DataDir: "/data"}
	assert.Equal(t, filepath.Join("/data", "work.sqlite"), cfg.IndexPath())
}
