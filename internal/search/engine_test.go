package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uf-hy/qmdr/internal/chunk"
	"github.com/uf-hy/qmdr/internal/llm"
	"github.com/uf-hy/qmdr/internal/store"
)

func seedStore(t *testing.T, docs map[string]string) *store.Store {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	now := time.Now()
	for file, body := range docs {
		col, path, _ := cutFile(file)
		hash := chunk.HashContent(body)
		require.NoError(t, s.InsertContent(ctx, hash, body, now))
		_, err := s.InsertDocument(ctx, col, path, chunk.ExtractTitle(body, path), hash, now, now)
		require.NoError(t, err)
	}
	return s
}

func cutFile(file string) (col, path string, ok bool) {
	for i := range file {
		if file[i] == '/' {
			return file[:i], file[i+1:], true
		}
	}
	return "", file, false
}

var corpus = map[string]string{
	"notes/pasta.md": "# Pasta\npasta water binds sauce",
	"notes/git.md":   "# Git\ngit feature branch",
	"notes/japan.md": "# Japan\nJapan trains are fast",
}

func TestSearchBM25Only(t *testing.T) {
	s := seedStore(t, corpus)
	e := NewEngine(s, nil)

	results, err := e.Search(context.Background(), "pasta", Options{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "notes/pasta.md", results[0].File)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Len(t, results[0].Docid, chunk.DocIDLen)
}

func TestSearchEmptyCorpus(t *testing.T) {
	s := seedStore(t, nil)
	e := NewEngine(s, nil)

	results, err := e.Search(context.Background(), "anything", Options{})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = e.Query(context.Background(), "anything", Options{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryWithoutGatewayDegradesToBM25(t *testing.T) {
	s := seedStore(t, corpus)
	e := NewEngine(s, nil)

	results, err := e.Query(context.Background(), "how do I make pasta?", Options{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "notes/pasta.md", results[0].File)
	assert.NotEmpty(t, results[0].Body)
}

func TestQueryCollectionFilterUnknownDropped(t *testing.T) {
	s := seedStore(t, corpus)
	e := NewEngine(s, nil, WithKnownCollections([]string{"notes"}))

	// Unknown name dropped with a warning; known names still searched.
	results, err := e.Query(context.Background(), "pasta", Options{Collections: []string{"notes", "bogus"}})
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	// Only unknown names left: nothing matches, no error.
	results, err = e.Query(context.Background(), "pasta", Options{Collections: []string{"bogus"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStrongSignal(t *testing.T) {
	mk := func(scores ...float64) []*store.SearchResult {
		out := make([]*store.SearchResult, len(scores))
		for i, s := range scores {
			out[i] = &store.SearchResult{Score: s}
		}
		return out
	}

	assert.False(t, strongSignal(nil))
	assert.True(t, strongSignal(mk(0.90)))
	assert.True(t, strongSignal(mk(0.90, 0.70)))
	assert.False(t, strongSignal(mk(0.90, 0.80)), "gap below 0.15")
	assert.False(t, strongSignal(mk(0.84, 0.10)), "top below 0.85")
	assert.True(t, strongSignal(mk(0.85, 0.70)), "boundary values fire")
}

func TestSplitRerankID(t *testing.T) {
	key, idx, ok := splitRerankID("notes/pasta.md::2")
	require.True(t, ok)
	assert.Equal(t, "notes/pasta.md", key)
	assert.Equal(t, 2, idx)

	_, _, ok = splitRerankID("no-separator")
	assert.False(t, ok)
}

// rerankChatServer stubs the chat endpoint the LLM-as-reranker uses, and
// fails expansion-looking calls so the pipeline exercises the fallback.
func rerankChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		reply := content
		if len(req.Messages) == 0 || !strings.Contains(req.Messages[0].Content, "[0]") {
			// Expansion call: answer unparseably to force the fallback.
			reply = "no labels here"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQueryExtractModeOrdering(t *testing.T) {
	s := seedStore(t, corpus)

	srv := rerankChatServer(t, "[2] extracted\n[0] extracted")
	g, err := llm.NewGateway(llm.Config{
		SiliconFlowKey:     "k",
		SiliconFlowBaseURL: srv.URL,
		RerankMode:         llm.RerankModeLLM,
		CacheSize:          -1,
	})
	require.NoError(t, err)
	t.Cleanup(g.Close)

	e := NewEngine(s, g, WithCaps(Caps{RerankChunksPerDoc: 1}))

	results, err := e.Query(context.Background(), "pasta git japan", Options{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2, "only the model's two chosen candidates survive")
	// Extract mode trusts the model's ordering and synthetic scores.
	assert.InDelta(t, 1.00, results[0].Score, 1e-9)
	assert.InDelta(t, 0.95, results[1].Score, 1e-9)
	assert.Equal(t, "extracted", results[0].Body)
	assert.Equal(t, "extracted", results[0].Snippet)
}

func TestQueryMinScoreFilter(t *testing.T) {
	s := seedStore(t, corpus)
	e := NewEngine(s, nil)

	results, err := e.Query(context.Background(), "pasta", Options{MinScore: 1.1})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorSearchWithoutProvider(t *testing.T) {
	s := seedStore(t, corpus)
	e := NewEngine(s, nil)

	_, err := e.VectorSearch(context.Background(), "pasta", Options{})
	require.Error(t, err)
}
