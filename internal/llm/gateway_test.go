package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/uf-hy/qmdr/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// chatServer stubs an OpenAI-compatible chat endpoint.
func chatServer(t *testing.T, reply func(r *http.Request) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, content := reply(r)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"stubbed failure"}`))
			return
		}
		resp := openaiChatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message openaiChatMessage `json:"message"`
		}{Message: openaiChatMessage{Role: "assistant", Content: content}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGateway(t *testing.T, baseURL string, mode RerankMode) *Gateway {
	t.Helper()
	g, err := NewGateway(Config{
		SiliconFlowKey:     "test-key",
		SiliconFlowBaseURL: baseURL,
		RerankMode:         mode,
		CacheSize:          -1, // disabled so stubs see every call
	})
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestExpandQueryParsesProviderOutput(t *testing.T) {
	srv := chatServer(t, func(*http.Request) (int, string) {
		return http.StatusOK, "lex: pasta water\nvec: emulsify sauce\nhyde: Starchy water binds sauce."
	})
	g := newTestGateway(t, srv.URL, RerankModeLLM)

	qs := g.ExpandQuery(context.Background(), "how do I make pasta?", "", true)
	require.Len(t, qs, 3)
	assert.Equal(t, QueryLex, qs[0].Type)
	assert.Equal(t, "pasta water", qs[0].Text)
}

func TestExpandQueryFallbackOnProviderFailure(t *testing.T) {
	srv := chatServer(t, func(*http.Request) (int, string) {
		return http.StatusBadRequest, ""
	})
	g := newTestGateway(t, srv.URL, RerankModeLLM)

	qs := g.ExpandQuery(context.Background(), "my query", "", true)
	require.Len(t, qs, 3)
	assert.Equal(t, Queryable{Type: QueryVec, Text: "my query"}, qs[0])
	assert.Equal(t, "Information about my query", qs[1].Text)
}

func TestExpandQueryFallbackOnUnparseableOutput(t *testing.T) {
	srv := chatServer(t, func(*http.Request) (int, string) {
		return http.StatusOK, "I cannot help with that."
	})
	g := newTestGateway(t, srv.URL, RerankModeLLM)

	qs := g.ExpandQuery(context.Background(), "q", "", false)
	require.Len(t, qs, 2)
	assert.Equal(t, QueryVec, qs[0].Type)
}

func TestExpandQueryNoProviderConfigured(t *testing.T) {
	g, err := NewGateway(Config{})
	require.NoError(t, err)
	t.Cleanup(g.Close)

	qs := g.ExpandQuery(context.Background(), "q", "", true)
	assert.Len(t, qs, 3)
}

func TestRerankLLMExtractMode(t *testing.T) {
	srv := chatServer(t, func(*http.Request) (int, string) {
		return http.StatusOK, "[2] extracted\n[0] extracted"
	})
	g := newTestGateway(t, srv.URL, RerankModeLLM)

	docs := []RerankDoc{
		{ID: "a::0", Text: "zero"},
		{ID: "b::0", Text: "one"},
		{ID: "c::0", Text: "two"},
	}
	out, err := g.Rerank(context.Background(), "q", docs)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c::0", out[0].ID)
	assert.InDelta(t, 1.00, out[0].Score, 1e-9)
	assert.Equal(t, "a::0", out[1].ID)
	assert.InDelta(t, 0.95, out[1].Score, 1e-9)
	assert.Equal(t, "extracted", out[0].Extract)
}

func TestRerankDedicatedTopNFollowsCandidates(t *testing.T) {
	var gotTopN atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req siliconflowRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotTopN.Store(int64(req.TopN))

		var resp siliconflowRerankResponse
		for i := range req.Documents {
			resp.Results = append(resp.Results, struct {
				Index          int     `json:"index"`
				RelevanceScore float64 `json:"relevance_score"`
			}{Index: i, RelevanceScore: 1.0 - float64(i)*0.1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	g := newTestGateway(t, srv.URL, RerankModeDedicated)

	docs := []RerankDoc{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}, {ID: "c", Text: "z"}}
	out, err := g.Rerank(context.Background(), "q", docs)
	require.NoError(t, err)
	assert.Equal(t, int64(3), gotTopN.Load())
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Empty(t, out[0].Extract, "dedicated rerank has no extract text")
}

func TestRerankCircuitBreaker(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`boom`))
	}))
	t.Cleanup(srv.Close)

	g := newTestGateway(t, srv.URL, RerankModeDedicated)
	// Disable backoff retries so each Rerank call is one provider attempt.
	g.t.retry.MaxRetries = 0

	docs := []RerankDoc{{ID: "a", Text: "x"}}
	ctx := context.Background()

	// Three consecutive failures trip the circuit.
	for i := 0; i < 3; i++ {
		_, err := g.Rerank(ctx, "q", docs)
		require.Error(t, err)
		assert.Equal(t, qerrors.ErrCodeProviderFailed, qerrors.GetCode(err))
	}
	before := calls.Load()

	// The fourth call fails fast without touching the provider.
	_, err := g.Rerank(ctx, "q", docs)
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeProviderCoolingDown, qerrors.GetCode(err))
	assert.Equal(t, before, calls.Load())
}

func TestExpansionDegradesWhileCoolingDown(t *testing.T) {
	srv := chatServer(t, func(*http.Request) (int, string) {
		return http.StatusInternalServerError, ""
	})
	g := newTestGateway(t, srv.URL, RerankModeLLM)
	g.t.retry.MaxRetries = 0

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		g.ExpandQuery(ctx, "q", "", true)
	}
	// Circuit is now open; expansion still answers, deterministically.
	qs := g.ExpandQuery(ctx, "another query", "", true)
	require.Len(t, qs, 3)
	assert.Equal(t, Queryable{Type: QueryVec, Text: "another query"}, qs[0])
}

func TestEmbedPartialBatchFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		n := calls.Add(1)

		// First (batch) call fails; per-item retries fail only for "bad".
		if n == 1 || (len(req.Input) == 1 && req.Input[0] == "bad") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}
		var resp openaiEmbedResponse
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{1, 2, 3}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	g := newTestGateway(t, srv.URL, RerankModeLLM)
	g.t.retry.MaxRetries = 0

	vecs, err := g.Embed(context.Background(), []string{"good", "bad", "also good"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.NotNil(t, vecs[0])
	assert.Nil(t, vecs[1], "failed item maps to a nil slot")
	assert.NotNil(t, vecs[2])
}

func TestProbeDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		var resp openaiEmbedResponse
		resp.Data = append(resp.Data, struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}{Index: 0, Embedding: make([]float32, 1024)})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	g := newTestGateway(t, srv.URL, RerankModeLLM)
	dim, err := g.ProbeDimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1024, dim)
}

func TestForcedProviderNotConfigured(t *testing.T) {
	_, err := NewGateway(Config{EmbedProvider: "gemini", GeminiKey: "k"})
	require.Error(t, err, "gemini has no embed support")
}
