package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uf-hy/qmdr/internal/chunk"
	qerrors "github.com/uf-hy/qmdr/internal/errors"
	"github.com/uf-hy/qmdr/internal/llm"
	"github.com/uf-hy/qmdr/internal/store"
)

// embedServer stubs an OpenAI-shaped embeddings endpoint at a fixed
// dimension.
func embedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		var resp struct {
			Data []item `json:"data"`
		}
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(i + 1)
			resp.Data = append(resp.Data, item{Index: i, Embedding: vec})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGateway(t *testing.T, baseURL string) *llm.Gateway {
	t.Helper()
	g, err := llm.NewGateway(llm.Config{
		SiliconFlowKey:     "k",
		SiliconFlowBaseURL: baseURL,
		CacheSize:          -1,
	})
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func seedStore(t *testing.T, bodies map[string]string) *store.Store {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	now := time.Now()
	for path, body := range bodies {
		hash := chunk.HashContent(body)
		require.NoError(t, s.InsertContent(ctx, hash, body, now))
		_, err := s.InsertDocument(ctx, "n", path, chunk.ExtractTitle(body, path), hash, now, now)
		require.NoError(t, err)
	}
	return s
}

func TestRunEmbedsPendingHashes(t *testing.T) {
	s := seedStore(t, map[string]string{
		"a.md": "# A\npasta water binds sauce",
		"b.md": "# B\ngit feature branch",
	})
	srv := embedServer(t, 8)
	e := New(s, newTestGateway(t, srv.URL))

	var lastDone, lastTotal int64
	e.Progress = func(done, total int64) { lastDone, lastTotal = done, total }

	stats, err := e.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Hashes)
	assert.GreaterOrEqual(t, stats.Chunks, 2)
	assert.Equal(t, 8, stats.Dimension)
	assert.Equal(t, lastTotal, lastDone, "progress reaches total bytes")
	assert.True(t, s.VectorAvailable())

	// Second run has nothing left to do.
	stats, err = e.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, stats.Hashes)
}

func TestRunDimensionMismatch(t *testing.T) {
	s := seedStore(t, map[string]string{"a.md": "# A\nbody"})
	require.NoError(t, s.EnsureVecTable(1024, "m"))

	srv := embedServer(t, 4096)
	e := New(s, newTestGateway(t, srv.URL))

	_, err := e.Run(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeDimensionMismatch, qerrors.GetCode(err))

	// Force drops the old table and rebuilds at the new dimension.
	stats, err := e.Run(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 4096, stats.Dimension)
}

func TestRunForceClearsExistingVectors(t *testing.T) {
	s := seedStore(t, map[string]string{"a.md": "# A\nbody text"})
	srv := embedServer(t, 8)
	e := New(s, newTestGateway(t, srv.URL))
	ctx := context.Background()

	_, err := e.Run(ctx, false)
	require.NoError(t, err)

	stats, err := e.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Hashes, "force re-embeds everything")
}

func TestRunNoProvider(t *testing.T) {
	s := seedStore(t, map[string]string{"a.md": "# A\nbody"})
	g, err := llm.NewGateway(llm.Config{})
	require.NoError(t, err)
	t.Cleanup(g.Close)

	_, err = New(s, g).Run(context.Background(), false)
	require.Error(t, err)
}
