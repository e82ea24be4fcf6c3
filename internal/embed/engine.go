// Package embed keeps the vector index in sync with active content: it
// selects hashes lacking vectors, chunks their bodies by tokens, batches
// embedding requests through the LLM gateway, and writes vectors keyed by
// (content hash, chunk seq).
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uf-hy/qmdr/internal/chunk"
	"github.com/uf-hy/qmdr/internal/llm"
	"github.com/uf-hy/qmdr/internal/store"
)

// Stats summarizes one embedding run.
type Stats struct {
	Hashes     int
	Chunks     int
	Failed     int
	BytesTotal int64
	BytesDone  int64
	Dimension  int
	Model      string
}

// Engine drives the embedding pipeline.
type Engine struct {
	store *store.Store
	gw    *llm.Gateway
	now   func() time.Time

	// Progress, when set, is called with cumulative bytes processed; byte
	// counts give a stable ETA where chunk counts would not.
	Progress func(done, total int64)
}

// New creates an embedding engine.
func New(st *store.Store, gw *llm.Gateway) *Engine {
	return &Engine{store: st, gw: gw, now: time.Now}
}

// Run embeds every content hash that lacks vectors for the current model.
// With force, all existing embeddings are cleared first (also the only way
// to change dimension). Aborts only on store errors, undecodable provider
// output, or an unavailable provider; individual chunk failures are counted
// and skipped.
func (e *Engine) Run(ctx context.Context, force bool) (*Stats, error) {
	if !e.gw.EmbedAvailable() {
		return nil, fmt.Errorf("no embedding provider configured; set an API key or QMD_EMBED_PROVIDER")
	}
	model := e.gw.EmbedModelID()
	stats := &Stats{Model: model}

	if force {
		if err := e.store.ClearAllEmbeddings(ctx); err != nil {
			return nil, fmt.Errorf("clear embeddings: %w", err)
		}
	}

	hashes, err := e.store.HashesNeedingEmbedding(ctx, model)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return stats, nil
	}
	bodies, err := e.store.ContentForHashes(ctx, hashes)
	if err != nil {
		return nil, err
	}
	for _, body := range bodies {
		stats.BytesTotal += int64(len(body))
	}

	// One probe call pins the dimension before any vector is written.
	dim, err := e.gw.ProbeDimension(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe embedding dimension: %w", err)
	}
	stats.Dimension = dim
	if err := e.store.EnsureVecTable(dim, model); err != nil {
		return nil, err
	}

	for _, hash := range hashes {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		body, ok := bodies[hash]
		if !ok {
			continue
		}

		chunks := chunk.ByTokens(body)
		if len(chunks) == 0 {
			stats.BytesDone += int64(len(body))
			continue
		}
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}

		// The gateway batches internally and maps per-item failures to nil
		// slots instead of failing the whole batch.
		vectors, err := e.gw.Embed(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("embed %s: %w", chunk.DocID(hash), err)
		}

		for i, vec := range vectors {
			if vec == nil {
				stats.Failed++
				continue
			}
			if err := e.store.InsertEmbedding(ctx, hash, i, chunks[i].Pos, vec, model, e.now()); err != nil {
				return stats, fmt.Errorf("insert embedding %s:%d: %w", chunk.DocID(hash), i, err)
			}
			stats.Chunks++
		}

		stats.Hashes++
		stats.BytesDone += int64(len(body))
		if e.Progress != nil {
			e.Progress(stats.BytesDone, stats.BytesTotal)
		}
	}

	slog.Info("embedding complete",
		slog.Int("hashes", stats.Hashes),
		slog.Int("chunks", stats.Chunks),
		slog.Int("failed", stats.Failed),
		slog.Int("dimension", stats.Dimension))
	return stats, nil
}
