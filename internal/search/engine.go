package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/uf-hy/qmdr/internal/chunk"
	"github.com/uf-hy/qmdr/internal/llm"
	"github.com/uf-hy/qmdr/internal/store"
)

// Engine answers queries over the store, reaching through the LLM gateway
// for expansion and reranking. It is read-only on the store.
type Engine struct {
	store   *store.Store
	gw      *llm.Gateway
	caps    Caps
	weights Weights

	// known collection names from config; empty accepts any name.
	known map[string]struct{}

	// resolveContext returns the most specific context annotation for a
	// document, or "".
	resolveContext func(collection, path string) string
}

// Option configures the engine.
type Option func(*Engine)

// WithCaps overrides the rerank-stage caps.
func WithCaps(c Caps) Option {
	return func(e *Engine) {
		if c.RerankDocLimit > 0 {
			e.caps.RerankDocLimit = c.RerankDocLimit
		}
		if c.RerankChunksPerDoc > 0 {
			e.caps.RerankChunksPerDoc = c.RerankChunksPerDoc
		}
	}
}

// WithWeights overrides the score-blend constants.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithKnownCollections installs the configured collection names used to
// validate collection filters.
func WithKnownCollections(names []string) Option {
	return func(e *Engine) {
		e.known = make(map[string]struct{}, len(names))
		for _, n := range names {
			e.known[n] = struct{}{}
		}
	}
}

// WithContextResolver installs the context-annotation lookup.
func WithContextResolver(fn func(collection, path string) string) Option {
	return func(e *Engine) { e.resolveContext = fn }
}

// NewEngine creates a search engine. The gateway may be nil; every LLM
// stage then degrades to its deterministic fallback.
func NewEngine(st *store.Store, gw *llm.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		gw:      gw,
		caps:    DefaultCaps(),
		weights: DefaultWeights(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// filterCollections drops unknown collection names with a warning. The
// remaining names select a union; an empty result after filtering a
// non-empty request matches nothing from the unknown names, not
// everything.
func (e *Engine) filterCollections(requested []string) []string {
	if len(requested) == 0 || len(e.known) == 0 {
		return requested
	}
	kept := make([]string, 0, len(requested))
	for _, name := range requested {
		if _, ok := e.known[name]; ok {
			kept = append(kept, name)
			continue
		}
		slog.Warn("unknown collection in filter, dropping", slog.String("collection", name))
	}
	return kept
}

// Search is the BM25-only path.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	colls := e.filterCollections(opts.Collections)
	if len(opts.Collections) > 0 && len(colls) == 0 {
		return nil, nil
	}

	hits, err := e.store.SearchFTS(ctx, query, opts.effectiveLimit(), colls)
	if err != nil {
		return nil, err
	}

	var results []*Result
	for _, h := range hits {
		if h.Score < opts.MinScore {
			continue
		}
		results = append(results, e.resultFromFTS(h))
	}
	return results, nil
}

// VectorSearch is the vector-only path. The query is embedded through the
// gateway; a missing vector index or embedding provider is an error here
// (unlike the hybrid path, which degrades).
func (e *Engine) VectorSearch(ctx context.Context, query string, opts Options) ([]*Result, error) {
	if e.gw == nil || !e.gw.EmbedAvailable() {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	colls := e.filterCollections(opts.Collections)
	if len(opts.Collections) > 0 && len(colls) == 0 {
		return nil, nil
	}

	vec, err := e.gw.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	minScore := opts.MinScore
	if minScore == 0 {
		minScore = DefaultVectorMinScore
	}

	hits, err := e.store.SearchVec(ctx, vec, e.gw.EmbedModelID(), opts.effectiveLimit(), colls)
	if err != nil {
		return nil, err
	}

	var results []*Result
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		results = append(results, e.resultFromVec(ctx, h))
	}
	return results, nil
}

// Query runs the full hybrid pipeline.
func (e *Engine) Query(ctx context.Context, query string, opts Options) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	colls := e.filterCollections(opts.Collections)
	if len(opts.Collections) > 0 && len(colls) == 0 {
		return nil, nil
	}

	// Step 1: unconditional BM25 probe with the raw query.
	probe, probeErr := e.store.SearchFTS(ctx, query, subSearchLimit, colls)
	if probeErr != nil {
		slog.Warn("bm25 probe failed", slog.String("error", probeErr.Error()))
	}

	// Step 2: strong-signal shortcut skips expansion entirely.
	var queryables []llm.Queryable
	if !strongSignal(probe) && e.gw != nil {
		queryables = e.gw.ExpandQuery(ctx, query, opts.Context, true)
	}

	// Step 3: fan-out. List 0 is the original BM25 probe, list 1 the
	// original-query vector search; expansion queryables follow.
	lists, info := e.fanOut(ctx, query, queryables, probe, colls, opts.All)
	if len(info) == 0 {
		if probeErr != nil {
			return nil, fmt.Errorf("no ranked list could be produced: %w", probeErr)
		}
		return nil, nil
	}

	// Step 4: reciprocal-rank fusion.
	fusedDocs := fuseLists(lists, e.weights)

	// Step 5: candidate cap.
	if len(fusedDocs) > e.caps.RerankDocLimit {
		fusedDocs = fusedDocs[:e.caps.RerankDocLimit]
	}

	// Step 6: per-document chunk selection.
	type candidate struct {
		key     string
		rrfRank int // 1-based fusion rank
		rrfNorm float64
		chunks  []scoredChunk
	}
	maxScore := 0.0
	if len(fusedDocs) > 0 {
		maxScore = fusedDocs[0].Score
	}
	candidates := make([]candidate, 0, len(fusedDocs))
	bodies := make(map[string]string, len(fusedDocs))
	var rerankDocs []llm.RerankDoc
	for i, f := range fusedDocs {
		d := info[f.Key]
		body, err := e.store.GetBody(ctx, d.Hash)
		if err != nil || body == "" {
			continue
		}
		bodies[f.Key] = body
		selected := selectChunks(body, query, e.caps.RerankChunksPerDoc)
		norm := 0.0
		if maxScore > 0 {
			norm = f.Score / maxScore
		}
		candidates = append(candidates, candidate{key: f.Key, rrfRank: i + 1, rrfNorm: norm, chunks: selected})
		for _, c := range selected {
			rerankDocs = append(rerankDocs, llm.RerankDoc{
				ID:   f.Key + "::" + strconv.Itoa(c.Index),
				Text: c.Text,
			})
		}
	}

	// Step 7: LLM rerank. Failure degrades to the fused score alone.
	var reranked []llm.RerankResult
	if e.gw != nil && e.gw.RerankAvailable() && len(rerankDocs) > 0 {
		rr, err := e.gw.Rerank(ctx, query, rerankDocs)
		if err != nil {
			slog.Warn("rerank degraded", slog.String("error", err.Error()))
		} else {
			reranked = rr
		}
	}

	// Step 8: score blend.
	var results []*Result
	if hasExtracts(reranked) {
		// LLM-as-reranker mode: trust the model's ordering, return its
		// extract as the body.
		for _, rr := range reranked {
			key, _, ok := splitRerankID(rr.ID)
			if !ok {
				continue
			}
			d, known := info[key]
			if !known {
				continue
			}
			r := e.newResult(d)
			r.Score = rr.Score
			r.Body = rr.Extract
			r.Snippet = snippetOf(rr.Extract)
			r.content = bodies[key]
			results = append(results, r)
		}
	} else {
		best := make(map[string]float64, len(reranked))
		for _, rr := range reranked {
			key, _, ok := splitRerankID(rr.ID)
			if !ok {
				continue
			}
			if s, seen := best[key]; !seen || rr.Score > s {
				best[key] = rr.Score
			}
		}
		for _, c := range candidates {
			d := info[c.key]
			r := e.newResult(d)
			if len(c.chunks) > 0 {
				r.Body = c.chunks[0].Text
			} else {
				r.Body = d.Snippet
			}
			r.Snippet = snippetOf(r.Body)
			r.content = bodies[c.key]

			if score, ok := best[c.key]; ok && len(reranked) > 0 {
				w := rrfWeightForRank(c.rrfRank)
				r.Score = w*(1.0/float64(c.rrfRank)) + (1.0-w)*score
			} else if len(reranked) > 0 {
				// Reranked run, but this candidate got no score: keep only
				// the positional term of the blend. The blend formula does
				// not define this case; a missing score is treated as 0.
				w := rrfWeightForRank(c.rrfRank)
				r.Score = w * (1.0 / float64(c.rrfRank))
			} else {
				// Degraded: fused RRF score alone.
				r.Score = c.rrfNorm
			}
			results = append(results, r)
		}
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Score > results[j].Score
		})
	}

	// Step 9: filter, dedup, limit.
	filtered := results[:0]
	for _, r := range results {
		if r.Score >= opts.MinScore {
			filtered = append(filtered, r)
		}
	}
	results = dedupeResults(filtered)
	if limit := opts.effectiveLimit(); len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// docInfo carries what the result formatter needs about a fused document.
type docInfo struct {
	Collection string
	Path       string
	Title      string
	Hash       string
	Snippet    string
}

// fanOut runs the remaining sub-searches concurrently and returns the
// ranked lists in deterministic slot order plus a document info map. A
// failed sub-search contributes an empty list rather than failing the
// query.
func (e *Engine) fanOut(ctx context.Context, query string, queryables []llm.Queryable, probe []*store.SearchResult, colls []string, all bool) ([]rankedList, map[string]docInfo) {
	limit := subSearchLimit
	if all {
		limit = allLimitSentinel
	}

	var lexTexts, vecTexts []string
	seenLex := map[string]struct{}{query: {}}
	for _, q := range queryables {
		switch q.Type {
		case llm.QueryLex:
			if _, dup := seenLex[q.Text]; !dup {
				seenLex[q.Text] = struct{}{}
				lexTexts = append(lexTexts, q.Text)
			}
		case llm.QueryVec, llm.QueryHyde:
			vecTexts = append(vecTexts, q.Text)
		}
	}

	vectorReady := e.store.VectorAvailable() && e.gw != nil && e.gw.EmbedAvailable()

	// Slot layout: [0] original BM25, [1] original vector, then one slot
	// per expansion queryable.
	lists := make([]rankedList, 2+len(lexTexts)+len(vecTexts))
	type ftsList struct {
		slot int
		hits []*store.SearchResult
	}
	type vecList struct {
		slot int
		hits []*store.VectorHit
	}
	ftsOut := make([]ftsList, 0, 1+len(lexTexts))
	vecOut := make([]vecList, 0, 1+len(vecTexts))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	runFTS := func(slot int, text string) {
		g.Go(func() error {
			hits, err := e.store.SearchFTS(gctx, text, limit, colls)
			if err != nil {
				slog.Warn("fts sub-search failed", slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			ftsOut = append(ftsOut, ftsList{slot: slot, hits: hits})
			mu.Unlock()
			return nil
		})
	}
	runVec := func(slot int, text string) {
		g.Go(func() error {
			vec, err := e.gw.EmbedOne(gctx, text)
			if err != nil {
				slog.Warn("query embedding failed", slog.String("error", err.Error()))
				return nil
			}
			hits, err := e.store.SearchVec(gctx, vec, e.gw.EmbedModelID(), limit, colls)
			if err != nil {
				slog.Warn("vector sub-search failed", slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			vecOut = append(vecOut, vecList{slot: slot, hits: hits})
			mu.Unlock()
			return nil
		})
	}

	// Slot 0 is the already-computed probe.
	if len(probe) > 0 {
		ftsOut = append(ftsOut, ftsList{slot: 0, hits: probe})
	}
	if vectorReady {
		runVec(1, query)
	}
	slot := 2
	for _, text := range lexTexts {
		runFTS(slot, text)
		slot++
	}
	for _, text := range vecTexts {
		if vectorReady {
			runVec(slot, text)
		}
		slot++
	}
	_ = g.Wait()

	info := make(map[string]docInfo)
	for _, fl := range ftsOut {
		keys := make([]string, 0, len(fl.hits))
		for _, h := range fl.hits {
			key := h.Collection + "/" + h.Path
			if _, seen := info[key]; !seen {
				info[key] = docInfo{
					Collection: h.Collection, Path: h.Path,
					Title: h.Title, Hash: h.Hash, Snippet: h.Snippet,
				}
			}
			keys = append(keys, key)
		}
		lists[fl.slot] = rankedList{keys: keys}
	}
	for _, vl := range vecOut {
		seen := make(map[string]struct{}, len(vl.hits))
		var keys []string
		for _, h := range vl.hits {
			key := h.Collection + "/" + h.Path
			// Chunk-level hits collapse to document rank order here; the
			// chunk granularity feeds chunk selection, not fusion.
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if _, ok := info[key]; !ok {
				info[key] = docInfo{
					Collection: h.Collection, Path: h.Path,
					Title: h.Title, Hash: h.Hash,
				}
			}
			keys = append(keys, key)
		}
		lists[vl.slot] = rankedList{keys: keys}
	}

	if len(ftsOut) == 0 && len(vecOut) == 0 {
		return nil, nil
	}
	return lists, info
}

// strongSignal implements the expansion shortcut: top score >= 0.85 and a
// gap of at least 0.15 over the runner-up.
func strongSignal(probe []*store.SearchResult) bool {
	if len(probe) == 0 {
		return false
	}
	if probe[0].Score < strongSignalScore {
		return false
	}
	if len(probe) == 1 {
		return true
	}
	return probe[0].Score-probe[1].Score >= strongSignalGap
}

func hasExtracts(rr []llm.RerankResult) bool {
	for _, r := range rr {
		if r.Extract != "" {
			return true
		}
	}
	return false
}

// splitRerankID inverts the "{file}::{chunk_idx}" rerank key.
func splitRerankID(id string) (key string, chunkIdx int, ok bool) {
	i := strings.LastIndex(id, "::")
	if i < 0 {
		return "", 0, false
	}
	idx, err := strconv.Atoi(id[i+2:])
	if err != nil {
		return "", 0, false
	}
	return id[:i], idx, true
}

func (e *Engine) newResult(d docInfo) *Result {
	r := &Result{
		Docid: chunk.DocID(d.Hash),
		File:  d.Collection + "/" + d.Path,
		Title: d.Title,
	}
	if e.resolveContext != nil {
		r.Context = e.resolveContext(d.Collection, d.Path)
	}
	return r
}

func (e *Engine) resultFromFTS(h *store.SearchResult) *Result {
	r := e.newResult(docInfo{
		Collection: h.Collection, Path: h.Path,
		Title: h.Title, Hash: h.Hash, Snippet: h.Snippet,
	})
	r.Score = h.Score
	r.Body = h.Snippet
	r.Snippet = snippetOf(h.Snippet)
	return r
}

func (e *Engine) resultFromVec(ctx context.Context, h *store.VectorHit) *Result {
	r := e.newResult(docInfo{
		Collection: h.Collection, Path: h.Path,
		Title: h.Title, Hash: h.Hash,
	})
	r.Score = h.Score

	body, err := e.store.GetBody(ctx, h.Hash)
	if err == nil && h.Pos < len(body) {
		end := h.Pos + chunk.DefaultContextChunkChars
		if end > len(body) {
			end = len(body)
		}
		r.Body = body[h.Pos:end]
	}
	r.Snippet = snippetOf(r.Body)
	return r
}

// snippetOf truncates a body for the snippet field.
func snippetOf(body string) string {
	const max = 200
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	return body[:max] + "…"
}
