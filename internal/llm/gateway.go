package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	qerrors "github.com/uf-hy/qmdr/internal/errors"
)

// Config selects providers and models for the gateway. Empty provider
// fields auto-route to the first configured provider that supports the
// operation.
type Config struct {
	// API keys; a provider without a key is not configured.
	SiliconFlowKey string
	OpenAIKey      string
	GeminiKey      string
	DashScopeKey   string

	// Base URL overrides (tests, self-hosted gateways).
	SiliconFlowBaseURL string
	OpenAIBaseURL      string
	GeminiBaseURL      string
	DashScopeBaseURL   string

	// Forced provider selection per operation ("" = auto-route).
	EmbedProvider  string
	ExpandProvider string
	RerankProvider string

	RerankMode RerankMode

	// Model overrides.
	EmbedModel  string
	ChatModel   string
	RerankModel string

	// Timeout overrides every per-operation default when set.
	Timeout time.Duration

	EmbedBatchSize int

	// ConfigDir is where the rerank prompt override lives.
	ConfigDir string

	// CacheSize bounds the response cache; 0 selects the default size and
	// a negative value disables it.
	CacheSize int
}

// responseCacheSize is the default bounded cache size.
const responseCacheSize = 512

// Gateway routes embedding, query expansion, and rerank operations to
// remote providers, with a circuit breaker per provider. Best-effort
// operations degrade to deterministic fallbacks while a circuit is open;
// required operations fail fast.
type Gateway struct {
	cfg Config
	t   *transport

	embed      embedder
	expandChat chatter
	rerankChat chatter
	rerankDed  rerankAPI

	mu       sync.Mutex
	breakers map[string]*qerrors.CircuitBreaker

	cache *lru.Cache[string, []byte]
}

// NewGateway builds a gateway from config. Providers without keys stay
// unconfigured; operations that resolve to no provider report that at call
// time so a BM25-only deployment still works.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.RerankMode == "" {
		cfg.RerankMode = RerankModeLLM
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = responseCacheSize
	}

	g := &Gateway{
		cfg:      cfg,
		t:        newTransport(),
		breakers: make(map[string]*qerrors.CircuitBreaker),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []byte](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create response cache: %w", err)
		}
		g.cache = cache
	}

	if err := g.route(); err != nil {
		return nil, err
	}
	return g, nil
}

// Close releases pooled connections.
func (g *Gateway) Close() {
	g.t.close()
}

// route resolves at most one provider per operation.
func (g *Gateway) route() error {
	sf := g.siliconflow()
	oa := g.openai()
	gm := g.gemini()
	ds := g.dashscope()

	pick := func(forced string, table map[string]any) (any, error) {
		if forced != "" {
			p, ok := table[forced]
			if !ok || p == nil {
				return nil, qerrors.ConfigError(fmt.Sprintf("provider %q is not configured for this operation", forced), nil)
			}
			return p, nil
		}
		// Auto-route: table iteration order is fixed by the caller's list.
		return nil, nil
	}

	// Embed: siliconflow or openai-compat.
	if p, err := pick(g.cfg.EmbedProvider, map[string]any{
		"siliconflow":   nilable(sf),
		"openai-compat": nilable(oa),
	}); err != nil {
		return err
	} else if p != nil {
		g.embed = p.(embedder)
	} else if sf != nil {
		g.embed = sf
	} else if oa != nil {
		g.embed = oa
	}

	// Expansion: siliconflow, openai-compat, or gemini.
	if p, err := pick(g.cfg.ExpandProvider, map[string]any{
		"siliconflow":   nilable(sf),
		"openai-compat": nilable(oa),
		"gemini":        nilable(gm),
	}); err != nil {
		return err
	} else if p != nil {
		g.expandChat = p.(chatter)
	} else if sf != nil {
		g.expandChat = sf
	} else if oa != nil {
		g.expandChat = oa
	} else if gm != nil {
		g.expandChat = gm
	}

	// Rerank: mode decides the adapter kind.
	if g.cfg.RerankMode == RerankModeDedicated {
		if p, err := pick(g.cfg.RerankProvider, map[string]any{
			"siliconflow": nilable(sf),
			"dashscope":   nilable(ds),
		}); err != nil {
			return err
		} else if p != nil {
			g.rerankDed = p.(rerankAPI)
		} else if sf != nil {
			g.rerankDed = sf
		} else if ds != nil {
			g.rerankDed = ds
		}
	} else {
		if p, err := pick(g.cfg.RerankProvider, map[string]any{
			"siliconflow":   nilable(sf),
			"openai-compat": nilable(oa),
			"gemini":        nilable(gm),
		}); err != nil {
			return err
		} else if p != nil {
			g.rerankChat = p.(chatter)
		} else if sf != nil {
			g.rerankChat = sf
		} else if oa != nil {
			g.rerankChat = oa
		} else if gm != nil {
			g.rerankChat = gm
		}
	}
	return nil
}

// nilable hides typed-nil pointers from the any-typed routing table.
func nilable[T comparable](p T) any {
	var zero T
	if p == zero {
		return nil
	}
	return p
}

func (g *Gateway) siliconflow() *siliconflowClient {
	if g.cfg.SiliconFlowKey == "" {
		return nil
	}
	base := g.cfg.SiliconFlowBaseURL
	if base == "" {
		base = defaultSiliconFlowBaseURL
	}
	c := &siliconflowClient{
		t:           g.t,
		baseURL:     base,
		apiKey:      g.cfg.SiliconFlowKey,
		embedModel:  "BAAI/bge-m3",
		chatModel:   "Qwen/Qwen2.5-7B-Instruct",
		rerankModel: "BAAI/bge-reranker-v2-m3",
	}
	if g.cfg.EmbedModel != "" {
		c.embedModel = g.cfg.EmbedModel
	}
	if g.cfg.ChatModel != "" {
		c.chatModel = g.cfg.ChatModel
	}
	if g.cfg.RerankModel != "" {
		c.rerankModel = g.cfg.RerankModel
	}
	return c
}

func (g *Gateway) openai() *openaiClient {
	if g.cfg.OpenAIKey == "" {
		return nil
	}
	base := g.cfg.OpenAIBaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	c := &openaiClient{
		t:          g.t,
		baseURL:    base,
		apiKey:     g.cfg.OpenAIKey,
		embedModel: "text-embedding-3-small",
		chatModel:  "gpt-4o-mini",
	}
	if g.cfg.EmbedModel != "" {
		c.embedModel = g.cfg.EmbedModel
	}
	if g.cfg.ChatModel != "" {
		c.chatModel = g.cfg.ChatModel
	}
	return c
}

func (g *Gateway) gemini() *geminiClient {
	if g.cfg.GeminiKey == "" {
		return nil
	}
	base := g.cfg.GeminiBaseURL
	if base == "" {
		base = defaultGeminiBaseURL
	}
	model := "gemini-2.0-flash"
	if g.cfg.ChatModel != "" {
		model = g.cfg.ChatModel
	}
	return &geminiClient{t: g.t, baseURL: base, apiKey: g.cfg.GeminiKey, model: model}
}

func (g *Gateway) dashscope() *dashscopeClient {
	if g.cfg.DashScopeKey == "" {
		return nil
	}
	base := g.cfg.DashScopeBaseURL
	if base == "" {
		base = defaultDashScopeBaseURL
	}
	model := "gte-rerank-v2"
	if g.cfg.RerankModel != "" {
		model = g.cfg.RerankModel
	}
	return &dashscopeClient{t: g.t, baseURL: base, apiKey: g.cfg.DashScopeKey, model: model}
}

// EmbedAvailable reports whether an embedding provider is configured.
func (g *Gateway) EmbedAvailable() bool { return g.embed != nil }

// RerankAvailable reports whether a rerank provider is configured.
func (g *Gateway) RerankAvailable() bool {
	return g.rerankChat != nil || g.rerankDed != nil
}

// EmbedModelID identifies the embedding model for vector rows.
func (g *Gateway) EmbedModelID() string {
	switch c := g.embed.(type) {
	case *siliconflowClient:
		return c.embedModel
	case *openaiClient:
		return c.embedModel
	default:
		return ""
	}
}

// opTimeout resolves the per-operation timeout.
func (g *Gateway) opTimeout(op Operation) time.Duration {
	if g.cfg.Timeout > 0 {
		return g.cfg.Timeout
	}
	switch op {
	case OpEmbed:
		return DefaultEmbedTimeout
	case OpRerank:
		return DefaultRerankTimeout
	default:
		return DefaultGenerateTimeout
	}
}

// breaker returns the circuit breaker for a provider, creating it on first
// use so a cold start always allows one attempt.
func (g *Gateway) breaker(provider string) *qerrors.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[provider]
	if !ok {
		cb = qerrors.NewProviderCircuitBreaker(provider)
		g.breakers[provider] = cb
	}
	return cb
}

// coolingDown builds the fail-fast error for an open circuit.
func coolingDown(cb *qerrors.CircuitBreaker) error {
	return qerrors.ProviderCoolingDown(cb.Name(), cb.CooldownUntil().Format(time.RFC3339))
}

// embedThrough runs one embed call through the provider's circuit breaker;
// an open circuit fails fast with ProviderCoolingDown.
func (g *Gateway) embedThrough(ctx context.Context, cb *qerrors.CircuitBreaker, texts []string) ([][]float32, error) {
	return qerrors.CircuitExecuteWithResult(cb, func() ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.opTimeout(OpEmbed))
		defer cancel()
		return g.embed.embed(callCtx, texts)
	}, func() ([][]float32, error) {
		return nil, coolingDown(cb)
	})
}

// Embed embeds a batch of texts, one vector per input preserving order.
// On a batch failure each item is retried individually; items that still
// fail map to a nil slot rather than failing the whole batch.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.embed == nil {
		return nil, qerrors.ConfigError("no embedding provider configured", nil)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	cb := g.breaker(g.embed.name())

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.cfg.EmbedBatchSize {
		end := start + g.cfg.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := g.embedThrough(ctx, cb, batch)
		if err == nil {
			out = append(out, vecs...)
			continue
		}
		switch qerrors.GetCode(err) {
		case qerrors.ErrCodeCancelled, qerrors.ErrCodeProviderCoolingDown:
			return nil, err
		}
		slog.Warn("embed batch failed, retrying per item",
			slog.String("provider", g.embed.name()),
			slog.String("error", err.Error()))

		for _, text := range batch {
			vecs, err := g.embedThrough(ctx, cb, []string{text})
			if err != nil && qerrors.GetCode(err) == qerrors.ErrCodeCancelled {
				return nil, err
			}
			if err != nil || len(vecs) == 0 {
				out = append(out, nil)
				continue
			}
			out = append(out, vecs[0])
		}
	}
	return out, nil
}

// EmbedOne embeds a single text. Used for query vectors and the dimension
// probe.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || vecs[0] == nil {
		return nil, qerrors.New(qerrors.ErrCodeEmbeddingFailed, "provider returned no embedding", nil)
	}
	return vecs[0], nil
}

// ProbeDimension embeds a probe text to learn the model's dimension.
func (g *Gateway) ProbeDimension(ctx context.Context) (int, error) {
	vec, err := g.EmbedOne(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}

// ExpandQuery asks the expansion provider for lex/vec/hyde rewrites of the
// query. Best-effort: provider failure, an open circuit, or unparseable
// output all degrade to the deterministic fallback. Never returns an error.
func (g *Gateway) ExpandQuery(ctx context.Context, query, queryContext string, includeLexical bool) []Queryable {
	if g.expandChat == nil {
		return fallbackExpansion(query, includeLexical)
	}
	cb := g.breaker(g.expandChat.name())

	cacheKey := g.cacheKey(OpExpand, g.expandChat.name(), map[string]any{
		"query": query, "context": queryContext,
	})
	if raw, ok := g.cacheGet(cacheKey); ok {
		if qs := parseExpansion(string(raw)); qs != nil {
			return qs
		}
	}

	// Best-effort: an open circuit lands in the fallback branch and
	// degrades deterministically like any other provider failure.
	raw, err := qerrors.CircuitExecuteWithResult(cb, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.opTimeout(OpGenerate))
		defer cancel()
		return g.expandChat.chat(callCtx, expansionSystemPrompt, expansionUserPrompt(query, queryContext))
	}, func() (string, error) {
		return "", coolingDown(cb)
	})
	if err != nil {
		slog.Debug("query expansion degraded to fallback", slog.String("error", err.Error()))
		return fallbackExpansion(query, includeLexical)
	}

	qs := parseExpansion(raw)
	if qs == nil {
		return fallbackExpansion(query, includeLexical)
	}
	g.cachePut(cacheKey, []byte(raw))
	return qs
}

// Rerank reranks candidates. Required operation: an open circuit fails fast
// with a cooling-down error instead of degrading.
func (g *Gateway) Rerank(ctx context.Context, query string, docs []RerankDoc) ([]RerankResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	if g.rerankDed != nil {
		return g.rerankDedicated(ctx, query, docs)
	}
	if g.rerankChat != nil {
		return g.rerankLLM(ctx, query, docs)
	}
	return nil, qerrors.ConfigError("no rerank provider configured", nil)
}

func (g *Gateway) rerankDedicated(ctx context.Context, query string, docs []RerankDoc) ([]RerankResult, error) {
	cb := g.breaker(g.rerankDed.name())

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	hits, err := qerrors.CircuitExecuteWithResult(cb, func() ([]indexScore, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.opTimeout(OpRerank))
		defer cancel()
		// top_n follows the candidate count; it is never a constant.
		return g.rerankDed.rerank(callCtx, query, texts, len(docs))
	}, func() ([]indexScore, error) {
		return nil, coolingDown(cb)
	})
	if err != nil {
		return nil, err
	}

	out := make([]RerankResult, 0, len(hits))
	for _, h := range hits {
		if h.Index < 0 || h.Index >= len(docs) {
			continue
		}
		out = append(out, RerankResult{ID: docs[h.Index].ID, Score: h.Score})
	}
	return out, nil
}

func (g *Gateway) rerankLLM(ctx context.Context, query string, docs []RerankDoc) ([]RerankResult, error) {
	cb := g.breaker(g.rerankChat.name())

	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s\n\n", i, d.Text)
	}
	prompt := renderPrompt(rerankPrompt(g.cfg.ConfigDir), query, strings.TrimRight(b.String(), "\n"))

	raw, err := qerrors.CircuitExecuteWithResult(cb, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.opTimeout(OpRerank))
		defer cancel()
		return g.rerankChat.chat(callCtx, prompt, query)
	}, func() (string, error) {
		return "", coolingDown(cb)
	})
	if err != nil {
		return nil, err
	}
	return parseLLMRerank(raw, docs), nil
}

// PurgeCache drops every cached response.
func (g *Gateway) PurgeCache() {
	if g.cache != nil {
		g.cache.Purge()
	}
}

// cacheKey builds a stable key: canonical JSON (encoding/json sorts map
// keys) over operation, provider, and inputs.
func (g *Gateway) cacheKey(op Operation, provider string, inputs map[string]any) string {
	payload, err := json.Marshal(map[string]any{
		"op":       string(op),
		"provider": provider,
		"inputs":   inputs,
	})
	if err != nil {
		return ""
	}
	return string(payload)
}

func (g *Gateway) cacheGet(key string) ([]byte, bool) {
	if g.cache == nil || key == "" {
		return nil, false
	}
	return g.cache.Get(key)
}

func (g *Gateway) cachePut(key string, val []byte) {
	if g.cache != nil && key != "" {
		g.cache.Add(key, val)
	}
}
