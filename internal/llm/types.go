// Package llm is the remote LLM backplane: provider-agnostic access to
// embedding, query expansion, and reranking over HTTP, with per-operation
// timeouts, retry with backoff, and a per-provider circuit breaker.
package llm

import (
	"context"
	"time"
)

// Operation names an outbound call kind. Timeouts and provider routing are
// resolved per operation.
type Operation string

const (
	OpEmbed    Operation = "embed"
	OpExpand   Operation = "expand"
	OpRerank   Operation = "rerank"
	OpGenerate Operation = "generate"
)

// Default per-operation timeouts. Overridable via QMD_TIMEOUT_MS or a
// call-site option.
const (
	DefaultEmbedTimeout    = 30 * time.Second
	DefaultRerankTimeout   = 15 * time.Second
	DefaultGenerateTimeout = 60 * time.Second
)

// DefaultEmbedBatchSize bounds one embedding request.
const DefaultEmbedBatchSize = 32

// QueryType tags one expanded queryable.
type QueryType string

const (
	QueryLex  QueryType = "lex"
	QueryVec  QueryType = "vec"
	QueryHyde QueryType = "hyde"
)

// Queryable is one expansion output: a lexical query, a semantic query, or
// a hypothetical document (HyDE).
type Queryable struct {
	Type QueryType
	Text string
}

// RerankDoc is one rerank candidate, keyed by the caller's identifier.
type RerankDoc struct {
	ID   string
	Text string
}

// RerankResult is one reranked candidate. Extract is non-empty only in
// LLM-as-reranker mode, where the model returns the relevant span verbatim.
type RerankResult struct {
	ID      string
	Score   float64
	Extract string
}

// RerankMode selects between the chat-based LLM reranker and a provider's
// dedicated rerank endpoint.
type RerankMode string

const (
	RerankModeLLM       RerankMode = "llm"
	RerankModeDedicated RerankMode = "rerank"
)

// embedder is a provider that can embed a batch of texts, one vector per
// input, preserving order.
type embedder interface {
	name() string
	embed(ctx context.Context, texts []string) ([][]float32, error)
}

// chatter is a provider that can answer a single-turn chat request.
// Query expansion and the LLM-as-reranker run on top of this.
type chatter interface {
	name() string
	chat(ctx context.Context, system, user string) (string, error)
}

// rerankAPI is a provider with a dedicated rerank endpoint.
type rerankAPI interface {
	name() string
	rerank(ctx context.Context, query string, documents []string, topN int) ([]indexScore, error)
}

// indexScore is a dedicated-rerank hit: candidate index plus score.
type indexScore struct {
	Index int
	Score float64
}
