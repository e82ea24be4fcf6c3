// Package mcp exposes the search engine to MCP hosts as the qmd_* tool
// suite. Each tool is a thin adapter over the retrieval and store APIs.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/uf-hy/qmdr/internal/search"
	"github.com/uf-hy/qmdr/internal/store"
	"github.com/uf-hy/qmdr/pkg/version"
)

// Server bridges MCP hosts to the search engine.
type Server struct {
	mcp    *mcp.Server
	engine *search.Engine
	store  *store.Store
}

// NewServer creates the MCP server and registers the tool suite.
func NewServer(engine *search.Engine, st *store.Store) (*Server, error) {
	if engine == nil || st == nil {
		return nil, fmt.Errorf("engine and store are required")
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{Name: "qmd", Version: version.Short()},
			nil,
		),
		engine: engine,
		store:  st,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "qmd_search",
		Description: "Fast BM25 full-text search over indexed Markdown collections. Use for keyword lookups.",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "qmd_vector_search",
		Description: "Semantic similarity search over indexed Markdown collections. Use when keywords are unknown.",
	}, s.vectorSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "qmd_deep_search",
		Description: "Full hybrid pipeline: query expansion, BM25 + vector retrieval, fusion, and LLM reranking. Best quality, slower.",
	}, s.deepSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "qmd_get",
		Description: "Fetch one document by qmd://collection/path, collection/path, or #docid.",
	}, s.getHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "qmd_multi_get",
		Description: "Fetch documents matching a glob or comma-separated list of file references.",
	}, s.multiGetHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "qmd_status",
		Description: "Report index health: document counts, embedding backlog, and staleness.",
	}, s.statusHandler)

	slog.Debug("mcp tools registered", slog.Int("count", 6))
}

// Run serves MCP over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func searchOptions(limit int, minScore float64, collections []string) search.Options {
	opts := search.Options{Limit: 10, MinScore: minScore, Collections: collections}
	if limit > 0 {
		opts.Limit = limit
	}
	return opts
}

func toOutput(results []*search.Result) SearchOutput {
	out := SearchOutput{Results: make([]ResultOutput, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, ResultOutput{
			Docid: r.Docid, Score: r.Score, File: r.File, Title: r.Title,
			Context: r.Context, AlsoIn: r.AlsoIn, Snippet: r.Snippet, Body: r.Body,
		})
	}
	return out
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, fmt.Errorf("query parameter is required")
	}
	results, err := s.engine.Search(ctx, input.Query, searchOptions(input.Limit, input.MinScore, input.Collections))
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, toOutput(results), nil
}

func (s *Server) vectorSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, fmt.Errorf("query parameter is required")
	}
	results, err := s.engine.VectorSearch(ctx, input.Query, searchOptions(input.Limit, input.MinScore, input.Collections))
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, toOutput(results), nil
}

func (s *Server) deepSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input DeepSearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, fmt.Errorf("query parameter is required")
	}
	opts := searchOptions(input.Limit, input.MinScore, input.Collections)
	opts.Context = input.Context
	results, err := s.engine.Query(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, toOutput(results), nil
}

func (s *Server) getHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, GetOutput, error) {
	if input.File == "" {
		return nil, GetOutput{}, fmt.Errorf("file parameter is required")
	}
	v, err := s.engine.Get(ctx, input.File)
	if err != nil {
		return nil, GetOutput{}, err
	}
	if v == nil {
		return nil, GetOutput{}, fmt.Errorf("document not found: %s", input.File)
	}
	return nil, GetOutput{File: v.File, Title: v.Title, Docid: v.Docid, Body: v.Body}, nil
}

func (s *Server) multiGetHandler(ctx context.Context, _ *mcp.CallToolRequest, input MultiGetInput) (*mcp.CallToolResult, MultiGetOutput, error) {
	if input.Pattern == "" {
		return nil, MultiGetOutput{}, fmt.Errorf("pattern parameter is required")
	}
	views, err := s.engine.MultiGet(ctx, input.Pattern, input.MaxBytes)
	if err != nil {
		return nil, MultiGetOutput{}, err
	}
	out := MultiGetOutput{Documents: make([]GetOutput, 0, len(views))}
	for _, v := range views {
		out.Documents = append(out.Documents, GetOutput{File: v.File, Title: v.Title, Docid: v.Docid, Body: v.Body})
	}
	return nil, out, nil
}

func (s *Server) statusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	health, err := s.engine.Health(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	collections, err := s.store.ActiveCollections(ctx)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{
		Collections:     collections,
		TotalDocs:       health.TotalDocs,
		NeedsEmbedding:  health.NeedsEmbedding,
		DaysStale:       health.DaysStale,
		VectorAvailable: s.store.VectorAvailable(),
	}, nil
}
