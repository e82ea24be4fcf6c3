package search

import (
	"context"
	"strings"
	"time"

	"github.com/uf-hy/qmdr/internal/chunk"
	"github.com/uf-hy/qmdr/internal/ingest"
	"github.com/uf-hy/qmdr/internal/store"
)

// DocumentView is a fetched document with its body.
type DocumentView struct {
	File  string
	Title string
	Docid string
	Body  string
}

// Get resolves a file reference and returns the document with its body.
// Accepted forms: "qmd://collection/path", "collection/path", and
// "#docid". Returns nil when nothing matches.
func (e *Engine) Get(ctx context.Context, ref string) (*DocumentView, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}

	if strings.HasPrefix(ref, "#") {
		doc, err := e.store.ResolveDocID(ctx, ref)
		if err != nil || doc == nil {
			return nil, err
		}
		return e.view(ctx, doc)
	}

	ref = strings.TrimPrefix(ref, "qmd://")
	collection, path, ok := strings.Cut(ref, "/")
	if !ok {
		return nil, nil
	}
	doc, err := e.store.FindActiveDocument(ctx, collection, path)
	if err != nil || doc == nil {
		return nil, err
	}
	return e.view(ctx, doc)
}

// MultiGet fetches every active document whose "collection/path" matches
// the pattern: a glob (with ** support) or a comma-separated list of
// refs/globs. maxBytes bounds the total body size returned; 0 means no
// bound.
func (e *Engine) MultiGet(ctx context.Context, pattern string, maxBytes int) ([]*DocumentView, error) {
	patterns := strings.Split(pattern, ",")
	for i := range patterns {
		patterns[i] = strings.TrimPrefix(strings.TrimSpace(patterns[i]), "qmd://")
	}

	docs, err := e.store.ListDocuments(ctx, "", "")
	if err != nil {
		return nil, err
	}

	var out []*DocumentView
	total := 0
	for _, doc := range docs {
		file := doc.Collection + "/" + doc.Path
		matched := false
		for _, p := range patterns {
			if p == "" {
				continue
			}
			if p == file || ingest.MatchGlob(p, file) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		v, err := e.view(ctx, doc)
		if err != nil {
			return nil, err
		}
		if maxBytes > 0 && total+len(v.Body) > maxBytes {
			break
		}
		total += len(v.Body)
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) view(ctx context.Context, doc *store.Document) (*DocumentView, error) {
	body, err := e.store.GetBody(ctx, doc.Hash)
	if err != nil {
		return nil, err
	}
	return &DocumentView{
		File:  doc.Collection + "/" + doc.Path,
		Title: doc.Title,
		Docid: chunk.DocID(doc.Hash),
		Body:  body,
	}, nil
}

// List returns active documents under a "collection[/prefix]" virtual
// path; an empty ref lists everything.
func (e *Engine) List(ctx context.Context, ref string) ([]*store.Document, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "qmd://")
	if ref == "" {
		return e.store.ListDocuments(ctx, "", "")
	}
	collection, prefix, _ := strings.Cut(ref, "/")
	return e.store.ListDocuments(ctx, collection, prefix)
}

// Health reports index staleness for status surfaces.
func (e *Engine) Health(ctx context.Context) (store.IndexHealth, error) {
	model := ""
	if e.gw != nil {
		model = e.gw.EmbedModelID()
	}
	if model == "" {
		model = e.store.VectorModel()
	}
	return e.store.GetIndexHealth(ctx, model, time.Now())
}
