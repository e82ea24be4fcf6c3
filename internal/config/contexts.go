package config

import "strings"

// ResolveContext returns the annotation for a document, most specific
// first: exact path, nearest ancestor prefix, collection root, then the
// global "/" context. Returns "" when nothing applies.
func (c *Config) ResolveContext(collection, path string) string {
	var (
		bestPrefix    string
		bestPrefixLen = -1
		collectionCtx string
		globalCtx     string
	)

	for _, ctx := range c.Contexts {
		switch {
		case ctx.Collection == "" && (ctx.Path == "/" || ctx.Path == ""):
			globalCtx = ctx.Text
		case ctx.Collection != collection:
			continue
		case ctx.Path == "" || ctx.Path == "/":
			collectionCtx = ctx.Text
		case ctx.Path == path:
			return ctx.Text
		default:
			prefix := strings.TrimSuffix(ctx.Path, "/")
			if strings.HasPrefix(path, prefix+"/") && len(prefix) > bestPrefixLen {
				bestPrefix = ctx.Text
				bestPrefixLen = len(prefix)
			}
		}
	}

	if bestPrefixLen >= 0 {
		return bestPrefix
	}
	if collectionCtx != "" {
		return collectionCtx
	}
	return globalCtx
}

// SetContext adds or replaces the context at (collection, path).
func (c *Config) SetContext(collection, path, text string) {
	for i := range c.Contexts {
		if c.Contexts[i].Collection == collection && c.Contexts[i].Path == path {
			c.Contexts[i].Text = text
			return
		}
	}
	c.Contexts = append(c.Contexts, Context{Collection: collection, Path: path, Text: text})
}

// RemoveContext deletes the context at (collection, path). Returns whether
// one existed.
func (c *Config) RemoveContext(collection, path string) bool {
	for i := range c.Contexts {
		if c.Contexts[i].Collection == collection && c.Contexts[i].Path == path {
			c.Contexts = append(c.Contexts[:i], c.Contexts[i+1:]...)
			return true
		}
	}
	return false
}
