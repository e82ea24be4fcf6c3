package llm

import (
	"os"
	"path/filepath"
	"strings"
)

// expansionSystemPrompt is fixed: three labeled lines, no prose. The parser
// tolerates case and unknown lines, but the prompt asks for exactly this.
const expansionSystemPrompt = `You rewrite search queries for a hybrid search engine over personal Markdown notes.
Output exactly three lines and nothing else:
lex: <keywords for full-text search>
vec: <a rephrased semantic query>
hyde: <a short hypothetical passage that would answer the query>`

// defaultRerankPrompt is the embedded LLM-as-reranker prompt. A file at
// <config_dir>/rerank-prompt.txt replaces it verbatim.
const defaultRerankPrompt = `You are a search relevance judge. The user query is:

{{query}}

Below are numbered candidate passages:

{{documents}}

For each passage that is relevant to the query, output one line of the form
[i] <the exact sentence or span from passage i that answers the query>
ordered from most to least relevant. Do not output anything else.
If no passage is relevant, output the single word NONE.`

// rerankPromptFile is the override filename inside the config directory.
const rerankPromptFile = "rerank-prompt.txt"

// rerankPrompt returns the reranker prompt template, preferring the user
// override in configDir when present and non-empty.
func rerankPrompt(configDir string) string {
	if configDir != "" {
		if data, err := os.ReadFile(filepath.Join(configDir, rerankPromptFile)); err == nil {
			if s := strings.TrimSpace(string(data)); s != "" {
				return string(data)
			}
		}
	}
	return defaultRerankPrompt
}

// renderPrompt substitutes the {{query}} and {{documents}} placeholders
// literally.
func renderPrompt(template, query, documents string) string {
	out := strings.ReplaceAll(template, "{{query}}", query)
	return strings.ReplaceAll(out, "{{documents}}", documents)
}

// expansionUserPrompt builds the expansion request, attaching caller
// context when provided.
func expansionUserPrompt(query, queryContext string) string {
	if queryContext == "" {
		return query
	}
	return "Context: " + queryContext + "\n\nQuery: " + query
}
