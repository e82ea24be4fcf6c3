// Package chunk provides deterministic content hashing and chunking for
// Markdown bodies. Chunking is pure: the same input always yields the same
// chunks, so chunk boundaries can be recomputed at query time without
// storing them.
package chunk

// Token estimation constants.
const (
	// TokensPerChar approximates tokens from character count.
	// Locked approximation: no provider tokenizer is available locally, and
	// 4 chars/token is stable across the embedding model families in use.
	TokensPerChar = 4

	// DefaultMaxChunkTokens is the token budget for an embedding-time chunk.
	DefaultMaxChunkTokens = 200

	// DefaultOverlapTokens is the token overlap between adjacent
	// embedding-time chunks.
	DefaultOverlapTokens = 40

	// DefaultContextChunkChars bounds a retrieval-time context chunk.
	DefaultContextChunkChars = 1200
)

// Chunk is a contiguous span of a document body.
// Pos is the byte offset of the chunk start within the body.
type Chunk struct {
	Text   string
	Pos    int
	Tokens int
}

// estimateTokens approximates the token count of text.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / TokensPerChar
	if n == 0 {
		n = 1
	}
	return n
}
