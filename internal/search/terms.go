package search

import (
	"sort"
	"strings"
	"unicode"

	"github.com/uf-hy/qmdr/internal/chunk"
)

// extractTerms builds the fast term-match vocabulary for chunk selection.
// The query is lowercased and split on whitespace; CJK words contribute
// trigrams (plus the word itself when shorter than three runes), other
// words survive only above two characters. The whole lowercased query is
// always included as a phrase term.
func extractTerms(query string) []string {
	lower := strings.ToLower(strings.TrimSpace(query))
	if lower == "" {
		return nil
	}

	seen := map[string]struct{}{lower: {}}
	terms := []string{lower}
	for _, word := range strings.Fields(lower) {
		if isCJK(word) {
			runes := []rune(word)
			if len(runes) < 3 {
				if _, dup := seen[word]; !dup {
					seen[word] = struct{}{}
					terms = append(terms, word)
				}
				continue
			}
			for i := 0; i+3 <= len(runes); i++ {
				tri := string(runes[i : i+3])
				if _, dup := seen[tri]; !dup {
					seen[tri] = struct{}{}
					terms = append(terms, tri)
				}
			}
			continue
		}
		if len(word) > 2 {
			if _, dup := seen[word]; !dup {
				seen[word] = struct{}{}
				terms = append(terms, word)
			}
		}
	}
	return terms
}

// isCJK reports whether a word is predominantly CJK.
func isCJK(word string) bool {
	for _, r := range word {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

// scoredChunk is one retrieval chunk with its term-match score and ordinal.
type scoredChunk struct {
	Index int
	Text  string
	Pos   int
	Score int
}

// selectChunks splits a body into retrieval chunks, scores each by term
// occurrence counts, and returns the top n in score order (ties by
// position, earlier first).
func selectChunks(body, query string, n int) []scoredChunk {
	if n <= 0 {
		return nil
	}
	terms := extractTerms(query)
	chunks := chunk.ForContext(body)
	if len(chunks) == 0 {
		return nil
	}

	scored := make([]scoredChunk, 0, len(chunks))
	for i, c := range chunks {
		lower := strings.ToLower(c.Text)
		score := 0
		for _, term := range terms {
			score += strings.Count(lower, term)
		}
		scored = append(scored, scoredChunk{Index: i, Text: c.Text, Pos: c.Pos, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Pos < scored[j].Pos
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}
