package llm

import (
	"regexp"
	"strconv"
	"strings"
)

// parseExpansion reads the model's three-line expansion output tolerantly:
// case-insensitive "lex:"/"vec:"/"hyde:" prefixes, unknown lines ignored.
// Returns nil when nothing usable was produced.
func parseExpansion(raw string) []Queryable {
	var out []Queryable
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		var typ QueryType
		switch {
		case strings.HasPrefix(lower, "lex:"):
			typ = QueryLex
		case strings.HasPrefix(lower, "vec:"):
			typ = QueryVec
		case strings.HasPrefix(lower, "hyde:"):
			typ = QueryHyde
		default:
			continue
		}
		text := strings.TrimSpace(line[len(typ)+1:])
		if text != "" {
			out = append(out, Queryable{Type: typ, Text: text})
		}
	}
	return out
}

// fallbackExpansion is the deterministic expansion used when the provider
// fails, the circuit is open, or the response could not be parsed.
func fallbackExpansion(query string, includeLexical bool) []Queryable {
	out := []Queryable{
		{Type: QueryVec, Text: query},
		{Type: QueryHyde, Text: "Information about " + query},
	}
	if includeLexical {
		out = append(out, Queryable{Type: QueryLex, Text: query})
	}
	return out
}

// extractLinePattern matches one LLM-reranker output line: "[i] extract".
var extractLinePattern = regexp.MustCompile(`^\[(\d+)\]\s*(.*)`)

// llmRerankScoreStep is the synthetic score decrement between consecutive
// ranks in LLM-as-reranker mode; ordering is the model's, scores are ours.
const llmRerankScoreStep = 0.05

// parseLLMRerank reads the reranker's plain-text output. Lines matching
// "[i] extract" become results in the model's order with descending
// synthetic scores 1.0 - rank*0.05; out-of-range indices are dropped; the
// literal NONE (or no matching lines) yields an empty result.
func parseLLMRerank(raw string, docs []RerankDoc) []RerankResult {
	var out []RerankResult
	seen := make(map[int]struct{})
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		m := extractLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(docs) {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}

		score := 1.0 - float64(len(out))*llmRerankScoreStep
		if score < 0 {
			score = 0
		}
		out = append(out, RerankResult{
			ID:      docs[idx].ID,
			Score:   score,
			Extract: strings.TrimSpace(m[2]),
		})
	}
	return out
}
