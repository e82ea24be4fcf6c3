package search

import "strings"

// nearDuplicateThreshold is the Jaccard bigram similarity at or above which
// two result bodies count as the same content.
const nearDuplicateThreshold = 0.90

// dedupText is what near-duplicate detection compares: the full document
// content when known, else the returned body.
func dedupText(r *Result) string {
	if r.content != "" {
		return r.content
	}
	return r.Body
}

// charBigrams returns the set of character bigrams of whitespace-normalized
// text.
func charBigrams(text string) map[string]struct{} {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	runes := []rune(norm)
	set := make(map[string]struct{}, len(runes))
	for i := 0; i+2 <= len(runes); i++ {
		set[string(runes[i:i+2])] = struct{}{}
	}
	return set
}

// jaccardBigram computes Jaccard similarity over character bigrams.
func jaccardBigram(a, b string) float64 {
	sa := charBigrams(a)
	sb := charBigrams(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0.0
	}

	inter := 0
	for g := range sa {
		if _, ok := sb[g]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// dedupeResults removes exact docid duplicates, then merges near-identical
// content (Jaccard bigram similarity >= 0.90). The higher-scored result
// survives and records the duplicate's file under AlsoIn. Input order is
// score-descending and is preserved.
func dedupeResults(results []*Result) []*Result {
	var out []*Result
	byDocid := make(map[string]*Result)

	for _, r := range results {
		if r.Docid != "" {
			if kept, dup := byDocid[r.Docid]; dup {
				if kept.File != r.File {
					kept.AlsoIn = append(kept.AlsoIn, r.File)
				}
				continue
			}
		}

		merged := false
		for _, kept := range out {
			if jaccardBigram(dedupText(kept), dedupText(r)) >= nearDuplicateThreshold {
				// Input is score-ordered, so kept already has the higher
				// score.
				kept.AlsoIn = append(kept.AlsoIn, r.File)
				merged = true
				break
			}
		}
		if merged {
			continue
		}

		if r.Docid != "" {
			byDocid[r.Docid] = r
		}
		out = append(out, r)
	}
	return out
}
