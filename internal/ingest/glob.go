package ingest

import (
	"path"
	"strings"
)

// DefaultGlob matches the Markdown corpus a collection indexes by default.
const DefaultGlob = "**/*.md"

// MatchGlob matches a slash-separated relative path against a glob that may
// contain "**" (any number of path segments), "*", and "?". Segment
// wildcards never cross a "/" boundary.
func MatchGlob(pattern, rel string) bool {
	if pattern == "" {
		pattern = DefaultGlob
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			// "**" matches zero or more leading segments.
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat[1:], segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		ok, err := path.Match(pat[0], segs[0])
		if err != nil || !ok {
			return false
		}
		pat = pat[1:]
		segs = segs[1:]
	}
	return len(segs) == 0
}
