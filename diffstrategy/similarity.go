package diffstrategy

import (
	"strings"

	"github.com/rivo/uniseg"
)

// graphemes splits s into extended grapheme clusters.
func graphemes(s string) []string {
	out := make([]string, 0, len(s))
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		out = append(out, g.Str())
	}
	return out
}

// isGraphemeBoundary reports whether byte offset i in s falls between two
// grapheme clusters (or at either end of s).
func isGraphemeBoundary(s string, i int) bool {
	if i <= 0 || i >= len(s) {
		return true
	}
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		from, to := g.Positions()
		if from == i || to == i {
			return true
		}
		if from > i {
			return false
		}
	}
	return false
}

var quoteReplacer = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"\u00a0", " ",
)

// normalizeForFuzzy removes differences a model commonly introduces when
// quoting code back: trailing whitespace and typographic quotes.
func normalizeForFuzzy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(quoteReplacer.Replace(l), " \t\r")
	}
	return strings.Join(lines, "\n")
}

// similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)) measured
// in grapheme clusters of the normalized inputs. Identical inputs score 1.
func similarity(a, b string) float64 {
	a, b = normalizeForFuzzy(a), normalizeForFuzzy(b)
	if a == b {
		return 1
	}
	ga, gb := graphemes(a), graphemes(b)
	longest := max(len(ga), len(gb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ga, gb))/float64(longest)
}

// similarityBound is an upper bound on similarity from grapheme counts
// alone, used to skip windows that cannot reach the threshold.
func similarityBound(a, b int) float64 {
	longest := max(a, b)
	if longest == 0 {
		return 1
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return 1 - float64(diff)/float64(longest)
}

func graphemeCount(s string) int {
	return uniseg.GraphemeClusterCount(normalizeForFuzzy(s))
}

func levenshtein(a, b []string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
