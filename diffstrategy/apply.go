package diffstrategy

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// MatchKind records how a block's search text was located.
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchTrimmed   MatchKind = "trimmed" // equal after trimming trailing whitespace
	MatchSubstring MatchKind = "substring"
	MatchFuzzy     MatchKind = "fuzzy"
)

// Options tunes how search text is located.
type Options struct {
	// FuzzyThreshold is the minimum similarity in [0,1] a fuzzy match must
	// reach. 1 (or any value <= 0) disables fuzzy matching.
	FuzzyThreshold float64

	// BufferLines widens the window searched around a :start_line: hint.
	BufferLines int

	// AllowPlaceholders accepts replace text that introduces placeholder
	// comments such as "// rest of code unchanged".
	AllowPlaceholders bool
}

// DefaultOptions returns exact matching with a 40 line hint window.
func DefaultOptions() Options {
	return Options{FuzzyThreshold: 1.0, BufferLines: 40}
}

func (o Options) withDefaults() Options {
	if o.FuzzyThreshold <= 0 || o.FuzzyThreshold > 1 {
		o.FuzzyThreshold = 1.0
	}
	if o.BufferLines <= 0 {
		o.BufferLines = 40
	}
	return o
}

// Match describes where one block was applied. Lines are 1-based and
// refer to the content the block was applied to.
type Match struct {
	Block     int
	StartLine int
	EndLine   int
	Kind      MatchKind
	Score     float64
}

// Result is the outcome of a successful Apply.
type Result struct {
	Content string
	Matches []Match
}

// BlockError reports the block that stopped an Apply. Nothing is applied
// when it is returned.
type BlockError struct {
	Index     int // 1-based block number
	Reason    string
	BestScore float64
	BestLine  int
	BestMatch string
	Threshold float64

	// Err is the underlying cause, such as an *OmissionError.
	Err error
}

func (e *BlockError) Error() string {
	msg := fmt.Sprintf("block %d: %s", e.Index, e.Reason)
	if e.BestLine > 0 {
		msg += fmt.Sprintf(" (best match %.0f%% similar at line %d, need %.0f%%)",
			math.Floor(e.BestScore*100), e.BestLine, e.Threshold*100)
		if e.BestMatch != "" {
			msg += "\nbest match:\n" + preview(e.BestMatch, 8)
		}
	}
	return msg
}

func (e *BlockError) Unwrap() error { return e.Err }

func preview(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "...")
	}
	return strings.Join(lines, "\n")
}

// Apply parses diff and applies its blocks to original in order. Either
// every block applies or an error is returned and original is untouched.
func Apply(original, diff string, opts Options) (*Result, error) {
	blocks, err := ParseBlocks(diff)
	if err != nil {
		return nil, err
	}
	return ApplyBlocks(original, blocks, opts)
}

// ApplyBlocks applies already parsed blocks. Each block is located in the
// content produced by the blocks before it.
func ApplyBlocks(original string, blocks []Block, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	crlf := usesCRLF(original)
	text := original
	if crlf {
		text = strings.ReplaceAll(original, "\r\n", "\n")
	}

	res := &Result{}
	changed := false
	for i, b := range blocks {
		search := strings.ReplaceAll(b.Search, "\r\n", "\n")
		replace := strings.ReplaceAll(b.Replace, "\r\n", "\n")

		if !opts.AllowPlaceholders {
			if marker, found := DetectCodeOmission(search, replace); found {
				return nil, &BlockError{
					Index:  i + 1,
					Reason: fmt.Sprintf("replace text contains the placeholder %q, which would delete the code it stands for; provide the complete replacement", marker),
					Err:    &OmissionError{Marker: marker},
				}
			}
		}

		sp, berr := locate(text, search, b.StartLine, opts)
		if berr != nil {
			berr.Index = i + 1
			berr.Threshold = opts.FuzzyThreshold
			return nil, berr
		}
		res.Matches = append(res.Matches, Match{
			Block:     i + 1,
			StartLine: sp.firstLine + 1,
			EndLine:   sp.lastLine + 1,
			Kind:      sp.kind,
			Score:     sp.score,
		})

		if search == replace {
			continue
		}
		text = splice(text, sp, replace)
		changed = true
	}

	if !changed {
		res.Content = original
		return res, nil
	}
	if crlf {
		text = strings.ReplaceAll(text, "\n", "\r\n")
	}
	res.Content = text
	return res, nil
}

// usesCRLF reports whether every line break in s is CRLF.
func usesCRLF(s string) bool {
	n := strings.Count(s, "\n")
	return n > 0 && strings.Count(s, "\r\n") == n
}

// span is a located region of text. For line matches start and end cover
// whole lines without the final line break.
type span struct {
	start, end          int
	firstLine, lastLine int // 0-based
	lineBased           bool
	kind                MatchKind
	score               float64
	matchedIndent       string
	searchIndent        string
}

func splice(text string, sp *span, replace string) string {
	if !sp.lineBased {
		return text[:sp.start] + replace + text[sp.end:]
	}
	if sp.kind == MatchFuzzy && sp.matchedIndent != sp.searchIndent {
		replace = reindent(replace, sp.searchIndent, sp.matchedIndent)
	}
	start, end := sp.start, sp.end
	if replace == "" {
		// Remove the lines together with one adjoining line break.
		switch {
		case strings.HasPrefix(text[end:], "\r\n"):
			end += 2
		case end < len(text):
			end++
		case start > 0:
			start--
			if start > 0 && text[start-1] == '\r' {
				start--
			}
		}
		return text[:start] + text[end:]
	}
	if region := text[start:end]; strings.Contains(region, "\r\n") &&
		strings.Count(region, "\r\n") == strings.Count(region, "\n") && !strings.Contains(replace, "\r") {
		replace = strings.ReplaceAll(replace, "\n", "\r\n")
	}
	return text[:start] + replace + text[end:]
}

func reindent(s, from, to string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, from) {
			lines[i] = to + strings.TrimPrefix(l, from)
		}
	}
	return strings.Join(lines, "\n")
}

func leadingIndent(lines []string) string {
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		return l[:len(l)-len(strings.TrimLeft(l, " \t"))]
	}
	return ""
}

// fuzzyBudget caps the grapheme comparisons one locate call may spend on
// similarity scoring, fuzzy matching and the best-match report together.
const fuzzyBudget = 10_000_000

// locate finds the single region search refers to. A start line hint
// restricts the first attempt to a window around it.
func locate(text, search string, hint int, opts Options) (*span, *BlockError) {
	lines := strings.Split(text, "\n")
	want := strings.Split(search, "\n")
	anchor := hint - 1
	fuzzy := opts.FuzzyThreshold < 1
	best := fuzzyState{line: -1, budget: fuzzyBudget}

	if hint > 0 {
		lo := max(0, anchor-opts.BufferLines)
		hi := min(len(lines), anchor+len(want)+opts.BufferLines)
		if sp, err := findLines(lines, want, lo, hi, anchor); sp != nil || err != nil {
			return sp, err
		}
		if fuzzy {
			if sp, err := findFuzzy(lines, want, search, lo, hi, anchor, opts.FuzzyThreshold, &best); sp != nil || err != nil {
				return sp, err
			}
		}
	}

	if sp, err := findLines(lines, want, 0, len(lines), anchor); sp != nil || err != nil {
		return sp, err
	}
	if sp, err := findSubstring(text, search); sp != nil || err != nil {
		return sp, err
	}
	if fuzzy {
		if sp, err := findFuzzy(lines, want, search, 0, len(lines), anchor, opts.FuzzyThreshold, &best); sp != nil || err != nil {
			return sp, err
		}
	} else {
		findFuzzy(lines, want, search, 0, len(lines), anchor, 2, &best)
	}

	berr := &BlockError{Reason: "search text not found"}
	if best.line >= 0 && best.score > 0 {
		berr.BestScore = best.score
		berr.BestLine = best.line + 1
		berr.BestMatch = best.text
	}
	return nil, berr
}

// lineSpan converts the line range [first, first+n) into byte offsets.
func lineSpan(lines []string, first, n int, kind MatchKind, score float64) *span {
	start := 0
	for i := 0; i < first; i++ {
		start += len(lines[i]) + 1
	}
	end := start
	for i := first; i < first+n; i++ {
		end += len(lines[i]) + 1
	}
	end-- // drop the final line break
	if strings.HasSuffix(lines[first+n-1], "\r") {
		end-- // and the carriage return before it
	}
	return &span{
		start: start, end: end,
		firstLine: first, lastLine: first + n - 1,
		lineBased: true, kind: kind, score: score,
	}
}

// pick chooses one of several candidate starts. With an anchor the unique
// closest candidate wins; otherwise several candidates are ambiguous.
func pick(cands []int, anchor int) (int, bool) {
	if len(cands) == 1 {
		return cands[0], true
	}
	if anchor < 0 || len(cands) == 0 {
		return 0, false
	}
	bestIdx, bestDist, tie := -1, math.MaxInt, false
	for _, c := range cands {
		d := c - anchor
		if d < 0 {
			d = -d
		}
		switch {
		case d < bestDist:
			bestIdx, bestDist, tie = c, d, false
		case d == bestDist:
			tie = true
		}
	}
	return bestIdx, !tie
}

func ambiguous(cands []int) *BlockError {
	nums := make([]string, len(cands))
	for i, c := range cands {
		nums[i] = fmt.Sprintf("%d", c+1)
	}
	return &BlockError{Reason: fmt.Sprintf(
		"search text matches %d locations (lines %s); include more surrounding lines or a :start_line: hint",
		len(cands), strings.Join(nums, ", "))}
}

func findLines(lines, want []string, lo, hi, anchor int) (*span, *BlockError) {
	passes := []struct {
		kind MatchKind
		eq   func(a, b string) bool
	}{
		{MatchExact, func(a, b string) bool { return a == b }},
		{MatchTrimmed, func(a, b string) bool {
			return strings.TrimRight(a, " \t\r") == strings.TrimRight(b, " \t\r")
		}},
	}
	for _, pass := range passes {
		cands := findConsecutive(lines, want, lo, hi, pass.eq)
		if len(cands) == 0 {
			continue
		}
		first, ok := pick(cands, anchor)
		if !ok {
			return nil, ambiguous(cands)
		}
		return lineSpan(lines, first, len(want), pass.kind, 1), nil
	}
	return nil, nil
}

func findConsecutive(lines, want []string, lo, hi int, eq func(string, string) bool) []int {
	var matches []int
	for i := lo; i+len(want) <= hi; i++ {
		found := true
		for j, w := range want {
			if !eq(lines[i+j], w) {
				found = false
				break
			}
		}
		if found {
			matches = append(matches, i)
		}
	}
	return matches
}

// findSubstring matches search inside lines. Occurrences that would start
// or end inside a grapheme cluster are ignored.
func findSubstring(text, search string) (*span, *BlockError) {
	var cands []int
	for from := 0; from <= len(text); {
		idx := strings.Index(text[from:], search)
		if idx < 0 {
			break
		}
		pos := from + idx
		if isGraphemeBoundary(text, pos) && isGraphemeBoundary(text, pos+len(search)) {
			cands = append(cands, pos)
		}
		from = pos + 1
	}
	switch len(cands) {
	case 0:
		return nil, nil
	case 1:
		pos := cands[0]
		first := strings.Count(text[:pos], "\n")
		return &span{
			start: pos, end: pos + len(search),
			firstLine: first, lastLine: first + strings.Count(search, "\n"),
			kind: MatchSubstring, score: 1,
		}, nil
	}
	lineNums := make([]int, len(cands))
	for i, c := range cands {
		lineNums[i] = strings.Count(text[:c], "\n")
	}
	return nil, ambiguous(lineNums)
}

// fuzzyState carries the best window seen so far, for diagnostics, and
// the comparisons left to spend.
type fuzzyState struct {
	score  float64
	line   int
	text   string
	budget int
}

// findFuzzy scores windows of len(want) lines in [lo, hi) and accepts the
// best one if it reaches threshold. Windows are scored in order of how many
// of their lines also appear in want, nearest to anchor first, until the
// budget runs out. best is updated for diagnostics either way; a threshold
// above 1 only collects diagnostics.
func findFuzzy(lines, want []string, search string, lo, hi, anchor int, threshold float64, st *fuzzyState) (*span, *BlockError) {
	n := len(want)
	if n == 0 || hi-lo < n {
		return nil, nil
	}
	searchLen := graphemeCount(search)
	lineLen := make([]int, hi-lo)
	for i := range lineLen {
		lineLen[i] = graphemeCount(lines[lo+i])
	}
	const eps = 1e-9

	top := -1.0
	var cands []int
	for _, w := range rankWindows(lines[lo:hi], want, anchor-lo) {
		i := lo + w
		windowLen := n - 1
		for _, l := range lineLen[w : w+n] {
			windowLen += l
		}
		bound := similarityBound(windowLen, searchLen)
		if threshold <= 1 && bound < threshold {
			continue
		}
		if threshold > 1 && bound <= st.score {
			continue
		}
		cost := max(windowLen, 1) * max(searchLen, 1)
		if cost > st.budget {
			continue
		}
		st.budget -= cost

		window := strings.Join(lines[i:i+n], "\n")
		score := similarity(window, search)
		if score > st.score+eps {
			st.score, st.line, st.text = score, i, window
		}
		switch {
		case score > top+eps:
			top, cands = score, []int{i}
		case math.Abs(score-top) <= eps:
			cands = append(cands, i)
		}
	}
	if len(cands) == 0 || top < threshold {
		return nil, nil
	}
	sort.Ints(cands)
	first, ok := pick(cands, anchor)
	if !ok {
		return nil, ambiguous(cands)
	}
	sp := lineSpan(lines, first, n, MatchFuzzy, top)
	sp.matchedIndent = leadingIndent(lines[first : first+n])
	sp.searchIndent = leadingIndent(want)
	return sp, nil
}

// rankWindows returns the start of every len(want) line window of lines,
// ordered by how many lines it shares with want (compared trimmed), then
// by distance from anchor, then by position.
func rankWindows(lines, want []string, anchor int) []int {
	n := len(want)
	need := make(map[string]int, n)
	for _, w := range want {
		need[lineKey(w)]++
	}
	keys := make([]string, len(lines))
	for i, l := range lines {
		keys[i] = lineKey(l)
	}

	count := len(lines) - n + 1
	starts := make([]int, count)
	overlap := make([]int, count)
	have := make(map[string]int, n)
	shared := 0
	for i, k := range keys {
		if have[k] < need[k] {
			shared++
		}
		have[k]++
		if i >= n {
			old := keys[i-n]
			have[old]--
			if have[old] < need[old] {
				shared--
			}
		}
		if s := i - n + 1; s >= 0 {
			starts[s], overlap[s] = s, shared
		}
	}

	dist := func(s int) int {
		if anchor < 0 {
			return s
		}
		if d := s - anchor; d >= 0 {
			return d
		}
		return anchor - s
	}
	sort.SliceStable(starts, func(a, b int) bool {
		sa, sb := starts[a], starts[b]
		if overlap[sa] != overlap[sb] {
			return overlap[sa] > overlap[sb]
		}
		return dist(sa) < dist(sb)
	})
	return starts
}

func lineKey(l string) string {
	return strings.TrimSpace(quoteReplacer.Replace(l))
}
