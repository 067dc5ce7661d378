package diffstrategy

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func block(search, replace string) string {
	return "<<<<<<< SEARCH\n" + search + "\n=======\n" + replace + "\n>>>>>>> REPLACE\n"
}

func hinted(line, search, replace string) string {
	return "<<<<<<< SEARCH\n:start_line:" + line + "\n-------\n" + search + "\n=======\n" + replace + "\n>>>>>>> REPLACE\n"
}

func TestApplyEmojiExactMatch(t *testing.T) {
	res, err := Apply("**✔ line**", block("**✔ line**", "**done**"), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "**done**" {
		t.Errorf("expected %q, got %q", "**done**", res.Content)
	}
	if len(res.Matches) != 1 || res.Matches[0].Kind != MatchExact {
		t.Errorf("expected one exact match, got %+v", res.Matches)
	}
}

func TestApplyNoopIsByteIdentical(t *testing.T) {
	originals := []string{
		"a\nb\n",
		"a\r\nb\r\n",
		"tabs\tand  trailing  \nb",
	}
	for _, original := range originals {
		res, err := Apply(original, block("b", "b"), DefaultOptions())
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", original, err)
		}
		if res.Content != original {
			t.Errorf("expected byte-identical content, got %q want %q", res.Content, original)
		}
	}
}

func TestApplyMultipleBlocksRecomputesOffsets(t *testing.T) {
	original := "one\ntwo\nthree\nfour\n"
	diff := block("two", "2a\n2b") + hinted("4", "four", "4")

	res, err := Apply(original, diff, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "one\n2a\n2b\nthree\n4\n"
	if res.Content != want {
		t.Errorf("expected %q, got %q", want, res.Content)
	}
	if res.Matches[1].StartLine != 5 {
		t.Errorf("expected second block at line 5, got %d", res.Matches[1].StartLine)
	}
}

func TestApplyAmbiguousFails(t *testing.T) {
	_, err := Apply("x\nx\n", block("x", "y"), DefaultOptions())
	var berr *BlockError
	if !errors.As(err, &berr) {
		t.Fatalf("expected *BlockError, got %v", err)
	}
	if !strings.Contains(berr.Reason, "matches 2 locations") {
		t.Errorf("unexpected reason: %q", berr.Reason)
	}
}

func TestApplyHintResolvesAmbiguity(t *testing.T) {
	res, err := Apply("x\ny\nx\n", hinted("3", "x", "X"), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "x\ny\nX\n" {
		t.Errorf("expected the hinted occurrence replaced, got %q", res.Content)
	}
}

func TestApplyAllOrNothing(t *testing.T) {
	original := "alpha\nbeta\n"
	diff := block("alpha", "ALPHA") + block("gamma", "GAMMA")

	res, err := Apply(original, diff, DefaultOptions())
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
	var berr *BlockError
	if !errors.As(err, &berr) {
		t.Fatalf("expected *BlockError, got %v", err)
	}
	if berr.Index != 2 {
		t.Errorf("expected block 2 to fail, got %d", berr.Index)
	}
	if berr.Reason != "search text not found" {
		t.Errorf("unexpected reason: %q", berr.Reason)
	}
}

func TestApplyTrailingWhitespaceMatch(t *testing.T) {
	res, err := Apply("a  \nb\n", block("a", "z"), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "z\nb\n" {
		t.Errorf("got %q", res.Content)
	}
	if res.Matches[0].Kind != MatchTrimmed {
		t.Errorf("expected trimmed match, got %s", res.Matches[0].Kind)
	}
}

func TestApplyDeleteLines(t *testing.T) {
	res, err := Apply("a\nb\nc\n", "<<<<<<< SEARCH\nb\n=======\n>>>>>>> REPLACE", DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "a\nc\n" {
		t.Errorf("expected line removed, got %q", res.Content)
	}
}

func TestApplyPreservesCRLF(t *testing.T) {
	res, err := Apply("a\r\nb\r\n", block("b", "c"), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "a\r\nc\r\n" {
		t.Errorf("expected CRLF preserved, got %q", res.Content)
	}
}

func TestApplyMixedLineEndings(t *testing.T) {
	const original = "a\r\nb\r\nc\n"
	tests := []struct {
		name string
		diff string
		want string
	}{
		{"replace crlf line", block("b", "B"), "a\r\nB\r\nc\n"},
		{"replace lf line", block("c", "C"), "a\r\nb\r\nC\n"},
		{"replace crlf lines", block("a\nb", "x\ny"), "x\r\ny\r\nc\n"},
		{"delete crlf line", "<<<<<<< SEARCH\nb\n=======\n>>>>>>> REPLACE", "a\r\nc\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Apply(original, tt.diff, DefaultOptions())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Content != tt.want {
				t.Errorf("expected %q, got %q", tt.want, res.Content)
			}
		})
	}
}

// numberedSource returns n distinct lines of Go-like code.
func numberedSource(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("\tvalue%d := compute(%d) + offset // step %d", i, i*7, i)
	}
	return lines
}

func TestApplyFailureOnLargeFileIsBounded(t *testing.T) {
	original := strings.Join(numberedSource(900), "\n") + "\n"
	missing := make([]string, 40)
	for i := range missing {
		missing[i] = fmt.Sprintf("\tother%d := transform(%d, %q)", i, i, "unrelated text")
	}
	diff := block(strings.Join(missing, "\n"), "\treplaced()")

	for _, threshold := range []float64{1.0, 0.8} {
		t.Run(fmt.Sprintf("threshold %.1f", threshold), func(t *testing.T) {
			opts := DefaultOptions()
			opts.FuzzyThreshold = threshold

			start := time.Now()
			_, err := Apply(original, diff, opts)
			elapsed := time.Since(start)

			var berr *BlockError
			if !errors.As(err, &berr) || berr.Reason != "search text not found" {
				t.Fatalf("expected not found, got %v", err)
			}
			if elapsed > 5*time.Second {
				t.Errorf("failed apply took %s", elapsed)
			}
		})
	}
}

func TestApplyFuzzyNearMatchInLargeFile(t *testing.T) {
	lines := numberedSource(900)
	copy(lines[700:], []string{"func target() {", "\ttotal := sum(items)", "\treturn total", "}"})
	original := strings.Join(lines, "\n") + "\n"
	diff := block("func target() {\n\ttotal := sum(itemz)\n\treturn total\n}", "func target() {\n\treturn 0\n}")

	_, err := Apply(original, diff, DefaultOptions())
	var berr *BlockError
	if !errors.As(err, &berr) {
		t.Fatalf("expected *BlockError, got %v", err)
	}
	if berr.BestLine != 701 {
		t.Errorf("expected best match at line 701, got %d", berr.BestLine)
	}

	res, err := Apply(original, diff, Options{FuzzyThreshold: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m := res.Matches[0]; m.Kind != MatchFuzzy || m.StartLine != 701 || m.EndLine != 704 {
		t.Errorf("unexpected match %+v", m)
	}
	if !strings.Contains(res.Content, "func target() {\n\treturn 0\n}\n\tvalue704") {
		t.Errorf("replacement not spliced at the match")
	}
}

func TestApplyFuzzy(t *testing.T) {
	original := "func a() {\n\treturn 1\n}\n"
	diff := block("func a() {\n\treturn  1\n}", "func a() {\n\treturn 2\n}")

	t.Run("exact only reports best candidate", func(t *testing.T) {
		_, err := Apply(original, diff, DefaultOptions())
		var berr *BlockError
		if !errors.As(err, &berr) {
			t.Fatalf("expected *BlockError, got %v", err)
		}
		if berr.BestLine != 1 {
			t.Errorf("expected best line 1, got %d", berr.BestLine)
		}
		if berr.BestScore < 0.9 || berr.BestScore >= 1 {
			t.Errorf("unexpected best score %f", berr.BestScore)
		}
	})

	t.Run("threshold accepts near match", func(t *testing.T) {
		res, err := Apply(original, diff, Options{FuzzyThreshold: 0.8})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Content != "func a() {\n\treturn 2\n}\n" {
			t.Errorf("got %q", res.Content)
		}
		if res.Matches[0].Kind != MatchFuzzy {
			t.Errorf("expected fuzzy match, got %s", res.Matches[0].Kind)
		}
	})
}

func TestApplyFuzzyReindents(t *testing.T) {
	res, err := Apply("\t\tcall(a, b)\n", block("    call(a,b)", "    call(a, c)"), Options{FuzzyThreshold: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "\t\tcall(a, c)\n" {
		t.Errorf("expected replacement in the file's indentation, got %q", res.Content)
	}
}

func TestApplyCurlyQuotesFuzzy(t *testing.T) {
	original := "msg := \"hello\"\n"
	res, err := Apply(original, block("msg := “hello”", "msg := \"bye\""), Options{FuzzyThreshold: 0.99})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "msg := \"bye\"\n" {
		t.Errorf("got %q", res.Content)
	}
}

func TestApplyNeverSplitsGraphemes(t *testing.T) {
	tests := []struct {
		name     string
		original string
		search   string
	}{
		{"combining mark", "e\u0301x", "e"},
		{"zwj sequence", "a\U0001F468\u200d\U0001F469\u200d\U0001F467b", "\U0001F469"},
		{"skin tone modifier", "wave \U0001F44B\U0001F3FD hi", "\U0001F44B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(tt.original, block(tt.search, "X"), DefaultOptions())
			var berr *BlockError
			if !errors.As(err, &berr) {
				t.Fatalf("expected the partial-cluster match to be rejected, got %v", err)
			}
		})
	}
}

func TestApplySubstringOnGraphemeBoundary(t *testing.T) {
	res, err := Apply("say ✔ now", block("✔", "✓"), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Content != "say ✓ now" {
		t.Errorf("got %q", res.Content)
	}
	if res.Matches[0].Kind != MatchSubstring {
		t.Errorf("expected substring match, got %s", res.Matches[0].Kind)
	}
}

func TestApplyRejectsPlaceholders(t *testing.T) {
	original := "func f() {\n\tx()\n\ty()\n}\n"
	diff := block("\tx()\n\ty()", "\tx()\n\t// ... rest of code unchanged")

	_, err := Apply(original, diff, DefaultOptions())
	var berr *BlockError
	if !errors.As(err, &berr) {
		t.Fatalf("expected *BlockError, got %v", err)
	}
	if !strings.Contains(berr.Reason, "placeholder") {
		t.Errorf("unexpected reason: %q", berr.Reason)
	}
	var oerr *OmissionError
	if !errors.As(err, &oerr) || oerr.Marker != "// ... rest of code unchanged" {
		t.Errorf("expected *OmissionError cause, got %v", berr.Err)
	}

	opts := DefaultOptions()
	opts.AllowPlaceholders = true
	if _, err := Apply(original, diff, opts); err != nil {
		t.Errorf("expected placeholders to be allowed, got %v", err)
	}
}

func TestApplyParseError(t *testing.T) {
	_, err := Apply("a", "not a diff", DefaultOptions())
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"abc", "abc", 1},
		{"abc  ", "abc", 1},
		{"", "", 1},
		{"abcd", "abcx", 0.75},
		{"✔✔", "✔x", 0.5},
	}
	for _, tt := range tests {
		if got := similarity(tt.a, tt.b); got != tt.want {
			t.Errorf("similarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
		}
	}
}
