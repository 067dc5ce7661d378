package agentloop

import (
	"strings"
	"testing"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```go\npackage a\n```", "package a\n"},
		{"```\nplain\n```\n", "plain\n"},
		{"package a\n", "package a\n"},
		{"```", "```"},
		{"x := \"```\"\n", "x := \"```\"\n"},
	}
	for _, tt := range tests {
		if got := stripCodeFences(tt.in); got != tt.want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCountLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n\n", 3},
	}
	for _, tt := range tests {
		if got := countLines(tt.in); got != tt.want {
			t.Errorf("countLines(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEditPreview(t *testing.T) {
	diff := editPreview("a.txt", "one\ntwo\n", "one\nthree\n")
	for _, want := range []string{"--- a/a.txt", "+++ b/a.txt", "-two", "+three"} {
		if !strings.Contains(diff, want) {
			t.Errorf("preview is missing %q:\n%s", want, diff)
		}
	}
}
