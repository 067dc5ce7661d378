package diffstrategy

import (
	"errors"
	"strings"
	"testing"
)

func TestParseBlocksWithHeader(t *testing.T) {
	diff := strings.Join([]string{
		"<<<<<<< SEARCH",
		":start_line:3",
		"-------",
		"foo",
		"=======",
		"bar",
		">>>>>>> REPLACE",
	}, "\n")

	blocks, err := ParseBlocks(diff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	want := Block{Search: "foo", Replace: "bar", StartLine: 3}
	if blocks[0] != want {
		t.Errorf("expected %+v, got %+v", want, blocks[0])
	}
}

func TestParseBlocksMultiple(t *testing.T) {
	diff := "intro text\n" +
		"<<<<<<< SEARCH\na\nb\n=======\nc\n>>>>>>> REPLACE\n" +
		"between\n" +
		"<<<<<<< SEARCH\nd\n=======\n>>>>>>> REPLACE\n"

	blocks, err := ParseBlocks(diff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Search != "a\nb" || blocks[0].Replace != "c" {
		t.Errorf("block 1: got %+v", blocks[0])
	}
	if blocks[1].Search != "d" || blocks[1].Replace != "" {
		t.Errorf("block 2: got %+v", blocks[1])
	}
	if blocks[0].StartLine != 0 {
		t.Errorf("expected no start line, got %d", blocks[0].StartLine)
	}
}

func TestParseBlocksCRLF(t *testing.T) {
	diff := "<<<<<<< SEARCH\r\nx\r\n=======\r\ny\r\n>>>>>>> REPLACE\r\n"
	blocks, err := ParseBlocks(diff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks[0].Search != "x" || blocks[0].Replace != "y" {
		t.Errorf("got %+v", blocks[0])
	}
}

func TestParseBlocksEscapedMarkers(t *testing.T) {
	diff := "<<<<<<< SEARCH\n\\=======\n=======\n\\>>>>>>> REPLACE\n>>>>>>> REPLACE"
	blocks, err := ParseBlocks(diff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks[0].Search != "=======" {
		t.Errorf("expected unescaped separator, got %q", blocks[0].Search)
	}
	if blocks[0].Replace != ">>>>>>> REPLACE" {
		t.Errorf("expected unescaped replace marker, got %q", blocks[0].Replace)
	}
}

func TestParseBlocksStripsLineNumbers(t *testing.T) {
	diff := "<<<<<<< SEARCH\n 9 | a\n10 | b\n=======\n 9 | c\n>>>>>>> REPLACE"
	blocks, err := ParseBlocks(diff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks[0].Search != "a\nb" {
		t.Errorf("expected stripped search, got %q", blocks[0].Search)
	}
	if blocks[0].Replace != "c" {
		t.Errorf("expected stripped replace, got %q", blocks[0].Replace)
	}
}

func TestParseBlocksKeepsPartialLineNumbers(t *testing.T) {
	diff := "<<<<<<< SEARCH\n1 | a\nplain\n=======\nc\n>>>>>>> REPLACE"
	blocks, err := ParseBlocks(diff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks[0].Search != "1 | a\nplain" {
		t.Errorf("expected search untouched, got %q", blocks[0].Search)
	}
}

func TestParseBlocksErrors(t *testing.T) {
	tests := []struct {
		name   string
		diff   string
		reason string
	}{
		{"no blocks", "just prose", "no SEARCH/REPLACE blocks"},
		{"missing separator", "<<<<<<< SEARCH\na\n>>>>>>> REPLACE", "missing ======= separator"},
		{"unterminated", "<<<<<<< SEARCH\na\n=======\nb", "not terminated"},
		{"empty search", "<<<<<<< SEARCH\n\n=======\nb\n>>>>>>> REPLACE", "empty SEARCH"},
		{"bad start line", "<<<<<<< SEARCH\n:start_line:zero\n-------\na\n=======\nb\n>>>>>>> REPLACE", "invalid start line"},
		{"nested search", "<<<<<<< SEARCH\na\n<<<<<<< SEARCH\n=======\n>>>>>>> REPLACE", "unexpected SEARCH marker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBlocks(tt.diff)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %T (%v)", err, err)
			}
			if !strings.Contains(perr.Reason, tt.reason) {
				t.Errorf("expected reason containing %q, got %q", tt.reason, perr.Reason)
			}
		})
	}
}
