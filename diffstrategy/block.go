package diffstrategy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diff markers. A marker line must match exactly, ignoring surrounding
// whitespace. Content lines that need to contain a marker literally escape
// it with a leading backslash.
const (
	markerSearch    = "<<<<<<< SEARCH"
	markerDivider   = "-------"
	markerSeparator = "======="
	markerReplace   = ">>>>>>> REPLACE"
	startLinePrefix = ":start_line:"
	endLinePrefix   = ":end_line:"
)

// Block is one parsed SEARCH/REPLACE edit.
type Block struct {
	Search  string
	Replace string

	// StartLine is the 1-based line the model claims the search text
	// starts at, or 0 when absent.
	StartLine int
}

// ParseError reports a malformed diff.
type ParseError struct {
	Line   int // 1-based line in the diff text
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid diff at line %d: %s", e.Line, e.Reason)
	}
	return "invalid diff: " + e.Reason
}

type parseState int

const (
	parseOutside parseState = iota
	parseHeader
	parseSearch
	parseReplace
)

// ParseBlocks extracts every SEARCH/REPLACE block from diff, in order.
func ParseBlocks(diff string) ([]Block, error) {
	lines := strings.Split(strings.ReplaceAll(diff, "\r\n", "\n"), "\n")

	var (
		blocks  []Block
		state   = parseOutside
		current Block
		search  []string
		replace []string
		opened  int
	)

	for i, line := range lines {
		lineNo := i + 1
		marker := strings.TrimSpace(line)

		switch state {
		case parseOutside:
			if marker == markerSearch {
				state = parseHeader
				current = Block{}
				search, replace = nil, nil
				opened = lineNo
			}

		case parseHeader:
			switch {
			case strings.HasPrefix(marker, startLinePrefix):
				n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(marker, startLinePrefix)))
				if err != nil || n < 1 {
					return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("invalid start line %q", marker)}
				}
				current.StartLine = n
				continue
			case strings.HasPrefix(marker, endLinePrefix):
				continue
			case marker == markerDivider:
				state = parseSearch
				continue
			}
			state = parseSearch
			fallthrough

		case parseSearch:
			switch marker {
			case markerSeparator:
				state = parseReplace
			case markerSearch:
				return nil, &ParseError{Line: lineNo, Reason: "unexpected SEARCH marker before the ======= separator"}
			case markerReplace:
				return nil, &ParseError{Line: lineNo, Reason: "missing ======= separator before REPLACE marker"}
			default:
				search = append(search, unescapeMarker(line))
			}

		case parseReplace:
			switch marker {
			case markerReplace:
				current.Search = strings.Join(search, "\n")
				current.Replace = strings.Join(replace, "\n")
				if strings.TrimSpace(current.Search) == "" {
					return nil, &ParseError{Line: opened, Reason: "empty SEARCH section; the search text must identify existing content"}
				}
				blocks = append(blocks, current)
				state = parseOutside
			case markerSearch, markerSeparator:
				return nil, &ParseError{Line: lineNo, Reason: fmt.Sprintf("unexpected %q inside REPLACE section", marker)}
			default:
				replace = append(replace, unescapeMarker(line))
			}
		}
	}

	if state != parseOutside {
		return nil, &ParseError{Line: opened, Reason: "block is not terminated by >>>>>>> REPLACE"}
	}
	if len(blocks) == 0 {
		return nil, &ParseError{Reason: "no SEARCH/REPLACE blocks found"}
	}

	for i := range blocks {
		blocks[i].Search, blocks[i].Replace = stripLineNumbers(blocks[i].Search, blocks[i].Replace)
	}
	return blocks, nil
}

func unescapeMarker(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, `\`) {
		return line
	}
	switch trimmed[1:] {
	case markerSearch, markerDivider, markerSeparator, markerReplace:
		return strings.Replace(line, `\`, "", 1)
	}
	return line
}

var lineNumberPrefix = regexp.MustCompile(`^\s*\d+\s*\|\s?`)

// stripLineNumbers removes "12 | " prefixes copied from numbered file
// listings, but only when every line of both sections carries one.
func stripLineNumbers(search, replace string) (string, string) {
	searchLines := strings.Split(search, "\n")
	if !allNumbered(searchLines) {
		return search, replace
	}
	var replaceLines []string
	if replace != "" {
		replaceLines = strings.Split(replace, "\n")
		if !allNumbered(replaceLines) {
			return search, replace
		}
	}
	return strings.Join(stripEach(searchLines), "\n"), strings.Join(stripEach(replaceLines), "\n")
}

func allNumbered(lines []string) bool {
	for _, l := range lines {
		if !lineNumberPrefix.MatchString(l) {
			return false
		}
	}
	return len(lines) > 0
}

func stripEach(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = lineNumberPrefix.ReplaceAllString(l, "")
	}
	return out
}
