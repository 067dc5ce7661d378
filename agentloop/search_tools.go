package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	listFilesLimit   = 1000
	searchMatchLimit = 300
	searchLineWidth  = 500
)

// skipDirs are never listed or searched.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".hg":          true,
}

var errWalkLimit = errors.New("walk limit reached")

func skipped(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if skipDirs[seg] {
			return true
		}
	}
	return false
}

// isBinary reports whether data has a NUL byte in its first 512 bytes.
func isBinary(data []byte) bool {
	if len(data) > 512 {
		data = data[:512]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// subTree returns the directory rel of the workspace as an fs.FS along
// with its slash path.
func (t *Task) subTree(p string) (fs.FS, string, error) {
	if strings.TrimSpace(p) == "" {
		p = "."
	}
	rel, err := t.resolvePath(p)
	if err != nil {
		return nil, "", err
	}
	dir := filepath.ToSlash(rel)
	info, err := fs.Stat(t.tree, dir)
	if err != nil {
		return nil, "", err
	}
	if !info.IsDir() {
		return nil, "", fmt.Errorf("%s is not a directory", p)
	}
	if dir == "." {
		return t.tree, dir, nil
	}
	sub, err := fs.Sub(t.tree, dir)
	if err != nil {
		return nil, "", err
	}
	return sub, dir, nil
}

func registerListFiles(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "list_files",
			Description: "List files and directories in a workspace directory. Directories end with /.",
			Parameters: objectSchema(map[string]interface{}{
				"path":      param("string", "Directory relative to the workspace root. Default: the root."),
				"recursive": param("boolean", "List the whole tree instead of the top level."),
			}),
		},
		Executor: func(_ context.Context, t *Task, call ToolCall) (ToolResult, error) {
			p, _ := GetStringArg(call.Args, "path")
			recursive, _ := GetBoolArg(call.Args, "recursive")
			sub, dir, err := t.subTree(p)
			if err != nil {
				return ToolResult{}, err
			}
			entries, capped, err := listFiles(sub, recursive, listFilesLimit)
			if err != nil {
				return ToolResult{}, err
			}
			if len(entries) == 0 {
				return ToolResult{Output: "No files found."}, nil
			}
			if dir != "." {
				for i, e := range entries {
					entries[i] = path.Join(dir, e) + dirSuffix(e)
				}
			}
			out := strings.Join(entries, "\n")
			if capped {
				out += fmt.Sprintf("\n\n(Listing stopped after %d entries. List a subdirectory to see more.)", listFilesLimit)
			}
			return ToolResult{Output: out}, nil
		},
		PathArg: "path",
	})
}

func dirSuffix(p string) string {
	if strings.HasSuffix(p, "/") {
		return "/"
	}
	return ""
}

// listFiles lists fsys. Directories carry a trailing slash. The boolean
// result reports whether limit cut the listing short.
func listFiles(fsys fs.FS, recursive bool, limit int) ([]string, bool, error) {
	if !recursive {
		des, err := fs.ReadDir(fsys, ".")
		if err != nil {
			return nil, false, err
		}
		var out []string
		for _, d := range des {
			if d.IsDir() && skipDirs[d.Name()] {
				continue
			}
			name := d.Name()
			if d.IsDir() {
				name += "/"
			}
			out = append(out, name)
			if len(out) >= limit {
				return out, len(des) > limit, nil
			}
		}
		return out, false, nil
	}

	var out []string
	capped := false
	err := doublestar.GlobWalk(fsys, "**", func(p string, d fs.DirEntry) error {
		if p == "." {
			return nil
		}
		if d.IsDir() && skipDirs[d.Name()] {
			return fs.SkipDir
		}
		if skipped(p) {
			return nil
		}
		if len(out) >= limit {
			capped = true
			return errWalkLimit
		}
		if d.IsDir() {
			p += "/"
		}
		out = append(out, p)
		return nil
	})
	if err != nil && !errors.Is(err, errWalkLimit) {
		return nil, false, err
	}
	return out, capped, nil
}

func registerSearchFiles(reg *ToolRegistry) {
	reg.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "search_files",
			Description: "Search file contents with a regular expression (Go RE2 syntax). Returns matching lines as path:line: text.",
			Parameters: objectSchema(map[string]interface{}{
				"path":         param("string", "Directory to search, relative to the workspace root."),
				"regex":        param("string", "Regular expression to match against each line."),
				"file_pattern": param("string", "Glob restricting which files are searched, such as *.go or src/**/*.ts."),
			}, "path", "regex"),
		},
		Executor: func(_ context.Context, t *Task, call ToolCall) (ToolResult, error) {
			p, _ := GetStringArg(call.Args, "path")
			expr, _ := GetStringArg(call.Args, "regex")
			pattern, _ := GetStringArg(call.Args, "file_pattern")
			re, err := regexp.Compile(expr)
			if err != nil {
				return ToolResult{}, fmt.Errorf("invalid regex: %w", err)
			}
			sub, dir, err := t.subTree(p)
			if err != nil {
				return ToolResult{}, err
			}
			matches, capped, err := searchFiles(sub, re, pattern, searchMatchLimit)
			if err != nil {
				return ToolResult{}, err
			}
			if dir != "." {
				for i, m := range matches {
					matches[i] = path.Join(dir, m)
				}
			}
			var sb strings.Builder
			fmt.Fprintf(&sb, "Found %d results.", len(matches))
			if capped {
				fmt.Fprintf(&sb, " Showing the first %d; narrow the search for more.", searchMatchLimit)
			}
			for _, m := range matches {
				sb.WriteString("\n")
				sb.WriteString(m)
			}
			return ToolResult{Output: sb.String()}, nil
		},
		PathArg: "path",
	})
}

// searchFiles returns "path:line: text" for every line of the text files
// in fsys that match re, stopping at limit.
func searchFiles(fsys fs.FS, re *regexp.Regexp, pattern string, limit int) ([]string, bool, error) {
	if pattern == "" {
		pattern = "*"
	}
	if !strings.HasPrefix(pattern, "**/") && !strings.Contains(pattern, "/") {
		pattern = "**/" + pattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, false, fmt.Errorf("invalid file pattern %q", pattern)
	}

	var out []string
	capped := false
	err := doublestar.GlobWalk(fsys, pattern, func(p string, d fs.DirEntry) error {
		if skipped(p) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil || isBinary(data) {
			return nil
		}
		for i, line := range strings.Split(string(data), "\n") {
			if !re.MatchString(line) {
				continue
			}
			if len(out) >= limit {
				capped = true
				return errWalkLimit
			}
			line = strings.TrimRight(line, "\r")
			if len(line) > searchLineWidth {
				line = line[:searchLineWidth] + "..."
			}
			out = append(out, fmt.Sprintf("%s:%d: %s", p, i+1, line))
		}
		return nil
	}, doublestar.WithFilesOnly())
	if err != nil && !errors.Is(err, errWalkLimit) {
		return nil, false, err
	}
	return out, capped, nil
}
