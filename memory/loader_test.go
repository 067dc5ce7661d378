package memory

import (
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/martinemde/codeloop/history"
)

// mapFS is an in-memory fileedit.FileSystem that records every path looked up.
type mapFS struct {
	files   map[string]string
	readErr map[string]error
	lookups []string
}

func (m *mapFS) ReadFile(path string) (string, error) {
	m.lookups = append(m.lookups, path)
	if err := m.readErr[path]; err != nil {
		return "", err
	}
	content, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
	}
	return content, nil
}

func (m *mapFS) Exists(path string) bool {
	m.lookups = append(m.lookups, path)
	_, ok := m.files[path]
	return ok
}

func (m *mapFS) WriteFile(path, content string) error { m.files[path] = content; return nil }
func (m *mapFS) CreateDirectories(string) ([]string, error) { return nil, nil }
func (m *mapFS) Remove(path string) error { delete(m.files, path); return nil }
func (m *mapFS) RemoveDirIfEmpty(string) (bool, error) { return false, nil }

func texts(msgs []history.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text()
	}
	return out
}

func TestLoadForRootToLeafOrder(t *testing.T) {
	fsys := &mapFS{files: map[string]string{
		"/project/AGENTS.md":         "root rules",
		"/project/src/AGENTS.md":     "src rules",
		"/project/src/pkg/CLAUDE.md": "pkg rules",
	}}
	l := NewLoader(fsys)

	msgs := l.LoadFor("/project/src/pkg/file.go", "/project")
	got := texts(msgs)
	if len(got) != 3 {
		t.Fatalf("expected 3 memory messages, got %d: %v", len(got), got)
	}
	for i, want := range []string{"root rules", "src rules", "pkg rules"} {
		if !strings.Contains(got[i], want) {
			t.Errorf("message %d: expected %q, got %q", i, want, got[i])
		}
	}
	for _, m := range msgs {
		if !m.IsHierarchicalMemory || m.Role != history.RoleUser {
			t.Errorf("expected user memory message, got %+v", m)
		}
	}
}

func TestLoadForNoRepeat(t *testing.T) {
	fsys := &mapFS{files: map[string]string{"/project/src/AGENTS.md": "rules"}}
	l := NewLoader(fsys)

	if got := l.LoadFor("/project/src/a.ts", "/project"); len(got) != 1 {
		t.Fatalf("expected memory on first call, got %d", len(got))
	}
	if got := l.LoadFor("/project/src/b.ts", "/project"); len(got) != 0 {
		t.Errorf("expected nothing on second call, got %d", len(got))
	}

	l.Clear()
	if got := l.LoadFor("/project/src/b.ts", "/project"); len(got) != 1 {
		t.Errorf("expected memory again after Clear, got %d", len(got))
	}
}

func TestLoadForNeverReadsAboveRoot(t *testing.T) {
	fsys := &mapFS{files: map[string]string{
		"/AGENTS.md":         "above",
		"/project/AGENTS.md": "root",
	}}
	l := NewLoader(fsys)

	msgs := l.LoadFor("/project/src/file.ts", "/project")
	if len(msgs) != 1 {
		t.Fatalf("expected only the root memory file, got %v", texts(msgs))
	}
	for _, p := range fsys.lookups {
		if !strings.HasPrefix(p, "/project/") {
			t.Errorf("looked up %s outside the root", p)
		}
	}
}

func TestLoadForOutsideRoot(t *testing.T) {
	fsys := &mapFS{files: map[string]string{"/other/AGENTS.md": "x"}}
	l := NewLoader(fsys)

	if msgs := l.LoadFor("/other/file.ts", "/project"); msgs != nil {
		t.Errorf("expected nothing for a file outside the root, got %v", texts(msgs))
	}
	if len(fsys.lookups) != 0 {
		t.Errorf("expected no lookups, got %v", fsys.lookups)
	}
}

func TestLoadForRelativePath(t *testing.T) {
	fsys := &mapFS{files: map[string]string{"/project/lib/AGENTS.md": "lib"}}
	l := NewLoader(fsys)
	if got := l.LoadFor("lib/x.go", "/project"); len(got) != 1 {
		t.Errorf("expected relative path resolved against root, got %d", len(got))
	}
}

func TestLoadForSkipsUnreadable(t *testing.T) {
	fsys := &mapFS{
		files: map[string]string{
			"/project/AGENTS.md":     "ok",
			"/project/src/AGENTS.md": "unreadable",
		},
		readErr: map[string]error{"/project/src/AGENTS.md": fmt.Errorf("permission denied")},
	}
	l := NewLoader(fsys)

	msgs := l.LoadFor("/project/src/x.go", "/project")
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text(), "ok") {
		t.Errorf("expected only the readable file, got %v", texts(msgs))
	}
	if loaded := l.Loaded(); len(loaded) != 1 || loaded[0] != "/project/AGENTS.md" {
		t.Errorf("unreadable file must not be marked loaded, got %v", loaded)
	}
}

func TestRestore(t *testing.T) {
	fsys := &mapFS{files: map[string]string{"/project/AGENTS.md": "x"}}
	l := NewLoader(fsys)
	l.Restore([]string{"/project/AGENTS.md"})
	if got := l.LoadFor("/project/a.go", "/project"); len(got) != 0 {
		t.Errorf("expected restored path skipped, got %d", len(got))
	}
}

func TestWithFilenames(t *testing.T) {
	fsys := &mapFS{files: map[string]string{
		"/p/AGENTS.md": "agents",
		"/p/.rules":    "rules",
	}}
	l := NewLoader(fsys, WithFilenames(".rules"))
	got := texts(l.LoadFor("/p/a.go", "/p"))
	if len(got) != 1 || !strings.Contains(got[0], "rules") {
		t.Errorf("expected only the configured file, got %v", got)
	}
}
