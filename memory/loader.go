// Package memory loads hierarchical memory files (AGENTS.md and the like)
// for the directories a task touches, each file at most once per task.
package memory

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/martinemde/codeloop/fileedit"
	"github.com/martinemde/codeloop/history"
)

// DefaultFilenames are the memory files looked for in each directory.
var DefaultFilenames = []string{"AGENTS.md", "CLAUDE.md"}

// Option configures a Loader.
type Option func(*Loader)

// WithFilenames overrides the memory file names, in per-directory order.
func WithFilenames(names ...string) Option {
	return func(l *Loader) { l.filenames = names }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithClock sets the function used to timestamp memory messages.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// Loader tracks which memory files a task has already seen.
type Loader struct {
	fs        fileedit.FileSystem
	filenames []string
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	loaded map[string]bool
}

// NewLoader creates a Loader reading through fsys.
func NewLoader(fsys fileedit.FileSystem, opts ...Option) *Loader {
	l := &Loader{
		fs:        fsys,
		filenames: DefaultFilenames,
		now:       time.Now,
		loaded:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// LoadFor returns memory messages for the directories from root down to the
// directory of filePath, root first. Files already loaded are skipped.
// Nothing above root is read, and a filePath outside root yields nothing.
func (l *Loader) LoadFor(filePath, root string) []history.Message {
	dirs := ancestors(filePath, root)
	if len(dirs) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var msgs []history.Message
	for _, dir := range dirs {
		for _, name := range l.filenames {
			path := filepath.Join(dir, name)
			if l.loaded[path] || !l.fs.Exists(path) {
				continue
			}
			content, err := l.fs.ReadFile(path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					l.logger.Warn("skipping unreadable memory file", "path", path, "error", err)
				}
				continue
			}
			l.loaded[path] = true
			msgs = append(msgs, l.message(path, content))
		}
	}
	if len(msgs) > 0 {
		l.logger.Debug("memory loaded", "file", filePath, "count", len(msgs))
	}
	return msgs
}

func (l *Loader) message(path, content string) history.Message {
	text := fmt.Sprintf("<memory path=%q>\n%s\n</memory>", path, strings.TrimRight(content, "\n"))
	msg := history.NewTextMessage(history.RoleUser, l.now(), text)
	msg.IsHierarchicalMemory = true
	return msg
}

// Clear forgets every loaded file so they are returned again.
func (l *Loader) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = make(map[string]bool)
}

// Loaded returns the loaded memory file paths, sorted.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	paths := make([]string, 0, len(l.loaded))
	for p := range l.loaded {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Restore marks paths as already loaded, as recorded in persisted state.
func (l *Loader) Restore(paths []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		l.loaded[p] = true
	}
}

// ancestors returns root and every directory below it on the way to
// filePath's directory, root first. Relative file paths are taken relative
// to root.
func ancestors(filePath, root string) []string {
	root = filepath.Clean(root)
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(root, filePath)
	}
	dir := filepath.Dir(filepath.Clean(filePath))

	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}

	dirs := []string{root}
	if rel == "." {
		return dirs
	}
	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		dirs = append(dirs, cur)
	}
	return dirs
}
