package fileedit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// EditType says whether an edit creates a new file or modifies one.
type EditType string

const (
	EditCreate EditType = "create"
	EditModify EditType = "modify"
)

var (
	ErrNoActiveEdit   = errors.New("fileedit: no file is open")
	ErrEditInProgress = errors.New("fileedit: an edit is already in progress")
)

// Diagnostic is a problem reported for a file by an external checker.
type Diagnostic struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d [%s] %s", d.Path, d.Line, d.Severity, d.Message)
}

// DiagnosticsProvider reports problems for a file, such as compiler errors.
type DiagnosticsProvider interface {
	Diagnostics(ctx context.Context, path string) ([]Diagnostic, error)
}

// SaveResult describes a committed edit.
type SaveResult struct {
	// NewDiagnostics are problems present after the save but not before.
	NewDiagnostics []Diagnostic

	// UserEdits is a unified diff from the written content to what was on
	// disk afterwards, when something else changed the file.
	UserEdits string

	FinalContent string
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithDiagnostics sets the provider consulted around saves.
func WithDiagnostics(p DiagnosticsProvider) WriterOption {
	return func(w *Writer) { w.diagnostics = p }
}

// WithLogger sets the writer's logger.
func WithLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// Writer owns the lifecycle of one in-flight file edit:
// Closed -> Open -> Updating -> Saved or Reverted -> Closed (Reset).
// A Writer is not safe for concurrent use.
type Writer struct {
	fs          FileSystem
	diagnostics DiagnosticsProvider
	logger      *slog.Logger

	open        bool
	relPath     string
	editType    EditType
	original    string
	pending     string
	hasContent  bool
	createdDirs []string
	before      []Diagnostic
}

// NewWriter creates a Writer over fsys.
func NewWriter(fsys FileSystem, opts ...WriterOption) *Writer {
	w := &Writer{fs: fsys}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Open starts an edit of relPath. Existing files are snapshotted; for new
// files any missing parent directories are created and remembered so a
// revert can remove them.
func (w *Writer) Open(ctx context.Context, relPath string) error {
	if w.open {
		return fmt.Errorf("%w: %s", ErrEditInProgress, w.relPath)
	}

	if w.fs.Exists(relPath) {
		content, err := w.fs.ReadFile(relPath)
		if err != nil {
			return err
		}
		w.editType = EditModify
		w.original = content
	} else {
		dirs, err := w.fs.CreateDirectories(filepath.Dir(relPath))
		if err != nil {
			return err
		}
		w.editType = EditCreate
		w.original = ""
		w.createdDirs = dirs
	}

	w.open = true
	w.relPath = relPath
	w.before = w.collectDiagnostics(ctx)
	return nil
}

// Update replaces the pending content. It may be called many times while
// content streams in; the last call before SaveChanges wins. When the
// original file uses CRLF line endings, LF content is converted.
func (w *Writer) Update(content string, final bool) error {
	if !w.open {
		return ErrNoActiveEdit
	}
	if usesCRLF(w.original) && !strings.Contains(content, "\r\n") {
		content = strings.ReplaceAll(content, "\n", "\r\n")
	}
	w.pending = content
	w.hasContent = true
	if final {
		w.logger.Debug("edit content finalized", "path", w.relPath, "bytes", len(content))
	}
	return nil
}

// SaveChanges writes the pending content. Without content it does nothing
// and returns an empty result.
func (w *Writer) SaveChanges(ctx context.Context) (SaveResult, error) {
	if !w.open || !w.hasContent {
		return SaveResult{}, nil
	}
	if err := w.fs.WriteFile(w.relPath, w.pending); err != nil {
		return SaveResult{}, err
	}

	onDisk, err := w.fs.ReadFile(w.relPath)
	if err != nil {
		return SaveResult{}, err
	}

	res := SaveResult{FinalContent: onDisk}
	if onDisk != w.pending {
		res.UserEdits = unifiedDiff(w.relPath, w.pending, onDisk)
	}
	res.NewDiagnostics = newDiagnostics(w.before, w.collectDiagnostics(ctx))

	w.logger.Info("file saved", "path", w.relPath, "edit", w.editType, "user_edits", res.UserEdits != "")
	return res, nil
}

// RevertChanges undoes the edit on disk. A modified file gets its original
// content back; a created file is removed along with the directories
// created for it, deepest first, while they are empty.
func (w *Writer) RevertChanges() error {
	if !w.open {
		return nil
	}

	switch w.editType {
	case EditModify:
		if err := w.fs.WriteFile(w.relPath, w.original); err != nil {
			return err
		}
	case EditCreate:
		if w.fs.Exists(w.relPath) {
			if err := w.fs.Remove(w.relPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		for i := len(w.createdDirs) - 1; i >= 0; i-- {
			removed, err := w.fs.RemoveDirIfEmpty(w.createdDirs[i])
			if err != nil {
				return err
			}
			if !removed {
				break
			}
		}
	}

	w.logger.Info("edit reverted", "path", w.relPath, "edit", w.editType)
	return nil
}

// Reset clears all edit state. It is always safe to call.
func (w *Writer) Reset() {
	w.open = false
	w.relPath = ""
	w.editType = ""
	w.original = ""
	w.pending = ""
	w.hasContent = false
	w.createdDirs = nil
	w.before = nil
}

// IsEditing reports whether a file is open.
func (w *Writer) IsEditing() bool { return w.open }

// Path returns the open file's path.
func (w *Writer) Path() string { return w.relPath }

// EditType returns whether the open edit creates or modifies.
func (w *Writer) EditType() EditType { return w.editType }

// OriginalContent returns the snapshot taken at Open.
func (w *Writer) OriginalContent() string { return w.original }

// CreatedDirs returns the directories created by Open, shallowest first.
func (w *Writer) CreatedDirs() []string {
	return append([]string(nil), w.createdDirs...)
}

func (w *Writer) collectDiagnostics(ctx context.Context) []Diagnostic {
	if w.diagnostics == nil {
		return nil
	}
	diags, err := w.diagnostics.Diagnostics(ctx, w.relPath)
	if err != nil {
		w.logger.Warn("diagnostics unavailable", "path", w.relPath, "error", err)
		return nil
	}
	return diags
}

func newDiagnostics(before, after []Diagnostic) []Diagnostic {
	seen := make(map[string]bool, len(before))
	for _, d := range before {
		seen[d.Severity+"\x00"+d.Message] = true
	}
	var fresh []Diagnostic
	for _, d := range after {
		if !seen[d.Severity+"\x00"+d.Message] {
			fresh = append(fresh, d)
		}
	}
	return fresh
}

func unifiedDiff(path, written, onDisk string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(written),
		B:        difflib.SplitLines(onDisk),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

func usesCRLF(s string) bool {
	n := strings.Count(s, "\n")
	return n > 0 && strings.Count(s, "\r\n") == n
}
