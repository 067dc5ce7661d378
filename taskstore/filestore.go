package taskstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore keeps each task in <dir>/tasks/<id>/state.json. Writes go to a
// temp file that is renamed into place; the previous revision is kept as
// state.json.bak and used when the primary is unreadable.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
	logger  *slog.Logger
	now     func() time.Time
}

// NewFileStore creates a FileStore rooted at dataDir.
func NewFileStore(dataDir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		baseDir: filepath.Join(dataDir, "tasks"),
		logger:  logger,
		now:     time.Now,
	}
}

func (f *FileStore) taskDir(id string) string { return filepath.Join(f.baseDir, id) }
func (f *FileStore) statePath(id string) string { return filepath.Join(f.taskDir(id), "state.json") }
func (f *FileStore) backupPath(id string) string {
	return f.statePath(id) + ".bak"
}

func (f *FileStore) Save(ctx context.Context, s *State) error {
	if err := validateID(s.ID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if current, err := f.load(s.ID); err == nil && current.Revision > s.Revision {
		return fmt.Errorf("%w: stored %d, saving %d", ErrStaleRevision, current.Revision, s.Revision+1)
	}

	data, restore, err := prepare(s, f.now())
	if err != nil {
		return err
	}
	if err := f.write(s.ID, data); err != nil {
		restore()
		return err
	}
	return nil
}

func (f *FileStore) write(id string, data []byte) error {
	if err := os.MkdirAll(f.taskDir(id), 0o755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}

	path := f.statePath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, f.backupPath(id)); err != nil {
			return fmt.Errorf("keep state backup: %w", err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func (f *FileStore) Load(ctx context.Context, id string) (*State, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(id)
}

// load reads the primary state, falling back to the backup and repairing
// the primary from it.
func (f *FileStore) load(id string) (*State, error) {
	primary, perr := readState(f.statePath(id))
	if perr == nil {
		return primary, nil
	}

	backup, berr := readState(f.backupPath(id))
	switch {
	case berr == nil:
		f.logger.Warn("task state unreadable, restored from backup",
			"task", id, "error", perr, "revision", backup.Revision)
		if data, err := os.ReadFile(f.backupPath(id)); err == nil {
			if err := os.WriteFile(f.statePath(id)+".tmp", data, 0o644); err == nil {
				_ = os.Rename(f.statePath(id)+".tmp", f.statePath(id))
			}
		}
		return backup, nil
	case errors.Is(perr, fs.ErrNotExist) && errors.Is(berr, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	cause := perr
	if errors.Is(perr, fs.ErrNotExist) {
		cause = berr
	}
	if errors.Is(cause, ErrCorruptState) {
		return nil, cause
	}
	return nil, fmt.Errorf("%w: %v", ErrCorruptState, cause)
}

func readState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (f *FileStore) List(ctx context.Context) ([]Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list tasks dir: %w", err)
	}

	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s, err := f.load(entry.Name())
		if err != nil {
			f.logger.Warn("skipping unreadable task", "task", entry.Name(), "error", err)
			continue
		}
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (f *FileStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.taskDir(id)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err := os.RemoveAll(f.taskDir(id)); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
