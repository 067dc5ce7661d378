package fileedit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem is the disk collaborator used by the editing provider, the
// memory loader, and the file tools. Relative paths are resolved by the
// implementation.
type FileSystem interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	Exists(path string) bool

	// CreateDirectories ensures dir exists and returns the directories it
	// had to create, shallowest first.
	CreateDirectories(dir string) ([]string, error)

	Remove(path string) error
	RemoveDirIfEmpty(dir string) (bool, error)
}

// OSFileSystem is a FileSystem on the local disk rooted at a workspace
// directory.
type OSFileSystem struct {
	root string
}

// NewOSFileSystem creates a file system rooted at root. An empty root uses
// the current working directory.
func NewOSFileSystem(root string) *OSFileSystem {
	if root == "" {
		root, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &OSFileSystem{root: root}
}

// Root returns the absolute workspace root.
func (f *OSFileSystem) Root() string { return f.root }

// DirFS exposes the workspace as an fs.FS for listing and searching.
func (f *OSFileSystem) DirFS() fs.FS { return os.DirFS(f.root) }

func (f *OSFileSystem) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(f.root, path)
}

func (f *OSFileSystem) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(f.resolve(path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (f *OSFileSystem) WriteFile(path, content string) error {
	resolved := f.resolve(path)
	perm := os.FileMode(0o644)
	if info, err := os.Stat(resolved); err == nil {
		perm = info.Mode().Perm()
	}
	if err := os.WriteFile(resolved, []byte(content), perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (f *OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(f.resolve(path))
	return err == nil
}

func (f *OSFileSystem) CreateDirectories(dir string) ([]string, error) {
	resolved := f.resolve(dir)

	var missing []string
	for d := resolved; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", d, err)
		}
		missing = append(missing, d)
		if parent := filepath.Dir(d); parent == d {
			break
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return nil, fmt.Errorf("create directories for %s: %w", dir, err)
	}

	created := make([]string, len(missing))
	for i, d := range missing {
		created[len(missing)-1-i] = d
	}
	return created, nil
}

func (f *OSFileSystem) Remove(path string) error {
	if err := os.Remove(f.resolve(path)); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (f *OSFileSystem) RemoveDirIfEmpty(dir string) (bool, error) {
	resolved := f.resolve(dir)
	entries, err := os.ReadDir(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read dir %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(resolved); err != nil {
		return false, fmt.Errorf("remove dir %s: %w", dir, err)
	}
	return true, nil
}
