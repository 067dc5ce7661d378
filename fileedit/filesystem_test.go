package fileedit

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateDirectoriesShallowestFirst(t *testing.T) {
	root := t.TempDir()
	fsys := NewOSFileSystem(root)

	created, err := fsys.CreateDirectories("a/b/c")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := []string{
		filepath.Join(root, "a"),
		filepath.Join(root, "a", "b"),
		filepath.Join(root, "a", "b", "c"),
	}
	if len(created) != len(want) {
		t.Fatalf("expected %v, got %v", want, created)
	}
	for i := range want {
		if created[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], created[i])
		}
	}

	again, err := fsys.CreateDirectories("a/b/c")
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected nothing created the second time, got %v", again)
	}
}

func TestRemoveDirIfEmpty(t *testing.T) {
	root := t.TempDir()
	fsys := NewOSFileSystem(root)
	if err := os.MkdirAll(filepath.Join(root, "full"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "full", "f"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		dir  string
		want bool
	}{
		{"full", false},
		{"empty", true},
		{"missing", false},
	}
	for _, tt := range tests {
		got, err := fsys.RemoveDirIfEmpty(tt.dir)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.dir, err)
		}
		if got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.dir, tt.want, got)
		}
	}
}

func TestOSFileSystemReadMissing(t *testing.T) {
	fsys := NewOSFileSystem(t.TempDir())
	if fsys.Exists("nope") {
		t.Error("expected missing file")
	}
	_, err := fsys.ReadFile("nope")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestDirFS(t *testing.T) {
	root := t.TempDir()
	fsys := NewOSFileSystem(root)
	if err := fsys.WriteFile("x.txt", "data"); err != nil {
		t.Fatal(err)
	}
	data, err := fs.ReadFile(fsys.DirFS(), "x.txt")
	if err != nil || string(data) != "data" {
		t.Errorf("expected data via fs.FS, got %q (%v)", data, err)
	}
}
