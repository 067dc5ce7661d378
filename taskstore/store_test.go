package taskstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/martinemde/codeloop/history"
)

func newState(id string) *State {
	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &State{
		ID:            id,
		WorkspaceRoot: "/work",
		Mode:          "code",
		Status:        StatusActive,
		Prompt:        "fix the bug",
		Temperature:   0.7,
		History: []history.Message{
			history.NewTextMessage(history.RoleUser, ts, "fix the bug"),
			history.NewMessage(history.RoleAssistant, ts, history.TextBlock("looking")),
		},
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	sqlite, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "tasks.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"file":   NewFileStore(t.TempDir(), nil),
		"sqlite": sqlite,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := newState("task-1")

			if err := store.Save(ctx, st); err != nil {
				t.Fatalf("save: %v", err)
			}
			if st.Revision != 1 || st.Checksum == "" || st.CreatedAt.IsZero() {
				t.Errorf("expected revision, checksum and timestamps stamped, got %+v", st)
			}

			st.ConsecutiveMistakes = 2
			st.History = append(st.History, history.NewTextMessage(history.RoleUser, time.Now(), "more"))
			if err := store.Save(ctx, st); err != nil {
				t.Fatalf("second save: %v", err)
			}

			got, err := store.Load(ctx, "task-1")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.Revision != 2 {
				t.Errorf("expected revision 2, got %d", got.Revision)
			}
			if len(got.History) != 3 || got.History[2].Text() != "more" {
				t.Errorf("unexpected history: %+v", got.History)
			}
			if got.ConsecutiveMistakes != 2 || got.Temperature != 0.7 {
				t.Errorf("counters not persisted: %+v", got)
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
				t.Errorf("load: expected ErrTaskNotFound, got %v", err)
			}
			if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
				t.Errorf("delete: expected ErrTaskNotFound, got %v", err)
			}
		})
	}
}

func TestStoreRejectsStaleRevision(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := newState("task-1")
			if err := store.Save(ctx, a); err != nil {
				t.Fatalf("save: %v", err)
			}
			b := *a
			if err := store.Save(ctx, a); err != nil {
				t.Fatalf("save a: %v", err)
			}
			if err := store.Save(ctx, &b); !errors.Is(err, ErrStaleRevision) {
				t.Fatalf("expected ErrStaleRevision, got %v", err)
			}
			if b.Revision != 1 {
				t.Errorf("expected revision restored after failed save, got %d", b.Revision)
			}
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			setClock(store, func() time.Time { clock = clock.Add(time.Minute); return clock })

			for _, id := range []string{"a", "b", "c"} {
				if err := store.Save(ctx, newState(id)); err != nil {
					t.Fatalf("save %s: %v", id, err)
				}
			}

			list, err := store.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 3 || list[0].ID != "c" || list[2].ID != "a" {
				t.Fatalf("expected newest first, got %+v", list)
			}
			if list[0].Messages != 2 {
				t.Errorf("expected message count in summary, got %d", list[0].Messages)
			}

			if err := store.Delete(ctx, "b"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			list, _ = store.List(ctx)
			if len(list) != 2 {
				t.Errorf("expected 2 tasks after delete, got %d", len(list))
			}
		})
	}
}

func setClock(store Store, now func() time.Time) {
	switch s := store.(type) {
	case *FileStore:
		s.now = now
	case *SQLiteStore:
		s.now = now
	}
}

func TestFileStoreFallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, nil)

	st := newState("t")
	if err := store.Save(ctx, st); err != nil {
		t.Fatal(err)
	}
	st.History = append(st.History, history.NewTextMessage(history.RoleUser, time.Now(), "second"))
	if err := store.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	primary := filepath.Join(dir, "tasks", "t", "state.json")
	if err := os.WriteFile(primary, []byte(`{"id": "t", "revis`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load(ctx, "t")
	if err != nil {
		t.Fatalf("expected backup to be used, got %v", err)
	}
	if got.Revision != 1 || len(got.History) != 2 {
		t.Errorf("expected revision 1 from backup, got revision %d with %d messages", got.Revision, len(got.History))
	}

	// The primary was repaired from the backup.
	if _, err := readState(primary); err != nil {
		t.Errorf("expected primary repaired, got %v", err)
	}
}

func TestFileStoreDetectsTamperedHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(dir, nil)

	if err := store.Save(ctx, newState("t")); err != nil {
		t.Fatal(err)
	}

	primary := filepath.Join(dir, "tasks", "t", "state.json")
	data, err := os.ReadFile(primary)
	if err != nil {
		t.Fatal(err)
	}
	data = []byte(strings.Replace(string(data), "looking", "LOOKING", 1))
	if err := os.WriteFile(primary, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Load(ctx, "t"); !errors.Is(err, ErrCorruptState) {
		t.Errorf("expected ErrCorruptState, got %v", err)
	}
}

func TestInvalidID(t *testing.T) {
	store := NewFileStore(t.TempDir(), nil)
	for _, id := range []string{"", "..", "a/b"} {
		if err := store.Save(context.Background(), newState(id)); !errors.Is(err, ErrInvalidID) {
			t.Errorf("%q: expected ErrInvalidID, got %v", id, err)
		}
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{DriverFile, DriverSQLite} {
		store, err := Open(ctx, driver, t.TempDir(), nil)
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		store.Close()
	}
	if _, err := Open(ctx, "postgres", t.TempDir(), nil); err == nil {
		t.Error("expected unknown driver error")
	}
}
