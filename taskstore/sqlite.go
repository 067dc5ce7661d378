package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`PRAGMA busy_timeout = 5000`,
	`CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	parent_id  TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	revision   INTEGER NOT NULL,
	state      BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS tasks_updated_at ON tasks (updated_at)`,
}

// sortableTime has a fixed width so updated_at sorts lexically.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps task state in a single SQLite table. A save only
// replaces a row when its revision is newer than the stored one.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open task database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create task schema: %w", err)
		}
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st *State) error {
	if err := validateID(st.ID); err != nil {
		return err
	}
	data, restore, err := prepare(st, s.now())
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (id, parent_id, status, revision, state, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	parent_id = excluded.parent_id,
	status = excluded.status,
	revision = excluded.revision,
	state = excluded.state,
	updated_at = excluded.updated_at
WHERE excluded.revision > tasks.revision`,
		st.ID, st.ParentID, string(st.Status), st.Revision, data, st.UpdatedAt.UTC().Format(sortableTime))
	if err != nil {
		restore()
		return fmt.Errorf("save task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		rev := st.Revision
		restore()
		return fmt.Errorf("%w: revision %d is not newer than the stored one", ErrStaleRevision, rev)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*State, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM tasks WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return decode(data)
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, state FROM tasks ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		st, err := decode(data)
		if err != nil {
			s.logger.Warn("skipping unreadable task", "task", id, "error", err)
			continue
		}
		out = append(out, st.Summary())
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
