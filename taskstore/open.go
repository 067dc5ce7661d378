package taskstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Drivers accepted by Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver under dataDir.
func Open(ctx context.Context, driver, dataDir string, logger *slog.Logger) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	switch driver {
	case "", DriverFile:
		return NewFileStore(dataDir, logger), nil
	case DriverSQLite:
		return OpenSQLite(ctx, filepath.Join(dataDir, "tasks.db"), logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
