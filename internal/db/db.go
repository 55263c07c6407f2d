// Package db opens the workspace-local SQLite store. Everything taskline
// persists lives in a single file under the .taskline directory of the
// workspace, so a workspace can be moved or deleted as one unit.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".taskline"
	dbFile       = "taskline.db"
)

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the .taskline directory if missing and returns
// its path.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open returns a connection to the workspace database. Foreign keys are
// enforced, and writers wait out short lock contention instead of failing
// with SQLITE_BUSY, which matters once concurrent requests race on the
// request_log reservation.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}
	file := filepath.Join(workspace, workspaceDir, dbFile)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", file)
	return sql.Open("sqlite", dsn)
}
