package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"gacpline/internal/retry"
)

const defaultDBName = "gacpline.db"

type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".gacpline", defaultDBName)
}

// EnsureWorkspace creates the workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".gacpline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect opens the database and verifies it with a bounded-retry ping, so a
// briefly locked or still-provisioning database surfaces as one error after
// the policy's attempts rather than a flaky first request.
func Connect(ctx context.Context, cfg Config, policy retry.Policy) (*sql.DB, error) {
	conn, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := policy.Do(ctx, func() error { return conn.PingContext(ctx) }); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
