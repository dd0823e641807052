// Package sqlite keeps identities and attendance in a single file for
// standalone kiosks. The schema matches the one created by the kiosk server.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/migrate"
	"github.com/kozaktomas/face-attendance/internal/database/sqlstore"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect stores timestamps as fixed-width UTC text.
var Dialect = sqlstore.Dialect{
	Name:    "sqlite",
	TimeArg: func(t time.Time) any { return t.UTC().Format(sqlstore.TimeLayout) },
}

// Register makes the "sqlite" driver available to database.Open.
func Register() {
	database.RegisterBackend(config.DriverSQLite, func(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
		return Open(ctx, cfg.URL, logging.Module("sqlite"))
	})
}

// Open opens (creating if needed) the database file at path and migrates it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sqlstore.Store, error) {
	if path == "" {
		return nil, errors.New("sqlite database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; the recorder and the API share the file.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	m := &migrate.Migrator{DB: db, FS: migrationsFS, Dir: "migrations", Placeholder: "?", Logger: logger}
	if _, err := m.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return sqlstore.New(db, Dialect), nil
}
