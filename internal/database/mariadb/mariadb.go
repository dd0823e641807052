// Package mariadb backs the identity source and attendance store with the
// employees and attendance_logs tables of an existing MariaDB deployment.
package mariadb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/migrate"
	"github.com/kozaktomas/face-attendance/internal/database/sqlstore"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect binds timestamps as time.Time; the driver converts them to the
// connection location.
var Dialect = sqlstore.Dialect{
	Name:    "mariadb",
	TimeArg: func(t time.Time) any { return t },
}

// Register makes the "mysql" driver available to database.Open.
func Register() {
	database.RegisterBackend(config.DriverMySQL, func(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
		return Open(ctx, cfg, logging.Module("mariadb"))
	})
}

// NormalizeDSN forces parseTime and local time on the DSN so DATETIME columns
// scan into time.Time in the kiosk's time zone.
func NormalizeDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", errors.New("MariaDB DSN is required")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.Local
	return mc.FormatDSN(), nil
}

// NewPool opens and pings a MariaDB connection pool.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn, err := NormalizeDSN(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(max(cfg.MaxOpenConns, 1))
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}
	return db, nil
}

// Open connects, brings the legacy schema up to date and returns the store.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*sqlstore.Store, error) {
	db, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := &migrate.Migrator{DB: db, FS: migrationsFS, Dir: "migrations", Placeholder: "?", Logger: logger}
	if _, err := m.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return sqlstore.New(db, Dialect), nil
}
