package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"animehub/pkg/apperrors"
	"animehub/pkg/config"
	"animehub/pkg/logger"
)

// DB is a pooled handle plus the dialect needed to talk to it.
type DB struct {
	*sql.DB
	Dialect Dialect
}

func EnsureDataDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// Open connects to the store described by cfg and verifies it answers.
func Open(cfg config.Database) (*DB, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return openSQLite(cfg)
	case "postgres":
		return openPostgres(cfg)
	default:
		return nil, apperrors.Newf(apperrors.ErrorTypeConfig, "unknown driver %q", cfg.Driver)
	}
}

func openSQLite(cfg config.Database) (*DB, error) {
	if err := EnsureDataDir(cfg.Path); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", sqliteDSN(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeConnection, "ping sqlite")
	}

	return &DB{DB: db, Dialect: SQLite}, nil
}

// sqliteDSN carries the pragmas in the DSN so every pooled connection
// gets them, not just the first one.
func sqliteDSN(path string) string {
	return path + "?_busy_timeout=5000&_journal_mode=WAL"
}

func openPostgres(cfg config.Database) (*DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeConnection, "ping postgres")
	}

	return &DB{DB: db, Dialect: Postgres}, nil
}

func MustOpen(cfg config.Database) *DB {
	db, err := Open(cfg)
	if err != nil {
		logger.Get().Fatal("failed to open db", zap.String("driver", cfg.Driver), zap.Error(err))
	}
	return db
}

// Rebind rewrites ? placeholders for this handle's dialect.
func (db *DB) Rebind(query string) string {
	return db.Dialect.Rebind(query)
}
