// Package db is the relational storage backend on top of modernc sqlite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubengine/storage"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const maxBusyRetries = 5

// DB implements storage.Storage.
type DB struct {
	db  *sql.DB
	log *log.Logger
}

var _ storage.Storage = (*DB)(nil)

// Open opens (and bootstraps) the database at path. ":memory:" gives a
// private in-memory database pinned to a single connection.
func Open(path string, logger *log.Logger) (*DB, error) {
	memory := path == ":memory:"

	dsn := path
	if !memory {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if memory {
		// every new connection would see a fresh empty database
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	db := &DB{db: sqlDB, log: logger}
	if err := db.RunMigrations(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	logger.Info("Database ready", "path", path)
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs f in a transaction, retrying the whole transaction
// while sqlite reports the database as busy.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt <= maxBusyRetries; attempt++ {
		err = db.runTransaction(ctx, f)
		if err == nil || !isBusy(err) {
			return err
		}
		db.log.Debug("Database busy, retrying transaction", "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return err
}

func (db *DB) runTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func sqliteCode(err error) (int, bool) {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code(), true
	}
	return 0, false
}

func isBusy(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code&0xff == sqlitelib.SQLITE_BUSY || code&0xff == sqlitelib.SQLITE_LOCKED)
}

func isConstraint(err error) bool {
	if code, ok := sqliteCode(err); ok {
		if code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows onto the storage sentinel.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}
