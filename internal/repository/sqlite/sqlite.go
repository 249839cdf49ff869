// Package sqlite implements the repository interfaces on top of SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. Use ":memory:" for a throwaway database in tests.
//
// LAYOUT:
//
//	sqlite.go    opening the pool, DSN, transactions, error mapping
//	migrate.go   embedded goose migrations
//	user.go      repository.UserRepository   (db.Users())
//	group.go     repository.GroupRepository  (db.Groups())
//	board.go     repository.BoardRepository  (db.Boards())
//
// Each store is a thin struct around a queryer, which is either the pool
// (*sql.DB) or a transaction (*sql.Tx). The SQL is identical in both cases.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DSN parameters understood by modernc.org/sqlite.
//
// _pragma values run on EVERY new connection in the pool. That matters for
// foreign_keys: it is a per-connection setting, and a pragma executed once
// with db.Exec would only reach whichever connection happened to run it.
//
// _txlock=immediate makes BEGIN take the write lock up front. Two
// transactions that both read and then write would otherwise deadlock on
// lock upgrade and one would fail with SQLITE_BUSY instead of waiting.
const (
	busyTimeoutMillis = 5000
	txLock            = "immediate"
)

// queryer is the subset of *sql.DB and *sql.Tx the stores need.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ queryer = (*sql.DB)(nil)
	_ queryer = (*sql.Tx)(nil)
)

// DB owns the connection pool and hands out the per-concern stores.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the database at dbPath, applies pending migrations
// and returns a ready DB.
//
//	"data/studyhub.db"  file-backed, persistent
//	":memory:"          in-memory, gone on Close
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("sqlite: database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := sql.Open("sqlite", buildDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// IN-MEMORY DATABASES ARE PER CONNECTION:
	// every new connection to ":memory:" gets its own empty database, so the
	// pool must never grow past one connection.
	if isMemory(dbPath) {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetMaxOpenConns(4)
		conn.SetMaxIdleConns(4)
		conn.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if err := ensureForeignKeys(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn, logger: logger}

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Users returns the user store backed by the pool.
func (db *DB) Users() *UserStore {
	return &UserStore{q: db.conn}
}

// Groups returns the group/membership store backed by the pool.
func (db *DB) Groups() *GroupStore {
	return &GroupStore{db: db, q: db.conn}
}

// Boards returns the board/comment store backed by the pool.
func (db *DB) Boards() *BoardStore {
	return &BoardStore{q: db.conn}
}

// withTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back when fn returns an error or panics (the panic is re-raised).
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("transaction rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit transaction: %w", err)
	}
	return nil
}

func buildDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMillis))
	if !isMemory(path) {
		params.Add("_pragma", "journal_mode(WAL)")
		params.Add("_pragma", "synchronous(NORMAL)")
	}
	params.Set("_txlock", txLock)
	return path + "?" + params.Encode()
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func ensureForeignKeys(ctx context.Context, conn *sql.DB) error {
	var enabled int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("sqlite: checking foreign_keys pragma: %w", err)
	}
	if enabled != 1 {
		return errors.New("sqlite: foreign keys are disabled")
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation reports whether err is a FOREIGN KEY failure.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// requireOneRow turns "0 rows affected" into the supplied not-found error.
func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
