// Package sqlkv implements kv.Store on database/sql, for SQLite (modernc, pure Go) and
// PostgreSQL (pgx stdlib driver).
package sqlkv

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/velvetwardrobe/storefront/internal/platform/kv"
)

// Dialect selects placeholder syntax and error classification.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

const schema = `CREATE TABLE IF NOT EXISTS kv_entries (
	entry_key TEXT PRIMARY KEY,
	entry_value TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

type statements struct {
	get          string
	upsert       string
	delete       string
	insertAbsent string
	swap         string
}

// Store persists entries in the kv_entries table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	stmts   statements
	now     func() time.Time
}

var _ kv.Store = (*Store)(nil)

// New wraps an already opened database. Callers own schema creation via Migrate.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		stmts: statements{
			get:          rebind(dialect, `SELECT entry_value FROM kv_entries WHERE entry_key = ?`),
			upsert:       rebind(dialect, `INSERT INTO kv_entries (entry_key, entry_value, updated_at) VALUES (?, ?, ?) ON CONFLICT (entry_key) DO UPDATE SET entry_value = excluded.entry_value, updated_at = excluded.updated_at`),
			delete:       rebind(dialect, `DELETE FROM kv_entries WHERE entry_key = ?`),
			insertAbsent: rebind(dialect, `INSERT INTO kv_entries (entry_key, entry_value, updated_at) VALUES (?, ?, ?) ON CONFLICT (entry_key) DO NOTHING`),
			swap:         rebind(dialect, `UPDATE kv_entries SET entry_value = ?, updated_at = ? WHERE entry_key = ? AND entry_value = ?`),
		},
		now: time.Now,
	}
}

// OpenSQLite opens (creating if needed) the SQLite file at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlkv: sqlite path is required")
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	openMu.Lock()
	db, err := sqlOpen("sqlite", dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers inside the process; other processes are
	// arbitrated by SQLite's file lock and busy_timeout.
	db.SetMaxOpenConns(1)
	return finishOpen(ctx, db, SQLite)
}

// OpenPostgres connects with the pgx driver and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlkv: postgres dsn is required")
	}
	openMu.Lock()
	db, err := sqlOpen("pgx", dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return finishOpen(ctx, db, Postgres)
}

func finishOpen(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	store := New(db, dialect)
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the kv_entries table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return s.wrap("kv.sql.migrate", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.stmts.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", kv.NotFound("kv.sql.get", key)
	}
	if err != nil {
		return "", s.wrap("kv.sql.get", err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.stmts.upsert, key, value, s.stamp()); err != nil {
		return s.wrap("kv.sql.set", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.stmts.delete, key); err != nil {
		return s.wrap("kv.sql.delete", err)
	}
	return nil
}

// SwapIf performs the guard as a conditional write, so the row lock is taken by the first
// statement of the transaction and no read-then-upgrade window exists.
func (s *Store) SwapIf(ctx context.Context, key string, guard kv.Guard, next string, also ...kv.Entry) (err error) {
	const op = "kv.sql.swap"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(op, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stamp := s.stamp()
	var res sql.Result
	if guard.Present {
		res, err = tx.ExecContext(ctx, s.stmts.swap, next, stamp, key, guard.Value)
	} else {
		res, err = tx.ExecContext(ctx, s.stmts.insertAbsent, key, next, stamp)
	}
	if err != nil {
		return s.wrap(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return s.wrap(op, err)
	}
	if affected != 1 {
		err = kv.Conflict(op, key)
		return err
	}

	for _, entry := range also {
		if _, err = tx.ExecContext(ctx, s.stmts.upsert, entry.Key, entry.Value, stamp); err != nil {
			return s.wrap(op, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return s.wrap(op, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.wrap("kv.sql.ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) stamp() int64 {
	return s.now().UnixMilli()
}

func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return kv.NewError(op, classify(s.dialect, err), err)
}

func classify(dialect Dialect, err error) kv.Kind {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return kv.KindUnavailable
	}
	switch dialect {
	case Postgres:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch {
			case pgErr.Code == "40001", pgErr.Code == "40P01":
				return kv.KindConflict
			case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"), pgErr.Code == "53300":
				return kv.KindUnavailable
			}
			return kv.KindUnknown
		}
		if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
			return kv.KindUnavailable
		}
	case SQLite:
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) {
			switch liteErr.Code() & 0xff {
			case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
				return kv.KindUnavailable
			case sqlite3.SQLITE_FULL, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
				return kv.KindUnavailable
			}
		}
	}
	return kv.KindUnknown
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func rebind(dialect Dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
