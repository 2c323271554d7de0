// Package docstore owns the embedded SQLite database: connection lifecycle,
// schema versions, batch writers and readers for corpus and user data.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mahesh-hegde/lectio/app/common"
)

const DefaultInitTimeout = 5 * time.Second

type EngineOptions struct {
	// InitTimeout bounds how long Init waits for the database to open.
	InitTimeout time.Duration
}

// openCall is an in-flight open shared by concurrent Init callers.
type openCall struct {
	done chan struct{}
	db   *sql.DB
	err  error
}

// Engine is the single owner of the database handle. Every other component
// goes through its methods.
type Engine struct {
	path string
	opts EngineOptions

	mu      sync.Mutex
	db      *sql.DB
	opening *openCall

	// overridable in tests
	openFn     func() (*sql.DB, error)
	beforeItem func(store string, i int) error
}

func NewEngine(path string, opts EngineOptions) *Engine {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	e := &Engine{path: path, opts: opts}
	e.openFn = e.open
	return e
}

func (e *Engine) Path() string {
	return e.path
}

// Init opens the database, or returns immediately if it is already open.
// It gives up after InitTimeout with common.ErrStorageTimeout; the open keeps
// running and a later Init adopts its handle.
func (e *Engine) Init(ctx context.Context) error {
	_, err := e.conn(ctx)
	return err
}

func (e *Engine) conn(ctx context.Context) (*sql.DB, error) {
	e.mu.Lock()
	if e.db != nil {
		db := e.db
		e.mu.Unlock()
		return db, nil
	}
	call := e.opening
	if call == nil {
		call = &openCall{done: make(chan struct{})}
		e.opening = call
		go e.runOpen(call)
	}
	e.mu.Unlock()

	timer := time.NewTimer(e.opts.InitTimeout)
	defer timer.Stop()

	select {
	case <-call.done:
		return call.db, call.err
	case <-timer.C:
		slog.Error("database open timed out", "path", e.path, "timeout", e.opts.InitTimeout)
		return nil, common.ErrStorageTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) runOpen(call *openCall) {
	db, err := e.openFn()

	e.mu.Lock()
	if err == nil {
		e.db = db
	}
	e.opening = nil
	e.mu.Unlock()

	call.db, call.err = db, err
	close(call.done)
}

func (e *Engine) open() (*sql.DB, error) {
	db, err := NewSQLiteDB(e.path)
	if err != nil {
		return nil, &common.ConnectionError{Path: e.path, Err: err}
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &common.ConnectionError{Path: e.path, Err: err}
	}
	if err := upgrade(ctx, db); err != nil {
		db.Close()
		if errors.Is(err, common.ErrRebuildRequired) {
			return nil, err
		}
		if isBusyError(err) {
			err = fmt.Errorf("%w: %v", common.ErrBlocked, err)
		}
		return nil, &common.ConnectionError{Path: e.path, Err: err}
	}
	return db, nil
}

// StoredVersion reports the schema version recorded in the file.
func StoredVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	return version, err
}

func upgrade(ctx context.Context, db *sql.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", upgradeBusyTimeoutMillis)); err != nil {
		return err
	}
	defer conn.ExecContext(context.Background(), fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis))

	var version int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	switch {
	case version == SchemaVersion:
		return nil
	case version > SchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, SchemaVersion)
	case version > 0 && version < MinInPlaceVersion:
		slog.Warn("stored schema too old for in-place upgrade", "stored", version, "target", SchemaVersion)
		return common.ErrRebuildRequired
	}

	for _, step := range schemaSteps {
		if step.version <= version {
			continue
		}
		if err := applyStep(ctx, conn, step); err != nil {
			return fmt.Errorf("upgrading schema to version %d: %w", step.version, err)
		}
		slog.Info("upgraded database schema", "from", version, "to", step.version)
		version = step.version
	}
	return nil
}

func applyStep(ctx context.Context, conn *sql.Conn, step schemaStep) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range step.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", step.version)); err != nil {
		return err
	}
	if err := putPreference(ctx, tx, PrefSchemaVersion, step.version); err != nil {
		return err
	}
	return tx.Commit()
}

// Close releases the handle. A later Init reopens the file.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// batch runs fn inside one transaction and converts any failure into
// common.TransactionAborted.
func (e *Engine) batch(ctx context.Context, store string, count int, fn func(tx *sql.Tx) error) error {
	db, err := e.conn(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &common.TransactionAborted{Store: store, Count: count, Err: err}
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return &common.TransactionAborted{Store: store, Count: count, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &common.TransactionAborted{Store: store, Count: count, Err: err}
	}
	return nil
}

func (e *Engine) checkItem(store string, i int) error {
	if e.beforeItem == nil {
		return nil
	}
	return e.beforeItem(store, i)
}

func putPreference(ctx context.Context, x execer, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode preference %s: %w", key, err)
	}
	_, err = x.ExecContext(ctx,
		"INSERT OR REPLACE INTO preferences (key, value, last_updated) VALUES (?, ?, ?)",
		key, raw, time.Now().UnixMilli())
	return err
}

// getJSON scans a single e/refs column and decodes it into v. It reports
// false when no row matched.
func getJSON(ctx context.Context, q queryer, v any, query string, args ...any) (bool, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// listJSON decodes every row of a single-column query.
func listJSON[T any](ctx context.Context, q queryer, query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n)
	b = append(b, '?')
	for i := 1; i < n; i++ {
		b = append(b, ",?"...)
	}
	return string(b)
}
