// Package migration recovers databases whose schema cannot be upgraded in
// place. It exports what the user owns, recreates the file and imports it
// back. Corpus data is not carried over; the next seeding run rebuilds it.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/mahesh-hegde/lectio/app/docstore"
)

const (
	DefaultPhaseTimeout = 5 * time.Second
	DefaultSettleDelay  = 100 * time.Millisecond
	DefaultBlockedGrace = 500 * time.Millisecond
)

type Options struct {
	// PhaseTimeout bounds each phase on its own.
	PhaseTimeout time.Duration
	// SettleDelay is waited between deleting and recreating the file.
	SettleDelay time.Duration
	// BlockedGrace is waited when a file could not be deleted.
	BlockedGrace time.Duration
}

// Result is reported instead of an error so callers can show a recovery
// screen. On failure the user can still delete the database by hand.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type Manager struct {
	engine *docstore.Engine
	opts   Options

	removeFile func(path string) error
}

func NewManager(engine *docstore.Engine, opts Options) *Manager {
	if opts.PhaseTimeout <= 0 {
		opts.PhaseTimeout = DefaultPhaseTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.BlockedGrace <= 0 {
		opts.BlockedGrace = DefaultBlockedGrace
	}
	return &Manager{engine: engine, opts: opts, removeFile: os.Remove}
}

// Ensure opens the database, rebuilding it first when the stored schema is
// too old to upgrade in place.
func (m *Manager) Ensure(ctx context.Context) error {
	err := m.engine.Init(ctx)
	if !errors.Is(err, common.ErrRebuildRequired) {
		return err
	}
	slog.Warn("database needs a rebuild", "path", m.engine.Path())
	res := m.Rebuild(ctx)
	if !res.Success {
		return fmt.Errorf("%s: %s", res.Message, res.Error)
	}
	slog.Info(res.Message)
	return nil
}

// Rebuild runs export, close, delete, settle, create and import. It never
// returns an error; see Result.
func (m *Manager) Rebuild(ctx context.Context) Result {
	path := m.engine.Path()
	var warnings []string

	// exported is only read once the export phase has returned.
	var exported, snap *docstore.Snapshot
	err := m.phase(ctx, "export", func(ctx context.Context) error {
		var err error
		exported, err = m.engine.ExportSnapshot(ctx)
		return err
	})
	if err != nil {
		slog.Warn("export failed, continuing without user data", "err", err)
		warnings = append(warnings, "previous data could not be exported")
	} else {
		snap = exported
		if len(snap.Failed) > 0 {
			warnings = append(warnings, "not exported: "+strings.Join(snap.Failed, ", "))
		}
	}

	if err := m.engine.Close(); err != nil {
		slog.Warn("closing database before rebuild", "err", err)
	}

	err = m.phase(ctx, "delete", func(ctx context.Context) error {
		return m.deleteFiles(path)
	})
	if err != nil {
		// Another process may still hold the file. Carry on after a grace
		// period rather than leave the user without a database.
		slog.Warn("database delete blocked, proceeding", "path", path, "err", err)
		warnings = append(warnings, "old database could not be fully deleted")
		if err := sleep(ctx, m.opts.BlockedGrace); err != nil {
			return failed(path, "rebuild cancelled", err)
		}
	}

	if err := sleep(ctx, m.opts.SettleDelay); err != nil {
		return failed(path, "rebuild cancelled", err)
	}

	err = m.phase(ctx, "create", m.engine.Init)
	if err != nil {
		return failed(path, "could not create a new database", err)
	}

	if snap != nil {
		err = m.phase(ctx, "import", func(ctx context.Context) error {
			return m.engine.RestoreSnapshot(ctx, snap)
		})
		if err != nil {
			return failed(path, "could not restore previous data", err)
		}
	}

	err = m.phase(ctx, "finish", func(ctx context.Context) error {
		return m.engine.PutPreference(ctx, docstore.PrefSchemaVersion, docstore.SchemaVersion)
	})
	if err != nil {
		return failed(path, "could not record schema version", err)
	}

	msg := fmt.Sprintf("rebuilt database at schema version %d", docstore.SchemaVersion)
	if snap != nil {
		msg += fmt.Sprintf(", restored %d bookmarks, %d notes, %d preferences",
			len(snap.Bookmarks), len(snap.Notes), len(snap.Preferences))
	}
	if len(warnings) > 0 {
		msg += " (" + strings.Join(warnings, "; ") + ")"
	}
	return Result{Success: true, Message: msg}
}

func failed(path, msg string, err error) Result {
	slog.Error("database rebuild failed", "path", path, "err", err)
	return Result{
		Success: false,
		Message: fmt.Sprintf("%s; delete %s and restart to recover", msg, path),
		Error:   err.Error(),
	}
}

func (m *Manager) deleteFiles(path string) error {
	var errs []error
	for _, suffix := range []string{"", "-wal", "-shm"} {
		err := m.removeFile(path + suffix)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// phase runs fn under its own timeout. A phase that does not return in time
// is abandoned.
func (m *Manager) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.PhaseTimeout)
	defer cancel()

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		slog.Debug("migration phase finished", "phase", name, "took", time.Since(started), "err", err)
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s phase: %w", name, ctx.Err())
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
