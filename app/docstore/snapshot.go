package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
)

// Snapshot is the user-owned state carried across a destructive rebuild.
// Derived corpus data is never part of it.
type Snapshot struct {
	Position    *ReadingPosition
	Preferences []Preference
	Books       []BookRecord
	Bookmarks   []Bookmark
	Notes       []VerseNote

	// Failed lists the stores that could not be read.
	Failed []string
}

// ExportSnapshot reads every preservable store. A store that cannot be read
// is logged and skipped. When the engine is closed the file is opened
// without running schema upgrades, so a database too old to open normally
// can still be exported.
func (e *Engine) ExportSnapshot(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	db := e.db
	e.mu.Unlock()

	if db == nil {
		raw, err := NewSQLiteDB(e.path)
		if err != nil {
			return nil, err
		}
		defer raw.Close()
		db = raw
	}

	snap := &Snapshot{}
	fail := func(store string, err error) {
		slog.Warn("could not export store", "store", store, "err", err)
		snap.Failed = append(snap.Failed, store)
	}

	var pos ReadingPosition
	if found, err := getJSON(ctx, db, &pos, "SELECT e FROM reading_position WHERE id = ?", CurrentPositionKey); err != nil {
		fail("reading_position", err)
	} else if found {
		snap.Position = &pos
	}

	if prefs, err := exportPreferences(ctx, db); err != nil {
		fail("preferences", err)
	} else {
		snap.Preferences = prefs
	}

	if books, err := listJSON[BookRecord](ctx, db, "SELECT e FROM books ORDER BY book_index"); err != nil {
		fail("books", err)
	} else {
		snap.Books = books
	}

	if bookmarks, err := listJSON[Bookmark](ctx, db, "SELECT e FROM bookmarks"); err != nil {
		fail("bookmarks", err)
	} else {
		snap.Bookmarks = bookmarks
	}

	if notes, err := listJSON[VerseNote](ctx, db, "SELECT e FROM notes"); err != nil {
		fail("notes", err)
	} else {
		snap.Notes = notes
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return snap, nil
}

// exportPreferences leaves out reserved keys: a rebuilt database gets a fresh
// schema version and must be reseeded.
func exportPreferences(ctx context.Context, db *sql.DB) ([]Preference, error) {
	rows, err := db.QueryContext(ctx, "SELECT key, value, last_updated FROM preferences")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var p Preference
		var raw []byte
		if err := rows.Scan(&p.Key, &raw, &p.LastUpdated); err != nil {
			return nil, err
		}
		if IsReservedKey(p.Key) {
			continue
		}
		if !json.Valid(raw) {
			slog.Warn("dropping preference with invalid value", "key", p.Key)
			continue
		}
		p.Value = json.RawMessage(raw)
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// RestoreSnapshot writes a snapshot back in one transaction.
func (e *Engine) RestoreSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	count := len(snap.Preferences) + len(snap.Books) + len(snap.Bookmarks) + len(snap.Notes)
	return e.batch(ctx, "snapshot", count, func(tx *sql.Tx) error {
		if snap.Position != nil {
			entryJSON, err := json.Marshal(snap.Position)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO reading_position (id, e) VALUES (?, ?)", CurrentPositionKey, entryJSON); err != nil {
				return err
			}
		}
		for _, p := range snap.Preferences {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR REPLACE INTO preferences (key, value, last_updated) VALUES (?, ?, ?)",
				p.Key, []byte(p.Value), p.LastUpdated); err != nil {
				return err
			}
		}
		for _, b := range snap.Bookmarks {
			if err := putBookmark(ctx, tx, b); err != nil {
				return err
			}
		}
		for _, n := range snap.Notes {
			if err := putNote(ctx, tx, n); err != nil {
				return err
			}
		}
		return putBooks(ctx, tx, snap.Books)
	})
}
