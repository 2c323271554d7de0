package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func (e *Engine) PutPreference(ctx context.Context, key string, value any) error {
	db, err := e.conn(ctx)
	if err != nil {
		return err
	}
	return putPreference(ctx, db, key, value)
}

// GetPreference returns nil when the key was never set.
func (e *Engine) GetPreference(ctx context.Context, key string) (*Preference, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	pref := Preference{Key: key}
	var raw []byte
	err = db.QueryRowContext(ctx,
		"SELECT value, last_updated FROM preferences WHERE key = ?", key).Scan(&raw, &pref.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pref.Value = json.RawMessage(raw)
	return &pref, nil
}

func (e *Engine) ListPreferences(ctx context.Context) ([]Preference, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, "SELECT key, value, last_updated FROM preferences ORDER BY key")
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
		p.Value = json.RawMessage(raw)
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

func (e *Engine) DeletePreference(ctx context.Context, key string) error {
	db, err := e.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM preferences WHERE key = ?", key)
	return err
}

func (e *Engine) PutBookmark(ctx context.Context, b Bookmark) error {
	db, err := e.conn(ctx)
	if err != nil {
		return err
	}
	return putBookmark(ctx, db, b)
}

func putBookmark(ctx context.Context, x execer, b Bookmark) error {
	entryJSON, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to json encode bookmark %s: %w", b.ID, err)
	}
	_, err = x.ExecContext(ctx,
		"INSERT OR REPLACE INTO bookmarks (id, created_at, e) VALUES (?, ?, ?)",
		b.ID, b.CreatedAt, entryJSON)
	return err
}

func (e *Engine) GetBookmark(ctx context.Context, id string) (*Bookmark, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	var b Bookmark
	found, err := getJSON(ctx, db, &b, "SELECT e FROM bookmarks WHERE id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &b, nil
}

// DeleteBookmark reports whether a row was removed.
func (e *Engine) DeleteBookmark(ctx context.Context, id string) (bool, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM bookmarks WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetAllBookmarks is newest first.
func (e *Engine) GetAllBookmarks(ctx context.Context) ([]Bookmark, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	return listJSON[Bookmark](ctx, db, "SELECT e FROM bookmarks ORDER BY created_at DESC, id")
}

func (e *Engine) PutNote(ctx context.Context, n VerseNote) error {
	db, err := e.conn(ctx)
	if err != nil {
		return err
	}
	return putNote(ctx, db, n)
}

// InsertNoteIfAbsent writes n only when its verse has no note yet. The check
// and the write share one transaction. It reports whether n was written.
func (e *Engine) InsertNoteIfAbsent(ctx context.Context, n VerseNote) (bool, error) {
	inserted := false
	err := e.batch(ctx, "notes", 1, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM notes WHERE book = ? AND chapter = ? AND verse = ?)",
			n.Book, n.Chapter, n.Verse).Scan(&exists)
		if err != nil || exists {
			return err
		}
		if err := e.checkItem("notes", 0); err != nil {
			return err
		}
		inserted = true
		return putNote(ctx, tx, n)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func putNote(ctx context.Context, x execer, n VerseNote) error {
	entryJSON, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to json encode note %s: %w", n.ID, err)
	}
	_, err = x.ExecContext(ctx,
		`INSERT OR REPLACE INTO notes (id, book, chapter, verse, created_at, updated_at, e)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Book, n.Chapter, n.Verse, n.CreatedAt, n.UpdatedAt, entryJSON)
	return err
}

func (e *Engine) GetNote(ctx context.Context, id string) (*VerseNote, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	var n VerseNote
	found, err := getJSON(ctx, db, &n, "SELECT e FROM notes WHERE id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &n, nil
}

// GetNotesForVerse uses idx_notes_verse, most recently updated first.
func (e *Engine) GetNotesForVerse(ctx context.Context, book, chapter, verse string) ([]VerseNote, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	return listJSON[VerseNote](ctx, db,
		"SELECT e FROM notes WHERE book = ? AND chapter = ? AND verse = ? ORDER BY updated_at DESC, id",
		book, chapter, verse)
}

func (e *Engine) GetAllNotes(ctx context.Context) ([]VerseNote, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	return listJSON[VerseNote](ctx, db, "SELECT e FROM notes ORDER BY updated_at DESC, id")
}

func (e *Engine) DeleteNote(ctx context.Context, id string) (bool, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PutReadingPosition overwrites the single position row.
func (e *Engine) PutReadingPosition(ctx context.Context, p ReadingPosition) error {
	db, err := e.conn(ctx)
	if err != nil {
		return err
	}
	if p.LastUpdated == 0 {
		p.LastUpdated = time.Now().UnixMilli()
	}
	entryJSON, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"INSERT OR REPLACE INTO reading_position (id, e) VALUES (?, ?)", CurrentPositionKey, entryJSON)
	return err
}

func (e *Engine) GetReadingPosition(ctx context.Context) (*ReadingPosition, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	var p ReadingPosition
	found, err := getJSON(ctx, db, &p, "SELECT e FROM reading_position WHERE id = ?", CurrentPositionKey)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// ImportUserData writes bookmarks and notes in one transaction.
func (e *Engine) ImportUserData(ctx context.Context, bookmarks []Bookmark, notes []VerseNote) error {
	return e.batch(ctx, "user_data", len(bookmarks)+len(notes), func(tx *sql.Tx) error {
		for i, b := range bookmarks {
			if err := e.checkItem("bookmarks", i); err != nil {
				return err
			}
			if err := putBookmark(ctx, tx, b); err != nil {
				return err
			}
		}
		for i, n := range notes {
			if err := e.checkItem("notes", i); err != nil {
				return err
			}
			if err := putNote(ctx, tx, n); err != nil {
				return err
			}
		}
		return nil
	})
}
