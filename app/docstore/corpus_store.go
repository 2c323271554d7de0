package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mahesh-hegde/lectio/app/common"
)

// PutVerses writes all verses in one transaction.
func (e *Engine) PutVerses(ctx context.Context, vs []VerseRecord) error {
	return e.batch(ctx, "verses", len(vs), func(tx *sql.Tx) error {
		return e.putVerses(ctx, tx, vs)
	})
}

// PutBookChunk writes a group of books and all of their verses in one
// transaction, so a chunk is either fully visible or not at all.
func (e *Engine) PutBookChunk(ctx context.Context, vs []VerseRecord, bs []BookRecord) error {
	return e.batch(ctx, "verses", len(vs)+len(bs), func(tx *sql.Tx) error {
		if err := e.putVerses(ctx, tx, vs); err != nil {
			return err
		}
		return putBooks(ctx, tx, bs)
	})
}

func (e *Engine) putVerses(ctx context.Context, tx *sql.Tx, vs []VerseRecord) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO verses (id, book_index, chapter_num, verse_num, text, e) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, v := range vs {
		if err := e.checkItem("verses", i); err != nil {
			return err
		}
		if v.ID == "" {
			v.ID = common.VerseID(v.Book, v.Chapter, v.Verse)
		}
		entryJSON, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to json encode verse %s: %w", v.ID, err)
		}
		_, err = stmt.ExecContext(ctx, v.ID, v.BookIndex, common.Numeral(v.Chapter), common.Numeral(v.Verse), v.Text, entryJSON)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) PutChapters(ctx context.Context, cs []ChapterRecord) error {
	return e.batch(ctx, "chapters", len(cs), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR REPLACE INTO chapters (id, book_index, chapter_num, e) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range cs {
			if err := e.checkItem("chapters", i); err != nil {
				return err
			}
			if c.ID == "" {
				c.ID = common.ChapterID(c.Book, c.Chapter)
			}
			entryJSON, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("failed to json encode chapter %s: %w", c.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, c.ID, c.BookIndex, common.Numeral(c.Chapter), entryJSON); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutSearchIndexEntries replaces the postings of every given word.
func (e *Engine) PutSearchIndexEntries(ctx context.Context, entries []SearchIndexEntry) error {
	return e.batch(ctx, "search_index", len(entries), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO search_index (word, refs) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, entry := range entries {
			if err := e.checkItem("search_index", i); err != nil {
				return err
			}
			refs, err := json.Marshal(entry.Refs)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, entry.Word, refs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) PutCrossReferences(ctx context.Context, xs []CrossReferenceRecord) error {
	return e.batch(ctx, "cross_references", len(xs), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO cross_references (id, refs) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, x := range xs {
			if err := e.checkItem("cross_references", i); err != nil {
				return err
			}
			refs, err := json.Marshal(x.Refs)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, x.ID, refs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) PutRedLetterVerses(ctx context.Context, rs []RedLetterRecord) error {
	return e.batch(ctx, "red_letters", len(rs), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO red_letters (book, e) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range rs {
			if err := e.checkItem("red_letters", i); err != nil {
				return err
			}
			entryJSON, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, r.Book, entryJSON); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) PutBooks(ctx context.Context, bs []BookRecord) error {
	return e.batch(ctx, "books", len(bs), func(tx *sql.Tx) error {
		return putBooks(ctx, tx, bs)
	})
}

func putBooks(ctx context.Context, tx *sql.Tx, bs []BookRecord) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO books (book, book_index, e) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bs {
		entryJSON, err := json.Marshal(b)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, b.Book, b.Index, entryJSON); err != nil {
			return err
		}
	}
	return nil
}

// GetVerse returns nil when the id is unknown.
func (e *Engine) GetVerse(ctx context.Context, id string) (*VerseRecord, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	var v VerseRecord
	found, err := getJSON(ctx, db, &v, "SELECT e FROM verses WHERE id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &v, nil
}

// GetVersesByIDs returns the verses that exist, in the order of ids. Unknown
// ids are silently left out.
func (e *Engine) GetVersesByIDs(ctx context.Context, ids []string) ([]VerseRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	found, err := listJSON[VerseRecord](ctx, db,
		"SELECT e FROM verses WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]VerseRecord, len(found))
	for _, v := range found {
		byID[v.ID] = v
	}
	verses := make([]VerseRecord, 0, len(found))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			verses = append(verses, v)
		}
	}
	return verses, nil
}

// GetChapterVerses walks idx_verses_location for one chapter.
func (e *Engine) GetChapterVerses(ctx context.Context, bookIndex int, chapter string) ([]VerseRecord, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	return listJSON[VerseRecord](ctx, db,
		"SELECT e FROM verses WHERE book_index = ? AND chapter_num = ? ORDER BY verse_num",
		bookIndex, common.Numeral(chapter))
}

// SearchVerseText matches pattern against verse text with the regexp() SQL
// function, in canonical order.
func (e *Engine) SearchVerseText(ctx context.Context, pattern string, limit int) ([]VerseRecord, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return listJSON[VerseRecord](ctx, db,
		`SELECT e FROM verses WHERE text IS NOT NULL AND regexp(?, text)
		ORDER BY book_index, chapter_num, verse_num LIMIT ?`, pattern, limit)
}

func (e *Engine) CountVerses(ctx context.Context) (int, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM verses").Scan(&n)
	return n, err
}

// GetSearchIndexEntry is an exact match on the already-normalised word.
func (e *Engine) GetSearchIndexEntry(ctx context.Context, word string) (*SearchIndexEntry, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	entry := SearchIndexEntry{Word: word}
	found, err := getJSON(ctx, db, &entry.Refs, "SELECT refs FROM search_index WHERE word = ?", word)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

// SearchIndexWords lists every indexed word.
func (e *Engine) SearchIndexWords(ctx context.Context) ([]string, error) {
	return e.CorpusKeys(ctx, StoreSearchIndex)
}

func (e *Engine) DeleteSearchIndexEntries(ctx context.Context, words []string) error {
	return e.DeleteCorpusKeys(ctx, StoreSearchIndex, words)
}

// CorpusKeys lists the primary keys stored in a derived table, sorted.
func (e *Engine) CorpusKeys(ctx context.Context, store CorpusStore) ([]string, error) {
	column, ok := corpusKeyColumns[store]
	if !ok {
		return nil, fmt.Errorf("unknown corpus store %q", store)
	}
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", column, store, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteCorpusKeys removes the given rows of a derived table in one
// transaction. Unknown keys are ignored.
func (e *Engine) DeleteCorpusKeys(ctx context.Context, store CorpusStore, keys []string) error {
	column, ok := corpusKeyColumns[store]
	if !ok {
		return fmt.Errorf("unknown corpus store %q", store)
	}
	return e.batch(ctx, string(store), len(keys), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", store, column))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, k := range keys {
			if err := e.checkItem(string(store), i); err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) GetCrossReferences(ctx context.Context, verseID string) (*CrossReferenceRecord, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	rec := CrossReferenceRecord{ID: verseID}
	found, err := getJSON(ctx, db, &rec.Refs, "SELECT refs FROM cross_references WHERE id = ?", verseID)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (e *Engine) GetChapter(ctx context.Context, chapterID string) (*ChapterRecord, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	var c ChapterRecord
	found, err := getJSON(ctx, db, &c, "SELECT e FROM chapters WHERE id = ?", chapterID)
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (e *Engine) GetRedLetters(ctx context.Context, book string) (*RedLetterRecord, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	var r RedLetterRecord
	found, err := getJSON(ctx, db, &r, "SELECT e FROM red_letters WHERE book = ?", book)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

func (e *Engine) GetBook(ctx context.Context, book string) (*BookRecord, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	var b BookRecord
	found, err := getJSON(ctx, db, &b, "SELECT e FROM books WHERE book = ?", book)
	if err != nil || !found {
		return nil, err
	}
	return &b, nil
}

// ListBooks returns the cached book documents in canonical order.
func (e *Engine) ListBooks(ctx context.Context) ([]BookRecord, error) {
	db, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	return listJSON[BookRecord](ctx, db, "SELECT e FROM books ORDER BY book_index")
}
