package userdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/mahesh-hegde/lectio/app/docstore"
)

// ExportDocument is the on-disk interchange format. Unknown fields are
// ignored on import, so it can grow without a version number.
type ExportDocument struct {
	Bookmarks  []docstore.Bookmark  `json:"bookmarks"`
	Notes      []docstore.VerseNote `json:"notes"`
	ExportedAt string               `json:"exportedAt,omitempty"`
}

type ImportResult struct {
	Bookmarks int                       `json:"bookmarks"`
	Notes     int                       `json:"notes"`
	Skipped   int                       `json:"skipped"`
	Errors    []*common.ValidationError `json:"errors,omitempty"`
}

// ExportData serializes all bookmarks and notes as indented JSON.
func (s *UserDataStore) ExportData(ctx context.Context) ([]byte, error) {
	bookmarks, err := s.engine.GetAllBookmarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading bookmarks: %w", err)
	}
	notes, err := s.engine.GetAllNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading notes: %w", err)
	}
	doc := ExportDocument{
		Bookmarks:  bookmarks,
		Notes:      notes,
		ExportedAt: s.now().UTC().Format(time.RFC3339),
	}
	if doc.Bookmarks == nil {
		doc.Bookmarks = []docstore.Bookmark{}
	}
	if doc.Notes == nil {
		doc.Notes = []docstore.VerseNote{}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// importDocument keeps records raw so one malformed record does not fail
// the whole document.
type importDocument struct {
	Bookmarks []json.RawMessage `json:"bookmarks"`
	Notes     []json.RawMessage `json:"notes"`
}

// ImportData upserts every valid record in one transaction. Records missing
// identity fields are skipped and reported, not fatal. Bookmark ids are
// rederived from the verse reference.
func (s *UserDataStore) ImportData(ctx context.Context, data []byte) (*ImportResult, error) {
	var doc importDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, common.NewUserVisibleError(http.StatusBadRequest, "import file is not a valid export: "+err.Error())
	}

	result := &ImportResult{}
	skip := func(kind string, i int, reason string) {
		result.Skipped++
		result.Errors = append(result.Errors, &common.ValidationError{Kind: kind, Index: i, Reason: reason})
	}
	now := s.nowMillis()

	var bookmarks []docstore.Bookmark
	for i, raw := range doc.Bookmarks {
		var b docstore.Bookmark
		if err := json.Unmarshal(raw, &b); err != nil {
			skip("bookmark", i, err.Error())
			continue
		}
		if err := checkRef("bookmark", b.Book, b.Chapter, b.Verse); err != nil {
			skip("bookmark", i, err.(*common.ValidationError).Reason)
			continue
		}
		// a bookmark is keyed by its verse, whatever id the file carried
		b.ID = common.VerseID(b.Book, b.Chapter, b.Verse)
		if b.CreatedAt == 0 {
			b.CreatedAt = now
		}
		bookmarks = append(bookmarks, b)
	}

	var notes []docstore.VerseNote
	for i, raw := range doc.Notes {
		var n docstore.VerseNote
		if err := json.Unmarshal(raw, &n); err != nil {
			skip("note", i, err.Error())
			continue
		}
		if n.ID == "" {
			skip("note", i, "id is required")
			continue
		}
		if err := checkRef("note", n.Book, n.Chapter, n.Verse); err != nil {
			skip("note", i, err.(*common.ValidationError).Reason)
			continue
		}
		if n.CreatedAt == 0 {
			n.CreatedAt = now
		}
		n.UpdatedAt = max(n.UpdatedAt, n.CreatedAt)
		notes = append(notes, n)
	}

	if len(bookmarks)+len(notes) > 0 {
		if err := s.engine.ImportUserData(ctx, bookmarks, notes); err != nil {
			return nil, err
		}
	}
	result.Bookmarks = len(bookmarks)
	result.Notes = len(notes)

	slog.Info("imported user data", "bookmarks", result.Bookmarks, "notes", result.Notes, "skipped", result.Skipped)
	return result, nil
}
