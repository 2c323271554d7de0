// Package userdata manages what the reader writes: bookmarks, notes, the
// reading position and preferences. Its lifecycle is independent of the
// corpus; reseeding never touches it.
package userdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/mahesh-hegde/lectio/app/docstore"
)

var (
	ErrUnknownBook  = errors.New("unknown book")
	ErrReservedKey  = errors.New("preference key is reserved")
	ErrNoteExists   = errors.New("verse already has a note")
	ErrEmptyKeyName = errors.New("preference key must not be empty")
)

// BookResolver maps display names to ordinals and back. corpus.Books
// satisfies it.
type BookResolver interface {
	IndexOf(name string) (int, bool)
	NameOf(index int) (string, bool)
}

type UserDataStore struct {
	engine   *docstore.Engine
	books    BookResolver
	renderer *NoteRenderer

	now func() time.Time
}

func NewUserDataStore(engine *docstore.Engine, books BookResolver) *UserDataStore {
	return &UserDataStore{
		engine:   engine,
		books:    books,
		renderer: NewNoteRenderer(engine),
		now:      time.Now,
	}
}

func (s *UserDataStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func checkRef(kind, book, chapter, verse string) error {
	switch {
	case strings.TrimSpace(book) == "":
		return &common.ValidationError{Kind: kind, Reason: "book is required"}
	case strings.TrimSpace(chapter) == "":
		return &common.ValidationError{Kind: kind, Reason: "chapter is required"}
	case strings.TrimSpace(verse) == "":
		return &common.ValidationError{Kind: kind, Reason: "verse is required"}
	}
	return nil
}

// --- bookmarks ---

type BookmarkInput struct {
	Book    string `json:"book"`
	Chapter string `json:"chapter"`
	Verse   string `json:"verse"`
	Text    string `json:"text"`
	Note    string `json:"note,omitempty"`
}

// AddBookmark upserts by verse id, so bookmarking a verse twice keeps one
// bookmark carrying the latest text and note.
func (s *UserDataStore) AddBookmark(ctx context.Context, in BookmarkInput) (*docstore.Bookmark, error) {
	if err := checkRef("bookmark", in.Book, in.Chapter, in.Verse); err != nil {
		return nil, err
	}
	b := docstore.Bookmark{
		ID:        common.VerseID(in.Book, in.Chapter, in.Verse),
		Book:      in.Book,
		Chapter:   in.Chapter,
		Verse:     in.Verse,
		Text:      in.Text,
		Note:      in.Note,
		CreatedAt: s.nowMillis(),
	}
	if err := s.engine.PutBookmark(ctx, b); err != nil {
		return nil, fmt.Errorf("saving bookmark %s: %w", b.ID, err)
	}
	return &b, nil
}

// RemoveBookmark is a no-op for unknown ids.
func (s *UserDataStore) RemoveBookmark(ctx context.Context, id string) error {
	_, err := s.engine.DeleteBookmark(ctx, id)
	return err
}

func (s *UserDataStore) IsBookmarked(ctx context.Context, book, chapter, verse string) (bool, error) {
	b, err := s.engine.GetBookmark(ctx, common.VerseID(book, chapter, verse))
	return b != nil, err
}

// GetBookmarks is most recent first.
func (s *UserDataStore) GetBookmarks(ctx context.Context) ([]docstore.Bookmark, error) {
	return s.engine.GetAllBookmarks(ctx)
}

func (s *UserDataStore) UpdateBookmarkNote(ctx context.Context, id, note string) (*docstore.Bookmark, error) {
	b, err := s.engine.GetBookmark(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &common.NotFoundError{Kind: "bookmark", ID: id}
	}
	b.Note = note
	if err := s.engine.PutBookmark(ctx, *b); err != nil {
		return nil, fmt.Errorf("saving bookmark %s: %w", id, err)
	}
	return b, nil
}

// --- notes ---

// AddNote creates a note with a fresh id. A verse holds at most one note;
// use SaveNoteForVerse to create or update.
func (s *UserDataStore) AddNote(ctx context.Context, book, chapter, verse, content string) (*docstore.VerseNote, error) {
	if err := checkRef("note", book, chapter, verse); err != nil {
		return nil, err
	}
	now := s.nowMillis()
	n := docstore.VerseNote{
		ID:        uuid.NewString(),
		Book:      book,
		Chapter:   chapter,
		Verse:     verse,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inserted, err := s.engine.InsertNoteIfAbsent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("saving note: %w", err)
	}
	if !inserted {
		return nil, fmt.Errorf("%w: %s", ErrNoteExists, common.VerseID(book, chapter, verse))
	}
	return &n, nil
}

// SaveNoteForVerse updates the verse's note if there is one, otherwise
// creates it.
func (s *UserDataStore) SaveNoteForVerse(ctx context.Context, book, chapter, verse, content string) (*docstore.VerseNote, error) {
	existing, err := s.engine.GetNotesForVerse(ctx, book, chapter, verse)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return s.UpdateNote(ctx, existing[0].ID, content)
	}
	return s.AddNote(ctx, book, chapter, verse, content)
}

// UpdateNote replaces the content of an existing note. Unlike lookups, a
// missing id is an error here.
func (s *UserDataStore) UpdateNote(ctx context.Context, id, content string) (*docstore.VerseNote, error) {
	n, err := s.engine.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &common.NotFoundError{Kind: "note", ID: id}
	}
	n.Content = content
	n.UpdatedAt = max(s.nowMillis(), n.CreatedAt)
	if err := s.engine.PutNote(ctx, *n); err != nil {
		return nil, fmt.Errorf("saving note %s: %w", id, err)
	}
	return n, nil
}

func (s *UserDataStore) DeleteNote(ctx context.Context, id string) error {
	_, err := s.engine.DeleteNote(ctx, id)
	return err
}

func (s *UserDataStore) GetNote(ctx context.Context, id string) (*docstore.VerseNote, error) {
	return s.engine.GetNote(ctx, id)
}

// GetNotesForVerse is most recently updated first.
func (s *UserDataStore) GetNotesForVerse(ctx context.Context, book, chapter, verse string) ([]docstore.VerseNote, error) {
	return s.engine.GetNotesForVerse(ctx, book, chapter, verse)
}

func (s *UserDataStore) RenderNoteHTML(ctx context.Context, id string) (string, error) {
	n, err := s.engine.GetNote(ctx, id)
	if err != nil {
		return "", err
	}
	if n == nil {
		return "", &common.NotFoundError{Kind: "note", ID: id}
	}
	return s.renderer.ToHTML(ctx, n.Content)
}

// --- reading position ---

// BookRef names a book either by ordinal or by display name. In JSON it is
// a bare number or string.
type BookRef struct {
	Index int
	Name  string
}

func BookIndex(i int) BookRef { return BookRef{Index: i} }
func BookName(name string) BookRef { return BookRef{Name: name} }

func (r BookRef) MarshalJSON() ([]byte, error) {
	if r.Name != "" {
		return json.Marshal(r.Name)
	}
	return json.Marshal(r.Index)
}

func (r *BookRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*r = BookRef{Name: name}
		return nil
	}
	var index int
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("book must be a name or an index: %s", data)
	}
	*r = BookRef{Index: index}
	return nil
}

type PositionInput struct {
	Book           BookRef `json:"book"`
	Chapter        int     `json:"chapter"`
	Verse          int     `json:"verse"`
	ScrollPosition int     `json:"scrollPosition"`
}

func (s *UserDataStore) resolveBook(ref BookRef) (int, error) {
	if ref.Name == "" {
		if ref.Index < 0 {
			return 0, fmt.Errorf("%w: index %d", ErrUnknownBook, ref.Index)
		}
		// without a corpus any ordinal is taken as given
		if s.books != nil {
			if _, ok := s.books.NameOf(ref.Index); !ok {
				return 0, fmt.Errorf("%w: index %d", ErrUnknownBook, ref.Index)
			}
		}
		return ref.Index, nil
	}
	if s.books == nil {
		return 0, fmt.Errorf("%w: %q (no corpus loaded)", ErrUnknownBook, ref.Name)
	}
	index, ok := s.books.IndexOf(ref.Name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownBook, ref.Name)
	}
	return index, nil
}

// SavePosition overwrites the reading position.
func (s *UserDataStore) SavePosition(ctx context.Context, in PositionInput) (*docstore.ReadingPosition, error) {
	index, err := s.resolveBook(in.Book)
	if err != nil {
		return nil, err
	}
	pos := docstore.ReadingPosition{
		Book:           index,
		Chapter:        in.Chapter,
		Verse:          in.Verse,
		ScrollPosition: in.ScrollPosition,
		LastUpdated:    s.nowMillis(),
	}
	if err := s.engine.PutReadingPosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("saving reading position: %w", err)
	}
	return &pos, nil
}

// GetPosition returns nil before the first SavePosition.
func (s *UserDataStore) GetPosition(ctx context.Context) (*docstore.ReadingPosition, error) {
	return s.engine.GetReadingPosition(ctx)
}

// --- preferences ---

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKeyName
	}
	if docstore.IsReservedKey(key) {
		return fmt.Errorf("%w: %s", ErrReservedKey, key)
	}
	return nil
}

// GetPreference returns the raw stored value, or nil when unset.
func (s *UserDataStore) GetPreference(ctx context.Context, key string) (json.RawMessage, error) {
	pref, err := s.engine.GetPreference(ctx, key)
	if err != nil || pref == nil {
		return nil, err
	}
	return pref.Value, nil
}

// PreferenceAs decodes a preference into T, returning def when the key is
// unset or holds a value of another shape.
func PreferenceAs[T any](ctx context.Context, s *UserDataStore, key string, def T) (T, error) {
	raw, err := s.GetPreference(ctx, key)
	if err != nil {
		return def, err
	}
	if raw == nil {
		return def, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Warn("preference has unexpected type, using default", "key", key, "err", err)
		return def, nil
	}
	return v, nil
}

func (s *UserDataStore) SetPreference(ctx context.Context, key string, value any) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.engine.PutPreference(ctx, key, value)
}

func (s *UserDataStore) DeletePreference(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return s.engine.DeletePreference(ctx, key)
}

// ListPreferences leaves out reserved keys.
func (s *UserDataStore) ListPreferences(ctx context.Context) ([]docstore.Preference, error) {
	prefs, err := s.engine.ListPreferences(ctx)
	if err != nil {
		return nil, err
	}
	out := prefs[:0]
	for _, p := range prefs {
		if !docstore.IsReservedKey(p.Key) {
			out = append(out, p)
		}
	}
	return out, nil
}
