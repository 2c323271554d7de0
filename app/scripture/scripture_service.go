// Package scripture is the read side used by the presentation layer: verse
// lookups, word search, cross references and chapter metadata.
package scripture

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/mahesh-hegde/lectio/app/config"
	"github.com/mahesh-hegde/lectio/app/corpus"
	"github.com/mahesh-hegde/lectio/app/docstore"
	"github.com/mahesh-hegde/lectio/app/textindex"
	"github.com/patrickmn/go-cache"
)

const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 500
)

type ScriptureService struct {
	engine *docstore.Engine
	// chapter metadata, red letter ranges and book indexes
	cache *cache.Cache
}

// CrossReference is a related verse. Text is nil when the target verse has
// no stored text.
type CrossReference struct {
	ID      string  `json:"id"`
	Book    string  `json:"book"`
	Chapter string  `json:"chapter"`
	Verse   string  `json:"verse"`
	Text    *string `json:"text"`
}

type VerseView struct {
	docstore.VerseRecord
	RedLetter bool `json:"redLetter,omitempty"`
}

type ChapterView struct {
	Book      string      `json:"book"`
	BookIndex int         `json:"bookIndex"`
	Chapter   string      `json:"chapter"`
	Title     string      `json:"title,omitempty"`
	Verses    []VerseView `json:"verses"`
}

func NewScriptureService(engine *docstore.Engine, conf *config.LectioConfig) *ScriptureService {
	ttl := time.Duration(config.DefaultCacheTTL) * time.Second
	if conf != nil {
		ttl = conf.CacheTTL()
	}
	return &ScriptureService{
		engine: engine,
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Invalidate drops memoised metadata, e.g. after a reseed.
func (s *ScriptureService) Invalidate() {
	s.cache.Flush()
}

// GetVersesByIDs returns the verses found, in request order. The result is
// shorter than ids when some are unknown.
func (s *ScriptureService) GetVersesByIDs(ctx context.Context, ids []string) ([]docstore.VerseRecord, error) {
	return s.engine.GetVersesByIDs(ctx, ids)
}

func (s *ScriptureService) GetVerse(ctx context.Context, book, chapter, verse string) (*docstore.VerseRecord, error) {
	return s.engine.GetVerse(ctx, common.VerseID(book, chapter, verse))
}

// GetSearchIndexEntry is an exact lookup. Callers normalise the word first.
func (s *ScriptureService) GetSearchIndexEntry(ctx context.Context, word string) (*docstore.SearchIndexEntry, error) {
	return s.engine.GetSearchIndexEntry(ctx, word)
}

// Search returns verses containing every indexed word of query, in corpus
// order. Words that are never indexed (stop words, single letters) are
// ignored.
func (s *ScriptureService) Search(ctx context.Context, query string, limit int) ([]docstore.VerseRecord, error) {
	terms := textindex.Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	lists := make([][]string, 0, len(terms))
	for _, term := range terms {
		entry, err := s.engine.GetSearchIndexEntry(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("looking up %q: %w", term, err)
		}
		if entry == nil {
			return nil, nil
		}
		lists = append(lists, entry.Refs)
	}

	ids := textindex.Intersect(lists[0], lists[1:]...)
	ids = ids[:min(len(ids), clampLimit(limit))]
	return s.engine.GetVersesByIDs(ctx, ids)
}

// SearchRegex matches a regular expression against verse text.
func (s *ScriptureService) SearchRegex(ctx context.Context, pattern string, limit int) ([]docstore.VerseRecord, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, common.NewUserVisibleError(http.StatusBadRequest, "invalid regular expression: "+err.Error())
	}
	return s.engine.SearchVerseText(ctx, pattern, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	return min(limit, MaxSearchLimit)
}

// GetCrossReferencesByID returns the related verse ids in stored order.
func (s *ScriptureService) GetCrossReferencesByID(ctx context.Context, verseID string) ([]string, error) {
	rec, err := s.engine.GetCrossReferences(ctx, verseID)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Refs, nil
}

// GetCrossReferences resolves the related verses of one verse and attaches
// their text. A failed text lookup leaves Text nil instead of failing.
func (s *ScriptureService) GetCrossReferences(ctx context.Context, book, chapter, verse string) ([]CrossReference, error) {
	ids, err := s.GetCrossReferencesByID(ctx, common.VerseID(book, chapter, verse))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []CrossReference{}, nil
	}

	texts := make(map[string]string, len(ids))
	verses, err := s.engine.GetVersesByIDs(ctx, ids)
	if err != nil {
		slog.Warn("cross reference text lookup failed", "verse", common.VerseID(book, chapter, verse), "err", err)
	}
	for _, v := range verses {
		texts[v.ID] = v.Text
	}

	refs := make([]CrossReference, 0, len(ids))
	for _, id := range ids {
		ref := CrossReference{ID: id}
		if parsed, err := common.ParseVerseID(id); err == nil {
			ref.Book, ref.Chapter, ref.Verse = parsed.Book, parsed.Chapter, parsed.Verse
		}
		if text, ok := texts[id]; ok {
			ref.Text = &text
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// GetChapter returns chapter metadata, or nil when there is none. Lookup
// failures are logged and treated as absent.
func (s *ScriptureService) GetChapter(ctx context.Context, chapterID string) *docstore.ChapterRecord {
	key := "chapter:" + chapterID
	if cached, found := s.cache.Get(key); found {
		return cached.(*docstore.ChapterRecord)
	}
	ch, err := s.engine.GetChapter(ctx, chapterID)
	if err != nil {
		slog.Warn("chapter lookup failed", "chapter", chapterID, "err", err)
		return nil
	}
	s.cache.SetDefault(key, ch)
	return ch
}

// IsRedLetter reports whether a verse is marked as spoken words.
func (s *ScriptureService) IsRedLetter(ctx context.Context, book, chapter, verse string) bool {
	n := common.Numeral(verse)
	for _, r := range s.redLetters(ctx, book)[chapter] {
		if r.Contains(n) {
			return true
		}
	}
	return false
}

func (s *ScriptureService) redLetters(ctx context.Context, book string) map[string][]corpus.VerseRange {
	key := "red:" + book
	if cached, found := s.cache.Get(key); found {
		return cached.(map[string][]corpus.VerseRange)
	}
	rec, err := s.engine.GetRedLetters(ctx, book)
	if err != nil {
		slog.Warn("red letter lookup failed", "book", book, "err", err)
		return nil
	}
	var chapters map[string][]corpus.VerseRange
	if rec != nil {
		chapters = rec.Chapters
	}
	s.cache.SetDefault(key, chapters)
	return chapters
}

func (s *ScriptureService) bookIndex(ctx context.Context, book string) (int, bool, error) {
	key := "book:" + book
	if cached, found := s.cache.Get(key); found {
		return cached.(int), true, nil
	}
	rec, err := s.engine.GetBook(ctx, book)
	if err != nil || rec == nil {
		return 0, false, err
	}
	s.cache.SetDefault(key, rec.Index)
	return rec.Index, true, nil
}

// GetChapterView assembles what a reader needs to show one chapter. It
// returns a NotFoundError for an unknown book or an empty chapter.
func (s *ScriptureService) GetChapterView(ctx context.Context, book, chapter string) (*ChapterView, error) {
	index, ok, err := s.bookIndex(ctx, book)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &common.NotFoundError{Kind: "book", ID: book}
	}
	verses, err := s.engine.GetChapterVerses(ctx, index, chapter)
	if err != nil {
		return nil, err
	}
	if len(verses) == 0 {
		return nil, &common.NotFoundError{Kind: "chapter", ID: common.ChapterID(book, chapter)}
	}

	view := &ChapterView{Book: book, BookIndex: index, Chapter: chapter, Verses: make([]VerseView, 0, len(verses))}
	if ch := s.GetChapter(ctx, common.ChapterID(book, chapter)); ch != nil {
		view.Title = ch.Title
	}
	ranges := s.redLetters(ctx, book)[chapter]
	for _, v := range verses {
		vv := VerseView{VerseRecord: v}
		n := common.Numeral(v.Verse)
		for _, r := range ranges {
			if r.Contains(n) {
				vv.RedLetter = true
				break
			}
		}
		view.Verses = append(view.Verses, vv)
	}
	return view, nil
}
