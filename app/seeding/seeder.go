// Package seeding turns the corpus into verse, chapter, index, cross-reference
// and red-letter rows. It runs in bounded chunks and yields between them so
// readers keep being served while it works.
package seeding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/mahesh-hegde/lectio/app/config"
	"github.com/mahesh-hegde/lectio/app/corpus"
	"github.com/mahesh-hegde/lectio/app/docstore"
	"github.com/mahesh-hegde/lectio/app/textindex"
)

// CurrentSeedVersion must be bumped whenever corpus content, the tokenizer or
// the layout of derived rows changes. A stored seedVersion that differs from
// it forces a full reseed.
const CurrentSeedVersion = 4

type Seeder struct {
	engine *docstore.Engine
	status *Status

	// Version is written to the seedVersion preference after a successful run.
	Version        int
	BooksPerChunk  int
	IndexBatchSize int

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewSeeder(engine *docstore.Engine, conf *config.LectioConfig) *Seeder {
	s := &Seeder{
		engine:         engine,
		status:         NewStatus(),
		Version:        CurrentSeedVersion,
		BooksPerChunk:  config.DefaultBooksPerChunk,
		IndexBatchSize: config.DefaultIndexBatchSize,
	}
	if conf != nil {
		if conf.BooksPerChunk > 0 {
			s.BooksPerChunk = conf.BooksPerChunk
		}
		if conf.IndexBatchSize > 0 {
			s.IndexBatchSize = conf.IndexBatchSize
		}
	}
	return s
}

func (s *Seeder) Status() *Status {
	return s.status
}

// IsSeedingNeeded is true when the stored seed version is missing,
// unreadable, or different from s.Version.
func (s *Seeder) IsSeedingNeeded(ctx context.Context) (bool, error) {
	pref, err := s.engine.GetPreference(ctx, docstore.PrefSeedVersion)
	if err != nil {
		return false, err
	}
	if pref == nil {
		return true, nil
	}
	var stored int
	if err := json.Unmarshal(pref.Value, &stored); err != nil {
		slog.Warn("unreadable seed version, reseeding", "value", string(pref.Value), "err", err)
		return true, nil
	}
	return stored != s.Version, nil
}

// Start seeds in the background if needed and reports whether a run was
// started. Progress is published on Status.
func (s *Seeder) Start(ctx context.Context, src *corpus.Source) (bool, error) {
	needed, err := s.IsSeedingNeeded(ctx)
	if err != nil {
		return false, err
	}
	if !needed {
		s.status.Publish(Done(len(src.Books)))
		return false, nil
	}
	if !s.running.CompareAndSwap(false, true) {
		return false, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if err := s.SeedBibleData(ctx, src, s.status.Publish); err != nil {
			slog.Error("seeding failed", "err", err)
		}
	}()
	return true, nil
}

// Wait blocks until a run started by Start finishes.
func (s *Seeder) Wait() {
	s.wg.Wait()
}

// SeedBibleData writes every derived row for src and marks the seed version
// last. Rows are upserted, so rerunning over the same corpus yields the same
// data. On failure the version is left untouched and a *common.SeedFailure is
// returned.
func (s *Seeder) SeedBibleData(ctx context.Context, src *corpus.Source, progress ProgressFunc) error {
	if progress == nil {
		progress = func(Progress) {}
	}
	started := time.Now()
	total := len(src.Books)
	processed := 0

	fail := func(stage string, err error) error {
		progress(Failed(processed, total, err))
		return &common.SeedFailure{Stage: stage, Err: err}
	}

	chunk := max(s.BooksPerChunk, 1)
	batch := max(s.IndexBatchSize, 1)

	progress(Seeding(0, total))
	postings := textindex.NewPostings()
	var chapters []docstore.ChapterRecord
	// keys written by this run; anything else in a derived table is stale
	fresh := map[docstore.CorpusStore]map[string]bool{
		docstore.StoreVerses:   {},
		docstore.StoreChapters: {},
		docstore.StoreBooks:    {},
	}

	for start := 0; start < total; start += chunk {
		group := src.Books[start:min(start+chunk, total)]

		var verses []docstore.VerseRecord
		var books []docstore.BookRecord
		for _, book := range group {
			doc, err := json.Marshal(book)
			if err != nil {
				return fail("books", fmt.Errorf("encoding %s: %w", book.Book, err))
			}
			books = append(books, docstore.BookRecord{Book: book.Book, Index: book.Index, Document: doc})
			fresh[docstore.StoreBooks][book.Book] = true

			for _, ch := range book.Chapters {
				fresh[docstore.StoreChapters][common.ChapterID(book.Book, ch.Chapter)] = true
				chapters = append(chapters, docstore.ChapterRecord{
					ID:        common.ChapterID(book.Book, ch.Chapter),
					Book:      book.Book,
					BookIndex: book.Index,
					Chapter:   ch.Chapter,
					Title:     ch.Title,
				})
				for _, v := range ch.Verses {
					id := common.VerseID(book.Book, ch.Chapter, v.Verse)
					fresh[docstore.StoreVerses][id] = true
					verses = append(verses, docstore.VerseRecord{
						ID:        id,
						Book:      book.Book,
						BookIndex: book.Index,
						Chapter:   ch.Chapter,
						Verse:     v.Verse,
						Text:      v.Text,
						Paragraph: v.Paragraph,
						Poetry:    v.Poetry,
					})
					postings.AddVerse(id, v.Text)
				}
			}
		}

		if err := s.engine.PutBookChunk(ctx, verses, books); err != nil {
			return fail("verses", err)
		}
		processed += len(group)
		slog.Info("seeded books", "processed", processed, "total", total, "verses", len(verses))
		progress(Seeding(processed, total))

		if err := yield(ctx); err != nil {
			return fail("verses", err)
		}
	}

	if err := inBatches(ctx, chapters, batch, s.engine.PutChapters); err != nil {
		return fail("chapters", err)
	}

	words := postings.Words()
	entries := make([]docstore.SearchIndexEntry, len(words))
	for i, w := range words {
		entries[i] = docstore.SearchIndexEntry{Word: w, Refs: postings.Get(w)}
	}
	if err := inBatches(ctx, entries, batch, s.engine.PutSearchIndexEntries); err != nil {
		return fail("search index", err)
	}
	if err := inBatches(ctx, crossReferenceRecords(src.CrossReferences), batch, s.engine.PutCrossReferences); err != nil {
		return fail("cross references", err)
	}
	if err := inBatches(ctx, redLetterRecords(src.RedLetters), batch, s.engine.PutRedLetterVerses); err != nil {
		return fail("red letters", err)
	}

	fresh[docstore.StoreSearchIndex] = make(map[string]bool, len(words))
	for _, w := range words {
		fresh[docstore.StoreSearchIndex][w] = true
	}
	fresh[docstore.StoreCrossReferences] = make(map[string]bool, len(src.CrossReferences))
	for id := range src.CrossReferences {
		fresh[docstore.StoreCrossReferences][id] = true
	}
	fresh[docstore.StoreRedLetters] = make(map[string]bool, len(src.RedLetters))
	for book := range src.RedLetters {
		fresh[docstore.StoreRedLetters][book] = true
	}
	for _, store := range prunedStores {
		if err := s.prune(ctx, store, fresh[store], batch); err != nil {
			return fail(string(store), err)
		}
	}

	// Only now is the derived data complete.
	if err := s.engine.PutPreference(ctx, docstore.PrefSeedVersion, s.Version); err != nil {
		return fail("seed version", err)
	}

	slog.Info("seeding complete", "books", total, "chapters", len(chapters),
		"words", len(entries), "version", s.Version, "took", time.Since(started))
	progress(Done(total))
	return nil
}

// prunedStores are checked for rows the current corpus no longer produces.
var prunedStores = []docstore.CorpusStore{
	docstore.StoreVerses,
	docstore.StoreChapters,
	docstore.StoreSearchIndex,
	docstore.StoreCrossReferences,
	docstore.StoreRedLetters,
	docstore.StoreBooks,
}

// prune removes rows left over from an older corpus or tokenizer.
func (s *Seeder) prune(ctx context.Context, store docstore.CorpusStore, keep map[string]bool, batch int) error {
	stored, err := s.engine.CorpusKeys(ctx, store)
	if err != nil {
		return err
	}
	var stale []string
	for _, k := range stored {
		if !keep[k] {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 {
		slog.Info("pruning stale rows", "store", store, "count", len(stale))
	}
	return inBatches(ctx, stale, batch, func(ctx context.Context, keys []string) error {
		return s.engine.DeleteCorpusKeys(ctx, store, keys)
	})
}

func crossReferenceRecords(xrefs corpus.CrossReferences) []docstore.CrossReferenceRecord {
	keys := xrefs.SortedKeys()
	records := make([]docstore.CrossReferenceRecord, 0, len(keys))
	for _, id := range keys {
		records = append(records, docstore.CrossReferenceRecord{ID: id, Refs: xrefs[id]})
	}
	return records
}

func redLetterRecords(rl corpus.RedLetters) []docstore.RedLetterRecord {
	books := make([]string, 0, len(rl))
	for book := range rl {
		books = append(books, book)
	}
	sort.Strings(books)

	records := make([]docstore.RedLetterRecord, 0, len(books))
	for _, book := range books {
		records = append(records, docstore.RedLetterRecord{Book: book, Chapters: rl[book]})
	}
	return records
}

func inBatches[T any](ctx context.Context, items []T, size int, write func(context.Context, []T) error) error {
	for start := 0; start < len(items); start += size {
		if err := write(ctx, items[start:min(start+size, len(items))]); err != nil {
			return err
		}
		if err := yield(ctx); err != nil {
			return err
		}
	}
	return nil
}

// yield lets other goroutines (request handlers in particular) run between
// chunks, and is where cancellation is observed.
func yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}
