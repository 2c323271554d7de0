// Package corpus reads the immutable, build-time corpus: one JSON document per
// book plus the pre-computed cross-reference and red-letter datasets.
package corpus

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Verse struct {
	Verse     string `json:"verse"`
	Text      string `json:"text"`
	Paragraph bool   `json:"paragraph,omitempty"`
	Poetry    bool   `json:"poetry,omitempty"`
}

type Chapter struct {
	Chapter string  `json:"chapter"`
	Title   string  `json:"title,omitempty"`
	Verses  []Verse `json:"verses"`
}

type Book struct {
	Book     string    `json:"book"`
	Index    int       `json:"index"`
	Chapters []Chapter `json:"chapters"`
}

func (b *Book) VerseCount() int {
	n := 0
	for _, ch := range b.Chapters {
		n += len(ch.Verses)
	}
	return n
}

// Books is the corpus in canonical order. It doubles as the ordinal list used
// to resolve book names.
type Books []Book

// IndexOf resolves a display name to its ordinal. Exact matches win over
// case-insensitive ones.
func (bs Books) IndexOf(name string) (int, bool) {
	for _, b := range bs {
		if b.Book == name {
			return b.Index, true
		}
	}
	for _, b := range bs {
		if strings.EqualFold(b.Book, name) {
			return b.Index, true
		}
	}
	return -1, false
}

// NameOf is the reverse of IndexOf.
func (bs Books) NameOf(index int) (string, bool) {
	for _, b := range bs {
		if b.Index == index {
			return b.Book, true
		}
	}
	return "", false
}

func (bs Books) Names() []string {
	names := make([]string, len(bs))
	for i, b := range bs {
		names[i] = b.Book
	}
	return names
}

func ReadBook(r io.Reader) (Book, error) {
	var b Book
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Book{}, err
	}
	if b.Book == "" {
		return Book{}, fmt.Errorf("book document has no name")
	}
	return b, nil
}

// LoadBooksDir reads every *.json file in dir and returns the books sorted by
// their ordinal index.
func LoadBooksDir(dir string) (Books, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no book documents found in %s", dir)
	}

	books := make(Books, 0, len(files))
	for _, f := range files {
		file, err := os.Open(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open book file %s: %w", f, err)
		}
		b, err := ReadBook(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read book file %s: %w", f, err)
		}
		books = append(books, b)
	}

	sort.SliceStable(books, func(i, j int) bool {
		return books[i].Index < books[j].Index
	})
	if err := books.validate(); err != nil {
		return nil, err
	}
	slog.Info("loaded corpus", "dir", dir, "books", len(books))
	return books, nil
}

func (bs Books) validate() error {
	names := make(map[string]struct{}, len(bs))
	indexes := make(map[int]string, len(bs))
	for _, b := range bs {
		if strings.Contains(b.Book, ":") {
			return fmt.Errorf("book name %q must not contain ':'", b.Book)
		}
		if _, dup := names[b.Book]; dup {
			return fmt.Errorf("duplicate book %q", b.Book)
		}
		if other, dup := indexes[b.Index]; dup {
			return fmt.Errorf("books %q and %q share index %d", other, b.Book, b.Index)
		}
		names[b.Book] = struct{}{}
		indexes[b.Index] = b.Book
	}
	return nil
}
