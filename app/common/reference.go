package common

import (
	"fmt"
	"strconv"
	"strings"
)

// VerseRef identifies one verse. Chapter and Verse are kept as the numerals
// used by the corpus, not parsed integers.
type VerseRef struct {
	Book    string `json:"book"`
	Chapter string `json:"chapter"`
	Verse   string `json:"verse"`
}

func (r VerseRef) ID() string {
	return VerseID(r.Book, r.Chapter, r.Verse)
}

func (r VerseRef) String() string {
	return fmt.Sprintf("%s %s:%s", r.Book, r.Chapter, r.Verse)
}

// VerseID returns the canonical join key "<Book>-<chapter>:<verse>".
func VerseID(book, chapter, verse string) string {
	return book + "-" + chapter + ":" + verse
}

// ChapterID returns "<Book>-<chapter>".
func ChapterID(book, chapter string) string {
	return book + "-" + chapter
}

// ParseVerseID is the inverse of VerseID. Book names may contain spaces and
// hyphens, so the split happens on the last hyphen.
func ParseVerseID(id string) (VerseRef, error) {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 {
		return VerseRef{}, fmt.Errorf("malformed verse id %q: missing book separator", id)
	}
	book, loc := id[:idx], id[idx+1:]
	chapter, verse, ok := strings.Cut(loc, ":")
	if !ok || chapter == "" || verse == "" {
		return VerseRef{}, fmt.Errorf("malformed verse id %q: expected <chapter>:<verse>", id)
	}
	return VerseRef{Book: book, Chapter: chapter, Verse: verse}, nil
}

// ParseChapterID splits "<Book>-<chapter>" on the last hyphen.
func ParseChapterID(id string) (book string, chapter string, err error) {
	idx := strings.LastIndex(id, "-")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("malformed chapter id %q", id)
	}
	return id[:idx], id[idx+1:], nil
}

// Numeral converts a chapter or verse numeral for ordering. Non-numeric
// values sort first.
func Numeral(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
