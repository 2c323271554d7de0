package docstore

import (
	"encoding/json"

	"github.com/mahesh-hegde/lectio/app/corpus"
)

// VerseRecord is one verse of the corpus. Immutable once seeded.
type VerseRecord struct {
	ID        string `json:"id"`
	Book      string `json:"book"`
	BookIndex int    `json:"bookIndex"`
	Chapter   string `json:"chapter"`
	Verse     string `json:"verse"`
	Text      string `json:"text"`
	Paragraph bool   `json:"paragraph,omitempty"`
	Poetry    bool   `json:"poetry,omitempty"`
}

type ChapterRecord struct {
	ID        string `json:"id"`
	Book      string `json:"book"`
	BookIndex int    `json:"bookIndex"`
	Chapter   string `json:"chapter"`
	Title     string `json:"title,omitempty"`
}

// SearchIndexEntry is one postings list. Refs are in corpus scan order.
type SearchIndexEntry struct {
	Word string   `json:"word"`
	Refs []string `json:"refs"`
}

// CrossReferenceRecord keeps Refs in the relevance order of the dataset.
type CrossReferenceRecord struct {
	ID   string   `json:"id"`
	Refs []string `json:"refs"`
}

type RedLetterRecord struct {
	Book     string                         `json:"book"`
	Chapters map[string][]corpus.VerseRange `json:"chapters"`
}

// BookRecord caches the raw corpus document of one book.
type BookRecord struct {
	Book     string          `json:"book"`
	Index    int             `json:"index"`
	Document json.RawMessage `json:"document"`
}

type Bookmark struct {
	ID        string `json:"id"`
	Book      string `json:"book"`
	Chapter   string `json:"chapter"`
	Verse     string `json:"verse"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
	Note      string `json:"note,omitempty"`
}

type VerseNote struct {
	ID        string `json:"id"`
	Book      string `json:"book"`
	Chapter   string `json:"chapter"`
	Verse     string `json:"verse"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// CurrentPositionKey is the only key the reading_position store ever holds.
const CurrentPositionKey = "current"

type ReadingPosition struct {
	Book           int   `json:"book"`
	Chapter        int   `json:"chapter"`
	Verse          int   `json:"verse"`
	ScrollPosition int   `json:"scrollPosition"`
	LastUpdated    int64 `json:"lastUpdated"`
}

type Preference struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	LastUpdated int64           `json:"lastUpdated"`
}

// Reserved preference keys. They live next to user preferences but are only
// written by the seeding pipeline and the schema code.
const (
	PrefSeedVersion   = "seedVersion"
	PrefSchemaVersion = "schemaVersion"
)

func IsReservedKey(key string) bool {
	return key == PrefSeedVersion || key == PrefSchemaVersion
}
