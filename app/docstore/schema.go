package docstore

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 4

// MinInPlaceVersion is the oldest stored version that can still be upgraded
// by the steps below. Version 1 databases kept bookmarks under row ids and
// have to go through migration.Manager.Rebuild.
const MinInPlaceVersion = 2

type schemaStep struct {
	version int
	stmts   []string
}

// Steps are additive only: a step may create tables or indexes and add
// columns, never drop anything.
var schemaSteps = []schemaStep{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS preferences (
				key TEXT PRIMARY KEY,
				value BLOB NOT NULL,
				last_updated INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS verses (
				id TEXT PRIMARY KEY,
				book_index INTEGER NOT NULL,
				chapter_num INTEGER NOT NULL,
				verse_num INTEGER NOT NULL,
				e BLOB NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_verses_location ON verses(book_index, chapter_num, verse_num)`,
			`CREATE TABLE IF NOT EXISTS search_index (
				word TEXT PRIMARY KEY,
				refs BLOB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS bookmarks (
				id TEXT PRIMARY KEY,
				created_at INTEGER NOT NULL,
				e BLOB NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_bookmarks_created_at ON bookmarks(created_at)`,
			`CREATE TABLE IF NOT EXISTS reading_position (
				id TEXT PRIMARY KEY,
				e BLOB NOT NULL
			)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS notes (
				id TEXT PRIMARY KEY,
				book TEXT NOT NULL,
				chapter TEXT NOT NULL,
				verse TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				e BLOB NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notes_verse ON notes(book, chapter, verse)`,
			`CREATE TABLE IF NOT EXISTS chapters (
				id TEXT PRIMARY KEY,
				book_index INTEGER NOT NULL,
				chapter_num INTEGER NOT NULL,
				e BLOB NOT NULL
			)`,
		},
	},
	{
		version: 3,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS cross_references (
				id TEXT PRIMARY KEY,
				refs BLOB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS red_letters (
				book TEXT PRIMARY KEY,
				e BLOB NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS books (
				book TEXT PRIMARY KEY,
				book_index INTEGER NOT NULL,
				e BLOB NOT NULL
			)`,
		},
	},
	{
		// Plain text projection for regexp search. Rows seeded before v4 have
		// NULL here until the next reseed, which seeding.CurrentSeedVersion forces.
		version: 4,
		stmts: []string{
			`ALTER TABLE verses ADD COLUMN text TEXT`,
			`CREATE INDEX IF NOT EXISTS idx_chapters_location ON chapters(book_index, chapter_num)`,
		},
	},
}

// CorpusStore names a table holding data which seeding regenerates.
type CorpusStore string

const (
	StoreVerses          CorpusStore = "verses"
	StoreChapters        CorpusStore = "chapters"
	StoreSearchIndex     CorpusStore = "search_index"
	StoreCrossReferences CorpusStore = "cross_references"
	StoreRedLetters      CorpusStore = "red_letters"
	StoreBooks           CorpusStore = "books"
)

var corpusKeyColumns = map[CorpusStore]string{
	StoreVerses:          "id",
	StoreChapters:        "id",
	StoreSearchIndex:     "word",
	StoreCrossReferences: "id",
	StoreRedLetters:      "book",
	StoreBooks:           "book",
}
