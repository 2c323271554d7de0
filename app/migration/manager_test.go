package migration

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mahesh-hegde/lectio/app/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastOptions = Options{
	PhaseTimeout: 2 * time.Second,
	SettleDelay:  time.Millisecond,
	BlockedGrace: time.Millisecond,
}

func newPopulatedEngine(t *testing.T) *docstore.Engine {
	t.Helper()
	ctx := context.Background()
	e := docstore.NewEngine(filepath.Join(t.TempDir(), "test.db"), docstore.EngineOptions{})
	require.NoError(t, e.Init(ctx))
	t.Cleanup(func() { e.Close() })

	require.NoError(t, e.PutReadingPosition(ctx, docstore.ReadingPosition{Book: 5, Chapter: 3, Verse: 10, ScrollPosition: 150}))
	require.NoError(t, e.PutPreference(ctx, "theme", "sepia"))
	require.NoError(t, e.PutPreference(ctx, docstore.PrefSeedVersion, 4))
	require.NoError(t, e.PutBookmark(ctx, docstore.Bookmark{ID: "Ruth-1:16", Book: "Ruth", Chapter: "1", Verse: "16", CreatedAt: 1}))
	require.NoError(t, e.PutVerses(ctx, []docstore.VerseRecord{
		{ID: "Ruth-1:16", Book: "Ruth", BookIndex: 8, Chapter: "1", Verse: "16", Text: "whither thou goest"},
	}))
	return e
}

func TestRebuild_PreservesUserData(t *testing.T) {
	ctx := context.Background()
	e := newPopulatedEngine(t)

	res := NewManager(e, fastOptions).Rebuild(ctx)
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Error)

	pos, err := e.GetReadingPosition(ctx)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 5, pos.Book)
	assert.Equal(t, 3, pos.Chapter)
	assert.Equal(t, 10, pos.Verse)
	assert.Equal(t, 150, pos.ScrollPosition)

	theme, err := e.GetPreference(ctx, "theme")
	require.NoError(t, err)
	require.NotNil(t, theme)
	assert.JSONEq(t, `"sepia"`, string(theme.Value))

	bookmark, err := e.GetBookmark(ctx, "Ruth-1:16")
	require.NoError(t, err)
	assert.NotNil(t, bookmark)

	// derived data and the seed flag are gone, forcing a reseed
	n, err := e.CountVerses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	seed, err := e.GetPreference(ctx, docstore.PrefSeedVersion)
	require.NoError(t, err)
	assert.Nil(t, seed)

	schema, err := e.GetPreference(ctx, docstore.PrefSchemaVersion)
	require.NoError(t, err)
	require.NotNil(t, schema)
	assert.JSONEq(t, "4", string(schema.Value))
}

func TestEnsure_RebuildsTooOldDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	old, err := docstore.NewSQLiteDB(path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE preferences (key TEXT PRIMARY KEY, value BLOB NOT NULL, last_updated INTEGER NOT NULL)`,
		`CREATE TABLE reading_position (id TEXT PRIMARY KEY, e BLOB NOT NULL)`,
		`INSERT INTO reading_position (id, e) VALUES ('current', '{"book":5,"chapter":3,"verse":10,"scrollPosition":150,"lastUpdated":7}')`,
		`INSERT INTO preferences (key, value, last_updated) VALUES ('fontSize', '18', 1)`,
		`PRAGMA user_version = 1`,
	} {
		_, err := old.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, old.Close())

	e := docstore.NewEngine(path, docstore.EngineOptions{})
	defer e.Close()
	require.NoError(t, NewManager(e, fastOptions).Ensure(ctx))

	pos, err := e.GetReadingPosition(ctx)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, docstore.ReadingPosition{Book: 5, Chapter: 3, Verse: 10, ScrollPosition: 150, LastUpdated: 7}, *pos)

	size, err := e.GetPreference(ctx, "fontSize")
	require.NoError(t, err)
	require.NotNil(t, size)
	assert.Equal(t, "18", string(size.Value))
}

func TestEnsure_CurrentDatabaseUntouched(t *testing.T) {
	ctx := context.Background()
	e := newPopulatedEngine(t)
	require.NoError(t, NewManager(e, fastOptions).Ensure(ctx))

	n, err := e.CountVerses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRebuild_DeleteFailureIsSoft(t *testing.T) {
	ctx := context.Background()
	e := newPopulatedEngine(t)

	m := NewManager(e, fastOptions)
	remove := m.removeFile
	m.removeFile = func(path string) error {
		if strings.HasSuffix(path, "-shm") {
			return errors.New("file is in use")
		}
		return remove(path)
	}

	res := m.Rebuild(ctx)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Message, "could not be fully deleted")
}

func TestRebuild_HungPhaseIsAbandoned(t *testing.T) {
	ctx := context.Background()
	e := newPopulatedEngine(t)

	opts := fastOptions
	opts.PhaseTimeout = 300 * time.Millisecond
	m := NewManager(e, opts)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	m.removeFile = func(string) error {
		<-release
		return nil
	}

	started := time.Now()
	res := m.Rebuild(ctx)
	assert.Less(t, time.Since(started), 5*time.Second)
	require.True(t, res.Success, res.Error)

	pos, err := e.GetReadingPosition(ctx)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 150, pos.ScrollPosition)
}

func TestRebuild_ReportsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "test.db")
	e := docstore.NewEngine(path, docstore.EngineOptions{InitTimeout: time.Second})
	defer e.Close()

	res := NewManager(e, fastOptions).Rebuild(context.Background())
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Contains(t, res.Message, path)
}
