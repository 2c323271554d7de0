package userdata

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestStore(t)

	_, err := src.AddBookmark(ctx, BookmarkInput{Book: "Genesis", Chapter: "1", Verse: "1", Text: "In the beginning", Note: "start"})
	require.NoError(t, err)
	note, err := src.AddNote(ctx, "Exodus", "3", "14", "I AM")
	require.NoError(t, err)

	data, err := src.ExportData(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"bookmarks\": [")

	var doc ExportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc.Bookmarks, 1)
	assert.Len(t, doc.Notes, 1)
	assert.NotEmpty(t, doc.ExportedAt)

	dst, _ := newTestStore(t)
	result, err := dst.ImportData(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Bookmarks: 1, Notes: 1}, result)

	imported, err := dst.GetNote(ctx, note.ID)
	require.NoError(t, err)
	require.NotNil(t, imported)
	assert.Equal(t, *note, *imported)

	ok, err := dst.IsBookmarked(ctx, "Genesis", "1", "1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExportData_EmptyLists(t *testing.T) {
	s, _ := newTestStore(t)
	data, err := s.ExportData(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"bookmarks": []`)
	assert.Contains(t, string(data), `"notes": []`)
}

func TestImportData_SkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	input := `{
		"bookmarks": [
			{"id": "Genesis-1:1", "book": "Genesis", "chapter": "1", "verse": "1", "text": "ok", "createdAt": 10},
			{"book": "Genesis", "chapter": "1", "verse": "2"},
			"not an object",
			{"id": "Exodus-1:1", "book": "Exodus", "chapter": "1"}
		],
		"notes": [
			{"id": "n1", "book": "Ruth", "chapter": "1", "verse": "16", "content": "whither", "createdAt": 5, "updatedAt": 1},
			{"id": "", "book": "Ruth", "chapter": "1", "verse": "17"},
			null
		],
		"somethingNew": true
	}`

	result, err := s.ImportData(ctx, []byte(input))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Bookmarks)
	assert.Equal(t, 1, result.Notes)
	assert.Equal(t, 4, result.Skipped)
	require.Len(t, result.Errors, 4)
	assert.Equal(t, "bookmark", result.Errors[0].Kind)
	assert.Equal(t, 2, result.Errors[0].Index)

	n, err := s.GetNote(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, int64(5), n.UpdatedAt)
}

func TestImportData_RejectsInvalidDocument(t *testing.T) {
	s, _ := newTestStore(t)
	for _, input := range []string{`not json`, `{"bookmarks": "x"}`} {
		_, err := s.ImportData(context.Background(), []byte(input))
		var uve *common.UserVisibleError
		assert.ErrorAs(t, err, &uve, input)
	}
}

func TestImportData_BookmarkKeyedByVerse(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	input := `{"bookmarks": [{"id": "bm-1", "book": "Exodus", "chapter": "3", "verse": "14", "createdAt": 3}]}`
	result, err := s.ImportData(ctx, []byte(input))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Bookmarks)

	ok, err := s.IsBookmarked(ctx, "Exodus", "3", "14")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.AddBookmark(ctx, BookmarkInput{Book: "Exodus", Chapter: "3", Verse: "14", Text: "I AM"})
	require.NoError(t, err)
	bookmarks, err := s.GetBookmarks(ctx)
	require.NoError(t, err)
	require.Len(t, bookmarks, 1)
	assert.Equal(t, "Exodus-3:14", bookmarks[0].ID)
}
