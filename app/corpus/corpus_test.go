package corpus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadBooksDir_SortsByIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.json", `{"book":"Exodus","index":1,"chapters":[{"chapter":"1","verses":[{"verse":"1","text":"Now these are the names"}]}]}`)
	writeFile(t, dir, "a.json", `{"book":"Genesis","index":0,"chapters":[{"chapter":"1","title":"Creation","verses":[{"verse":"1","text":"In the beginning","paragraph":true},{"verse":"2","text":"And the earth"}]}]}`)

	books, err := LoadBooksDir(dir)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, []string{"Genesis", "Exodus"}, books.Names())
	assert.Equal(t, "Creation", books[0].Chapters[0].Title)
	assert.True(t, books[0].Chapters[0].Verses[0].Paragraph)
	assert.Equal(t, 2, books[0].VerseCount())
}

func TestLoadBooksDir_RejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"book":"Genesis","index":0,"chapters":[]}`)
	writeFile(t, dir, "b.json", `{"book":"Exodus","index":0,"chapters":[]}`)
	_, err := LoadBooksDir(dir)
	assert.Error(t, err)
}

func TestLoadBooksDir_Empty(t *testing.T) {
	_, err := LoadBooksDir(t.TempDir())
	assert.Error(t, err)
}

func TestBooks_IndexOf(t *testing.T) {
	books := Books{{Book: "Genesis", Index: 0}, {Book: "Song of Solomon", Index: 21}}

	idx, ok := books.IndexOf("Song of Solomon")
	assert.True(t, ok)
	assert.Equal(t, 21, idx)

	idx, ok = books.IndexOf("genesis")
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = books.IndexOf("Hezekiah")
	assert.False(t, ok)

	name, ok := books.NameOf(21)
	assert.True(t, ok)
	assert.Equal(t, "Song of Solomon", name)
}

func TestVerseRange_UnmarshalJSON(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expected  VerseRange
		expectErr bool
	}{
		{"Number", `7`, VerseRange{7, 7}, false},
		{"String single", `"7"`, VerseRange{7, 7}, false},
		{"String span", `"3-5"`, VerseRange{3, 5}, false},
		{"Array span", `[3, 5]`, VerseRange{3, 5}, false},
		{"Object", `{"start": 2, "end": 4}`, VerseRange{2, 4}, false},
		{"Reversed", `"5-3"`, VerseRange{}, true},
		{"Garbage", `"abc"`, VerseRange{}, true},
		{"Too long", `[1, 2, 3]`, VerseRange{}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var r VerseRange
			err := json.Unmarshal([]byte(tc.input), &r)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, r)
		})
	}
}

func TestLoadDatasets(t *testing.T) {
	dir := t.TempDir()
	xrefPath := writeFile(t, dir, "xrefs.json", `{"Genesis-1:1": ["John-1:1", "Hebrews-11:3", "Psalms-33:6"]}`)
	rlPath := writeFile(t, dir, "rl.json", `{"Matthew": {"5": ["3-12", 14]}}`)

	xrefs, err := LoadCrossReferences(xrefPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"John-1:1", "Hebrews-11:3", "Psalms-33:6"}, xrefs["Genesis-1:1"])

	rl, err := LoadRedLetters(rlPath)
	require.NoError(t, err)
	assert.Equal(t, []VerseRange{{3, 12}, {14, 14}}, rl["Matthew"]["5"])
	assert.True(t, rl["Matthew"]["5"][0].Contains(12))
	assert.False(t, rl["Matthew"]["5"][0].Contains(13))

	missing, err := LoadCrossReferences(filepath.Join(dir, "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
