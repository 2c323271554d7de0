package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/mahesh-hegde/lectio/app/config"
	"github.com/mahesh-hegde/lectio/app/corpus"
	"github.com/mahesh-hegde/lectio/app/docstore"
	"github.com/mahesh-hegde/lectio/app/scripture"
	"github.com/mahesh-hegde/lectio/app/seeding"
	"github.com/mahesh-hegde/lectio/app/userdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBooks = corpus.Books{
	{Book: "Genesis", Index: 1, Chapters: []corpus.Chapter{
		{Chapter: "1", Title: "The Creation", Verses: []corpus.Verse{
			{Verse: "1", Text: "In the beginning God created the heaven and the earth."},
			{Verse: "3", Text: "And God said, Let there be light: and there was light."},
		}},
	}},
	{Book: "Exodus", Index: 2, Chapters: []corpus.Chapter{
		{Chapter: "3", Verses: []corpus.Verse{
			{Verse: "14", Text: "And God said unto Moses, I AM THAT I AM."},
		}},
	}},
	{Book: "Song of Solomon", Index: 22, Chapters: []corpus.Chapter{
		{Chapter: "2", Verses: []corpus.Verse{
			{Verse: "1", Text: "I am the rose of Sharon, and the lily of the valleys."},
		}},
	}},
}

type testServer struct {
	e      *echo.Echo
	status *seeding.Status
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	engine := docstore.NewEngine(filepath.Join(t.TempDir(), "test.db"), docstore.EngineOptions{})
	require.NoError(t, engine.Init(ctx))
	t.Cleanup(func() { engine.Close() })

	conf := &config.LectioConfig{TimeoutSeconds: 10}
	seeder := seeding.NewSeeder(engine, conf)
	require.NoError(t, seeder.SeedBibleData(ctx, &corpus.Source{
		Books: testBooks,
		CrossReferences: corpus.CrossReferences{
			"Genesis-1:1": {"Exodus-3:14", "John-1:1"},
		},
	}, nil))

	status := seeding.NewStatus()
	controller := NewLectioController(
		scripture.NewScriptureService(engine, conf),
		userdata.NewUserDataStore(engine, testBooks),
		status,
	)
	return &testServer{
		e:      NewEcho(controller, conf, config.ServerRuntimeConfig{GzipLevel: 5}),
		status: status,
	}
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestScriptureRoutes(t *testing.T) {
	ts := newTestServer(t)

	testCases := []struct {
		name   string
		target string
		status int
		count  int
	}{
		{"Verses by id", "/api/verses?ids=Genesis-1:1,Nowhere-1:1,Exodus-3:14", http.StatusOK, 2},
		{"Verses without ids", "/api/verses", http.StatusBadRequest, -1},
		{"Word search", "/api/search?q=light", http.StatusOK, 1},
		{"Phrase search", "/api/search?q=God+said", http.StatusOK, 2},
		{"Search limit", "/api/search?q=god&limit=1", http.StatusOK, 1},
		{"Search bad limit", "/api/search?q=god&limit=x", http.StatusBadRequest, -1},
		{"Empty search", "/api/search?q=", http.StatusBadRequest, -1},
		{"Regex search", "/api/search?q=%5EI+am&regex=true", http.StatusOK, 1},
		{"Invalid regex", "/api/search?q=(&regex=true", http.StatusBadRequest, -1},
		{"Cross references", "/api/cross-references/Genesis-1:1", http.StatusOK, 2},
		{"Cross references none", "/api/cross-references/Exodus-3:14", http.StatusOK, 0},
		{"Cross references malformed", "/api/cross-references/Genesis", http.StatusBadRequest, -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(http.MethodGet, tc.target, "")
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.count < 0 {
				body := decode[errorResponse](t, rec)
				assert.NotEmpty(t, body.Error)
				return
			}
			items := decode[[]json.RawMessage](t, rec)
			assert.Len(t, items, tc.count)
		})
	}
}

func TestGetChapter(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/books/Song%20of%20Solomon/chapters/2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[scripture.ChapterView](t, rec)
	assert.Equal(t, 22, view.BookIndex)
	require.Len(t, view.Verses, 1)
	assert.Equal(t, "1", view.Verses[0].Verse)

	rec = ts.do(http.MethodGet, "/api/books/Genesis/chapters/1/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The Creation", decode[scripture.ChapterView](t, rec).Title)

	rec = ts.do(http.MethodGet, "/api/books/Nowhere/chapters/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookmarkRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/bookmarks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(http.MethodPut, "/api/bookmarks", `{"book":"Genesis","chapter":"1","verse":"1","text":"In the beginning"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[docstore.Bookmark](t, rec)
	assert.Equal(t, "Genesis-1:1", b.ID)

	rec = ts.do(http.MethodPut, "/api/bookmarks/Genesis-1:1/note", `{"note":"creation"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "creation", decode[docstore.Bookmark](t, rec).Note)

	rec = ts.do(http.MethodGet, "/api/bookmarks", "")
	assert.Len(t, decode[[]docstore.Bookmark](t, rec), 1)

	rec = ts.do(http.MethodPut, "/api/bookmarks", `{"book":"Genesis","chapter":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/bookmarks/Genesis-1:1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodPut, "/api/bookmarks/Genesis-1:1/note", `{"note":"gone"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNoteRoutes(t *testing.T) {
	ts := newTestServer(t)

	body := `{"book":"Exodus","chapter":"3","verse":"14","content":"**I AM** see @{Genesis-1:1}"}`
	rec := ts.do(http.MethodPost, "/api/notes", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	note := decode[docstore.VerseNote](t, rec)
	assert.NotEmpty(t, note.ID)

	rec = ts.do(http.MethodPost, "/api/notes", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPut, "/api/notes/"+note.ID, `{"content":"**I AM THAT I AM** see @{Genesis-1:1}"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/notes?book=Exodus&chapter=3&verse=14", "")
	require.Equal(t, http.StatusOK, rec.Code)
	notes := decode[[]docstore.VerseNote](t, rec)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Content, "I AM THAT I AM")

	rec = ts.do(http.MethodGet, "/api/notes/"+note.ID+"/html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<strong>I AM THAT I AM</strong>")
	assert.Contains(t, rec.Body.String(), `<a href="/api/books/Genesis/chapters/1#v1">Genesis 1:1</a>`)

	rec = ts.do(http.MethodGet, "/api/notes?book=Exodus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/notes/"+note.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodPut, "/api/notes/"+note.ID, `{"content":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/notes/"+note.ID+"/html", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/position", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodPut, "/api/position", `{"book":"Song of Solomon","chapter":2,"verse":1,"scrollPosition":40}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/position", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pos := decode[docstore.ReadingPosition](t, rec)
	assert.Equal(t, 22, pos.Book)
	assert.Equal(t, 40, pos.ScrollPosition)

	rec = ts.do(http.MethodPut, "/api/position", `{"book":"Hezekiah","chapter":1,"verse":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPut, "/api/position", `{"book":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreferenceRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/preferences/theme", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPut, "/api/preferences/theme", `"sepia"`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/preferences/theme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"sepia"`, rec.Body.String())

	rec = ts.do(http.MethodPut, "/api/preferences/theme", `sepia`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPut, "/api/preferences/"+docstore.PrefSeedVersion, `1`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/preferences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	prefs := decode[[]docstore.Preference](t, rec)
	require.Len(t, prefs, 1)
	assert.Equal(t, "theme", prefs[0].Key)

	rec = ts.do(http.MethodDelete, "/api/preferences/theme", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, "/api/preferences/theme", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportImportRoutes(t *testing.T) {
	src := newTestServer(t)
	src.do(http.MethodPut, "/api/bookmarks", `{"book":"Genesis","chapter":"1","verse":"3","text":"light"}`)
	src.do(http.MethodPost, "/api/notes", `{"book":"Genesis","chapter":"1","verse":"3","content":"day one"}`)

	rec := src.do(http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "attachment")
	exported := rec.Body.String()

	dst := newTestServer(t)
	rec = dst.do(http.MethodPost, "/api/import", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, userdata.ImportResult{Bookmarks: 1, Notes: 1}, decode[userdata.ImportResult](t, rec))

	rec = dst.do(http.MethodPost, "/api/import", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSeedStatusRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/seed/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, seeding.Idle(), decode[seeding.Progress](t, rec))

	ts.status.Publish(seeding.Done(66))

	rec = ts.do(http.MethodGet, "/api/seed/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "event: progress\ndata: {\"status\":\"done\",\"booksProcessed\":66,\"totalBooks\":66}\n\n", rec.Body.String())
}

func TestSeedEvents_EndsWithClient(t *testing.T) {
	ts := newTestServer(t)
	ts.status.Publish(seeding.Seeding(1, 66))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/seed/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		ts.e.ServeHTTP(rec, req)
		close(done)
	}()
	cancel()
	<-done
}

func TestStatusOf(t *testing.T) {
	testCases := []struct {
		err  error
		code int
	}{
		{echo.ErrNotFound, http.StatusNotFound},
		{common.NewUserVisibleError(http.StatusBadRequest, "bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", &common.NotFoundError{Kind: "note", ID: "x"}), http.StatusNotFound},
		{&common.ValidationError{Kind: "bookmark", Reason: "book is required"}, http.StatusBadRequest},
		{fmt.Errorf("%w: %q", userdata.ErrUnknownBook, "Hezekiah"), http.StatusBadRequest},
		{userdata.ErrReservedKey, http.StatusBadRequest},
		{userdata.ErrNoteExists, http.StatusConflict},
		{common.ErrStorageTimeout, http.StatusServiceUnavailable},
		{&common.ConnectionError{Path: "x", Err: common.ErrBlocked}, http.StatusServiceUnavailable},
		{&common.TransactionAborted{Store: "bookmarks", Err: errors.New("disk full")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			code, msg := statusOf(tc.err)
			assert.Equal(t, tc.code, code)
			assert.NotEmpty(t, msg)
			assert.NotContains(t, msg, "disk full")
			assert.NotContains(t, msg, "boom")
		})
	}
}

func TestRateLimiter(t *testing.T) {
	e := echo.New()
	e.Use(rateLimiter(config.ServerRuntimeConfig{RateLimit: 1}))
	e.GET("/api/position", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	get := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/position", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	testCases := []struct {
		name       string
		remoteAddr string
		wantCode   int
	}{
		{"First", "192.0.2.1:1000", http.StatusNoContent},
		{"Second", "192.0.2.1:1001", http.StatusNoContent},
		{"Third", "192.0.2.1:1002", http.StatusNoContent},
		{"Burst exhausted", "192.0.2.1:1003", http.StatusTooManyRequests},
		{"Other client", "198.51.100.7:1000", http.StatusNoContent},
		{"Unparseable address", "pipe", http.StatusForbidden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(tc.remoteAddr)
			assert.Equal(t, tc.wantCode, rec.Code)
			if tc.wantCode == http.StatusTooManyRequests {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
				assert.Equal(t, "rate limit exceeded", decode[errorResponse](t, rec).Error)
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(requestLogger(slog.New(slog.NewJSONHandler(&buf, nil)), false))
	e.GET("/api/notes/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.ErrNotFound
		}
		return c.NoContent(http.StatusOK)
	})

	testCases := []struct {
		name      string
		target    string
		wantLevel string
		wantCode  int
	}{
		{"Served", "/api/notes/n1", "INFO", http.StatusOK},
		{"Failed", "/api/notes/missing", "ERROR", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			assert.Equal(t, tc.wantCode, rec.Code)

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line), buf.String())
			assert.Equal(t, tc.wantLevel, line["level"])
			assert.Equal(t, "/api/notes/:id", line["route"])
			assert.Equal(t, tc.target, line["uri"])
			assert.EqualValues(t, tc.wantCode, line["status"])
			assert.NotContains(t, line, "latency_ms")
		})
	}
}
