package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/mahesh-hegde/lectio/app/scripture"
	"github.com/mahesh-hegde/lectio/app/seeding"
	"github.com/mahesh-hegde/lectio/app/userdata"
)

const (
	seedEventsPath = "/api/seed/events"

	maxImportBytes = 32 << 20
)

type LectioController struct {
	ss     *scripture.ScriptureService
	us     *userdata.UserDataStore
	status *seeding.Status
}

func NewLectioController(ss *scripture.ScriptureService, us *userdata.UserDataStore, status *seeding.Status) *LectioController {
	return &LectioController{ss: ss, us: us, status: status}
}

// Register mounts every route on g, which is expected to be rooted at /api.
func (lc *LectioController) Register(g *echo.Group) {
	g.GET("/verses", lc.GetVerses)
	g.GET("/books/:book/chapters/:chapter", lc.GetChapter)
	g.GET("/search", lc.Search)
	g.GET("/cross-references/:verseId", lc.GetCrossReferences)

	g.GET("/bookmarks", lc.GetBookmarks)
	g.PUT("/bookmarks", lc.PutBookmark)
	g.PUT("/bookmarks/:id/note", lc.PutBookmarkNote)
	g.DELETE("/bookmarks/:id", lc.DeleteBookmark)

	g.GET("/notes", lc.GetNotes)
	g.POST("/notes", lc.PostNote)
	g.PUT("/notes/:id", lc.PutNote)
	g.DELETE("/notes/:id", lc.DeleteNote)
	g.GET("/notes/:id/html", lc.GetNoteHTML)

	g.GET("/position", lc.GetPosition)
	g.PUT("/position", lc.PutPosition)

	g.GET("/preferences", lc.ListPreferences)
	g.GET("/preferences/:key", lc.GetPreference)
	g.PUT("/preferences/:key", lc.PutPreference)
	g.DELETE("/preferences/:key", lc.DeletePreference)

	g.GET("/export", lc.Export)
	g.POST("/import", lc.Import)

	g.GET("/seed/status", lc.GetSeedStatus)
	g.GET(strings.TrimPrefix(seedEventsPath, "/api"), lc.SeedEvents)
}

func badRequest(msg string) error {
	return common.NewUserVisibleError(http.StatusBadRequest, msg)
}

// param returns the decoded path parameter. Book names contain spaces.
func param(c echo.Context, name string) string {
	v := c.Param(name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func bindJSON(c echo.Context, v any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

// --- scripture ---

func (lc *LectioController) GetVerses(c echo.Context) error {
	var ids []string
	for _, id := range strings.Split(c.QueryParam("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return badRequest("ids is required")
	}
	verses, err := lc.ss.GetVersesByIDs(c.Request().Context(), ids)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, verses)
}

func (lc *LectioController) GetChapter(c echo.Context) error {
	view, err := lc.ss.GetChapterView(c.Request().Context(), param(c, "book"), param(c, "chapter"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (lc *LectioController) Search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return badRequest("q is required")
	}
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return badRequest(fmt.Sprintf("invalid limit %q", s))
		}
		limit = n
	}
	regex, _ := strconv.ParseBool(c.QueryParam("regex"))

	ctx := c.Request().Context()
	var err error
	var verses any
	if regex {
		verses, err = lc.ss.SearchRegex(ctx, q, limit)
	} else {
		verses, err = lc.ss.Search(ctx, q, limit)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, verses)
}

func (lc *LectioController) GetCrossReferences(c echo.Context) error {
	ref, err := common.ParseVerseID(param(c, "verseId"))
	if err != nil {
		return badRequest(err.Error())
	}
	refs, err := lc.ss.GetCrossReferences(c.Request().Context(), ref.Book, ref.Chapter, ref.Verse)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, refs)
}

// --- bookmarks ---

func (lc *LectioController) GetBookmarks(c echo.Context) error {
	bookmarks, err := lc.us.GetBookmarks(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orEmpty(bookmarks))
}

func (lc *LectioController) PutBookmark(c echo.Context) error {
	var in userdata.BookmarkInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	b, err := lc.us.AddBookmark(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (lc *LectioController) PutBookmarkNote(c echo.Context) error {
	var body struct {
		Note string `json:"note"`
	}
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	b, err := lc.us.UpdateBookmarkNote(c.Request().Context(), param(c, "id"), body.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (lc *LectioController) DeleteBookmark(c echo.Context) error {
	if err := lc.us.RemoveBookmark(c.Request().Context(), param(c, "id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// --- notes ---

type noteBody struct {
	Book    string `json:"book"`
	Chapter string `json:"chapter"`
	Verse   string `json:"verse"`
	Content string `json:"content"`
}

func (lc *LectioController) GetNotes(c echo.Context) error {
	book, chapter, verse := c.QueryParam("book"), c.QueryParam("chapter"), c.QueryParam("verse")
	if book == "" || chapter == "" || verse == "" {
		return badRequest("book, chapter and verse are required")
	}
	notes, err := lc.us.GetNotesForVerse(c.Request().Context(), book, chapter, verse)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orEmpty(notes))
}

func (lc *LectioController) PostNote(c echo.Context) error {
	var body noteBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	n, err := lc.us.AddNote(c.Request().Context(), body.Book, body.Chapter, body.Verse, body.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, n)
}

func (lc *LectioController) PutNote(c echo.Context) error {
	var body noteBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	n, err := lc.us.UpdateNote(c.Request().Context(), param(c, "id"), body.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (lc *LectioController) DeleteNote(c echo.Context) error {
	if err := lc.us.DeleteNote(c.Request().Context(), param(c, "id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (lc *LectioController) GetNoteHTML(c echo.Context) error {
	html, err := lc.us.RenderNoteHTML(c.Request().Context(), param(c, "id"))
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, html)
}

// --- reading position ---

func (lc *LectioController) GetPosition(c echo.Context) error {
	pos, err := lc.us.GetPosition(c.Request().Context())
	if err != nil {
		return err
	}
	if pos == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, pos)
}

func (lc *LectioController) PutPosition(c echo.Context) error {
	var in userdata.PositionInput
	if err := bindJSON(c, &in); err != nil {
		return err
	}
	pos, err := lc.us.SavePosition(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pos)
}

// --- preferences ---

func (lc *LectioController) ListPreferences(c echo.Context) error {
	prefs, err := lc.us.ListPreferences(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orEmpty(prefs))
}

func (lc *LectioController) GetPreference(c echo.Context) error {
	key := param(c, "key")
	raw, err := lc.us.GetPreference(c.Request().Context(), key)
	if err != nil {
		return err
	}
	if raw == nil {
		return &common.NotFoundError{Kind: "preference", ID: key}
	}
	return c.JSONBlob(http.StatusOK, raw)
}

func (lc *LectioController) PutPreference(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if !json.Valid(raw) {
		return badRequest("preference value must be JSON")
	}
	if err := lc.us.SetPreference(c.Request().Context(), param(c, "key"), json.RawMessage(raw)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (lc *LectioController) DeletePreference(c echo.Context) error {
	if err := lc.us.DeletePreference(c.Request().Context(), param(c, "key")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// --- export / import ---

func (lc *LectioController) Export(c echo.Context) error {
	data, err := lc.us.ExportData(c.Request().Context())
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="lectio-export.json"`)
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

func (lc *LectioController) Import(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxImportBytes+1))
	if err != nil {
		return err
	}
	if len(data) > maxImportBytes {
		return common.NewUserVisibleError(http.StatusRequestEntityTooLarge, "import file is too large")
	}
	result, err := lc.us.ImportData(c.Request().Context(), data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// --- seeding ---

func (lc *LectioController) GetSeedStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, lc.status.Current())
}

// SeedEvents streams progress as server-sent events until seeding finishes
// or the client goes away.
func (lc *LectioController) SeedEvents(c echo.Context) error {
	updates, cancel := lc.status.Subscribe()
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
			if p.Status == seeding.PhaseDone || p.Status == seeding.PhaseError {
				return nil
			}
		}
	}
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
