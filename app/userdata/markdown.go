package userdata

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/mahesh-hegde/lectio/app/common"
	"github.com/mahesh-hegde/lectio/app/docstore"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var requestContextKey = parser.NewContextKey()

// NoteRenderer converts note markdown to HTML. Verse references written as
// @{John-3:16} become links when the verse exists. Raw HTML in notes is
// dropped by goldmark's default renderer.
type NoteRenderer struct {
	engine   *docstore.Engine
	goldmark goldmark.Markdown
}

func NewNoteRenderer(engine *docstore.Engine) *NoteRenderer {
	nr := &NoteRenderer{engine: engine}
	nr.goldmark = goldmark.New(
		goldmark.WithExtensions(&verseLinkExtension{nr: nr}),
	)
	return nr
}

func (nr *NoteRenderer) ToHTML(ctx context.Context, content string) (string, error) {
	var buf bytes.Buffer
	pc := parser.NewContext()
	pc.Set(requestContextKey, ctx)
	if err := nr.goldmark.Convert([]byte(content), &buf, parser.WithContext(pc)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type verseLinkExtension struct {
	nr *NoteRenderer
}

func (e *verseLinkExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithASTTransformers(
			util.Prioritized(&verseLinkTransformer{nr: e.nr}, 100),
		),
	)
}

type verseLinkTransformer struct {
	nr *NoteRenderer
}

var verseRefRegex = regexp.MustCompile(`@\{([^{}]+)\}`)

func chapterLink(ref common.VerseRef) string {
	return fmt.Sprintf("/api/books/%s/chapters/%s#v%s",
		url.PathEscape(ref.Book), url.PathEscape(ref.Chapter), url.QueryEscape(ref.Verse))
}

func (t *verseLinkTransformer) Transform(node *ast.Document, reader text.Reader, pc parser.Context) {
	ctx, ok := pc.Get(requestContextKey).(context.Context)
	if !ok {
		ctx = context.Background()
	}

	// collect first, replacing nodes during the walk would cut it short
	var texts []*ast.Text
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindText {
			texts = append(texts, n.(*ast.Text))
		}
		return ast.WalkContinue, nil
	})

	for _, n := range texts {
		t.linkVerses(ctx, n, reader.Source())
	}
}

func (t *verseLinkTransformer) linkVerses(ctx context.Context, n *ast.Text, source []byte) {
	content := string(n.Segment.Value(source))
	if !strings.Contains(content, "@{") {
		return
	}
	matches := verseRefRegex.FindAllStringSubmatchIndex(content, -1)

	// plain pieces stay text segments of the source so escaping and line
	// breaks render as before
	piece := func(from, to int) *ast.Text {
		return ast.NewTextSegment(text.NewSegment(n.Segment.Start+from, n.Segment.Start+to))
	}

	var newNodes []ast.Node
	lastIndex := 0
	for _, match := range matches {
		start, end := match[0], match[1]
		ref, err := common.ParseVerseID(strings.TrimSpace(content[match[2]:match[3]]))
		if err != nil {
			continue
		}
		verse, err := t.nr.engine.GetVerse(ctx, ref.ID())
		if err != nil || verse == nil {
			continue
		}
		if start > lastIndex {
			newNodes = append(newNodes, piece(lastIndex, start))
		}
		link := ast.NewLink()
		link.Destination = []byte(chapterLink(ref))
		link.AppendChild(link, ast.NewString([]byte(ref.String())))
		newNodes = append(newNodes, link)
		lastIndex = end
	}
	if len(newNodes) == 0 {
		return
	}
	tail := piece(lastIndex, len(content))
	tail.SetSoftLineBreak(n.SoftLineBreak())
	tail.SetHardLineBreak(n.HardLineBreak())
	newNodes = append(newNodes, tail)

	parent := n.Parent()
	for _, newNode := range newNodes {
		parent.InsertBefore(parent, n, newNode)
	}
	parent.RemoveChild(parent, n)
}
