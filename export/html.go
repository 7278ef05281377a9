package export

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wudi/pdfmark/highlight"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		treeblood.MathML(),
	),
)

// RenderNote converts a Markdown note to sanitized HTML nodes.
func RenderNote(note string) ([]*html.Node, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(clean(note)), &buf); err != nil {
		return nil, fmt.Errorf("render note: %w", err)
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(&buf, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse rendered note: %w", err)
	}
	var out []*html.Node
	for _, n := range nodes {
		out = append(out, sanitize(n)...)
	}
	return out, nil
}

// WriteHTML writes the digest as a standalone HTML document.
func WriteHTML(w io.Writer, d Digest) error {
	root := &html.Node{Type: html.DocumentNode}
	root.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc := element(atom.Html)
	root.AppendChild(doc)

	head := element(atom.Head)
	head.AppendChild(element(atom.Meta, attr("charset", "utf-8")))
	head.AppendChild(textElement(atom.Title, d.title()))
	doc.AppendChild(head)

	body := element(atom.Body)
	doc.AppendChild(body)
	body.AppendChild(textElement(atom.H1, d.title()))
	if d.BookID != "" {
		body.AppendChild(textElement(atom.P, "Book "+d.BookID, attr("class", "book")))
	}

	for _, s := range d.Sections() {
		sec := element(atom.Section, attr("data-page", fmt.Sprint(s.Page)))
		sec.AppendChild(textElement(atom.H2, pageHeading(s.Page)))
		for _, h := range s.Highlights {
			item, err := highlightNode(h)
			if err != nil {
				return err
			}
			sec.AppendChild(item)
		}
		body.AppendChild(sec)
	}
	return html.Render(w, root)
}

func highlightNode(h highlight.Highlight) (*html.Node, error) {
	div := element(atom.Div,
		attr("class", "highlight"),
		attr("id", "hl-"+h.ID),
		attr("data-color", h.Color))
	quote := element(atom.Blockquote)
	quote.AppendChild(textElement(atom.Mark, clean(h.SourceText)))
	div.AppendChild(quote)
	if h.NoteText != nil && strings.TrimSpace(*h.NoteText) != "" {
		nodes, err := RenderNote(*h.NoteText)
		if err != nil {
			return nil, fmt.Errorf("highlight %s: %w", h.ID, err)
		}
		note := element(atom.Div, attr("class", "note"))
		for _, n := range nodes {
			note.AppendChild(n)
		}
		div.AppendChild(note)
	}
	return div, nil
}

func attr(key, val string) html.Attribute { return html.Attribute{Key: key, Val: val} }

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func textElement(a atom.Atom, text string, attrs ...html.Attribute) *html.Node {
	n := element(a, attrs...)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}
