// Package export renders a book's highlights as a human-readable digest.
//
// Two formats are supported. WriteHTML produces a standalone HTML document in
// which notes are rendered from Markdown, with $$…$$ math converted to MathML,
// and the rendered markup passed through an allowlist sanitizer. WriteMarkdown
// produces a plain Markdown digest.
package export

import (
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/wudi/pdfmark/highlight"
)

// Digest is the input of both writers.
type Digest struct {
	Title      string
	BookID     string
	PDFName    string
	Highlights []highlight.Highlight
}

// Section holds the highlights of one page, in reading order.
type Section struct {
	Page       int
	Highlights []highlight.Highlight
}

func (d Digest) title() string {
	switch {
	case d.Title != "":
		return d.Title
	case d.PDFName != "":
		return d.PDFName
	case d.BookID != "":
		return d.BookID
	}
	return "Highlights"
}

// Sections groups the digest's highlights by page. Pages ascend; within a
// page highlights are ordered by their first rect, top to bottom then left to
// right.
func (d Digest) Sections() []Section {
	hs := make([]highlight.Highlight, len(d.Highlights))
	copy(hs, d.Highlights)
	sort.SliceStable(hs, func(i, j int) bool {
		a, b := hs[i], hs[j]
		if a.PageNumber != b.PageNumber {
			return a.PageNumber < b.PageNumber
		}
		if len(a.Rects) == 0 || len(b.Rects) == 0 {
			return len(a.Rects) > len(b.Rects)
		}
		if a.Rects[0].Y != b.Rects[0].Y {
			return a.Rects[0].Y < b.Rects[0].Y
		}
		return a.Rects[0].X < b.Rects[0].X
	})

	var out []Section
	for _, h := range hs {
		if n := len(out); n == 0 || out[n-1].Page != h.PageNumber {
			out = append(out, Section{Page: h.PageNumber})
		}
		out[len(out)-1].Highlights = append(out[len(out)-1].Highlights, h)
	}
	return out
}

func pageHeading(p int) string { return fmt.Sprintf("Page %d", p) }

func clean(s string) string { return norm.NFC.String(s) }
