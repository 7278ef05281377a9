package textlayer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/selection"
)

// wordGap is the gap between two runs, in ems of the smaller run, above which
// the selected text gets a separating space.
const wordGap = 0.15

// Select returns the range covering nodes from through to, inclusive, in
// either order. The range holds one client-space rectangle per visual line.
func (l *Layer) Select(from, to int) (*selection.StaticRange, error) {
	if from > to {
		from, to = to, from
	}
	if from < 0 || to >= len(l.nodes) {
		return nil, fmt.Errorf("%w: [%d, %d] of %d on page %d", ErrNodeRange, from, to, len(l.nodes), l.page.Number)
	}
	r := &selection.StaticRange{Ancestor: l}
	if from == to {
		r.Ancestor = l.nodes[from]
	}
	r.Pieces = l.pieces(from, to)
	return r, nil
}

// pieces merges nodes from..to into one Piece per line.
func (l *Layer) pieces(from, to int) []selection.Piece {
	var out []selection.Piece
	var text strings.Builder
	var rect coords.Rect
	var prev *Node
	flush := func() {
		if prev == nil {
			return
		}
		out = append(out, selection.Piece{
			Rect: rect.Translate(l.origin.X, l.origin.Y),
			Text: text.String(),
		})
		text.Reset()
	}
	for _, n := range l.nodes[from : to+1] {
		switch {
		case prev == nil || n.Line != prev.Line:
			flush()
			rect = n.Rect
		default:
			if needsSpace(prev.run, n.run) {
				text.WriteByte(' ')
			}
			rect = rect.Union(n.Rect)
		}
		text.WriteString(n.Text)
		prev = n
	}
	flush()
	return out
}

// needsSpace reports whether the horizontal gap between two runs on one line
// is wide enough to separate words.
func needsSpace(a, b Run) bool {
	if strings.HasSuffix(a.Text, " ") || strings.HasPrefix(b.Text, " ") {
		return false
	}
	em := a.GlyphHeight
	if b.GlyphHeight < em {
		em = b.GlyphHeight
	}
	gap := b.box().X - a.box().Right()
	return gap > wordGap*em
}

// Position addresses one node in a Document.
type Position struct {
	Page int
	Node int
}

// Document is the container of the layers of all rendered pages. It is the
// common ancestor of selections that span pages.
type Document struct {
	layers []*Layer
}

var _ selection.Node = (*Document)(nil)

// NewDocument returns an empty document.
func NewDocument() *Document { return &Document{} }

func (d *Document) ParentNode() selection.Node { return nil }

// Attach adds or replaces the layer of its page and makes d its parent.
func (d *Document) Attach(l *Layer) {
	l.parent = d
	for i, cur := range d.layers {
		if cur.page.Number == l.page.Number {
			cur.parent = nil
			d.layers[i] = l
			return
		}
	}
	d.layers = append(d.layers, l)
	sort.Slice(d.layers, func(i, j int) bool { return d.layers[i].page.Number < d.layers[j].page.Number })
}

// Detach removes the layer of a page.
func (d *Document) Detach(page int) {
	for i, l := range d.layers {
		if l.page.Number == page {
			l.parent = nil
			d.layers = append(d.layers[:i], d.layers[i+1:]...)
			return
		}
	}
}

// Layer returns the layer of a page.
func (d *Document) Layer(page int) (*Layer, bool) {
	for _, l := range d.layers {
		if l.page.Number == page {
			return l, true
		}
	}
	return nil, false
}

// Layers returns the attached layers in page order.
func (d *Document) Layers() []selection.Layer {
	out := make([]selection.Layer, len(d.layers))
	for i, l := range d.layers {
		out[i] = l
	}
	return out
}

// Span returns the range from one node to another, possibly on different
// pages. Pages in between are selected whole. A span within one page is the
// same as Layer.Select.
func (d *Document) Span(from, to Position) (*selection.StaticRange, error) {
	if to.Page < from.Page || (to.Page == from.Page && to.Node < from.Node) {
		from, to = to, from
	}
	if from.Page == to.Page {
		l, ok := d.Layer(from.Page)
		if !ok {
			return nil, fmt.Errorf("%w: page %d has no text layer", ErrNodeRange, from.Page)
		}
		return l.Select(from.Node, to.Node)
	}
	r := &selection.StaticRange{Ancestor: d}
	for _, l := range d.layers {
		n := l.page.Number
		if n < from.Page || n > to.Page || len(l.nodes) == 0 {
			continue
		}
		lo, hi := 0, len(l.nodes)-1
		if n == from.Page {
			lo = from.Node
		}
		if n == to.Page {
			hi = to.Node
		}
		if lo < 0 || hi >= len(l.nodes) || lo > hi {
			return nil, fmt.Errorf("%w: [%d, %d] on page %d", ErrNodeRange, lo, hi, n)
		}
		r.Pieces = append(r.Pieces, l.pieces(lo, hi)...)
	}
	return r, nil
}
