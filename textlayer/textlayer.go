// Package textlayer builds the interactive layer of a page: invisible,
// individually selectable text nodes positioned in Viewport space over the
// rendered bitmap. Nodes come from the decoder's native text runs or from OCR
// words. The layer implements selection.BoundedLayer, so captures and
// cross-page splitting work against it directly.
package textlayer

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/ocr"
	"github.com/wudi/pdfmark/selection"
)

// ErrNodeRange is returned when a selection endpoint is not a node index.
var ErrNodeRange = errors.New("text node index out of range")

// advancePerEm estimates the advance of one glyph when a run carries no width.
const advancePerEm = 0.5

// Run is one native text run as reported by the decoder, in Intrinsic space.
type Run struct {
	Text string
	// OriginX and OriginY locate the top-left corner of the run (y down).
	OriginX float64
	OriginY float64
	// GlyphHeight is the font size in Intrinsic units.
	GlyphHeight float64
	// GlyphAngle is the clockwise rotation of the run in degrees.
	GlyphAngle float64
	FontID     string
	// Width is the advance width of the run; zero estimates it from the
	// glyph count.
	Width float64
}

func (r Run) width() float64 {
	if r.Width > 0 {
		return r.Width
	}
	return float64(utf8.RuneCountInString(r.Text)) * r.GlyphHeight * advancePerEm
}

// box returns the axis-aligned Intrinsic bounds of the run, rotated about its
// origin by GlyphAngle.
func (r Run) box() coords.Rect {
	b := coords.NewRect(r.OriginX, r.OriginY, r.width(), r.GlyphHeight)
	if r.GlyphAngle == 0 {
		return b
	}
	m := coords.Translate(-r.OriginX, -r.OriginY).
		Multiply(coords.Rotate(r.GlyphAngle * math.Pi / 180)).
		Multiply(coords.Translate(r.OriginX, r.OriginY))
	return coords.RectFromPoints(
		m.Transform(coords.Point{X: b.X, Y: b.Y}),
		m.Transform(coords.Point{X: b.Right(), Y: b.Y}),
		m.Transform(coords.Point{X: b.X, Y: b.Bottom()}),
		m.Transform(coords.Point{X: b.Right(), Y: b.Bottom()}),
	)
}

// Node is one selectable text node.
type Node struct {
	Index  int
	Text   string
	FontID string
	// Anchor is the Viewport position of the run origin.
	Anchor coords.Point
	// Rect is the Viewport box of the node, relative to the layer.
	Rect coords.ViewportRect
	// FontSize is GlyphHeight times the view scale.
	FontSize float64
	// Angle is the glyph angle plus the view rotation, in [0, 360).
	Angle float64
	// Line is the index of the visual line the node belongs to.
	Line int

	run   Run
	layer *Layer
}

func (n *Node) ParentNode() selection.Node { return n.layer }

// Layer is the interactive layer of one page at one transform.
type Layer struct {
	page      coords.Page
	transform coords.Transform
	origin    coords.Point
	parent    selection.Node
	nodes     []*Node
}

var (
	_ selection.BoundedLayer = (*Layer)(nil)
	_ selection.Node         = (*Layer)(nil)
)

// Option configures a Layer.
type Option func(*Layer)

// WithOrigin sets the client-space position of the layer's top-left corner.
func WithOrigin(p coords.Point) Option {
	return func(l *Layer) { l.origin = p }
}

// WithParent attaches the layer below a container node, such as a Document.
func WithParent(n selection.Node) Option {
	return func(l *Layer) { l.parent = n }
}

// Build positions runs over the page as displayed at t. Runs with blank text
// or no height produce no node.
func Build(p coords.Page, t coords.Transform, runs []Run, opts ...Option) (*Layer, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("text layer: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("text layer page %d: %w", p.Number, err)
	}
	l := &Layer{page: p, transform: t}
	for _, opt := range opts {
		opt(l)
	}

	line := -1
	var lineBox coords.Rect
	for _, r := range runs {
		if r.GlyphHeight <= 0 || selection.NormalizeText(r.Text) == "" {
			continue
		}
		box := r.box()
		if line < 0 || !sameLine(lineBox, box) {
			line++
			lineBox = box
		} else {
			lineBox = lineBox.Union(box)
		}
		l.nodes = append(l.nodes, &Node{
			Index:    len(l.nodes),
			Text:     r.Text,
			FontID:   r.FontID,
			Anchor:   coords.PointToViewport(coords.Point{X: r.OriginX, Y: r.OriginY}, p, t),
			Rect:     coords.ToViewport(box, p, t),
			FontSize: r.GlyphHeight * t.Scale,
			Angle:    math.Mod(r.GlyphAngle+float64(t.Rotation)+360, 360),
			Line:     line,
			run:      r,
			layer:    l,
		})
	}
	return l, nil
}

// FromWords builds a layer from OCR words. Each word becomes one node whose
// box is the recognized word box.
func FromWords(p coords.Page, t coords.Transform, words []ocr.Word, opts ...Option) (*Layer, error) {
	runs := make([]Run, 0, len(words))
	for _, w := range words {
		runs = append(runs, Run{
			Text:        w.Text,
			OriginX:     w.Box.X,
			OriginY:     w.Box.Y,
			GlyphHeight: w.Box.Height,
			Width:       w.Box.Width,
			FontID:      "ocr",
		})
	}
	return Build(p, t, runs, opts...)
}

// sameLine reports whether box continues the line spanned by lineBox: their
// vertical extents overlap by at least half of the smaller height.
func sameLine(lineBox, box coords.Rect) bool {
	top := math.Max(lineBox.Y, box.Y)
	bottom := math.Min(lineBox.Bottom(), box.Bottom())
	return bottom-top >= 0.5*math.Min(lineBox.Height, box.Height)
}

func (l *Layer) PageNumber() int             { return l.page.Number }
func (l *Layer) Root() selection.Node        { return l }
func (l *Layer) Origin() coords.Point        { return l.origin }
func (l *Layer) Page() coords.Page           { return l.page }
func (l *Layer) Transform() coords.Transform { return l.transform }
func (l *Layer) Nodes() []*Node              { return l.nodes }
func (l *Layer) Len() int                    { return len(l.nodes) }
func (l *Layer) Node(i int) *Node            { return l.nodes[i] }

func (l *Layer) ParentNode() selection.Node {
	if l.parent == nil {
		return nil
	}
	return l.parent
}

// ClientBounds returns the client-space extent of the rendered page.
func (l *Layer) ClientBounds() coords.Rect {
	w, h := coords.ViewportSize(l.page, l.transform)
	return coords.NewRect(l.origin.X, l.origin.Y, w, h)
}

// Lines returns the number of visual lines.
func (l *Layer) Lines() int {
	if len(l.nodes) == 0 {
		return 0
	}
	return l.nodes[len(l.nodes)-1].Line + 1
}
