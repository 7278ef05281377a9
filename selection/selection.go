// Package selection turns a live text selection over a page's interactive
// layer into layer-relative Viewport rectangles plus the selected text.
//
// The package is independent of how the host delivers selection events. A
// host adapts its selection object to Range and its per-page text layers to
// Layer; the engine only sees the interfaces below.
package selection

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/observability"
)

var (
	// ErrOutsideLayer means the selection is not confined to one page's
	// interactive layer. Callers ignore it; it is not a user-facing error.
	ErrOutsideLayer = errors.New("selection outside interactive layer")
	// ErrEmptySelection means there is nothing to capture: the range is
	// collapsed or every rectangle fell below the minimum size.
	ErrEmptySelection = errors.New("empty selection")
)

// Node is an element of the host's layer tree.
type Node interface {
	ParentNode() Node
}

// Layer is the interactive layer of one page.
type Layer interface {
	PageNumber() int
	// Root is the topmost node belonging to this layer.
	Root() Node
	// Origin is the client-space position of the layer's top-left corner.
	Origin() coords.Point
	// Transform is the view the layer is laid out for.
	Transform() coords.Transform
}

// BoundedLayer is a Layer that also knows its client-space extent. Splitting
// a selection across pages requires it.
type BoundedLayer interface {
	Layer
	ClientBounds() coords.Rect
}

// Range is a host text selection.
type Range interface {
	Collapsed() bool
	CommonAncestor() Node
	// ClientRects returns one rectangle per visual line fragment, in client
	// space.
	ClientRects() []coords.Rect
	Text() string
}

// Restricter is implemented by ranges that can be narrowed to the part lying
// inside one layer.
type Restricter interface {
	Restrict(l Layer) (Range, bool)
}

// Capture is the result of a successful capture on one page.
type Capture struct {
	PageNumber int
	Text       string
	Rects      []coords.ViewportRect // layer-relative
	// Transform is the view the rects were captured at.
	Transform coords.Transform
}

// Options configure a Capturer.
type Options struct {
	// MinRectSize is the smallest width and height, in Viewport pixels, a
	// rectangle needs to survive capture. Zero selects the default of 2.
	MinRectSize float64
}

// DefaultOptions returns the default capture options.
func DefaultOptions() Options { return Options{MinRectSize: 2} }

// Capturer converts ranges into captures.
type Capturer struct {
	opts   Options
	logger observability.Logger
}

// NewCapturer returns a Capturer. A nil logger discards log output.
func NewCapturer(opts Options, logger observability.Logger) *Capturer {
	if opts.MinRectSize <= 0 {
		opts.MinRectSize = DefaultOptions().MinRectSize
	}
	return &Capturer{opts: opts, logger: observability.OrNop(logger)}
}

// Capture reads the range's client rectangles, makes them relative to the
// layer origin and drops those below the minimum size.
func (c *Capturer) Capture(r Range, l Layer) (Capture, error) {
	if r == nil || r.Collapsed() {
		return Capture{}, ErrEmptySelection
	}
	if !Contains(l, r.CommonAncestor()) {
		return Capture{}, ErrOutsideLayer
	}
	origin := l.Origin()
	var rects []coords.Rect
	skipped := 0
	for _, cr := range r.ClientRects() {
		vr := cr.Translate(-origin.X, -origin.Y)
		if !vr.Finite() || !vr.AtLeast(c.opts.MinRectSize) {
			skipped++
			continue
		}
		if containsRect(rects, vr) {
			continue
		}
		rects = append(rects, vr)
	}
	if skipped > 0 {
		c.logger.Debug("dropped selection rects below minimum size",
			observability.Int("page", l.PageNumber()),
			observability.Int(observability.MetricSkippedRects, skipped))
	}
	if len(rects) == 0 {
		return Capture{}, ErrEmptySelection
	}
	return Capture{PageNumber: l.PageNumber(), Text: NormalizeText(r.Text()), Rects: rects, Transform: l.Transform()}, nil
}

// CaptureSpanning captures a selection that may cover several pages. The
// result holds one Capture per page touched, in the order of layers. A range
// confined to one layer yields a single Capture.
func (c *Capturer) CaptureSpanning(r Range, layers []Layer) ([]Capture, error) {
	if r == nil || r.Collapsed() {
		return nil, ErrEmptySelection
	}
	anc := r.CommonAncestor()
	for _, l := range layers {
		if Contains(l, anc) {
			cp, err := c.Capture(r, l)
			if err != nil {
				return nil, err
			}
			return []Capture{cp}, nil
		}
	}
	rs, ok := r.(Restricter)
	if !ok {
		return nil, ErrOutsideLayer
	}
	var out []Capture
	touched := false
	for _, l := range layers {
		sub, ok := rs.Restrict(l)
		if !ok {
			continue
		}
		touched = true
		cp, err := c.Capture(sub, l)
		if errors.Is(err, ErrEmptySelection) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	switch {
	case !touched:
		return nil, ErrOutsideLayer
	case len(out) == 0:
		return nil, ErrEmptySelection
	}
	return out, nil
}

// Contains reports whether n is the layer root or one of its descendants.
func Contains(l Layer, n Node) bool {
	if l == nil || n == nil {
		return false
	}
	root := l.Root()
	for ; n != nil; n = n.ParentNode() {
		if n == root {
			return true
		}
	}
	return false
}

// NormalizeText composes the text to NFC and collapses runs of whitespace
// into single spaces.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

func containsRect(rects []coords.Rect, r coords.Rect) bool {
	for _, x := range rects {
		if x == r {
			return true
		}
	}
	return false
}
