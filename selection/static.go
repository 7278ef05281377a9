package selection

import (
	"strings"

	"github.com/wudi/pdfmark/coords"
)

// Piece is one client-space line fragment of a StaticRange and the text it
// covers.
type Piece struct {
	Rect coords.Rect
	Text string
}

// StaticRange is a precomputed Range for hosts that select text without a
// live rendering tree, and for tests.
type StaticRange struct {
	Ancestor Node
	Pieces   []Piece
}

var (
	_ Range      = (*StaticRange)(nil)
	_ Restricter = (*StaticRange)(nil)
)

func (s *StaticRange) Collapsed() bool      { return s == nil || len(s.Pieces) == 0 }
func (s *StaticRange) CommonAncestor() Node { return s.Ancestor }

func (s *StaticRange) ClientRects() []coords.Rect {
	out := make([]coords.Rect, len(s.Pieces))
	for i, p := range s.Pieces {
		out[i] = p.Rect
	}
	return out
}

func (s *StaticRange) Text() string {
	parts := make([]string, 0, len(s.Pieces))
	for _, p := range s.Pieces {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Restrict keeps the pieces that overlap the layer's client bounds, clipped
// to them. It requires a BoundedLayer.
func (s *StaticRange) Restrict(l Layer) (Range, bool) {
	bl, ok := l.(BoundedLayer)
	if !ok {
		return nil, false
	}
	bounds := bl.ClientBounds()
	sub := &StaticRange{Ancestor: l.Root()}
	for _, p := range s.Pieces {
		clipped := p.Rect.Intersect(bounds)
		if clipped.Empty() {
			continue
		}
		sub.Pieces = append(sub.Pieces, Piece{Rect: clipped, Text: p.Text})
	}
	if len(sub.Pieces) == 0 {
		return nil, false
	}
	return sub, true
}
