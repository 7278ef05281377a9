// Package highlight holds the highlight model, the Store that owns the
// highlights of one document, and the pure functions that turn selection
// captures into highlights and highlights into drawable rectangles.
package highlight

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/wudi/pdfmark/coords"
	"github.com/wudi/pdfmark/selection"
)

var (
	// ErrInvalidHighlight rejects a highlight that breaks the model
	// invariants. Nothing is stored or persisted for it.
	ErrInvalidHighlight = errors.New("invalid highlight")
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("highlight not found")
	// ErrGeometryImmutable rejects updates touching page, rects or text.
	ErrGeometryImmutable = errors.New("highlight geometry is immutable")
	// ErrDuplicateID rejects adding an id already in the store.
	ErrDuplicateID = errors.New("duplicate highlight id")
)

var colorPattern = regexp.MustCompile(`^(?:[a-z][a-z0-9_-]*|#[0-9A-Fa-f]{6})$`)

// ValidColor reports whether c is a palette id or a #RRGGBB hex color.
func ValidColor(c string) bool { return colorPattern.MatchString(c) }

// Highlight is a persisted annotation on one page. Rects are in Storage
// space.
type Highlight struct {
	ID         string
	PageNumber int
	Color      string
	Rects      []coords.NormalizedRect
	SourceText string
	NoteText   *string
}

// Clone returns a deep copy.
func (h Highlight) Clone() Highlight {
	h.Rects = append([]coords.NormalizedRect(nil), h.Rects...)
	if h.NoteText != nil {
		note := *h.NoteText
		h.NoteText = &note
	}
	return h
}

// Validate checks the invariants of a stored highlight.
func (h Highlight) Validate() error {
	switch {
	case h.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidHighlight)
	case h.PageNumber < 1:
		return fmt.Errorf("%w: %s: page number %d", ErrInvalidHighlight, h.ID, h.PageNumber)
	case !ValidColor(h.Color):
		return fmt.Errorf("%w: %s: color %q", ErrInvalidHighlight, h.ID, h.Color)
	case len(h.Rects) == 0:
		return fmt.Errorf("%w: %s: no rects", ErrInvalidHighlight, h.ID)
	}
	for i, r := range h.Rects {
		if !r.Finite() || r.Empty() || r.X < 0 || r.Y < 0 {
			return fmt.Errorf("%w: %s: rect %d %+v", ErrInvalidHighlight, h.ID, i, r)
		}
	}
	return nil
}

// NewID returns a random 128-bit hex id.
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("highlight: read random id: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// DefaultMinSize is the smallest width and height, in Storage units, a
// highlight rect needs after clamping unless configured otherwise.
const DefaultMinSize = 2

// Builder converts selection captures into highlights.
type Builder struct {
	// MinSize is the smallest width and height, in Storage units, a rect
	// needs after clamping. Zero keeps every rect with a positive area.
	MinSize float64
	// NewID generates highlight ids; nil selects NewID.
	NewID func() string
}

// FromCapture maps the capture's Viewport rects to Storage space at the
// transform they were captured under, clamps them to the page and drops those
// left without area. The capture must belong to page p.
func (b Builder) FromCapture(c selection.Capture, p coords.Page, t coords.Transform, color string, note *string) (Highlight, error) {
	if c.PageNumber != p.Number {
		return Highlight{}, fmt.Errorf("%w: capture on page %d mapped against page %d", ErrInvalidHighlight, c.PageNumber, p.Number)
	}
	if err := t.Validate(); err != nil {
		return Highlight{}, fmt.Errorf("%w: %v", ErrInvalidHighlight, err)
	}
	rects := make([]coords.NormalizedRect, 0, len(c.Rects))
	for _, vr := range c.Rects {
		sr := coords.ToStorage(vr, p, t)
		if sr.Empty() || !sr.AtLeast(b.MinSize) {
			continue
		}
		rects = append(rects, sr)
	}
	if len(rects) == 0 {
		return Highlight{}, fmt.Errorf("%w: no rect survives clamping on page %d", ErrInvalidHighlight, p.Number)
	}
	newID := b.NewID
	if newID == nil {
		newID = NewID
	}
	h := Highlight{
		ID:         newID(),
		PageNumber: p.Number,
		Color:      color,
		Rects:      rects,
		SourceText: c.Text,
	}
	if note != nil {
		n := *note
		h.NoteText = &n
	}
	return h, h.Validate()
}

// DrawableRect is one rectangle to paint.
type DrawableRect struct {
	ViewportRect coords.ViewportRect
	Color        string
	HighlightID  string
}

// Render maps the rects of the page's highlights into Viewport space at t.
// Input order is kept, so later highlights paint on top. Highlights of other
// pages and rects clamped away are skipped.
func Render(hs []Highlight, p coords.Page, t coords.Transform) []DrawableRect {
	var out []DrawableRect
	for _, h := range hs {
		if h.PageNumber != p.Number {
			continue
		}
		for _, r := range h.Rects {
			vr := coords.ToViewport(r, p, t)
			if vr.Empty() {
				continue
			}
			out = append(out, DrawableRect{ViewportRect: vr, Color: h.Color, HighlightID: h.ID})
		}
	}
	return out
}
