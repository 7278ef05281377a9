package coords

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
)

var (
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")
	ErrInvalidScale    = errors.New("scale must be a positive finite number")
	ErrInvalidPage     = errors.New("invalid page geometry")
)

// Rotation is a clockwise page rotation in degrees.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// NormalizeRotation maps any multiple of 90 degrees, including negative
// values, onto 0, 90, 180 or 270.
func NormalizeRotation(deg int) (Rotation, error) {
	if deg%90 != 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRotation, deg)
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(deg), nil
}

// Valid reports whether r is one of the four supported rotations.
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	}
	return false
}

// Swaps reports whether the rotation exchanges width and height.
func (r Rotation) Swaps() bool { return r == Rotate90 || r == Rotate270 }

// Add returns r turned further by o.
func (r Rotation) Add(o Rotation) Rotation { return Rotation((int(r) + int(o)) % 360) }

// Page is the immutable intrinsic geometry of one page.
type Page struct {
	Number int     `json:"number"` // 1-indexed
	Width  float64 `json:"width"`  // intrinsic width at scale 1
	Height float64 `json:"height"` // intrinsic height at scale 1
}

// Validate checks the page number and dimensions.
func (p Page) Validate() error {
	if p.Number < 1 {
		return fmt.Errorf("%w: page number %d", ErrInvalidPage, p.Number)
	}
	if !(p.Width > 0) || !(p.Height > 0) || math.IsInf(p.Width, 0) || math.IsInf(p.Height, 0) {
		return fmt.Errorf("%w: page %d size %gx%g", ErrInvalidPage, p.Number, p.Width, p.Height)
	}
	return nil
}

// Bounds returns the page rectangle in Intrinsic space.
func (p Page) Bounds() Rect { return Rect{Width: p.Width, Height: p.Height} }

// Transform describes how Intrinsic space maps onto the pixels on screen.
// It is recomputed on every zoom or rotation and never persisted.
type Transform struct {
	Scale    float64  `json:"scale"`
	Rotation Rotation `json:"rotation"`
}

// Validate checks scale and rotation.
func (t Transform) Validate() error {
	if !(t.Scale > 0) || math.IsInf(t.Scale, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidScale, t.Scale)
	}
	if !t.Rotation.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRotation, int(t.Rotation))
	}
	return nil
}

// ViewportSize returns the size of the rendered page, with width and height
// exchanged for 90 and 270 degree rotations.
func ViewportSize(p Page, t Transform) (width, height float64) {
	w, h := p.Width*t.Scale, p.Height*t.Scale
	if t.Rotation.Swaps() {
		return h, w
	}
	return w, h
}

// Tolerance bounds the difference accepted between two coordinates that
// should be equal after a round trip.
type Tolerance struct {
	Abs float64
	Rel float64
}

// DefaultTolerance is used when a Tolerance is left zero.
var DefaultTolerance = Tolerance{Abs: 1e-9, Rel: 1e-6}

func (tol Tolerance) orDefault() Tolerance {
	if tol.Abs == 0 && tol.Rel == 0 {
		return DefaultTolerance
	}
	return tol
}

// Equal reports whether a and b agree within the absolute or relative bound.
func (tol Tolerance) Equal(a, b float64) bool {
	tol = tol.orDefault()
	return scalar.EqualWithinAbsOrRel(a, b, tol.Abs, tol.Rel)
}

// RectEqual compares two rectangles field by field.
func (tol Tolerance) RectEqual(a, b Rect) bool {
	return tol.Equal(a.X, b.X) && tol.Equal(a.Y, b.Y) &&
		tol.Equal(a.Width, b.Width) && tol.Equal(a.Height, b.Height)
}
