package coords

import (
	"math"

	"github.com/golang/geo/r2"
)

// Rect is an axis-aligned rectangle with its origin at the top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ViewportRect is a Rect in Viewport space (rendered pixels).
type ViewportRect = Rect

// NormalizedRect is a Rect in Storage space (Intrinsic units).
type NormalizedRect = Rect

// NewRect creates a rectangle from its origin and size.
func NewRect(x, y, width, height float64) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

// RectFromPoints returns the smallest rectangle containing all points.
func RectFromPoints(pts ...Point) Rect {
	if len(pts) == 0 {
		return Rect{}
	}
	rp := make([]r2.Point, len(pts))
	for i, p := range pts {
		rp[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return fromR2(r2.RectFromPoints(rp...))
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Center returns the center point.
func (r Rect) Center() Point { return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2} }

// Area returns width times height, or 0 for an empty rectangle.
func (r Rect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.Width * r.Height
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return !(r.Width > 0) || !(r.Height > 0) }

// Finite reports whether all fields are finite numbers.
func (r Rect) Finite() bool {
	for _, v := range [...]float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Translate returns r moved by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return r.toR2().ContainsPoint(r2.Point{X: p.X, Y: p.Y})
}

// Intersects reports whether r and o share a region of positive area.
func (r Rect) Intersects(o Rect) bool {
	return !r.Intersect(o).Empty()
}

// Intersect returns the overlap of r and o, or the zero Rect.
func (r Rect) Intersect(o Rect) Rect {
	if r.Empty() || o.Empty() {
		return Rect{}
	}
	in := r.toR2().Intersection(o.toR2())
	if in.IsEmpty() {
		return Rect{}
	}
	return fromR2(in)
}

// Union returns the smallest rectangle containing r and o.
func (r Rect) Union(o Rect) Rect {
	switch {
	case r.Empty():
		return o
	case o.Empty():
		return r
	}
	return fromR2(r.toR2().Union(o.toR2()))
}

// Clamp restricts r to [0, width] x [0, height]. A rectangle entirely outside
// the bounds collapses to zero width or height.
func (r Rect) Clamp(width, height float64) Rect {
	x0 := clamp(r.X, 0, width)
	y0 := clamp(r.Y, 0, height)
	x1 := clamp(r.Right(), 0, width)
	y1 := clamp(r.Bottom(), 0, height)
	return Rect{X: x0, Y: y0, Width: math.Max(0, x1-x0), Height: math.Max(0, y1-y0)}
}

// AtLeast reports whether both sides of r are at least min.
func (r Rect) AtLeast(min float64) bool {
	return r.Width >= min && r.Height >= min
}

func (r Rect) toR2() r2.Rect {
	return r2.RectFromPoints(r2.Point{X: r.X, Y: r.Y}, r2.Point{X: r.Right(), Y: r.Bottom()})
}

func fromR2(r r2.Rect) Rect {
	lo, size := r.Lo(), r.Size()
	return Rect{X: lo.X, Y: lo.Y, Width: size.X, Height: size.Y}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
