package coords

// ViewportMatrix returns the transform from Intrinsic space to Viewport space:
// the page is rotated clockwise about its center, translated back so the
// rotated page starts at the origin, then scaled.
func ViewportMatrix(p Page, t Transform) Matrix {
	var rot Matrix
	switch t.Rotation {
	case Rotate90:
		rot = Matrix{0, 1, -1, 0, p.Height, 0}
	case Rotate180:
		rot = Matrix{-1, 0, 0, -1, p.Width, p.Height}
	case Rotate270:
		rot = Matrix{0, -1, 1, 0, 0, p.Width}
	default:
		rot = Identity()
	}
	return rot.Multiply(Scale(t.Scale, t.Scale))
}

// ToStorage converts a Viewport rectangle into Storage space: rotation is
// undone, coordinates are divided by the scale and the result is clamped to
// the intrinsic page bounds.
//
// t must be valid; an invalid transform yields the zero Rect.
func ToStorage(r Rect, p Page, t Transform) Rect {
	inv, err := ViewportMatrix(p, t).Inverse()
	if err != nil {
		return Rect{}
	}
	return mapRect(inv, r).Clamp(p.Width, p.Height)
}

// ToViewport converts a Storage rectangle into the Viewport space of t,
// clamped to the rotated, scaled page bounds.
func ToViewport(r Rect, p Page, t Transform) Rect {
	w, h := ViewportSize(p, t)
	return mapRect(ViewportMatrix(p, t), r).Clamp(w, h)
}

// PointToViewport maps an Intrinsic point into Viewport space. Points are not
// clamped.
func PointToViewport(pt Point, p Page, t Transform) Point {
	return ViewportMatrix(p, t).Transform(pt)
}

// PointToStorage maps a Viewport point into Intrinsic space. Points are not
// clamped.
func PointToStorage(pt Point, p Page, t Transform) Point {
	inv, err := ViewportMatrix(p, t).Inverse()
	if err != nil {
		return Point{}
	}
	return inv.Transform(pt)
}

// RescaleRect maps a rectangle between two pixel grids covering the same
// area, such as an OCR raster and the displayed page.
func RescaleRect(r Rect, fromW, fromH, toW, toH float64) Rect {
	if fromW <= 0 || fromH <= 0 {
		return Rect{}
	}
	return mapRect(Scale(toW/fromW, toH/fromH), r)
}

// mapRect transforms the corners of r. Only axis-preserving transforms are
// used, so the image of r is again an axis-aligned rectangle.
func mapRect(m Matrix, r Rect) Rect {
	return RectFromPoints(
		m.Transform(Point{X: r.X, Y: r.Y}),
		m.Transform(Point{X: r.Right(), Y: r.Bottom()}),
	)
}
