// Package coords converts rectangles and points between the three frames a
// page annotation passes through: Intrinsic space (the page at scale 1 and
// rotation 0), Viewport space (pixels as currently rendered) and Storage space
// (what gets persisted, identical to Intrinsic space).
//
// All functions are pure. Viewport space is y-down with its origin at the
// top-left corner of the rendered page; rotation is clockwise.
package coords

import (
	"errors"
	"math"
)

// Matrix is a 2D affine transform [a b c d e f] applied to row vectors:
// x' = a*x + c*y + e, y' = b*x + d*y + f.
type Matrix [6]float64

// Identity returns the identity transform.
func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

// Multiply returns the transform that applies m first and then o.
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

// Point is a location in any of the frames.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Transform applies the matrix to p.
func (m Matrix) Transform(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

// ErrSingular is returned when inverting a matrix with a zero determinant.
var ErrSingular = errors.New("matrix singular")

// Inverse returns the inverse transform.
func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-10 {
		return Matrix{}, ErrSingular
	}
	return Matrix{
		m[3] / det, -m[1] / det,
		-m[2] / det, m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det, (m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}

// Translate returns a translation.
func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }

// Scale returns a scaling about the origin.
func Scale(sx, sy float64) Matrix { return Matrix{sx, 0, 0, sy, 0, 0} }

// Rotate returns a rotation about the origin. In a y-down frame a positive
// angle turns clockwise.
func Rotate(angle float64) Matrix {
	c := math.Cos(angle)
	s := math.Sin(angle)
	return Matrix{c, s, -s, c, 0, 0}
}
