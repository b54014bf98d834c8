package coords

import (
	"errors"
	"math"
)

// Matrix is a PDF affine transform [a b c d e f].
type Matrix [6]float64

func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

// Multiply returns m × o (apply m first, then o).
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

type Point struct{ X, Y float64 }

func (m Matrix) Transform(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

// ScaleY reports the vertical scale factor the matrix applies to unit lengths.
func (m Matrix) ScaleY() float64 { return math.Hypot(m[2], m[3]) }

// ScaleX reports the horizontal scale factor the matrix applies to unit lengths.
func (m Matrix) ScaleX() float64 { return math.Hypot(m[0], m[1]) }

func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-10 {
		return Matrix{}, errors.New("matrix singular")
	}
	return Matrix{
		m[3] / det, -m[1] / det, -m[2] / det, m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }
func Scale(sx, sy float64) Matrix     { return Matrix{sx, 0, 0, sy, 0, 0} }

// Rect is an axis-aligned rectangle in PDF user space (lower-left / upper-right corners).
type Rect struct {
	LLX, LLY, URX, URY float64
}

// Normalize orders the corners so LL is below and left of UR.
func (r Rect) Normalize() Rect {
	if r.LLX > r.URX {
		r.LLX, r.URX = r.URX, r.LLX
	}
	if r.LLY > r.URY {
		r.LLY, r.URY = r.URY, r.LLY
	}
	return r
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }
func (r Rect) Empty() bool     { return r.Width() <= 0 || r.Height() <= 0 }

// Bounds returns the smallest Rect covering all points.
func Bounds(pts ...Point) Rect {
	if len(pts) == 0 {
		return Rect{}
	}
	r := Rect{LLX: pts[0].X, LLY: pts[0].Y, URX: pts[0].X, URY: pts[0].Y}
	for _, p := range pts[1:] {
		r.LLX = math.Min(r.LLX, p.X)
		r.LLY = math.Min(r.LLY, p.Y)
		r.URX = math.Max(r.URX, p.X)
		r.URY = math.Max(r.URY, p.Y)
	}
	return r
}

// Box is a rectangle in page-local space: origin at the top-left corner of the
// visible page box, y growing downward.
type Box struct {
	X, Y, Width, Height float64
}

func (b Box) Right() float64  { return b.X + b.Width }
func (b Box) Bottom() float64 { return b.Y + b.Height }

// PageSpace converts between PDF user space and page-local space for one page.
type PageSpace struct {
	Frame Rect
}

func (s PageSpace) Width() float64  { return s.Frame.Width() }
func (s PageSpace) Height() float64 { return s.Frame.Height() }

// FromUser maps a user-space point to page-local coordinates.
func (s PageSpace) FromUser(p Point) Point {
	return Point{X: p.X - s.Frame.LLX, Y: s.Frame.URY - p.Y}
}

// ToUser maps a page-local point back to user space.
func (s PageSpace) ToUser(p Point) Point {
	return Point{X: p.X + s.Frame.LLX, Y: s.Frame.URY - p.Y}
}

// BoxFromUser converts a user-space rectangle into a page-local box.
func (s PageSpace) BoxFromUser(r Rect) Box {
	r = r.Normalize()
	tl := s.FromUser(Point{X: r.LLX, Y: r.URY})
	return Box{X: tl.X, Y: tl.Y, Width: r.Width(), Height: r.Height()}
}

// ClampBox moves b so it lies inside the page where possible.
func (s PageSpace) ClampBox(b Box) Box {
	w, h := s.Width(), s.Height()
	if b.X+b.Width > w {
		b.X = w - b.Width
	}
	if b.Y+b.Height > h {
		b.Y = h - b.Height
	}
	if b.X < 0 {
		b.X = 0
	}
	if b.Y < 0 {
		b.Y = 0
	}
	return b
}
