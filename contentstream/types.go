package contentstream

import "github.com/wudi/pdfmark/coords"

// TextRenderMode matches PDF text rendering modes set via Tr operator.
type TextRenderMode int

const (
	TextFill TextRenderMode = iota
	TextStroke
	TextFillStroke
	TextInvisible
	TextFillClip
	TextStrokeClip
	TextFillStrokeClip
	TextClip
)

// LineCap represents the line cap style (J operator).
type LineCap int

const (
	LineCapButt LineCap = iota
	LineCapRound
	LineCapSquare
)

// LineJoin represents the line join style (j operator).
type LineJoin int

const (
	LineJoinMiter LineJoin = iota
	LineJoinRound
	LineJoinBevel
)

// Path describes a graphics path made of subpaths.
type Path struct {
	Subpaths []Subpath
}

// Subpath describes a portion of a path.
type Subpath struct {
	Points []PathPoint
	Closed bool
}

// PathPoint identifies a path segment and its coordinates.
type PathPoint struct {
	X, Y                 float64
	Type                 PathPointType
	Control1X, Control1Y float64
	Control2X, Control2Y float64
}

// PathPointType enumerates path segment types.
type PathPointType int

const (
	PathMoveTo PathPointType = iota
	PathLineTo
	PathCurveTo
	PathClose
)

// MoveTo starts a new subpath.
func (p *Path) MoveTo(x, y float64) *Path {
	p.Subpaths = append(p.Subpaths, Subpath{Points: []PathPoint{{X: x, Y: y, Type: PathMoveTo}}})
	return p
}

// LineTo appends a straight segment to the current subpath.
func (p *Path) LineTo(x, y float64) *Path {
	if len(p.Subpaths) == 0 {
		return p.MoveTo(x, y)
	}
	sp := &p.Subpaths[len(p.Subpaths)-1]
	sp.Points = append(sp.Points, PathPoint{X: x, Y: y, Type: PathLineTo})
	return p
}

// Close closes the current subpath.
func (p *Path) Close() *Path {
	if n := len(p.Subpaths); n > 0 {
		p.Subpaths[n-1].Closed = true
	}
	return p
}

// Transform returns a copy with every point mapped through m.
func (p Path) Transform(m coords.Matrix) Path {
	out := Path{Subpaths: make([]Subpath, len(p.Subpaths))}
	for i, sp := range p.Subpaths {
		pts := make([]PathPoint, len(sp.Points))
		for j, pt := range sp.Points {
			a := m.Transform(coords.Point{X: pt.X, Y: pt.Y})
			c1 := m.Transform(coords.Point{X: pt.Control1X, Y: pt.Control1Y})
			c2 := m.Transform(coords.Point{X: pt.Control2X, Y: pt.Control2Y})
			pts[j] = PathPoint{X: a.X, Y: a.Y, Type: pt.Type, Control1X: c1.X, Control1Y: c1.Y, Control2X: c2.X, Control2Y: c2.Y}
		}
		out.Subpaths[i] = Subpath{Points: pts, Closed: sp.Closed}
	}
	return out
}

// Operations emits the path construction operators (m l c h).
func (p Path) Operations() []Operation {
	var ops []Operation
	for _, sp := range p.Subpaths {
		for _, pt := range sp.Points {
			switch pt.Type {
			case PathMoveTo:
				ops = append(ops, Op("m", pt.X, pt.Y))
			case PathLineTo:
				ops = append(ops, Op("l", pt.X, pt.Y))
			case PathCurveTo:
				ops = append(ops, Op("c", pt.Control1X, pt.Control1Y, pt.Control2X, pt.Control2Y, pt.X, pt.Y))
			case PathClose:
				ops = append(ops, Op("h"))
			}
		}
		if sp.Closed {
			ops = append(ops, Op("h"))
		}
	}
	return ops
}
