package annotxml

import "math"

type point struct {
	X, Y float64
}

func dist(a, b point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func mid(a, b point) point {
	return point{(a.X + b.X) / 2, (a.Y + b.Y) / 2}
}

// RotatedBox is the oriented rectangle that is derived from the 4 corners of a rotbox
type RotatedBox struct {
	CX     float64
	CY     float64
	Width  float64
	Height float64
	Angle  float64 // Degrees
}

// RotboxFromQuad computes the oriented box of the quad p0,p1,p2,p3 (8 numbers).
// Width is |p0 p1|, height is |p1 p2|, the angle is the direction of p1→p2,
// and the center is the midpoint of the midpoints of p0p1 and p3p2.
func RotboxFromQuad(points []float64) RotatedBox {
	p0 := point{points[0], points[1]}
	p1 := point{points[2], points[3]}
	p2 := point{points[4], points[5]}
	p3 := point{points[6], points[7]}
	c := mid(mid(p0, p1), mid(p3, p2))
	return RotatedBox{
		CX:     c.X,
		CY:     c.Y,
		Width:  dist(p0, p1),
		Height: dist(p1, p2),
		Angle:  math.Atan2(p2.Y-p1.Y, p2.X-p1.X) * 180 / math.Pi,
	}
}

func rotboxFields(points []float64) Fields {
	r := RotboxFromQuad(points)
	return Fields{
		{"cx", FormatCoord(r.CX)},
		{"cy", FormatCoord(r.CY)},
		{"width", FormatCoord(r.Width)},
		{"height", FormatCoord(r.Height)},
		{"angle", FormatCoord(r.Angle)},
	}
}
