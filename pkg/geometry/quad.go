package geometry

import (
	"math"
	"sort"
)

// Quad is a quadrilateral ordered top-left, top-right, bottom-right,
// bottom-left once passed through OrderQuadPoints.
type Quad [4]Point2D

// Corner indices within an ordered Quad.
const (
	TopLeft = iota
	TopRight
	BottomRight
	BottomLeft
)

// QuadFromRect returns the ordered quad covering r.
func QuadFromRect(r Rect) Quad {
	return Quad{
		{X: r.X, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y},
		{X: r.X + r.Width, Y: r.Y + r.Height},
		{X: r.X, Y: r.Y + r.Height},
	}
}

// OrderQuadPoints orders four points as TL, TR, BR, BL.
// Points are sorted clockwise (in image coordinates) around their centroid,
// then rotated so the point with the smallest x+y comes first. Applying it
// to an already ordered quad returns the same quad.
func OrderQuadPoints(pts [4]Point2D) Quad {
	c := Centroid(pts[:])
	sorted := pts
	sort.SliceStable(sorted[:], func(i, j int) bool {
		ai := math.Atan2(sorted[i].Y-c.Y, sorted[i].X-c.X)
		aj := math.Atan2(sorted[j].Y-c.Y, sorted[j].X-c.X)
		return ai < aj
	})

	start := 0
	for i := 1; i < 4; i++ {
		si := sorted[i].X + sorted[i].Y
		ss := sorted[start].X + sorted[start].Y
		if si < ss || (si == ss && sorted[i].X < sorted[start].X) {
			start = i
		}
	}

	var q Quad
	for i := 0; i < 4; i++ {
		q[i] = sorted[(start+i)%4]
	}
	return q
}

// Ordered returns the quad with its points re-ordered TL, TR, BR, BL.
func (q Quad) Ordered() Quad {
	return OrderQuadPoints(q)
}

// Points returns the corners as a slice.
func (q Quad) Points() []Point2D {
	return []Point2D{q[0], q[1], q[2], q[3]}
}

// Area returns the enclosed area.
func (q Quad) Area() float64 {
	return PolygonArea(q[:])
}

// IsConvex reports whether the quad is a non-degenerate convex polygon.
func (q Quad) IsConvex() bool {
	return IsConvex(q[:]) && q.Area() > 0
}

// BoundingBox returns the axis-aligned bounding box.
func (q Quad) BoundingBox() Rect {
	return BoundingBox(q[:])
}

// Sides returns the lengths of the top, right, bottom and left edges.
func (q Quad) Sides() (top, right, bottom, left float64) {
	return q[TopLeft].Distance(q[TopRight]),
		q[TopRight].Distance(q[BottomRight]),
		q[BottomRight].Distance(q[BottomLeft]),
		q[BottomLeft].Distance(q[TopLeft])
}

// AvgWidth is the mean of the top and bottom edge lengths.
func (q Quad) AvgWidth() float64 {
	top, _, bottom, _ := q.Sides()
	return (top + bottom) / 2
}

// AvgHeight is the mean of the left and right edge lengths.
func (q Quad) AvgHeight() float64 {
	_, right, _, left := q.Sides()
	return (left + right) / 2
}

// WidthHeightRatio returns average width over average height.
func (q Quad) WidthHeightRatio() float64 {
	h := q.AvgHeight()
	if h == 0 {
		return 0
	}
	return q.AvgWidth() / h
}

// LongShortRatio returns the long side over the short side, always >= 1.
func (q Quad) LongShortRatio() float64 {
	w, h := q.AvgWidth(), q.AvgHeight()
	short := math.Min(w, h)
	if short == 0 {
		return 0
	}
	return math.Max(w, h) / short
}

// InteriorAngles returns the interior angle in degrees at each corner.
func (q Quad) InteriorAngles() [4]float64 {
	var angles [4]float64
	for i := 0; i < 4; i++ {
		prev := q[(i+3)%4]
		next := q[(i+1)%4]
		v1 := prev.Sub(q[i])
		v2 := next.Sub(q[i])
		n1 := math.Hypot(v1.X, v1.Y)
		n2 := math.Hypot(v2.X, v2.Y)
		if n1 == 0 || n2 == 0 {
			continue
		}
		cos := (v1.X*v2.X + v1.Y*v2.Y) / (n1 * n2)
		cos = math.Max(-1, math.Min(1, cos))
		angles[i] = math.Acos(cos) * 180 / math.Pi
	}
	return angles
}

// Scale multiplies every coordinate by f.
func (q Quad) Scale(f float64) Quad {
	for i := range q {
		q[i] = q[i].Scale(f)
	}
	return q
}

// Translate shifts every corner by (dx, dy).
func (q Quad) Translate(dx, dy float64) Quad {
	for i := range q {
		q[i] = Point2D{X: q[i].X + dx, Y: q[i].Y + dy}
	}
	return q
}

// Clamp limits every corner to [0,w]x[0,h].
func (q Quad) Clamp(w, h float64) Quad {
	for i := range q {
		q[i].X = math.Max(0, math.Min(w, q[i].X))
		q[i].Y = math.Max(0, math.Min(h, q[i].Y))
	}
	return q
}

// TouchesBorder reports whether the bounding box comes within margin of the
// edge of a w x h frame.
func (q Quad) TouchesBorder(w, h, margin float64) bool {
	bb := q.BoundingBox()
	return bb.X <= margin || bb.Y <= margin ||
		bb.X+bb.Width >= w-margin || bb.Y+bb.Height >= h-margin
}

// InsetRect returns the ordered quad inset by frac of each dimension.
func InsetRect(w, h, frac float64) Quad {
	mx, my := w*frac, h*frac
	return QuadFromRect(Rect{X: mx, Y: my, Width: w - 2*mx, Height: h - 2*my})
}
