package detect

import (
	"log/slog"
	"math"

	"cardscan/internal/cvutil"
	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

const orientationBand = 20.0

// splitByOrientation keeps segments within 20 degrees of horizontal or
// vertical and at least minLen long.
func splitByOrientation(segs []Segment, minLen float64) (horiz, vert []Segment) {
	for _, s := range segs {
		if s.Length() < minLen {
			continue
		}
		a := s.Angle()
		switch {
		case a < orientationBand:
			horiz = append(horiz, s)
		case math.Abs(a-90) < orientationBand:
			vert = append(vert, s)
		}
	}
	return horiz, vert
}

// DetectLSD builds an axis-aligned rectangle from the outermost long
// horizontal and vertical line segments.
func DetectLSD(f Frame, _ Params) (geometry.Quad, bool) {
	gray, err := GrayPlane(f.Image)
	if err != nil {
		slog.Debug("lsd: gray plane", "error", err)
		return geometry.Quad{}, false
	}
	segs := LineSegments(gray)
	if len(segs) < 4 {
		return geometry.Quad{}, false
	}

	minLen := float64(min(gray.W, gray.H)) * 0.10
	horiz, vert := splitByOrientation(segs, minLen)
	if len(horiz) < 2 || len(vert) < 2 {
		return geometry.Quad{}, false
	}

	top, bottom := math.Inf(1), math.Inf(-1)
	for _, s := range horiz {
		top = math.Min(top, math.Min(s.Y1, s.Y2))
		bottom = math.Max(bottom, math.Max(s.Y1, s.Y2))
	}
	left, right := math.Inf(1), math.Inf(-1)
	for _, s := range vert {
		left = math.Min(left, math.Min(s.X1, s.X2))
		right = math.Max(right, math.Max(s.X1, s.X2))
	}
	if right <= left || bottom <= top {
		return geometry.Quad{}, false
	}
	return geometry.QuadFromRect(geometry.Rect{X: left, Y: top, Width: right - left, Height: bottom - top}), true
}

// DetectHough runs the probabilistic Hough transform on a Canny map and
// intersects the outermost horizontal and vertical lines.
func DetectHough(f Frame, _ Params) (geometry.Quad, bool) {
	w, h := f.Size()
	gray := cvutil.Gray(f.Image)
	defer gray.Close()
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	segs := houghSegments(edges, 50, float32(float64(min(w, h))*0.15), 10)
	if len(segs) < 4 {
		return geometry.Quad{}, false
	}
	horiz, vert := splitByOrientation(segs, 0)
	if len(horiz) < 2 || len(vert) < 2 {
		return geometry.Quad{}, false
	}

	top := extremeSegment(horiz, func(s Segment) float64 { return (s.Y1 + s.Y2) / 2 }, false)
	bottom := extremeSegment(horiz, func(s Segment) float64 { return (s.Y1 + s.Y2) / 2 }, true)
	left := extremeSegment(vert, func(s Segment) float64 { return (s.X1 + s.X2) / 2 }, false)
	right := extremeSegment(vert, func(s Segment) float64 { return (s.X1 + s.X2) / 2 }, true)

	var raw [4]geometry.Point2D
	pairs := [4][2]Segment{{top, left}, {top, right}, {bottom, right}, {bottom, left}}
	for i, pr := range pairs {
		p, ok := intersect(pr[0], pr[1])
		if !ok {
			return geometry.Quad{}, false
		}
		raw[i] = p
	}
	return geometry.OrderQuadPoints(raw), true
}

// houghSegments returns the probabilistic Hough segments of a binary edge map.
func houghSegments(edges gocv.Mat, threshold int, minLen, maxGap float32) []Segment {
	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, math.Pi/180, threshold, minLen, maxGap)

	segs := make([]Segment, 0, lines.Rows())
	for i := 0; i < lines.Rows(); i++ {
		v := lines.GetVeciAt(i, 0)
		segs = append(segs, Segment{
			X1: float64(v[0]), Y1: float64(v[1]),
			X2: float64(v[2]), Y2: float64(v[3]),
		})
	}
	return segs
}

// extremeSegment returns the segment with the smallest (or largest) key.
// Ties keep the first.
func extremeSegment(segs []Segment, key func(Segment) float64, largest bool) Segment {
	best := segs[0]
	bk := key(best)
	for _, s := range segs[1:] {
		k := key(s)
		if (largest && k > bk) || (!largest && k < bk) {
			best, bk = s, k
		}
	}
	return best
}

func intersect(a, b Segment) (geometry.Point2D, bool) {
	return geometry.LineIntersection(
		geometry.Point2D{X: a.X1, Y: a.Y1}, geometry.Point2D{X: a.X2, Y: a.Y2},
		geometry.Point2D{X: b.X1, Y: b.Y1}, geometry.Point2D{X: b.X2, Y: b.Y2},
	)
}
