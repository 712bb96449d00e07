// Package fusion scores boundary candidates from every detector on a common
// 0-100 scale and picks the global best.
package fusion

import (
	"math"

	"cardscan/internal/confidence"
	"cardscan/internal/detect"
	"cardscan/internal/raster"
	"cardscan/pkg/geometry"
)

// Score component limits.
const (
	MaxRectangularity = 40.0
	MaxEdgeSupport    = 40.0
	MaxAspect         = 20.0
	MaxContinuity     = 15.0
	MaxAreaDeficit    = 30.0
	MaxAreaExcess     = 20.0
	MaxGlarePenalty   = 15.0

	minContinuitySamples = 50
)

// Breakdown itemizes a score.
type Breakdown struct {
	Rectangularity float64 `json:"rectangularity"`
	EdgeSupport    float64 `json:"edge_support"`
	Aspect         float64 `json:"aspect"`
	Continuity     float64 `json:"continuity"`
	AreaPenalty    float64 `json:"area_penalty"`
	GlarePenalty   float64 `json:"glare_penalty"`
	// GlareAlongBorder is the percentage of perimeter samples on glare.
	GlareAlongBorder float64 `json:"glare_along_border"`
	AreaRatio        float64 `json:"area_ratio"`
}

// Total combines the components and clamps to [0, 100].
func (b Breakdown) Total() float64 {
	t := b.Rectangularity + b.EdgeSupport + b.Aspect + b.Continuity - b.AreaPenalty - b.GlarePenalty
	return math.Max(0, math.Min(100, t))
}

// Candidate is a scored detector proposal.
type Candidate struct {
	Detector   detect.ID        `json:"detector"`
	Quad       geometry.Quad    `json:"quad"`
	Score      float64          `json:"score"`
	Confidence confidence.Level `json:"confidence"`
	Breakdown  Breakdown        `json:"breakdown"`
}

// Score rates q against an edge map and glare mask of the same frame.
// An empty glare plane disables glare exclusion and the glare penalty.
func Score(q geometry.Quad, edges, glare raster.Plane, p detect.Params) (float64, confidence.Level, Breakdown) {
	var b Breakdown
	b.Rectangularity = rectangularity(q)
	b.EdgeSupport, b.GlareAlongBorder = edgeSupport(q, edges, glare)
	b.Aspect = aspectFit(q, p.AspectMin, p.AspectMax)
	b.Continuity = continuity(q, edges)

	frame := float64(edges.W * edges.H)
	if frame > 0 {
		b.AreaRatio = q.Area() / frame
	}
	switch {
	case b.AreaRatio < p.MinArea:
		b.AreaPenalty = math.Min(MaxAreaDeficit, (p.MinArea-b.AreaRatio)*200)
	case b.AreaRatio > p.MaxArea:
		b.AreaPenalty = math.Min(MaxAreaExcess, (b.AreaRatio-p.MaxArea)*100)
	}
	if !glare.Empty() && b.GlareAlongBorder > p.GlareTolerance {
		b.GlarePenalty = math.Min(MaxGlarePenalty, (b.GlareAlongBorder-p.GlareTolerance)*0.5)
	}

	total := b.Total()
	return total, confidence.FromScore(total, b.AreaPenalty > 0), b
}

// ScoreAll scores every proposal, preserving order.
func ScoreAll(props []detect.Proposal, edges, glare raster.Plane, p detect.Params) []Candidate {
	out := make([]Candidate, len(props))
	for i, pr := range props {
		s, c, b := Score(pr.Quad, edges, glare, p)
		out[i] = Candidate{Detector: pr.Detector, Quad: pr.Quad, Score: s, Confidence: c, Breakdown: b}
	}
	return out
}

// Best returns the highest-scoring candidate. Ties go to the earlier entry,
// so the profile's detector order breaks them.
func Best(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best, true
}

func rectangularity(q geometry.Quad) float64 {
	var dev float64
	for _, a := range q.InteriorAngles() {
		dev += math.Abs(a - 90)
	}
	return math.Max(0, MaxRectangularity-2*dev/4)
}

// sidePoints samples n integer points evenly from a to b, inclusive,
// clamped to the frame.
func sidePoints(a, b geometry.Point2D, n, w, h int) [][2]int {
	ax, ay := math.Trunc(a.X), math.Trunc(a.Y)
	bx, by := math.Trunc(b.X), math.Trunc(b.Y)
	pts := make([][2]int, n)
	for j := 0; j < n; j++ {
		t := 0.0
		if n > 1 {
			t = float64(j) / float64(n-1)
		}
		x := int(ax + (bx-ax)*t)
		y := int(ay + (by-ay)*t)
		pts[j] = [2]int{min(max(x, 0), w-1), min(max(y, 0), h-1)}
	}
	return pts
}

func edgeSupport(q geometry.Quad, edges, glare raster.Plane) (score, glarePct float64) {
	hits, valid, onGlare, total := 0, 0, 0, 0
	for i := 0; i < 4; i++ {
		a, b := q[i], q[(i+1)%4]
		n := int(a.Distance(b))
		for _, pt := range sidePoints(a, b, n, edges.W, edges.H) {
			total++
			if !glare.Empty() && glare.At(pt[0], pt[1]) > 0 {
				onGlare++
				continue
			}
			valid++
			if edges.At(pt[0], pt[1]) > 0 {
				hits++
			}
		}
	}
	if valid > 0 {
		score = math.Min(MaxEdgeSupport, float64(hits)/float64(valid)*100)
	}
	if total > 0 {
		glarePct = float64(onGlare) / float64(total) * 100
	}
	return score, glarePct
}

// aspectFit grades the long/short side ratio against [lo, hi].
func aspectFit(q geometry.Quad, lo, hi float64) float64 {
	top, right, bottom, left := q.Sides()
	w, h := math.Max(top, bottom), math.Max(left, right)
	if w == 0 || h == 0 {
		return 0
	}
	aspect := math.Max(w, h) / math.Min(w, h)
	switch {
	case aspect >= lo && aspect <= hi:
		return MaxAspect
	case aspect >= lo-0.05 && aspect <= hi+0.10:
		return 15
	default:
		dev := math.Min(math.Abs(aspect-lo), math.Abs(aspect-hi))
		return math.Max(0, 15-dev*30)
	}
}

// continuity sums, per side, the longest run of consecutive edge samples as
// a fraction of the side's samples, scaled to MaxContinuity/4 per side.
func continuity(q geometry.Quad, edges raster.Plane) float64 {
	var total float64
	for i := 0; i < 4; i++ {
		a, b := q[i], q[(i+1)%4]
		length := int(a.Distance(b))
		if length == 0 {
			continue
		}
		n := max(length, minContinuitySamples)
		run, best := 0, 0
		for _, pt := range sidePoints(a, b, n, edges.W, edges.H) {
			if edges.At(pt[0], pt[1]) > 0 {
				run++
				best = max(best, run)
			} else {
				run = 0
			}
		}
		total += float64(best) / float64(n) * MaxContinuity / 4
	}
	return total
}
