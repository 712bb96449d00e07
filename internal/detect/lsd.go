package detect

import (
	"math"

	"cardscan/internal/raster"

	"gonum.org/v1/gonum/mat"
)

// Segment is a straight line segment in pixel coordinates.
type Segment struct {
	X1, Y1, X2, Y2 float64
}

// Length returns the Euclidean length of the segment.
func (s Segment) Length() float64 {
	return math.Hypot(s.X2-s.X1, s.Y2-s.Y1)
}

// Angle returns the undirected angle to the x axis in degrees, in [0, 90].
func (s Segment) Angle() float64 {
	return math.Atan2(math.Abs(s.Y2-s.Y1), math.Abs(s.X2-s.X1)) * 180 / math.Pi
}

// Line segment detector tuning. Gradient quantization q=2 with angle
// tolerance tau=22.5 degrees gives the usual magnitude floor q/sin(tau).
const (
	lsdTolerance  = 22.5 * math.Pi / 180
	lsdMagFloor   = 2 / 0.38268343236508984
	lsdMinDensity = 0.7
	lsdMinRegion  = 8
	lsdBins       = 1024
)

// LineSegments finds straight segments in a gray plane by growing regions
// of pixels whose level-line orientation agrees within a fixed tolerance,
// then fitting each region's principal axis.
func LineSegments(g raster.Plane) []Segment {
	w, h := g.W, g.H
	if w < 3 || h < 3 {
		return nil
	}

	mag := make([]float64, w*h)
	ang := make([]float64, w*h)
	used := make([]bool, w*h)
	maxMag := 0.0
	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			a := float64(g.At(x, y))
			b := float64(g.At(x+1, y))
			c := float64(g.At(x, y+1))
			d := float64(g.At(x+1, y+1))
			gx := (b + d - a - c) / 2
			gy := (c + d - a - b) / 2
			i := y*w + x
			mag[i] = math.Hypot(gx, gy)
			ang[i] = math.Atan2(gx, -gy)
			if mag[i] <= lsdMagFloor {
				used[i] = true
			}
			maxMag = math.Max(maxMag, mag[i])
		}
	}
	// The last row and column have no forward difference.
	for x := 0; x < w; x++ {
		used[(h-1)*w+x] = true
	}
	for y := 0; y < h; y++ {
		used[y*w+w-1] = true
	}
	if maxMag == 0 {
		return nil
	}

	// Pseudo-sort seeds by descending magnitude.
	buckets := make([][]int, lsdBins)
	for i, m := range mag {
		if used[i] {
			continue
		}
		b := int(m / maxMag * (lsdBins - 1))
		buckets[b] = append(buckets[b], i)
	}

	var segs []Segment
	region := make([]int, 0, 256)
	for b := lsdBins - 1; b >= 0; b-- {
		for _, seed := range buckets[b] {
			if used[seed] {
				continue
			}
			region = growRegion(region[:0], seed, w, h, ang, used)
			if len(region) < lsdMinRegion {
				continue
			}
			if s, ok := fitSegment(region, w, mag); ok {
				segs = append(segs, s)
			}
		}
	}
	return segs
}

// growRegion collects 8-connected pixels aligned with the running region
// orientation, marking them used.
func growRegion(region []int, seed, w, h int, ang []float64, used []bool) []int {
	region = append(region, seed)
	used[seed] = true
	theta := ang[seed]
	sumCos, sumSin := math.Cos(theta), math.Sin(theta)

	for k := 0; k < len(region); k++ {
		px, py := region[k]%w, region[k]/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				x, y := px+dx, py+dy
				if x < 0 || y < 0 || x >= w || y >= h {
					continue
				}
				i := y*w + x
				if used[i] || !aligned(ang[i], theta) {
					continue
				}
				used[i] = true
				region = append(region, i)
				sumCos += math.Cos(ang[i])
				sumSin += math.Sin(ang[i])
				theta = math.Atan2(sumSin, sumCos)
			}
		}
	}
	return region
}

func aligned(a, theta float64) bool {
	d := math.Abs(a - theta)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d <= lsdTolerance
}

// fitSegment fits the principal axis of a magnitude-weighted region and
// returns the segment spanning it when the enclosing rectangle is dense.
func fitSegment(region []int, w int, mag []float64) (Segment, bool) {
	var sum, cx, cy float64
	for _, i := range region {
		m := mag[i]
		cx += m * float64(i%w)
		cy += m * float64(i/w)
		sum += m
	}
	if sum == 0 {
		return Segment{}, false
	}
	cx /= sum
	cy /= sum

	var sxx, syy, sxy float64
	for _, i := range region {
		m := mag[i]
		dx, dy := float64(i%w)-cx, float64(i/w)-cy
		sxx += m * dx * dx
		syy += m * dy * dy
		sxy += m * dx * dy
	}

	var es mat.EigenSym
	if !es.Factorize(mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy}), true) {
		return Segment{}, false
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	// Eigenvalues are ascending, so column 1 is the principal direction.
	ux, uy := vecs.At(0, 1), vecs.At(1, 1)

	lMin, lMax := math.Inf(1), math.Inf(-1)
	wMin, wMax := math.Inf(1), math.Inf(-1)
	for _, i := range region {
		dx, dy := float64(i%w)-cx, float64(i/w)-cy
		l := dx*ux + dy*uy
		t := -dx*uy + dy*ux
		lMin, lMax = math.Min(lMin, l), math.Max(lMax, l)
		wMin, wMax = math.Min(wMin, t), math.Max(wMax, t)
	}
	length := lMax - lMin + 1
	width := wMax - wMin + 1
	if float64(len(region))/(length*width) < lsdMinDensity {
		return Segment{}, false
	}

	return Segment{
		X1: cx + lMin*ux, Y1: cy + lMin*uy,
		X2: cx + lMax*ux, Y2: cy + lMax*uy,
	}, true
}
