package detect

import (
	"image"
	"math"

	"cardscan/internal/cvutil"
	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

const (
	fusedContourLimit = 15
	colorContourLimit = 5
	portraitMin       = 0.50
	portraitMax       = 0.90
)

// DetectFusedEdges approximates the largest contours of the enhanced edge map
// to polygons and keeps the best-scoring portrait quadrilateral.
func DetectFusedEdges(f Frame, p Params) (geometry.Quad, bool) {
	w, h := f.Size()
	margin := p.margin()

	contours := cvutil.Contours(f.Edges)
	if len(contours) > fusedContourLimit {
		contours = contours[:fusedContourLimit]
	}

	var best geometry.Quad
	bestScore := -1.0
	for _, c := range contours {
		if cvutil.TouchesBorder(c.Bounds, w, h, margin) {
			continue
		}
		q, ok := cvutil.ApproxQuad(c.Points, 0.02)
		if !ok {
			continue
		}
		aspect := portraitAspect(q)
		if aspect <= portraitMin || aspect >= portraitMax {
			continue
		}
		s := legacyScore(q, f.Edges, aspect)
		if s > bestScore {
			best, bestScore = q, s
		}
	}
	return best, bestScore >= 0
}

// DetectColorSeg segments the card by a majority vote of brightness,
// saturation and local variance masks.
func DetectColorSeg(f Frame, p Params) (geometry.Quad, bool) {
	w, h := f.Size()
	margin := p.margin()

	gray := cvutil.Gray(f.Image)
	defer gray.Close()

	grayBlur := cvutil.Blur(gray, 15)
	bright := cvutil.Otsu(grayBlur)
	grayBlur.Close()
	defer bright.Close()

	sat := cvutil.Channel(f.Image, gocv.ColorBGRToHSV, 1)
	satMask := cvutil.Binary(sat, 30)
	sat.Close()
	defer satMask.Close()

	varMask := varianceMask(gray, 15, 20)
	defer varMask.Close()

	votes := majority(bright, satMask, varMask)
	opened := cvutil.Open(votes, 5, 2)
	votes.Close()
	mask := cvutil.Close(opened, 15, 3)
	opened.Close()
	defer mask.Close()

	contours := cvutil.Contours(mask)
	if len(contours) > colorContourLimit {
		contours = contours[:colorContourLimit]
	}

	imageArea := float64(w * h)
	var best geometry.Quad
	bestScore := -1.0
	for _, c := range contours {
		if cvutil.TouchesBorder(c.Bounds, w, h, margin) {
			continue
		}
		q, ok := cvutil.MinAreaQuad(c.Points)
		if !ok {
			continue
		}
		aspect := portraitAspect(q)
		if aspect <= portraitMin || aspect >= portraitMax {
			continue
		}
		s := regionAreaScore(c.Area/imageArea) + legacyRectangularity(q) + legacyAspect(aspect)
		if s > bestScore {
			best, bestScore = q, s
		}
	}
	return best, bestScore >= 0
}

// DetectLabChroma separates colored card stock from neutral backgrounds using
// |A-B| in LAB together with blurred lightness.
func DetectLabChroma(f Frame, p Params) (geometry.Quad, bool) {
	w, h := f.Size()

	chans := cvutil.Channels(f.Image, gocv.ColorBGRToLab)
	defer cvutil.CloseAll(chans...)

	delta := gocv.NewMat()
	gocv.AbsDiff(chans[1], chans[2], &delta)
	chroma := cvutil.Otsu(delta)
	delta.Close()
	defer chroma.Close()

	lBlur := cvutil.Blur(chans[0], 15)
	light := cvutil.Otsu(lBlur)
	lBlur.Close()
	defer light.Close()

	combined := cvutil.Or(chroma, light)
	opened := cvutil.Open(combined, 5, 2)
	combined.Close()
	mask := cvutil.Close(opened, 15, 3)
	opened.Close()
	defer mask.Close()

	contours := cvutil.Contours(mask)
	if len(contours) == 0 {
		return geometry.Quad{}, false
	}
	largest := contours[0]
	if cvutil.TouchesBorder(largest.Bounds, w, h, p.margin()) {
		return geometry.Quad{}, false
	}
	return cvutil.MinAreaQuad(largest.Points)
}

// varianceMask thresholds the local variance E[x^2]-E[x]^2 over a k x k box.
func varianceMask(gray gocv.Mat, k int, t float32) gocv.Mat {
	f32 := gocv.NewMat()
	sq := gocv.NewMat()
	mean := gocv.NewMat()
	meanSq := gocv.NewMat()
	sqMean := gocv.NewMat()
	variance := gocv.NewMat()
	var8 := gocv.NewMat()
	defer cvutil.CloseAll(f32, sq, mean, meanSq, sqMean, variance, var8)

	gray.ConvertTo(&f32, gocv.MatTypeCV32F)
	gocv.Multiply(f32, f32, &sq)

	ksize := image.Pt(k, k)
	gocv.Blur(f32, &mean, ksize)
	gocv.Blur(sq, &sqMean, ksize)
	gocv.Multiply(mean, mean, &meanSq)
	gocv.Subtract(sqMean, meanSq, &variance)

	variance.ConvertTo(&var8, gocv.MatTypeCV8U)
	return cvutil.Binary(var8, t)
}

// majority keeps pixels set in at least two of the three masks.
func majority(a, b, c gocv.Mat) gocv.Mat {
	ab := cvutil.And(a, b)
	ac := cvutil.And(a, c)
	bc := cvutil.And(b, c)
	defer cvutil.CloseAll(ab, ac, bc)

	abac := cvutil.Or(ab, ac)
	defer abac.Close()
	return cvutil.Or(abac, bc)
}

// portraitAspect is the longer horizontal edge over the longer vertical edge.
func portraitAspect(q geometry.Quad) float64 {
	top, right, bottom, left := q.Sides()
	height := math.Max(left, right)
	if height == 0 {
		return 0
	}
	return math.Max(top, bottom) / height
}

// legacyScore ranks quads within a single detector: rectangularity (40),
// perimeter edge support (40) and portrait aspect (20).
func legacyScore(q geometry.Quad, edges gocv.Mat, aspect float64) float64 {
	return legacyRectangularity(q) + legacyEdgeSupport(q, edges) + legacyAspect(aspect)
}

func legacyRectangularity(q geometry.Quad) float64 {
	var dev float64
	for _, a := range q.InteriorAngles() {
		dev += math.Abs(a - 90)
	}
	return math.Max(0, 40-2*dev/4)
}

func legacyEdgeSupport(q geometry.Quad, edges gocv.Mat) float64 {
	w, h := edges.Cols(), edges.Rows()
	hits, total := 0, 0
	for i := 0; i < 4; i++ {
		a, b := q[i], q[(i+1)%4]
		n := int(a.Distance(b))
		for j := 0; j < n; j++ {
			t := 0.0
			if n > 1 {
				t = float64(j) / float64(n-1)
			}
			pt := a.Lerp(b, t)
			x := min(max(int(pt.X), 0), w-1)
			y := min(max(int(pt.Y), 0), h-1)
			total++
			if edges.GetUCharAt(y, x) > 0 {
				hits++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return math.Min(40, float64(hits)/float64(total)*100)
}

func legacyAspect(aspect float64) float64 {
	switch {
	case aspect >= 0.55 && aspect <= 0.80:
		return 20
	case aspect >= 0.50 && aspect <= 0.90:
		return 10
	default:
		dev := math.Min(math.Abs(aspect-0.55), math.Abs(aspect-0.80))
		return math.Max(0, 10-dev*20)
	}
}

// regionAreaScore prefers regions covering 45-80% of the frame.
func regionAreaScore(ratio float64) float64 {
	switch {
	case ratio >= 0.45 && ratio <= 0.80:
		return 40
	case ratio >= 0.30 && ratio < 0.45:
		return 30*(ratio-0.30)/0.15 + 10
	case ratio > 0.80 && ratio <= 0.95:
		return 40 - 20*(ratio-0.80)/0.15
	default:
		return 0
	}
}
