// Package cvutil wraps the gocv calls shared by the detection, refinement
// and measurement stages. Every function returns a new Mat owned by the caller.
package cvutil

import (
	"image"
	"math"
	"sort"

	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

// Gray converts a BGR image to grayscale. Single-channel input is cloned.
func Gray(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if img.Channels() == 1 {
		img.CopyTo(&gray)
		return gray
	}
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gray
}

// Channel converts img with code and returns channel idx of the result.
func Channel(img gocv.Mat, code gocv.ColorConversionCode, idx int) gocv.Mat {
	conv := gocv.NewMat()
	defer conv.Close()
	gocv.CvtColor(img, &conv, code)

	chans := gocv.Split(conv)
	out := gocv.NewMat()
	for i, c := range chans {
		if i == idx {
			c.CopyTo(&out)
		}
		c.Close()
	}
	return out
}

// Channels converts img with code and returns all channels of the result.
func Channels(img gocv.Mat, code gocv.ColorConversionCode) []gocv.Mat {
	conv := gocv.NewMat()
	defer conv.Close()
	gocv.CvtColor(img, &conv, code)
	return gocv.Split(conv)
}

// CloseAll releases every Mat in mats.
func CloseAll(mats ...gocv.Mat) {
	for _, m := range mats {
		m.Close()
	}
}

// morph applies op with a k x k rectangular kernel, iters times.
func morph(src gocv.Mat, op gocv.MorphType, kw, kh, iters int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{kw, kh})
	defer kernel.Close()

	out := src.Clone()
	for i := 0; i < iters; i++ {
		gocv.MorphologyEx(out, &out, op, kernel)
	}
	return out
}

// Close is a morphological closing with a k x k kernel repeated iters times.
func Close(src gocv.Mat, k, iters int) gocv.Mat {
	return morph(src, gocv.MorphClose, k, k, iters)
}

// CloseRect is Close with a kw x kh kernel.
func CloseRect(src gocv.Mat, kw, kh, iters int) gocv.Mat {
	return morph(src, gocv.MorphClose, kw, kh, iters)
}

// Open is a morphological opening with a k x k kernel repeated iters times.
func Open(src gocv.Mat, k, iters int) gocv.Mat {
	return morph(src, gocv.MorphOpen, k, k, iters)
}

// Erode erodes with a k x k kernel iters times.
func Erode(src gocv.Mat, k, iters int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{k, k})
	defer kernel.Close()

	out := src.Clone()
	for i := 0; i < iters; i++ {
		gocv.Erode(out, &out, kernel)
	}
	return out
}

// Dilate dilates with a k x k kernel iters times.
func Dilate(src gocv.Mat, k, iters int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{k, k})
	defer kernel.Close()

	out := src.Clone()
	for i := 0; i < iters; i++ {
		gocv.Dilate(out, &out, kernel)
	}
	return out
}

// Otsu binarizes an 8-bit single-channel image with Otsu's threshold.
func Otsu(src gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	gocv.Threshold(src, &out, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)
	return out
}

// Binary thresholds src at t (strictly greater maps to 255).
func Binary(src gocv.Mat, t float32) gocv.Mat {
	out := gocv.NewMat()
	gocv.Threshold(src, &out, t, 255, gocv.ThresholdBinary)
	return out
}

// Or combines two masks.
func Or(a, b gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	gocv.BitwiseOr(a, b, &out)
	return out
}

// And intersects two masks.
func And(a, b gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	gocv.BitwiseAnd(a, b, &out)
	return out
}

// Blur applies a k x k Gaussian blur.
func Blur(src gocv.Mat, k int) gocv.Mat {
	out := gocv.NewMat()
	gocv.GaussianBlur(src, &out, image.Point{k, k}, 0, 0, gocv.BorderDefault)
	return out
}

// ResizeMax shrinks img so its larger side is at most maxDim and returns the
// factor mapping resized coordinates back to img (>= 1).
func ResizeMax(img gocv.Mat, maxDim int) (gocv.Mat, float64) {
	w, h := img.Cols(), img.Rows()
	longest := max(w, h)
	if longest <= maxDim || maxDim <= 0 {
		return img.Clone(), 1
	}
	scale := float64(maxDim) / float64(longest)
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	out := gocv.NewMat()
	gocv.Resize(img, &out, image.Point{nw, nh}, 0, 0, gocv.InterpolationArea)
	return out, float64(w) / float64(nw)
}

// Fraction returns the share of non-zero pixels in a single-channel Mat.
func Fraction(mask gocv.Mat) float64 {
	total := mask.Rows() * mask.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(mask)) / float64(total)
}

// Contour is a closed outline in pixel coordinates.
type Contour struct {
	Points []image.Point
	Area   float64
	Bounds image.Rectangle
}

// Contours returns the external contours of a binary mask, largest first.
func Contours(mask gocv.Mat) []Contour {
	pv := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer pv.Close()

	out := make([]Contour, 0, pv.Size())
	for i := 0; i < pv.Size(); i++ {
		c := pv.At(i)
		out = append(out, Contour{
			Points: c.ToPoints(),
			Area:   gocv.ContourArea(c),
			Bounds: gocv.BoundingRect(c),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Area > out[j].Area })
	return out
}

// TouchesBorder reports whether r comes within margin of a w x h frame edge.
func TouchesBorder(r image.Rectangle, w, h, margin int) bool {
	return r.Min.X <= margin || r.Min.Y <= margin ||
		r.Max.X >= w-margin || r.Max.Y >= h-margin
}

// MinAreaQuad returns the ordered corners of the minimum-area rectangle
// enclosing pts.
func MinAreaQuad(pts []image.Point) (geometry.Quad, bool) {
	if len(pts) < 3 {
		return geometry.Quad{}, false
	}
	pv := gocv.NewPointVectorFromPoints(pts)
	defer pv.Close()

	rr := gocv.MinAreaRect(pv)
	if len(rr.Points) != 4 {
		return geometry.Quad{}, false
	}
	var raw [4]geometry.Point2D
	for i, p := range rr.Points {
		raw[i] = geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
	}
	q := geometry.OrderQuadPoints(raw)
	return q, q.IsConvex()
}

// ApproxQuad simplifies a contour with tolerance epsFrac of its perimeter and
// returns the ordered quad when exactly four convex corners remain.
func ApproxQuad(pts []image.Point, epsFrac float64) (geometry.Quad, bool) {
	if len(pts) < 4 {
		return geometry.Quad{}, false
	}
	pv := gocv.NewPointVectorFromPoints(pts)
	defer pv.Close()

	approx := gocv.ApproxPolyDP(pv, epsFrac*gocv.ArcLength(pv, true), true)
	defer approx.Close()
	if approx.Size() != 4 {
		return geometry.Quad{}, false
	}

	var raw [4]geometry.Point2D
	for i, p := range approx.ToPoints() {
		raw[i] = geometry.Point2D{X: float64(p.X), Y: float64(p.Y)}
	}
	q := geometry.OrderQuadPoints(raw)
	return q, q.IsConvex()
}

// QuadPoints converts a quad to integer points for drawing and masking.
func QuadPoints(q geometry.Quad) []image.Point {
	out := make([]image.Point, 4)
	for i, p := range q {
		out[i] = image.Point{int(math.Round(p.X)), int(math.Round(p.Y))}
	}
	return out
}

// CountComponents returns the number of 8-connected foreground components
// in a binary mask, excluding the background label.
func CountComponents(mask gocv.Mat) int {
	if gocv.CountNonZero(mask) == 0 {
		return 0
	}
	labels := gocv.NewMat()
	defer labels.Close()
	n := gocv.ConnectedComponents(mask, &labels)
	return max(0, n-1)
}

// CountComponentsInRange counts components whose area is within [minArea, maxArea].
func CountComponentsInRange(mask gocv.Mat, minArea, maxArea int) int {
	if gocv.CountNonZero(mask) == 0 {
		return 0
	}
	labels := gocv.NewMat()
	stats := gocv.NewMat()
	centroids := gocv.NewMat()
	defer CloseAll(labels, stats, centroids)

	n := gocv.ConnectedComponentsWithStats(mask, &labels, &stats, &centroids)
	count := 0
	for i := 1; i < n; i++ {
		area := int(stats.GetIntAt(i, int(gocv.CC_STAT_AREA)))
		if area >= minArea && area <= maxArea {
			count++
		}
	}
	return count
}
