package measure

import (
	"fmt"
	"image"

	"cardscan/internal/cvutil"
	"cardscan/internal/raster"
	"cardscan/pkg/colorutil"

	"gocv.io/x/gocv"
)

// labImage is a packed 8-bit Lab copy of a BGR image.
type labImage struct {
	w, h int
	pix  []uint8
}

func newLabImage(img gocv.Mat) (labImage, error) {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(img, &lab, gocv.ColorBGRToLab)
	data, err := lab.DataPtrUint8()
	if err != nil {
		return labImage{}, fmt.Errorf("measure: read lab: %w", err)
	}
	return labImage{w: lab.Cols(), h: lab.Rows(), pix: append([]uint8(nil), data...)}, nil
}

func (l labImage) at(x, y int) colorutil.Lab8 {
	i := 3 * (y*l.w + x)
	return colorutil.Lab8{L: float64(l.pix[i]), A: float64(l.pix[i+1]), B: float64(l.pix[i+2])}
}

// deltaMask marks pixels of roi whose color differs from the pixel at the
// same offset in adj by more than thresh.
func (l labImage) deltaMask(roi, adj image.Rectangle, thresh float64) (raster.Plane, int) {
	m := raster.New(roi.Dx(), roi.Dy())
	n := 0
	for y := 0; y < roi.Dy(); y++ {
		for x := 0; x < roi.Dx(); x++ {
			p := l.at(roi.Min.X+x, roi.Min.Y+y)
			q := l.at(adj.Min.X+x, adj.Min.Y+y)
			if colorutil.DeltaE76(p, q) > thresh {
				m.Set(x, y, 255)
				n++
			}
		}
	}
	return m, n
}

// stripRects returns the outer strip and the strip just inside it for
// segment i of side.
func stripRects(side string, i, segments, strip, w, h int) (roi, adj image.Rectangle) {
	span := w
	if side == "left" || side == "right" {
		span = h
	}
	seg := span / segments
	a := i * seg
	b := (i + 1) * seg
	if i == segments-1 {
		b = span
	}
	switch side {
	case "top":
		return image.Rect(a, 0, b, strip), image.Rect(a, strip, b, 2*strip)
	case "bottom":
		return image.Rect(a, h-strip, b, h), image.Rect(a, h-2*strip, b, h-strip)
	case "left":
		return image.Rect(0, a, strip, b), image.Rect(strip, a, 2*strip, b)
	default:
		return image.Rect(w-strip, a, w, b), image.Rect(w-2*strip, a, w-strip, b)
	}
}

// brightDots counts connected regions of gray within r above 240.
func brightDots(gray gocv.Mat, r image.Rectangle) int {
	roi := gray.Region(r)
	defer roi.Close()
	thr := cvutil.Binary(roi, 240)
	defer thr.Close()
	return cvutil.CountComponents(thr)
}

func planeComponents(p raster.Plane, openFirst bool) int {
	m, err := p.ToMat()
	if err != nil {
		return 0
	}
	defer m.Close()
	if !openFirst {
		return cvutil.CountComponents(m)
	}
	opened := cvutil.Open(m, 3, 1)
	defer opened.Close()
	return cvutil.CountComponents(opened)
}

// EdgeWhitening splits each side into segments and compares the outermost
// strip against the strip just inside it.
func EdgeWhitening(img gocv.Mat, o Options) (map[string][]EdgeSegment, error) {
	out := map[string][]EdgeSegment{}
	for _, s := range Sides {
		out[s] = []EdgeSegment{}
	}
	w, h := img.Cols(), img.Rows()
	strip := o.StripWidth
	segments := max(1, o.Segments)
	if strip <= 0 || w < 2*strip || h < 2*strip || min(w, h) < segments {
		return out, nil
	}

	lab, err := newLabImage(img)
	if err != nil {
		return nil, err
	}
	gray := cvutil.Gray(img)
	defer gray.Close()

	for _, side := range Sides {
		for i := 0; i < segments; i++ {
			roi, adj := stripRects(side, i, segments, strip, w, h)
			mask, n := lab.deltaMask(roi, adj, o.WhiteningDeltaE)
			out[side] = append(out[side], EdgeSegment{
				SegmentName:       fmt.Sprintf("%s_%d", side, i+1),
				WhiteningLengthPx: float64(n) / float64(max(1, roi.Dy())),
				WhiteningCount:    n,
				ChipsCount:        planeComponents(mask, true),
				WhiteDotsCount:    brightDots(gray, roi),
			})
		}
	}
	return out, nil
}

// cornerOrder is the report order of corner patches.
var cornerOrder = []string{"tl", "tr", "bl", "br"}

// Corners measures rounding, whitening and bright dots in the four corner
// patches.
func Corners(img gocv.Mat, o Options) ([]Corner, error) {
	w, h := img.Cols(), img.Rows()
	ps := min(o.CornerPatch, w, h)
	if ps < 4 {
		return []Corner{}, nil
	}
	rects := map[string]image.Rectangle{
		"tl": image.Rect(0, 0, ps, ps),
		"tr": image.Rect(w-ps, 0, w, ps),
		"bl": image.Rect(0, h-ps, ps, h),
		"br": image.Rect(w-ps, h-ps, w, h),
	}

	out := make([]Corner, 0, len(cornerOrder))
	for _, name := range cornerOrder {
		c, err := corner(img, rects[name], ps, o.WhiteningDeltaE)
		if err != nil {
			return nil, err
		}
		c.CornerName = name
		out = append(out, c)
	}
	return out, nil
}

func corner(img gocv.Mat, r image.Rectangle, ps int, thresh float64) (Corner, error) {
	patch := img.Region(r)
	defer patch.Close()
	gray := cvutil.Gray(patch)
	defer gray.Close()

	var c Corner
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)
	if pts := edgePoints(edges); len(pts) > 10 {
		pv := gocv.NewPointVectorFromPoints(pts)
		_, _, radius := gocv.MinEnclosingCircle(pv)
		pv.Close()
		c.RoundingRadiusPx = float64(radius)
	}

	// The whole patch is compared with its central half stretched to patch size.
	centerRect := image.Rect(ps/4, ps/4, 3*ps/4, 3*ps/4)
	center := patch.Region(centerRect)
	stretched := gocv.NewMat()
	gocv.Resize(center, &stretched, image.Point{ps, ps}, 0, 0, gocv.InterpolationLinear)
	center.Close()
	defer stretched.Close()

	labPatch, err := newLabImage(patch)
	if err != nil {
		return Corner{}, err
	}
	labCenter, err := newLabImage(stretched)
	if err != nil {
		return Corner{}, err
	}
	n := 0
	for y := 0; y < ps; y++ {
		for x := 0; x < ps; x++ {
			if colorutil.DeltaE76(labPatch.at(x, y), labCenter.at(x, y)) > thresh {
				n++
			}
		}
	}
	c.WhiteningLengthPx = float64(n)

	dots := gocv.NewMat()
	defer dots.Close()
	gocv.InRangeWithScalar(gray, gocv.NewScalar(240, 0, 0, 0), gocv.NewScalar(255, 0, 0, 0), &dots)
	c.WhiteDotsCount = cvutil.CountComponents(dots)
	return c, nil
}

func edgePoints(edges gocv.Mat) []image.Point {
	p, err := raster.FromMat(edges)
	if err != nil {
		return nil
	}
	var pts []image.Point
	for y := 0; y < p.H; y++ {
		for x := 0; x < p.W; x++ {
			if p.Pix[y*p.W+x] > 0 {
				pts = append(pts, image.Pt(x, y))
			}
		}
	}
	return pts
}
