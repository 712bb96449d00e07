package measure

import (
	"fmt"
	"math"
	"strings"

	"cardscan/internal/confidence"
	"cardscan/internal/cvutil"
	"cardscan/internal/raster"

	"gocv.io/x/gocv"
)

// sideScan accumulates the border transitions found on one side.
type sideScan struct {
	name string

	// Sums over samples whose peak gradient reached the threshold.
	thick, grad float64
	n           int

	allThick, allGrad float64
	all               int
}

func (s *sideScan) add(thickness, peak, threshold float64) {
	s.allThick += thickness
	s.allGrad += peak
	s.all++
	if peak >= threshold {
		s.thick += thickness
		s.grad += peak
		s.n++
	}
}

// mean returns the mean border thickness and gradient, preferring samples
// with a clear transition.
func (s *sideScan) mean() (thickness, grad float64) {
	if s.n > 0 {
		return s.thick / float64(s.n), s.grad / float64(s.n)
	}
	if s.all > 0 {
		return s.allThick / float64(s.all), s.allGrad / float64(s.all)
	}
	return 0, 0
}

// gradient is the absolute central-difference derivative with one-sided
// differences at the ends.
func gradient(v []float64, out []float64) {
	n := len(v)
	switch n {
	case 0:
		return
	case 1:
		out[0] = 0
		return
	}
	out[0] = math.Abs(v[1] - v[0])
	out[n-1] = math.Abs(v[n-1] - v[n-2])
	for i := 1; i < n-1; i++ {
		out[i] = math.Abs(v[i+1]-v[i-1]) / 2
	}
}

// outerTransitions finds the strongest gradient in the outer quarter at each
// end of a scanline. Ties resolve to the position nearest the edge.
func outerTransitions(g []float64) (near, nearPeak, far, farPeak float64) {
	n := len(g)
	end := min(n, max(5, int(0.25*float64(n))))
	idx := 0
	for i := 1; i < end; i++ {
		if g[i] > g[idx] {
			idx = i
		}
	}
	near, nearPeak = float64(idx), g[idx]

	start := int(0.75 * float64(n))
	idx = n - 1
	for i := n - 2; i >= start; i-- {
		if g[i] > g[idx] {
			idx = i
		}
	}
	far, farPeak = float64(n-1-idx), g[idx]
	return near, nearPeak, far, farPeak
}

// MeasureCentering scans rows and columns of a rectified lightness plane for
// the border-to-design transition on each side.
func MeasureCentering(l raster.Plane, o Options) Centering {
	w, h := l.W, l.H
	m := o.SampleMargin
	if w < 2*m+2 || h < 2*m+2 || w < 8 || h < 8 {
		return Centering{
			LRRatio:         [2]float64{50, 50},
			TBRatio:         [2]float64{50, 50},
			MethodUsed:      Failed,
			Confidence:      confidence.Unreliable,
			ValidationNotes: fmt.Sprintf("Image too small for centering (%dx%d)", w, h),
		}
	}

	left := &sideScan{name: "left"}
	right := &sideScan{name: "right"}
	top := &sideScan{name: "top"}
	bottom := &sideScan{name: "bottom"}

	line := make([]float64, max(w, h))
	grad := make([]float64, max(w, h))

	for y := m; y < h-m; y += max(8, h/48) {
		for x := 0; x < w; x++ {
			line[x] = float64(l.Pix[y*w+x])
		}
		gradient(line[:w], grad[:w])
		near, np, far, fp := outerTransitions(grad[:w])
		left.add(near, np, o.GradientThreshold)
		right.add(far, fp, o.GradientThreshold)
	}
	for x := m; x < w-m; x += max(8, w/48) {
		for y := 0; y < h; y++ {
			line[y] = float64(l.Pix[y*w+x])
		}
		gradient(line[:h], grad[:h])
		near, np, far, fp := outerTransitions(grad[:h])
		top.add(near, np, o.GradientThreshold)
		bottom.add(far, fp, o.GradientThreshold)
	}

	pxPerMM := float64(h) / o.CardHeightMM
	var c Centering
	var valid []string
	var suspect []string
	mm := map[string]float64{}
	for _, s := range []*sideScan{left, right, top, bottom} {
		px, g := s.mean()
		sideMM := px / pxPerMM
		mm[s.name] = sideMM
		switch s.name {
		case "left":
			c.LeftBorderMeanPx = px
		case "right":
			c.RightBorderMeanPx = px
		case "top":
			c.TopBorderMeanPx = px
		case "bottom":
			c.BottomBorderMeanPx = px
		}
		if sideMM >= o.MinBorderMM && sideMM <= o.MaxBorderMM && g >= o.GradientThreshold {
			valid = append(valid, s.name)
		} else {
			suspect = append(suspect, fmt.Sprintf("%s: %.1fmm, grad %.1f (suspect)", titleCase(s.name), sideMM, g))
		}
	}

	lrSum := c.LeftBorderMeanPx + c.RightBorderMeanPx + 1e-6
	tbSum := c.TopBorderMeanPx + c.BottomBorderMeanPx + 1e-6
	c.LRRatio = [2]float64{100 * c.LeftBorderMeanPx / lrSum, 100 * c.RightBorderMeanPx / lrSum}
	c.TBRatio = [2]float64{100 * c.TopBorderMeanPx / tbSum, 100 * c.BottomBorderMeanPx / tbSum}
	if c.LeftBorderMeanPx+c.RightBorderMeanPx == 0 {
		c.LRRatio = [2]float64{50, 50}
	}
	if c.TopBorderMeanPx+c.BottomBorderMeanPx == 0 {
		c.TBRatio = [2]float64{50, 50}
	}

	details := strings.Join(suspect, " ")
	switch n := len(valid); {
	case n == 4:
		c.MethodUsed, c.Confidence = BorderPresent, confidence.High
		c.ValidationNotes = fmt.Sprintf("Clear borders detected on all 4 sides. L=%.1fmm R=%.1fmm T=%.1fmm B=%.1fmm",
			mm["left"], mm["right"], mm["top"], mm["bottom"])
	case n == 3:
		c.MethodUsed, c.Confidence = BorderPresent, confidence.Medium
		c.ValidationNotes = fmt.Sprintf("Borders detected on 3 sides: %s. %s", strings.Join(valid, ", "), details)
	case n == 2:
		c.MethodUsed, c.Confidence = BorderPresent, confidence.Low
		c.ValidationNotes = fmt.Sprintf("Borders detected on %d sides: %s. %s", n, strings.Join(valid, ", "), details)
	default:
		c.MethodUsed, c.Confidence = DesignAnchorRequired, confidence.Low
		c.ValidationNotes = fmt.Sprintf("Insufficient border detection (%d/4 sides). Card may be borderless/full-bleed. %s", n, details)
	}
	return c
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// CenteringFromImage measures centering on the Lab lightness of a BGR image.
func CenteringFromImage(img gocv.Mat, o Options) (Centering, error) {
	l := cvutil.Channel(img, gocv.ColorBGRToLab, 0)
	defer l.Close()
	p, err := raster.FromMat(l)
	if err != nil {
		return Centering{}, err
	}
	return MeasureCentering(p, o), nil
}
