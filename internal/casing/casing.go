// Package casing votes on whether a card is in a penny sleeve, a top-loader
// or a graded slab from four cheap image signals.
package casing

import (
	"log/slog"
	"math"

	"cardscan/internal/cvutil"
	"cardscan/internal/raster"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

const borderBand = 15

// Signals are the measured casing indicators. Ratios are in [0, 1].
type Signals struct {
	// EdgeDensity is the share of Canny edge pixels in the outer border bands.
	EdgeDensity float64 `json:"edge_density"`
	// Glare is the share of low-saturation, high-value pixels.
	Glare float64 `json:"glare"`
	// VerticalLines is the share of pixels above the 98th percentile of
	// horizontal gradient magnitude.
	VerticalLines float64 `json:"vertical_lines"`
	// ColorStd is the standard deviation of the LAB a and b channels.
	ColorStd float64 `json:"color_std"`
}

// Thresholds are the vote bands. Field names and types mirror
// config.CasingConfig.
type Thresholds struct {
	SleeveEdgeMin        float64
	SleeveEdgeMax        float64
	SleeveGlareLowMin    float64
	SleeveGlareLowMax    float64
	SleeveGlareHighMin   float64
	SleeveGlareHighMax   float64
	SleeveColorStdMin    float64
	SleeveColorStdMax    float64
	TopLoaderEdgeMin     float64
	TopLoaderGlareMin    float64
	TopLoaderGlareMax    float64
	TopLoaderColorStdMax float64
	SlabEdgeMin          float64
	SlabGlareMin         float64
	SlabColorStdMax      float64
	VerticalLineMin      float64
	EdgeWeight           int
	GlareWeight          int
	LineWeight           int
	ColorWeight          int
	SlabColorWeight      int
	VoteThreshold        int
	SleevePreferGlareMax float64
}

// DefaultThresholds returns bands tuned so natural card-surface glare
// (roughly 15-19%) does not count as sleeve glare.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SleeveEdgeMin:        0.015,
		SleeveEdgeMax:        0.045,
		SleeveGlareLowMin:    0.005,
		SleeveGlareLowMax:    0.12,
		SleeveGlareHighMin:   0.20,
		SleeveGlareHighMax:   0.35,
		SleeveColorStdMin:    15,
		SleeveColorStdMax:    45,
		TopLoaderEdgeMin:     0.03,
		TopLoaderGlareMin:    0.35,
		TopLoaderGlareMax:    0.65,
		TopLoaderColorStdMax: 20,
		SlabEdgeMin:          0.06,
		SlabGlareMin:         0.5,
		SlabColorStdMax:      12,
		VerticalLineMin:      0.015,
		EdgeWeight:           2,
		GlareWeight:          3,
		LineWeight:           1,
		ColorWeight:          1,
		SlabColorWeight:      2,
		VoteThreshold:        5,
		SleevePreferGlareMax: 0.35,
	}
}

// Verdict is the outcome of the vote.
type Verdict struct {
	Sleeve    bool `json:"sleeve"`
	TopLoader bool `json:"top_loader"`
	Slab      bool `json:"slab"`

	SleeveScore    int `json:"sleeve_score"`
	TopLoaderScore int `json:"top_loader_score"`
	SlabScore      int `json:"slab_score"`
}

// Any reports whether any casing was confirmed.
func (v Verdict) Any() bool {
	return v.Sleeve || v.TopLoader || v.Slab
}

func between(v, lo, hi float64) bool {
	return v > lo && v < hi
}

// Classify accumulates points per hypothesis and confirms those at or above
// the vote threshold. When a sleeve is confirmed together with a heavier
// casing and glare is in the penny-sleeve range, only the sleeve is kept.
func Classify(s Signals, t Thresholds) Verdict {
	var v Verdict

	if between(s.EdgeDensity, t.SleeveEdgeMin, t.SleeveEdgeMax) {
		v.SleeveScore += t.EdgeWeight
	}
	if between(s.Glare, t.SleeveGlareLowMin, t.SleeveGlareLowMax) ||
		between(s.Glare, t.SleeveGlareHighMin, t.SleeveGlareHighMax) {
		v.SleeveScore += t.GlareWeight
	}
	if s.VerticalLines > t.VerticalLineMin {
		v.SleeveScore += t.LineWeight
	}
	if between(s.ColorStd, t.SleeveColorStdMin, t.SleeveColorStdMax) {
		v.SleeveScore += t.ColorWeight
	}

	if s.EdgeDensity > t.TopLoaderEdgeMin {
		v.TopLoaderScore += t.EdgeWeight
	}
	if between(s.Glare, t.TopLoaderGlareMin, t.TopLoaderGlareMax) {
		v.TopLoaderScore += t.GlareWeight
	}
	if s.VerticalLines > t.VerticalLineMin {
		v.TopLoaderScore += t.LineWeight
	}
	if s.ColorStd < t.TopLoaderColorStdMax {
		v.TopLoaderScore += t.ColorWeight
	}

	if s.EdgeDensity > t.SlabEdgeMin {
		v.SlabScore += t.EdgeWeight
	}
	if s.Glare > t.SlabGlareMin {
		v.SlabScore += t.GlareWeight
	}
	if s.ColorStd < t.SlabColorStdMax {
		v.SlabScore += t.SlabColorWeight
	}

	v.Sleeve = v.SleeveScore >= t.VoteThreshold
	v.TopLoader = v.TopLoaderScore >= t.VoteThreshold
	v.Slab = v.SlabScore >= t.VoteThreshold

	if v.Sleeve && (v.TopLoader || v.Slab) && s.Glare < t.SleevePreferGlareMax {
		v.TopLoader = false
		v.Slab = false
	}
	return v
}

// Measure computes the casing signals of a BGR image.
func Measure(img gocv.Mat) (Signals, error) {
	var s Signals

	gray := cvutil.Gray(img)
	defer gray.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 60, 120)
	ep, err := raster.FromMat(edges)
	if err != nil {
		return s, err
	}
	s.EdgeDensity = borderDensity(ep, borderBand)

	hsv := cvutil.Channels(img, gocv.ColorBGRToHSV)
	defer cvutil.CloseAll(hsv...)
	sat, err := raster.FromMat(hsv[1])
	if err != nil {
		return s, err
	}
	val, err := raster.FromMat(hsv[2])
	if err != nil {
		return s, err
	}
	s.Glare = glareRatio(sat, val)

	s.VerticalLines, err = verticalLineRatio(gray)
	if err != nil {
		return s, err
	}

	lab := cvutil.Channels(img, gocv.ColorBGRToLab)
	defer cvutil.CloseAll(lab...)
	a, err := raster.FromMat(lab[1])
	if err != nil {
		return s, err
	}
	b, err := raster.FromMat(lab[2])
	if err != nil {
		return s, err
	}
	s.ColorStd = jointStd(a, b)

	slog.Debug("casing signals", "edge", s.EdgeDensity, "glare", s.Glare,
		"vertical_lines", s.VerticalLines, "color_std", s.ColorStd)
	return s, nil
}

// Detect measures img and classifies it with t.
func Detect(img gocv.Mat, t Thresholds) (Verdict, Signals, error) {
	s, err := Measure(img)
	if err != nil {
		return Verdict{}, s, err
	}
	v := Classify(s, t)
	slog.Debug("casing verdict", "sleeve", v.Sleeve, "top_loader", v.TopLoader, "slab", v.Slab,
		"scores", []int{v.SleeveScore, v.TopLoaderScore, v.SlabScore})
	return v, s, nil
}

// borderDensity is the share of edge pixels within band of any frame edge,
// taken over the whole frame.
func borderDensity(edges raster.Plane, band int) float64 {
	if edges.Empty() {
		return 0
	}
	n := 0
	for y := 0; y < edges.H; y++ {
		inRow := y < band || y >= edges.H-band
		for x := 0; x < edges.W; x++ {
			if !inRow && x >= band && x < edges.W-band {
				continue
			}
			if edges.Pix[y*edges.W+x] > 0 {
				n++
			}
		}
	}
	return float64(n) / float64(len(edges.Pix))
}

func glareRatio(sat, val raster.Plane) float64 {
	if len(sat.Pix) == 0 {
		return 0
	}
	n := 0
	for i := range sat.Pix {
		if sat.Pix[i] < 50 && val.Pix[i] > 200 {
			n++
		}
	}
	return float64(n) / float64(len(sat.Pix))
}

// verticalLineRatio thresholds |d/dx| of a lightly blurred gray image at its
// own 98th percentile.
func verticalLineRatio(gray gocv.Mat) (float64, error) {
	blur := cvutil.Blur(gray, 3)
	defer blur.Close()
	gx := gocv.NewMat()
	defer gx.Close()
	gocv.Sobel(blur, &gx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderDefault)

	data, err := gx.DataPtrFloat32()
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	mags := make([]float64, len(data))
	for i, v := range data {
		mags[i] = math.Abs(float64(v))
	}
	p98 := raster.Percentile(append([]float64(nil), mags...), 98)
	n := 0
	for _, m := range mags {
		if m > p98 {
			n++
		}
	}
	return float64(n) / float64(len(mags)), nil
}

// jointStd is the population standard deviation of a and b taken together.
func jointStd(a, b raster.Plane) float64 {
	vals := make([]float64, 0, len(a.Pix)+len(b.Pix))
	for _, p := range [][]uint8{a.Pix, b.Pix} {
		for _, v := range p {
			vals = append(vals, float64(v))
		}
	}
	if len(vals) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(vals, nil)
	return std
}
