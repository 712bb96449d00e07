// Package preflight runs cheap scene checks that steer profile selection:
// phone UI bars, background texture, foil highlights and translucent edges.
package preflight

import (
	"image"
	"log/slog"
	"math"
	"math/cmplx"

	"cardscan/internal/cvutil"
	"cardscan/internal/raster"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	uiBarFraction      = 0.08
	uiBarDensity       = 0.05
	uiCropSafety       = 5
	textureSize        = 256
	textureDCRadius    = 10
	textureBusyScore   = 40
	foilMinArea        = 3
	foilMaxArea        = 50
	foilDensityLimit   = 5.0
	translucentBand    = 0.10
	translucentDensity = 0.03
)

// UIBars describes status/navigation bars found at the top or bottom.
type UIBars struct {
	Top        bool `json:"top"`
	Bottom     bool `json:"bottom"`
	CropTop    int  `json:"crop_top"`
	CropBottom int  `json:"crop_bottom"`
}

// Present reports whether either bar was found.
func (u UIBars) Present() bool {
	return u.Top || u.Bottom
}

// Signals is the combined preflight result for one image.
type Signals struct {
	UIBars       UIBars  `json:"ui_bars"`
	TextureScore float64 `json:"texture_score"`
	BusyTexture  bool    `json:"busy_texture"`
	FoilDensity  float64 `json:"foil_density"`
	Foil         bool    `json:"foil"`
	EdgeDensity  float64 `json:"translucent_edge_density"`
	Translucent  bool    `json:"translucent_edges"`
}

// Run evaluates every check. UI bars are measured on img as given; the
// remaining checks run on img with any detected bars cropped away.
func Run(img gocv.Mat) Signals {
	var s Signals
	s.UIBars = DetectUIBars(img)

	cropped, _ := CropUIBars(img, s.UIBars)
	defer cropped.Close()

	s.TextureScore = BackgroundTexture(cropped)
	s.BusyTexture = s.TextureScore > textureBusyScore
	s.FoilDensity, s.Foil = FoilHighlights(cropped)
	s.EdgeDensity, s.Translucent = TranslucentEdges(cropped)

	slog.Debug("preflight",
		"ui_top", s.UIBars.Top, "ui_bottom", s.UIBars.Bottom,
		"texture", s.TextureScore, "foil_density", s.FoilDensity,
		"edge_density", s.EdgeDensity)
	return s
}

// DetectUIBars looks for dense horizontal edge structure in the top and
// bottom 8% strips.
func DetectUIBars(img gocv.Mat) UIBars {
	h, w := img.Rows(), img.Cols()
	barH := int(float64(h) * uiBarFraction)
	if barH < 1 || w < 4 {
		return UIBars{}
	}

	gray := cvutil.Gray(img)
	defer gray.Close()

	density := func(r image.Rectangle) float64 {
		strip := gray.Region(r)
		defer strip.Close()

		edges := gocv.NewMat()
		defer edges.Close()
		gocv.Canny(strip, &edges, 50, 150)

		closed := cvutil.CloseRect(edges, w/4, 1, 1)
		defer closed.Close()
		return cvutil.Fraction(closed)
	}

	var bars UIBars
	if density(image.Rect(0, 0, w, barH)) > uiBarDensity {
		bars.Top = true
		bars.CropTop = max(0, barH-uiCropSafety)
	}
	if density(image.Rect(0, h-barH, w, h)) > uiBarDensity {
		bars.Bottom = true
		bars.CropBottom = max(0, barH-uiCropSafety)
	}
	return bars
}

// CropUIBars returns a copy of img without the flagged bars and the number
// of rows removed from the top, which callers add back to map coordinates
// into the uncropped image.
func CropUIBars(img gocv.Mat, bars UIBars) (gocv.Mat, int) {
	if !bars.Present() {
		return img.Clone(), 0
	}
	h, w := img.Rows(), img.Cols()
	top, bottom := bars.CropTop, h-bars.CropBottom
	if bottom-top < 2 {
		return img.Clone(), 0
	}
	region := img.Region(image.Rect(0, top, w, bottom))
	defer region.Close()

	slog.Info("cropped UI bars", "top_px", bars.CropTop, "bottom_px", bars.CropBottom)
	return region.Clone(), top
}

// BackgroundTexture scores periodic structure from the 256x256 magnitude
// spectrum: 5 * p99/p50 of all bins outside the DC neighbourhood, capped at 100.
func BackgroundTexture(img gocv.Mat) float64 {
	gray := cvutil.Gray(img)
	defer gray.Close()

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(gray, &small, image.Point{textureSize, textureSize}, 0, 0, gocv.InterpolationLinear)

	plane, err := raster.FromMat(small)
	if err != nil || plane.Empty() {
		return 0
	}

	spec := FFT2(plane)
	n := textureSize
	mags := make([]float64, 0, n*n)
	for y := 0; y < n; y++ {
		fy := wrapFreq(y, n)
		for x := 0; x < n; x++ {
			fx := wrapFreq(x, n)
			if abs(fx) < textureDCRadius && abs(fy) < textureDCRadius {
				continue
			}
			mags = append(mags, cmplx.Abs(spec[y*n+x]))
		}
	}

	p99 := raster.Percentile(mags, 99)
	p50 := raster.Percentile(mags, 50)
	if p50 <= 0 {
		return 0
	}
	return math.Min(100, p99/p50*5)
}

// FFT2 returns the row-major 2D discrete Fourier transform of a plane.
func FFT2(p raster.Plane) []complex128 {
	w, h := p.W, p.H
	data := make([]complex128, w*h)
	for i, v := range p.Pix {
		data[i] = complex(float64(v), 0)
	}
	return fft2(data, w, h, false)
}

// IFFT2 inverts FFT2 output of size w x h, normalized by w*h.
func IFFT2(data []complex128, w, h int) []complex128 {
	return fft2(append([]complex128(nil), data...), w, h, true)
}

func fft2(data []complex128, w, h int, inverse bool) []complex128 {
	rowFFT := fourier.NewCmplxFFT(w)
	row := make([]complex128, w)
	for y := 0; y < h; y++ {
		copy(row, data[y*w:(y+1)*w])
		var out []complex128
		if inverse {
			out = rowFFT.Sequence(nil, row)
		} else {
			out = rowFFT.Coefficients(nil, row)
		}
		copy(data[y*w:(y+1)*w], out)
	}

	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = data[y*w+x]
		}
		var out []complex128
		if inverse {
			out = colFFT.Sequence(nil, col)
		} else {
			out = colFFT.Coefficients(nil, col)
		}
		for y := 0; y < h; y++ {
			data[y*w+x] = out[y]
		}
	}

	if inverse {
		scale := complex(1/float64(w*h), 0)
		for i := range data {
			data[i] *= scale
		}
	}
	return data
}

func wrapFreq(k, n int) int {
	if k >= n/2 {
		return k - n
	}
	return k
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// FoilHighlights counts small bright saturated spots (V > 200, S > 100,
// area 3-50 px) per 1000 px and flags foil above 5.
func FoilHighlights(img gocv.Mat) (float64, bool) {
	h, w := img.Rows(), img.Cols()
	if h == 0 || w == 0 {
		return 0, false
	}
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv, gocv.NewScalar(0, 101, 201, 0), gocv.NewScalar(180, 255, 255, 0), &mask)

	count := 0
	for _, c := range cvutil.Contours(mask) {
		if c.Area > foilMinArea && c.Area < foilMaxArea {
			count++
		}
	}
	density := float64(count) / (float64(h*w) / 1000)
	return density, density > foilDensityLimit
}

// TranslucentEdges measures Canny(30,100) density in the four 10% border
// bands. Sleeves and top-loaders leave reflective outlines there.
func TranslucentEdges(img gocv.Mat) (float64, bool) {
	h, w := img.Rows(), img.Cols()
	band := int(float64(min(h, w)) * translucentBand)
	if band < 1 {
		return 0, false
	}

	gray := cvutil.Gray(img)
	defer gray.Close()

	bands := []image.Rectangle{
		image.Rect(0, 0, w, band),
		image.Rect(0, h-band, w, h),
		image.Rect(0, 0, band, h),
		image.Rect(w-band, 0, w, h),
	}
	var total float64
	for _, r := range bands {
		strip := gray.Region(r)
		edges := gocv.NewMat()
		gocv.Canny(strip, &edges, 30, 100)
		total += cvutil.Fraction(edges)
		edges.Close()
		strip.Close()
	}
	density := total / float64(len(bands))
	return density, density > translucentDensity
}
