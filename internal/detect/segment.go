package detect

import (
	"image"
	"log/slog"
	"math"
	"math/cmplx"

	"cardscan/internal/cvutil"
	"cardscan/internal/preflight"
	"cardscan/internal/raster"
	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

const (
	grabCutMargin = 0.15
	grabCutIters  = 5
	saliencySize  = 64
)

// GrabCut mask labels.
const (
	gcForeground      = 1
	gcProbForeground  = 3
	gcForegroundValue = 255
)

// DetectGrabCut seeds the central 70% of the frame as probable foreground,
// runs GrabCut and returns the minimum-area rectangle of the largest
// foreground blob.
func DetectGrabCut(f Frame, _ Params) (geometry.Quad, bool) {
	w, h := f.Size()
	seed := raster.New(w, h)
	mx, my := int(float64(w)*grabCutMargin), int(float64(h)*grabCutMargin)
	seed.FillRect(mx, my, w-mx, h-my, gcProbForeground)

	mask, err := seed.ToMat()
	if err != nil {
		slog.Debug("grabcut: seed mask", "error", err)
		return geometry.Quad{}, false
	}
	defer mask.Close()

	bgd := gocv.NewMat()
	fgd := gocv.NewMat()
	defer cvutil.CloseAll(bgd, fgd)
	gocv.GrabCut(f.Image, &mask, image.Rectangle{}, &bgd, &fgd, grabCutIters, gocv.GCInitWithMask)

	labels, err := raster.FromMat(mask)
	if err != nil {
		return geometry.Quad{}, false
	}
	fg := raster.New(w, h)
	for i, v := range labels.Pix {
		if v == gcForeground || v == gcProbForeground {
			fg.Pix[i] = gcForegroundValue
		}
	}
	return largestBlobQuad(fg, 5, 2, 3)
}

// DetectSaliency thresholds a spectral-residual saliency map and returns the
// minimum-area rectangle of the largest salient blob.
func DetectSaliency(f Frame, _ Params) (geometry.Quad, bool) {
	w, h := f.Size()
	sal, err := SpectralResidual(f.Image)
	if err != nil {
		slog.Debug("saliency map", "error", err)
		return geometry.Quad{}, false
	}
	defer sal.Close()

	full := gocv.NewMat()
	defer full.Close()
	gocv.Resize(sal, &full, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	bin := cvutil.Otsu(full)
	defer bin.Close()
	p, err := raster.FromMat(bin)
	if err != nil {
		return geometry.Quad{}, false
	}
	return largestBlobQuad(p, 7, 2, 3)
}

// SpectralResidual computes a 64x64 8-bit saliency map of img: the log
// amplitude spectrum minus its local average is recombined with the original
// phase, transformed back and smoothed.
func SpectralResidual(img gocv.Mat) (gocv.Mat, error) {
	gray := cvutil.Gray(img)
	defer gray.Close()
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(gray, &small, image.Pt(saliencySize, saliencySize), 0, 0, gocv.InterpolationArea)

	plane, err := raster.FromMat(small)
	if err != nil {
		return gocv.NewMat(), err
	}
	n := saliencySize
	freq := preflight.FFT2(plane)

	logAmp := make([]float64, len(freq))
	phase := make([]float64, len(freq))
	for i, c := range freq {
		logAmp[i] = math.Log(cmplx.Abs(c) + 1e-9)
		phase[i] = cmplx.Phase(c)
	}
	avg := boxMean(logAmp, n, n, 3)
	for i := range freq {
		freq[i] = cmplx.Rect(math.Exp(logAmp[i]-avg[i]), phase[i])
	}
	back := preflight.IFFT2(freq, n, n)

	energy := make([]float64, len(back))
	peak := 0.0
	for i, c := range back {
		a := cmplx.Abs(c)
		energy[i] = a * a
		peak = math.Max(peak, energy[i])
	}
	out := raster.New(n, n)
	if peak > 0 {
		for i, e := range energy {
			out.Pix[i] = uint8(math.Round(e / peak * 255))
		}
	}

	m, err := out.ToMat()
	if err != nil {
		return gocv.NewMat(), err
	}
	defer m.Close()
	smooth := gocv.NewMat()
	gocv.GaussianBlur(m, &smooth, image.Pt(9, 9), 2.5, 2.5, gocv.BorderDefault)
	norm := gocv.NewMat()
	gocv.Normalize(smooth, &norm, 0, 255, gocv.NormMinMax)
	smooth.Close()
	return norm, nil
}

// boxMean is a k x k mean filter with replicated borders.
func boxMean(v []float64, w, h, k int) []float64 {
	r := k / 2
	out := make([]float64, len(v))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for dy := -r; dy <= r; dy++ {
				yy := min(max(y+dy, 0), h-1)
				for dx := -r; dx <= r; dx++ {
					xx := min(max(x+dx, 0), w-1)
					sum += v[yy*w+xx]
				}
			}
			out[y*w+x] = sum / float64(k*k)
		}
	}
	return out
}

// largestBlobQuad cleans a binary plane with k x k opening and closing and
// returns the minimum-area rectangle of its largest contour.
func largestBlobQuad(p raster.Plane, k, openIters, closeIters int) (geometry.Quad, bool) {
	m, err := p.ToMat()
	if err != nil || m.Empty() {
		return geometry.Quad{}, false
	}
	defer m.Close()

	opened := cvutil.Open(m, k, openIters)
	defer opened.Close()
	closed := cvutil.Close(opened, k, closeIters)
	defer closed.Close()

	contours := cvutil.Contours(closed)
	if len(contours) == 0 {
		return geometry.Quad{}, false
	}
	return cvutil.MinAreaQuad(contours[0].Points)
}
