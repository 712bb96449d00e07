// Package preprocess normalizes color and lighting before detection and
// builds the specular glare mask.
package preprocess

import (
	"image"

	"cardscan/internal/cvutil"

	"gocv.io/x/gocv"
)

// Normalize applies gray-world white balance followed by CLAHE on the
// lightness channel. The result has the same size as img and is owned by
// the caller.
func Normalize(img gocv.Mat) gocv.Mat {
	balanced := grayWorld(img)
	defer balanced.Close()

	lab := cvutil.Channels(balanced, gocv.ColorBGRToLab)
	defer cvutil.CloseAll(lab...)

	clahe := gocv.NewCLAHEWithParams(2.5, image.Point{8, 8})
	defer clahe.Close()

	l := gocv.NewMat()
	defer l.Close()
	clahe.Apply(lab[0], &l)

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge([]gocv.Mat{l, lab[1], lab[2]}, &merged)

	out := gocv.NewMat()
	gocv.CvtColor(merged, &out, gocv.ColorLabToBGR)
	return out
}

// grayWorld scales each BGR channel so its mean equals the mean of all three.
func grayWorld(img gocv.Mat) gocv.Mat {
	chans := gocv.Split(img)
	defer cvutil.CloseAll(chans...)

	means := make([]float64, len(chans))
	var k float64
	for i, c := range chans {
		means[i] = c.Mean().Val1
		k += means[i]
	}
	k /= float64(len(chans))

	scaled := make([]gocv.Mat, len(chans))
	for i, c := range chans {
		scaled[i] = gocv.NewMat()
		c.ConvertToWithParams(&scaled[i], gocv.MatTypeCV8U, float32(k/(means[i]+1e-6)), 0)
	}
	defer cvutil.CloseAll(scaled...)

	out := gocv.NewMat()
	gocv.Merge(scaled, &out)
	return out
}

// GlareMask marks bright, unsaturated pixels (S < 40 and V > 230), cleaned
// with a 3x3 opening and grown by one 3x3 dilation.
func GlareMask(img gocv.Mat) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	raw := gocv.NewMat()
	defer raw.Close()
	gocv.InRangeWithScalar(hsv, gocv.NewScalar(0, 0, 231, 0), gocv.NewScalar(180, 39, 255, 0), &raw)

	opened := cvutil.Open(raw, 3, 1)
	defer opened.Close()
	return cvutil.Dilate(opened, 3, 1)
}

// GlarePercent returns the share of glare pixels as a percentage.
func GlarePercent(mask gocv.Mat) float64 {
	return cvutil.Fraction(mask) * 100
}
