package detect

import (
	"image"

	"cardscan/internal/cvutil"
	"cardscan/internal/raster"

	"gocv.io/x/gocv"
)

// EnhancedEdges builds the fused edge map used by the contour detector and
// by fusion scoring: Canny on contrast-enhanced gray and HSV value, OR-ed with
// a thresholded Sobel magnitude, with glare pixels removed and gaps closed.
func EnhancedEdges(img, glare gocv.Mat) gocv.Mat {
	gray := cvutil.Gray(img)
	stretched := autoContrast(gray)
	gray.Close()
	blurGray := enhanceForEdges(stretched)
	stretched.Close()
	defer blurGray.Close()

	value := cvutil.Channel(img, gocv.ColorBGRToHSV, 2)
	blurV := enhanceForEdges(value)
	value.Close()
	defer blurV.Close()

	cannyGray := gocv.NewMat()
	cannyV := gocv.NewMat()
	defer cvutil.CloseAll(cannyGray, cannyV)
	gocv.Canny(blurGray, &cannyGray, 40, 120)
	gocv.Canny(blurV, &cannyV, 40, 120)

	sobel := sobelEdges(blurGray, 30)
	defer sobel.Close()

	fused := cvutil.Or(cannyGray, cannyV)
	withSobel := cvutil.Or(fused, sobel)
	fused.Close()

	if !glare.Empty() {
		keep := gocv.NewMat()
		gocv.BitwiseNot(glare, &keep)
		masked := cvutil.And(withSobel, keep)
		keep.Close()
		withSobel.Close()
		withSobel = masked
	}
	defer withSobel.Close()

	return cvutil.Close(withSobel, 3, 2)
}

// enhanceForEdges applies a bilateral filter, CLAHE and a 5x5 Gaussian blur.
func enhanceForEdges(src gocv.Mat) gocv.Mat {
	bilateral := gocv.NewMat()
	defer bilateral.Close()
	gocv.BilateralFilter(src, &bilateral, 9, 75, 75)

	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	eq := gocv.NewMat()
	defer eq.Close()
	clahe.Apply(bilateral, &eq)

	return cvutil.Blur(eq, 5)
}

// sobelEdges thresholds the Sobel gradient magnitude of src, clipped to
// 8 bits, at t.
func sobelEdges(src gocv.Mat, t float32) gocv.Mat {
	gx := gocv.NewMat()
	gy := gocv.NewMat()
	mag := gocv.NewMat()
	mag8 := gocv.NewMat()
	defer cvutil.CloseAll(gx, gy, mag, mag8)

	gocv.Sobel(src, &gx, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(src, &gy, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderDefault)
	gocv.Magnitude(gx, gy, &mag)
	mag.ConvertTo(&mag8, gocv.MatTypeCV8U)
	return cvutil.Binary(mag8, t)
}

// autoContrast stretches the 2nd-98th percentile range of a gray image to
// the full 8-bit range.
func autoContrast(gray gocv.Mat) gocv.Mat {
	p, err := raster.FromMat(gray)
	if err != nil || p.Empty() {
		return gray.Clone()
	}
	lo, hi := p.Percentile(2), p.Percentile(98)
	if hi-lo < 1e-5 {
		return gray.Clone()
	}
	alpha := 255 / (hi - lo)
	out := gocv.NewMat()
	gray.ConvertToWithParams(&out, gocv.MatTypeCV8U, float32(alpha), float32(-lo*alpha))
	return out
}
