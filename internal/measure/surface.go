package measure

import (
	"image"
	"math"

	"cardscan/internal/cvutil"
	"cardscan/internal/preprocess"
	"cardscan/internal/raster"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

const (
	minCreaseLength  = 60
	minScratchLength = 40
	dotMinArea       = 3
	dotMaxArea       = 200
)

// SurfaceMetrics computes whole-card surface indicators of a rectified
// image. glare is the glare mask of the same image.
func SurfaceMetrics(img, glare gocv.Mat) (Surface, error) {
	gray := cvutil.Gray(img)
	defer gray.Close()

	gp, err := raster.FromMat(gray)
	if err != nil {
		return Surface{}, err
	}

	mean := img.Mean()
	return Surface{
		WhiteDotsCount:          surfaceDots(gray),
		ScratchCount:            scratches(gray),
		CreaseLikeCount:         creases(gray),
		GlareCoveragePercent:    preprocess.GlarePercent(glare),
		FocusVariance:           focusVariance(gray),
		LightingUniformityScore: Uniformity(gp, 6, 4),
		ColorBiasBGR:            [3]float64{mean.Val1, mean.Val2, mean.Val3},
	}, nil
}

// focusVariance is the variance of the Laplacian response.
func focusVariance(gray gocv.Mat) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	std := gocv.NewMat()
	defer cvutil.CloseAll(mean, std)
	gocv.MeanStdDev(lap, &mean, &std)
	if std.Empty() {
		return 0
	}
	s := std.GetDoubleAt(0, 0)
	return s * s
}

// Uniformity scores lighting evenness from the spread of tile means over a
// rows x cols grid: 1/(1 + std/20). Edge tiles absorb the remainder.
func Uniformity(p raster.Plane, rows, cols int) float64 {
	if p.W == 0 || p.H == 0 {
		return 0
	}
	th := max(1, p.H/rows)
	tw := max(1, p.W/cols)
	means := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		y0, y1 := r*th, (r+1)*th
		if r == rows-1 {
			y1 = p.H
		}
		for c := 0; c < cols; c++ {
			x0, x1 := c*tw, (c+1)*tw
			if c == cols-1 {
				x1 = p.W
			}
			var sum float64
			n := 0
			for y := y0; y < min(y1, p.H); y++ {
				for x := x0; x < min(x1, p.W); x++ {
					sum += float64(p.Pix[y*p.W+x])
					n++
				}
			}
			if n > 0 {
				means = append(means, sum/float64(n))
			}
		}
	}
	if len(means) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(means, nil)
	std += 1e-6
	return 1 / (1 + std/20)
}

// surfaceDots counts small near-white specks.
func surfaceDots(gray gocv.Mat) int {
	thr := cvutil.Binary(gray, 245)
	defer thr.Close()
	opened := cvutil.Open(thr, 3, 1)
	defer opened.Close()
	return cvutil.CountComponentsInRange(opened, dotMinArea, dotMaxArea)
}

// scratches counts straight Hough segments in the lightly blurred edge map.
func scratches(gray gocv.Mat) int {
	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(gray, &blur, image.Point{3, 3}, 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blur, &edges, 40, 100)

	lines := gocv.NewMat()
	defer lines.Close()
	gocv.HoughLinesPWithParams(edges, &lines, 1, math.Pi/180, 50, minScratchLength, 8)
	return lines.Rows()
}

// creases counts long external contours of the thresholded Scharr magnitude.
func creases(gray gocv.Mat) int {
	gx := gocv.NewMat()
	gy := gocv.NewMat()
	mag := gocv.NewMat()
	defer cvutil.CloseAll(gx, gy, mag)
	gocv.Scharr(gray, &gx, gocv.MatTypeCV64F, 1, 0, 1, 0, gocv.BorderDefault)
	gocv.Scharr(gray, &gy, gocv.MatTypeCV64F, 0, 1, 1, 0, gocv.BorderDefault)
	gocv.Magnitude(gx, gy, &mag)

	_, maxVal, _, _ := gocv.MinMaxLoc(mag)
	scaled := gocv.NewMat()
	defer scaled.Close()
	mag.ConvertToWithParams(&scaled, gocv.MatTypeCV8U, float32(255/(float64(maxVal)+1e-6)), 0)

	thr := cvutil.Binary(scaled, 30)
	defer thr.Close()
	closed := cvutil.Close(thr, 3, 1)
	defer closed.Close()

	n := 0
	for _, c := range cvutil.Contours(closed) {
		if max(c.Bounds.Dx(), c.Bounds.Dy()) >= minCreaseLength {
			n++
		}
	}
	return n
}
