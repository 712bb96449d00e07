// Package warp rectifies a card quadrilateral to an axis-aligned raster.
package warp

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

// Result is a rectified card. The caller owns Warped and Mask.
type Result struct {
	Warped gocv.Mat
	Mask   gocv.Mat
	// H maps source coordinates to the rectified raster; Inverse maps back.
	H       geometry.Homography
	Inverse geometry.Homography
	Width   int
	Height  int
}

// Close releases the result's Mats.
func (r *Result) Close() {
	r.Warped.Close()
	r.Mask.Close()
}

// ErrDegenerateQuad is returned for quads with no usable extent.
var ErrDegenerateQuad = errors.New("warp: degenerate quad")

// Size returns the rectified size for q at the given output height. Width is
// the longer horizontal edge scaled by height over the longer vertical edge.
func Size(q geometry.Quad, height int) (int, int, error) {
	top, right, bottom, left := q.Sides()
	maxW := int(max(top, bottom))
	maxH := int(max(left, right))
	if maxW <= 0 || maxH <= 0 || height <= 0 {
		return 0, 0, ErrDegenerateQuad
	}
	scale := float64(height) / float64(maxH)
	w := int(float64(maxW) * scale)
	if w <= 1 {
		return 0, 0, ErrDegenerateQuad
	}
	return w, height, nil
}

// Destination returns the corner rectangle of a w x h raster, TL first.
func Destination(w, h int) geometry.Quad {
	fw, fh := float64(w-1), float64(h-1)
	return geometry.Quad{{X: 0, Y: 0}, {X: fw, Y: 0}, {X: fw, Y: fh}, {X: 0, Y: fh}}
}

// Homographies returns the forward and inverse transforms between q and a
// w x h raster.
func Homographies(q geometry.Quad, w, h int) (geometry.Homography, geometry.Homography, error) {
	fwd, err := geometry.ComputeHomography(q, Destination(w, h))
	if err != nil {
		return geometry.Homography{}, geometry.Homography{}, fmt.Errorf("warp: %w", err)
	}
	inv, err := fwd.Inverse()
	if err != nil {
		return geometry.Homography{}, geometry.Homography{}, fmt.Errorf("warp: %w", err)
	}
	return fwd, inv, nil
}

// Rectify warps the region of img bounded by q to a raster of the given
// height using cubic interpolation.
func Rectify(img gocv.Mat, q geometry.Quad, height int) (Result, error) {
	if img.Empty() {
		return Result{}, errors.New("warp: empty image")
	}
	q = q.Ordered()
	w, h, err := Size(q, height)
	if err != nil {
		return Result{}, err
	}
	fwd, inv, err := Homographies(q, w, h)
	if err != nil {
		return Result{}, err
	}

	m := homographyMat(fwd)
	defer m.Close()

	warped := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(img, &warped, m, image.Pt(w, h),
		gocv.InterpolationCubic, gocv.BorderConstant, color.RGBA{})

	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), h, w, gocv.MatTypeCV8UC1)

	return Result{Warped: warped, Mask: mask, H: fwd, Inverse: inv, Width: w, Height: h}, nil
}

// FallbackQuad is the inset rectangle used when no candidate survives.
func FallbackQuad(w, h int, inset float64) geometry.Quad {
	return geometry.InsetRect(float64(w), float64(h), inset)
}

func homographyMat(hm geometry.Homography) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, hm[r][c])
		}
	}
	return m
}
