// Package refine looks for a card nested inside a sleeve or slab outline.
// The outer quad is rectified, a set of segmentation strategies is tried in
// order, and the first inner region of plausible size is mapped back.
package refine

import (
	"fmt"
	"log/slog"

	"cardscan/internal/cvutil"
	"cardscan/internal/warp"
	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

// Strategy identifies an inner segmentation method.
type Strategy int

const (
	LabChroma Strategy = iota
	Erosion
	HSVForeground
)

func (s Strategy) String() string {
	switch s {
	case LabChroma:
		return "lab_chroma"
	case Erosion:
		return "erosion"
	case HSVForeground:
		return "hsv_foreground"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Inner region bounds as a fraction of the rectified outer area.
const (
	MinInnerArea = 0.25
	MaxInnerArea = 0.95
)

// Result is an inner quad in the coordinates of the source image.
type Result struct {
	Quad      geometry.Quad
	Strategy  Strategy
	AreaRatio float64
}

// Inner rectifies the outer quad of img to the given height and tries the
// LAB chroma, erosion and HSV strategies in that order. depth scales the
// erosion strategy and must be positive.
func Inner(img gocv.Mat, outer geometry.Quad, depth, height int) (Result, bool) {
	if depth <= 0 {
		return Result{}, false
	}
	rect, err := warp.Rectify(img, outer, height)
	if err != nil {
		slog.Debug("inner refinement: rectify", "error", err)
		return Result{}, false
	}
	defer rect.Close()

	strategies := []struct {
		id   Strategy
		mask func(gocv.Mat) gocv.Mat
	}{
		{LabChroma, labChromaMask},
		{Erosion, func(m gocv.Mat) gocv.Mat { return erosionEdgeMask(m, depth*3) }},
		{HSVForeground, hsvForegroundMask},
	}

	for _, s := range strategies {
		mask := s.mask(rect.Warped)
		q, area, ok := extractQuad(mask)
		mask.Close()
		if !ok {
			slog.Debug("inner refinement strategy failed", "strategy", s.id)
			continue
		}
		inner := rect.Inverse.ApplyQuad(q).Ordered()
		if !inner.IsConvex() {
			continue
		}
		slog.Debug("inner card found", "strategy", s.id, "area_ratio", area)
		return Result{Quad: inner, Strategy: s.id, AreaRatio: area}, true
	}
	return Result{}, false
}

// ShouldReplace reports whether an inner quad scoring innerScore should
// replace an outer quad scoring outerScore. The inner quad wins when it is
// within margin of the outer score or better, or when the outer detection
// was weak (below replaceBelow).
func ShouldReplace(outerScore, innerScore, margin, replaceBelow float64) bool {
	return innerScore+margin >= outerScore || outerScore < replaceBelow
}

// labChromaMask keeps colorful or bright pixels, separating card stock from
// black or neutral casing.
func labChromaMask(warped gocv.Mat) gocv.Mat {
	chans := cvutil.Channels(warped, gocv.ColorBGRToLab)
	defer cvutil.CloseAll(chans...)

	af := gocv.NewMat()
	bf := gocv.NewMat()
	mag := gocv.NewMat()
	chroma := gocv.NewMat()
	defer cvutil.CloseAll(af, bf, mag, chroma)
	chans[1].ConvertToWithParams(&af, gocv.MatTypeCV32F, 1, -128)
	chans[2].ConvertToWithParams(&bf, gocv.MatTypeCV32F, 1, -128)
	gocv.Magnitude(af, bf, &mag)
	mag.ConvertTo(&chroma, gocv.MatTypeCV8U)

	colorful := cvutil.Otsu(chroma)
	bright := cvutil.Binary(chans[0], 50)
	defer cvutil.CloseAll(colorful, bright)

	combined := cvutil.Or(colorful, bright)
	closed := cvutil.Close(combined, 15, 3)
	combined.Close()
	opened := cvutil.Open(closed, 15, 2)
	closed.Close()
	defer opened.Close()
	return shrinkAndRestore(opened, 30, 2)
}

// erosionEdgeMask erodes an adaptive threshold heavily and closes the edges
// of what remains.
func erosionEdgeMask(warped gocv.Mat, iters int) gocv.Mat {
	gray := cvutil.Gray(warped)
	defer gray.Close()

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.AdaptiveThreshold(gray, &thresh, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, 21, 10)

	eroded := cvutil.Erode(thresh, 5, iters)
	defer eroded.Close()
	if eroded.Mean().Val1 > 127 {
		gocv.BitwiseNot(eroded, &eroded)
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(eroded, &edges, 30, 100)
	return cvutil.Close(edges, 9, 3)
}

// hsvForegroundMask keeps pixels that are not dark or not gray.
func hsvForegroundMask(warped gocv.Mat) gocv.Mat {
	chans := cvutil.Channels(warped, gocv.ColorBGRToHSV)
	defer cvutil.CloseAll(chans...)

	value := cvutil.Binary(chans[2], 40)
	sat := cvutil.Binary(chans[1], 20)
	defer cvutil.CloseAll(value, sat)

	combined := cvutil.Or(value, sat)
	closed := cvutil.Close(combined, 11, 2)
	combined.Close()
	opened := cvutil.Open(closed, 11, 1)
	closed.Close()
	defer opened.Close()
	return shrinkAndRestore(opened, 25, 1)
}

// shrinkAndRestore erodes then dilates by the same amount, detaching thin
// bridges between the card and the casing without moving straight edges.
func shrinkAndRestore(mask gocv.Mat, k, iters int) gocv.Mat {
	eroded := cvutil.Erode(mask, k, iters)
	defer eroded.Close()
	return cvutil.Dilate(eroded, k, iters)
}

// extractQuad returns the first of the five largest contours whose area is
// within the inner bounds, as a 4-point approximation or its minimum-area
// rectangle.
func extractQuad(mask gocv.Mat) (geometry.Quad, float64, bool) {
	total := float64(mask.Rows() * mask.Cols())
	if total == 0 {
		return geometry.Quad{}, 0, false
	}
	contours := cvutil.Contours(mask)
	if len(contours) > 5 {
		contours = contours[:5]
	}
	for _, c := range contours {
		ratio := c.Area / total
		if ratio < MinInnerArea || ratio > MaxInnerArea {
			continue
		}
		if q, ok := cvutil.ApproxQuad(c.Points, 0.03); ok {
			return q, ratio, true
		}
		if q, ok := cvutil.MinAreaQuad(c.Points); ok {
			return q, ratio, true
		}
	}
	return geometry.Quad{}, 0, false
}
