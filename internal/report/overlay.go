package report

import (
	"fmt"
	"image"
	"image/color"

	"cardscan/internal/measure"
	"cardscan/pkg/colorutil"

	"gocv.io/x/gocv"
)

var cornerTextColor = color.RGBA{0, 0, 255, 0}

// DrawOverlay renders the measurement overlay on a copy of the rectified
// card: the glare mask blended in at 25%, one line per edge segment colored
// by its whitening severity, and a rounding/whitening/dots label per corner.
func DrawOverlay(warped gocv.Mat, edges map[string][]measure.EdgeSegment, corners []measure.Corner, glare gocv.Mat) gocv.Mat {
	vis := gocv.NewMat()
	if glare.Empty() || glare.Rows() != warped.Rows() || glare.Cols() != warped.Cols() {
		warped.CopyTo(&vis)
	} else {
		glareBGR := gocv.NewMat()
		gocv.CvtColor(glare, &glareBGR, gocv.ColorGrayToBGR)
		gocv.AddWeighted(warped, 1.0, glareBGR, 0.25, 0, &vis)
		glareBGR.Close()
	}

	w, h := vis.Cols(), vis.Rows()
	for _, side := range measure.Sides {
		segs := edges[side]
		n := len(segs)
		if n == 0 {
			continue
		}
		span := w
		if side == "left" || side == "right" {
			span = h
		}
		seg := span / n
		for i, s := range segs {
			a := i * seg
			b := (i + 1) * seg
			if i == n-1 {
				b = span
			}
			col := colorutil.SeverityColor(s.WhiteningLengthPx / float64(max(1, b-a)))
			var p0, p1 image.Point
			switch side {
			case "top":
				p0, p1 = image.Pt(a, 2), image.Pt(b, 2)
			case "bottom":
				p0, p1 = image.Pt(a, h-2), image.Pt(b, h-2)
			case "left":
				p0, p1 = image.Pt(2, a), image.Pt(2, b)
			default:
				p0, p1 = image.Pt(w-2, a), image.Pt(w-2, b)
			}
			gocv.Line(&vis, p0, p1, col, 2)
		}
	}

	for _, c := range corners {
		var pt image.Point
		switch c.CornerName {
		case "tl":
			pt = image.Pt(10, 20)
		case "tr":
			pt = image.Pt(w-220, 20)
		case "bl":
			pt = image.Pt(10, h-10)
		default:
			pt = image.Pt(w-220, h-10)
		}
		txt := fmt.Sprintf("r=%.1fpx w=%.0f d=%d", c.RoundingRadiusPx, c.WhiteningLengthPx, c.WhiteDotsCount)
		gocv.PutText(&vis, txt, pt, gocv.FontHersheySimplex, 0.5, cornerTextColor, 1)
	}
	return vis
}
