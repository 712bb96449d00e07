// Package colorutil provides shared color conversions and the overlay palette.
package colorutil

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Common overlay colors used throughout the application.
var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Cyan   = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	Green  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	Red    = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// RGBToHSV converts RGB (0-255) to HSV (OpenCV convention: H 0-180, S 0-255, V 0-255).
func RGBToHSV(r, g, b float64) (h, s, v float64) {
	r /= 255.0
	g /= 255.0
	b /= 255.0

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	diff := maxC - minC

	v = maxC * 255.0

	if maxC == 0 {
		s = 0
	} else {
		s = (diff / maxC) * 255.0
	}

	if diff == 0 {
		h = 0
	} else if maxC == r {
		h = 60 * math.Mod((g-b)/diff, 6)
	} else if maxC == g {
		h = 60 * ((b-r)/diff + 2)
	} else {
		h = 60 * ((r-g)/diff + 4)
	}

	if h < 0 {
		h += 360
	}

	return h / 2, s, v
}

// Lab8 is a CIE L*a*b* triple in OpenCV's 8-bit encoding:
// L scaled to 0-255, a and b offset by 128.
type Lab8 struct {
	L, A, B float64
}

// DeltaE76 returns the Euclidean distance between two 8-bit Lab triples.
func DeltaE76(p, q Lab8) float64 {
	dl := p.L - q.L
	da := p.A - q.A
	db := p.B - q.B
	return math.Sqrt(dl*dl + da*da + db*db)
}

var (
	severityLow  = colorful.Color{R: 0, G: 0.8, B: 0.2}
	severityHigh = colorful.Color{R: 0.95, G: 0.1, B: 0.1}
)

// SeverityColor maps t in [0,1] to a green-to-red color blended in Lab
// space. Values outside the range are clamped.
func SeverityColor(t float64) color.RGBA {
	t = math.Max(0, math.Min(1, t))
	c := severityLow.BlendLab(severityHigh, t).Clamped()
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
