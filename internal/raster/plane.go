// Package raster holds single-channel 8-bit pixel planes as plain Go values,
// so scoring and measurement math can run and be tested without OpenCV.
package raster

import (
	"fmt"
	"sort"

	"gocv.io/x/gocv"
)

// Plane is a row-major single-channel 8-bit image. Masks use 0 and 255.
type Plane struct {
	W, H int
	Pix  []uint8
}

// New allocates a zeroed w x h plane.
func New(w, h int) Plane {
	return Plane{W: w, H: h, Pix: make([]uint8, w*h)}
}

// Filled allocates a w x h plane with every pixel set to v.
func Filled(w, h int, v uint8) Plane {
	p := New(w, h)
	for i := range p.Pix {
		p.Pix[i] = v
	}
	return p
}

// FromMat copies a CV_8UC1 matrix into a Plane.
func FromMat(m gocv.Mat) (Plane, error) {
	if m.Empty() {
		return Plane{}, nil
	}
	if m.Type() != gocv.MatTypeCV8UC1 {
		return Plane{}, fmt.Errorf("raster: expected CV_8UC1, got %v", m.Type())
	}
	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}
	data, err := src.DataPtrUint8()
	if err != nil {
		return Plane{}, fmt.Errorf("raster: read mat: %w", err)
	}
	p := New(m.Cols(), m.Rows())
	copy(p.Pix, data)
	return p, nil
}

// ToMat copies the plane into a new CV_8UC1 matrix owned by the caller.
func (p Plane) ToMat() (gocv.Mat, error) {
	if p.W == 0 || p.H == 0 {
		return gocv.NewMat(), nil
	}
	return gocv.NewMatFromBytes(p.H, p.W, gocv.MatTypeCV8UC1, append([]byte(nil), p.Pix...))
}

// Empty reports whether the plane has no pixels.
func (p Plane) Empty() bool {
	return p.W == 0 || p.H == 0
}

// In reports whether (x, y) lies inside the plane.
func (p Plane) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < p.W && y < p.H
}

// At returns the pixel at (x, y), or 0 outside the plane.
func (p Plane) At(x, y int) uint8 {
	if !p.In(x, y) {
		return 0
	}
	return p.Pix[y*p.W+x]
}

// Set writes v at (x, y); writes outside the plane are ignored.
func (p Plane) Set(x, y int, v uint8) {
	if p.In(x, y) {
		p.Pix[y*p.W+x] = v
	}
}

// FillRect sets every pixel of [x0,x1)x[y0,y1) to v, clipped to the plane.
func (p Plane) FillRect(x0, y0, x1, y1 int, v uint8) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, p.W), min(y1, p.H)
	for y := y0; y < y1; y++ {
		row := p.Pix[y*p.W : (y+1)*p.W]
		for x := x0; x < x1; x++ {
			row[x] = v
		}
	}
}

// Clone returns a deep copy.
func (p Plane) Clone() Plane {
	return Plane{W: p.W, H: p.H, Pix: append([]uint8(nil), p.Pix...)}
}

// NonZero counts pixels that are not 0.
func (p Plane) NonZero() int {
	n := 0
	for _, v := range p.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Coverage is the fraction of non-zero pixels in [0, 1].
func (p Plane) Coverage() float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	return float64(p.NonZero()) / float64(len(p.Pix))
}

// Mean returns the average pixel value.
func (p Plane) Mean() float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	var sum int
	for _, v := range p.Pix {
		sum += int(v)
	}
	return float64(sum) / float64(len(p.Pix))
}

// Percentile returns the q-th percentile (0-100) of the pixel values.
func (p Plane) Percentile(q float64) float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	var hist [256]int
	for _, v := range p.Pix {
		hist[v]++
	}
	target := q / 100 * float64(len(p.Pix)-1)
	seen := 0
	for v, c := range hist {
		seen += c
		if float64(seen-1) >= target {
			return float64(v)
		}
	}
	return 255
}

// Percentile returns the q-th percentile (0-100) of values using linear
// interpolation between closest ranks. The slice is sorted in place.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	pos := q / 100 * float64(len(values)-1)
	lo := int(pos)
	if lo >= len(values)-1 {
		return values[len(values)-1]
	}
	frac := pos - float64(lo)
	return values[lo] + frac*(values[lo+1]-values[lo])
}
