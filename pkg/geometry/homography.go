package geometry

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 projective transform in row-major order.
type Homography [3][3]float64

// ComputeHomography solves the projective transform mapping each src point
// to the matching dst point. h33 is fixed to 1.
func ComputeHomography(src, dst [4]Point2D) (Homography, error) {
	A := mat.NewDense(8, 8, nil)
	B := mat.NewVecDense(8, nil)

	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y

		// u = (h11 x + h12 y + h13) / (h31 x + h32 y + 1)
		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		A.Set(i*2, 6, -u*x)
		A.Set(i*2, 7, -u*y)
		B.SetVec(i*2, u)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		A.Set(i*2+1, 6, -v*x)
		A.Set(i*2+1, 7, -v*y)
		B.SetVec(i*2+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(A, B); err != nil {
		return Homography{}, fmt.Errorf("solve homography: %w", err)
	}

	return Homography{
		{h.AtVec(0), h.AtVec(1), h.AtVec(2)},
		{h.AtVec(3), h.AtVec(4), h.AtVec(5)},
		{h.AtVec(6), h.AtVec(7), 1},
	}, nil
}

// Apply maps a point through the homography.
func (m Homography) Apply(p Point2D) Point2D {
	w := m[2][0]*p.X + m[2][1]*p.Y + m[2][2]
	if w == 0 {
		return Point2D{}
	}
	return Point2D{
		X: (m[0][0]*p.X + m[0][1]*p.Y + m[0][2]) / w,
		Y: (m[1][0]*p.X + m[1][1]*p.Y + m[1][2]) / w,
	}
}

// ApplyQuad maps every corner of q.
func (m Homography) ApplyQuad(q Quad) Quad {
	var out Quad
	for i := range q {
		out[i] = m.Apply(q[i])
	}
	return out
}

// Inverse returns the inverse homography, normalized so h33 is 1.
func (m Homography) Inverse() (Homography, error) {
	d := mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
	var inv mat.Dense
	if err := inv.Inverse(d); err != nil {
		return Homography{}, fmt.Errorf("invert homography: %w", err)
	}

	var out Homography
	scale := inv.At(2, 2)
	if scale == 0 {
		scale = 1
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = inv.At(r, c) / scale
		}
	}
	return out, nil
}

// Flat returns the nine coefficients row by row.
func (m Homography) Flat() []float64 {
	return []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	}
}
