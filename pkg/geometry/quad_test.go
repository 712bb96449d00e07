package geometry

import (
	"math"
	"testing"
)

func TestOrderQuadPoints(t *testing.T) {
	want := Quad{{10, 20}, {110, 22}, {108, 160}, {12, 158}}

	tests := []struct {
		name string
		in   [4]Point2D
	}{
		{"already ordered", want},
		{"reversed", [4]Point2D{want[3], want[2], want[1], want[0]}},
		{"shuffled", [4]Point2D{want[2], want[0], want[3], want[1]}},
		{"rotated", [4]Point2D{want[1], want[2], want[3], want[0]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OrderQuadPoints(tt.in)
			if got != want {
				t.Errorf("OrderQuadPoints: got %v, want %v", got, want)
			}
		})
	}
}

func TestOrderQuadPoints_Idempotent(t *testing.T) {
	inputs := [][4]Point2D{
		{{0, 0}, {100, 0}, {100, 140}, {0, 140}},
		{{50, 0}, {100, 50}, {50, 100}, {0, 50}},
		{{300, 40}, {20, 35}, {310, 400}, {15, 390}},
	}

	for _, in := range inputs {
		once := OrderQuadPoints(in)
		twice := OrderQuadPoints(once)
		if once != twice {
			t.Errorf("not idempotent: %v then %v", once, twice)
		}
	}
}

func TestQuadMeasurements(t *testing.T) {
	q := QuadFromRect(Rect{X: 0, Y: 0, Width: 100, Height: 140})

	if a := q.Area(); math.Abs(a-14000) > 1e-9 {
		t.Errorf("Area: got %f, want 14000", a)
	}
	if !q.IsConvex() {
		t.Error("rectangle should be convex")
	}
	for i, a := range q.InteriorAngles() {
		if math.Abs(a-90) > 1e-9 {
			t.Errorf("angle %d: got %f, want 90", i, a)
		}
	}
	if r := q.LongShortRatio(); math.Abs(r-1.4) > 1e-9 {
		t.Errorf("LongShortRatio: got %f, want 1.4", r)
	}
	if r := q.WidthHeightRatio(); math.Abs(r-100.0/140.0) > 1e-9 {
		t.Errorf("WidthHeightRatio: got %f", r)
	}
}

func TestQuadTouchesBorder(t *testing.T) {
	inner := QuadFromRect(Rect{X: 20, Y: 20, Width: 60, Height: 60})
	if inner.TouchesBorder(100, 100, 10) {
		t.Error("inner quad should not touch border")
	}
	edge := QuadFromRect(Rect{X: 5, Y: 20, Width: 60, Height: 60})
	if !edge.TouchesBorder(100, 100, 10) {
		t.Error("quad at x=5 should touch border with margin 10")
	}
}

func TestHomographyRoundTrip(t *testing.T) {
	src := [4]Point2D{{12, 30}, {410, 18}, {430, 590}, {5, 610}}
	dst := [4]Point2D{{0, 0}, {400, 0}, {400, 560}, {0, 560}}

	h, err := ComputeHomography(src, dst)
	if err != nil {
		t.Fatalf("ComputeHomography failed: %v", err)
	}
	for i := range src {
		got := h.Apply(src[i])
		if got.Distance(dst[i]) > 1e-6 {
			t.Errorf("corner %d: got %v, want %v", i, got, dst[i])
		}
	}

	inv, err := h.Inverse()
	if err != nil {
		t.Fatalf("Inverse failed: %v", err)
	}
	samples := []Point2D{{100, 100}, {250, 300}, {20, 500}, {399, 1}}
	for _, p := range samples {
		back := inv.Apply(h.Apply(p))
		if back.Distance(p) > 1e-6 {
			t.Errorf("round trip of %v gave %v", p, back)
		}
	}
}

func TestLineIntersection(t *testing.T) {
	p, ok := LineIntersection(Point2D{0, 0}, Point2D{10, 10}, Point2D{0, 10}, Point2D{10, 0})
	if !ok || p.Distance(Point2D{5, 5}) > 1e-9 {
		t.Errorf("crossing diagonals: got %v ok=%v, want (5,5)", p, ok)
	}
	if _, ok := LineIntersection(Point2D{0, 0}, Point2D{10, 0}, Point2D{0, 5}, Point2D{10, 5}); ok {
		t.Error("parallel lines should not intersect")
	}
}
