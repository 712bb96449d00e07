package refine

import (
	"image"
	"image/color"
	"testing"

	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

// createSlab draws a colored card inside a black holder on a light table.
func createSlab() gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 200, 200, 0), 800, 600, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&img, image.Rect(100, 100, 500, 700), color.RGBA{R: 20, G: 20, B: 20}, -1)
	gocv.Rectangle(&img, image.Rect(150, 160, 450, 640), color.RGBA{R: 210, G: 120, B: 40}, -1)
	return img
}

func TestInner_Slab(t *testing.T) {
	img := createSlab()
	defer img.Close()

	outer := geometry.QuadFromRect(geometry.Rect{X: 100, Y: 100, Width: 400, Height: 600})
	res, ok := Inner(img, outer, 1, 1500)
	if !ok {
		t.Fatal("expected an inner quad")
	}
	if res.Strategy != LabChroma {
		t.Errorf("strategy: got %s, want lab_chroma", res.Strategy)
	}

	want := geometry.QuadFromRect(geometry.Rect{X: 150, Y: 160, Width: 300, Height: 480})
	for i := range want {
		if d := res.Quad[i].Distance(want[i]); d > 6 {
			t.Errorf("corner %d: got %v, want %v (off by %.1fpx)", i, res.Quad[i], want[i], d)
		}
	}
	if res.AreaRatio < MinInnerArea || res.AreaRatio > MaxInnerArea {
		t.Errorf("area ratio %.2f outside bounds", res.AreaRatio)
	}
}

func TestInner_DepthZero(t *testing.T) {
	img := createSlab()
	defer img.Close()
	outer := geometry.QuadFromRect(geometry.Rect{X: 100, Y: 100, Width: 400, Height: 600})
	if _, ok := Inner(img, outer, 0, 1500); ok {
		t.Error("depth 0 must not refine")
	}
}

func TestInner_NoNestedCard(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(15, 15, 15, 0), 800, 600, gocv.MatTypeCV8UC3)
	defer img.Close()
	outer := geometry.QuadFromRect(geometry.Rect{X: 100, Y: 100, Width: 400, Height: 600})
	if res, ok := Inner(img, outer, 2, 1500); ok {
		t.Errorf("unexpected inner quad %v from %s", res.Quad, res.Strategy)
	}
}

func TestShouldReplace(t *testing.T) {
	tests := []struct {
		name         string
		outer, inner float64
		want         bool
	}{
		{"inner better", 70, 85, true},
		{"inner comparable", 80, 78.5, true},
		{"inner worse", 90, 70, false},
		{"weak outer", 55, 30, true},
		{"outer at threshold", 60, 30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldReplace(tt.outer, tt.inner, 2, 60); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
