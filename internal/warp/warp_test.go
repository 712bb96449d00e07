package warp

import (
	"image"
	"image/color"
	"math"
	"testing"

	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

func TestSize(t *testing.T) {
	tests := []struct {
		name         string
		quad         geometry.Quad
		height       int
		wantW, wantH int
		wantErr      bool
	}{
		{"portrait card", geometry.QuadFromRect(geometry.Rect{X: 10, Y: 10, Width: 250, Height: 350}), 1600, 1142, 1600, false},
		{"keystone uses longer edges", geometry.Quad{{X: 20, Y: 0}, {X: 220, Y: 0}, {X: 240, Y: 300}, {X: 0, Y: 300}}, 300, 240, 300, false},
		{"degenerate", geometry.Quad{}, 1600, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := Size(tt.quad, tt.height)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("size: got %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestRectify(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 400, 300, gocv.MatTypeCV8UC3)
	defer img.Close()
	card := image.Rect(50, 60, 250, 340)
	gocv.Rectangle(&img, card, color.RGBA{R: 200, G: 200, B: 200}, -1)
	// marker in the card's top-left region
	gocv.Rectangle(&img, image.Rect(60, 70, 90, 100), color.RGBA{R: 255}, -1)

	q := geometry.QuadFromRect(geometry.Rect{X: 50, Y: 60, Width: 200, Height: 280})
	res, err := Rectify(img, q, 560)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()

	if res.Height != 560 || res.Width != 400 {
		t.Fatalf("size: got %dx%d, want 400x560", res.Width, res.Height)
	}
	if res.Warped.Rows() != 560 || res.Warped.Cols() != 400 {
		t.Errorf("warped mat: got %dx%d", res.Warped.Cols(), res.Warped.Rows())
	}
	if gocv.CountNonZero(res.Mask) != 400*560 {
		t.Error("mask should cover the whole rectified raster")
	}

	// The marker at (75, 85) in the source lands near (50, 50) after a 2x scale.
	px := res.Warped.GetVecbAt(50, 50)
	if px[2] < 200 || px[1] > 60 {
		t.Errorf("marker pixel: got BGR %v, want red", px)
	}
	center := res.Warped.GetVecbAt(280, 200)
	if center[0] < 180 {
		t.Errorf("center pixel: got BGR %v, want card gray", center)
	}

	back := res.Inverse.Apply(res.H.Apply(geometry.Point2D{X: 123, Y: 234}))
	if math.Abs(back.X-123) > 1e-6 || math.Abs(back.Y-234) > 1e-6 {
		t.Errorf("round trip: got %v", back)
	}
}

func TestFallbackQuad(t *testing.T) {
	q := FallbackQuad(1000, 2000, 0.05)
	want := geometry.Quad{{X: 50, Y: 100}, {X: 950, Y: 100}, {X: 950, Y: 1900}, {X: 50, Y: 1900}}
	for i := range q {
		if q[i].Distance(want[i]) > 1e-9 {
			t.Errorf("corner %d: got %v, want %v", i, q[i], want[i])
		}
	}
	if !q.IsConvex() {
		t.Error("fallback quad must be convex")
	}
}
