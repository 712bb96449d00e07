package fusion

import (
	"math"
	"testing"

	"cardscan/internal/confidence"
	"cardscan/internal/detect"
	"cardscan/internal/raster"
	"cardscan/pkg/geometry"
)

var rawParams = detect.Params{MinArea: 0.25, MaxArea: 0.98, AspectMin: 1.30, AspectMax: 1.55, GlareTolerance: 12}

var cardQuad = geometry.QuadFromRect(geometry.Rect{X: 100, Y: 110, Width: 200, Height: 280})

// outline returns a 400x500 edge plane with the quad's bounding rectangle drawn.
func outline(r geometry.Rect) raster.Plane {
	p := raster.New(400, 500)
	x0, y0 := int(r.X), int(r.Y)
	x1, y1 := int(r.X+r.Width), int(r.Y+r.Height)
	for x := x0; x <= x1; x++ {
		p.Set(x, y0, 255)
		p.Set(x, y1, 255)
	}
	for y := y0; y <= y1; y++ {
		p.Set(x0, y, 255)
		p.Set(x1, y, 255)
	}
	return p
}

func TestScore_IdealRectangle(t *testing.T) {
	edges := outline(cardQuad.BoundingBox())
	glare := raster.New(400, 500)

	score, conf, b := Score(cardQuad, edges, glare, rawParams)
	if score < 95 {
		t.Errorf("score: got %.1f, want >= 95 (%+v)", score, b)
	}
	if conf != confidence.High {
		t.Errorf("confidence: got %s, want high", conf)
	}
	if b.AreaPenalty != 0 || b.GlarePenalty != 0 {
		t.Errorf("unexpected penalties: %+v", b)
	}
}

func TestScore_Deterministic(t *testing.T) {
	edges := outline(cardQuad.BoundingBox())
	edges.FillRect(100, 200, 101, 260, 0)
	glare := raster.New(400, 500)
	glare.FillRect(150, 100, 200, 120, 255)

	s1, c1, b1 := Score(cardQuad, edges, glare, rawParams)
	s2, c2, b2 := Score(cardQuad, edges, glare, rawParams)
	if s1 != s2 || c1 != c2 || b1 != b2 {
		t.Errorf("scores differ: %v/%v vs %v/%v", s1, b1, s2, b2)
	}
}

func TestScore_Penalties(t *testing.T) {
	tests := []struct {
		name      string
		quad      geometry.Quad
		glare     func() raster.Plane
		wantArea  bool
		wantGlare bool
	}{
		{
			name:  "clean",
			quad:  cardQuad,
			glare: func() raster.Plane { return raster.New(400, 500) },
		},
		{
			name: "glare over top edge",
			quad: cardQuad,
			glare: func() raster.Plane {
				g := raster.New(400, 500)
				g.FillRect(90, 100, 310, 120, 255)
				return g
			},
			wantGlare: true,
		},
		{
			name:     "too small",
			quad:     geometry.QuadFromRect(geometry.Rect{X: 180, Y: 200, Width: 50, Height: 70}),
			glare:    func() raster.Plane { return raster.New(400, 500) },
			wantArea: true,
		},
		{
			name:     "fills frame",
			quad:     geometry.QuadFromRect(geometry.Rect{X: 0, Y: 0, Width: 400, Height: 500}),
			glare:    func() raster.Plane { return raster.New(400, 500) },
			wantArea: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			edges := outline(tt.quad.BoundingBox())
			_, conf, b := Score(tt.quad, edges, tt.glare(), rawParams)
			if (b.AreaPenalty > 0) != tt.wantArea {
				t.Errorf("area penalty: got %.2f, want penalty=%v", b.AreaPenalty, tt.wantArea)
			}
			if (b.GlarePenalty > 0) != tt.wantGlare {
				t.Errorf("glare penalty: got %.2f, want penalty=%v", b.GlarePenalty, tt.wantGlare)
			}
			if tt.wantArea && conf == confidence.High {
				t.Error("area-penalized candidate must not be high confidence")
			}
			if b.GlarePenalty > MaxGlarePenalty || b.AreaPenalty > MaxAreaDeficit {
				t.Errorf("penalty above cap: %+v", b)
			}
		})
	}
}

func TestScore_NoEdges(t *testing.T) {
	score, conf, b := Score(cardQuad, raster.New(400, 500), raster.New(400, 500), rawParams)
	// rectangularity and aspect only
	if math.Abs(score-60) > 1e-6 {
		t.Errorf("score: got %.2f, want 60 (%+v)", score, b)
	}
	if conf != confidence.Medium {
		t.Errorf("confidence: got %s, want medium", conf)
	}
}

func TestAspectFit(t *testing.T) {
	tests := []struct {
		w, h float64
		want float64
	}{
		{200, 280, 20},
		{280, 200, 20},
		{200, 255, 15},
		{200, 320, 15},
		{200, 200, 6},
		{100, 400, 0},
	}
	for _, tt := range tests {
		q := geometry.QuadFromRect(geometry.Rect{X: 10, Y: 10, Width: tt.w, Height: tt.h})
		if got := aspectFit(q, 1.30, 1.55); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("aspectFit(%gx%g): got %.2f, want %.2f", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestBest(t *testing.T) {
	cands := []Candidate{
		{Detector: detect.LabChroma, Score: 72},
		{Detector: detect.FusedEdges, Score: 88},
		{Detector: detect.LSD, Score: 88},
		{Detector: detect.Hough, Score: 40},
	}
	best, ok := Best(cands)
	if !ok || best.Detector != detect.FusedEdges {
		t.Errorf("Best: got %s, want fused_edges (first of tied maximum)", best.Detector)
	}
	if _, ok := Best(nil); ok {
		t.Error("Best(nil) should report no candidate")
	}
}

func TestConfidenceBands(t *testing.T) {
	tests := []struct {
		score float64
		area  bool
		want  confidence.Level
	}{
		{95, false, confidence.High},
		{95, true, confidence.Medium},
		{60, false, confidence.Medium},
		{59.9, false, confidence.Low},
		{40, false, confidence.Low},
		{39, false, confidence.Unreliable},
	}
	for _, tt := range tests {
		if got := confidence.FromScore(tt.score, tt.area); got != tt.want {
			t.Errorf("FromScore(%.1f, %v): got %s, want %s", tt.score, tt.area, got, tt.want)
		}
	}
}
