package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"cardscan/internal/confidence"
	"cardscan/internal/detect"
	cardimage "cardscan/internal/image"
	"cardscan/internal/measure"
	"cardscan/internal/profile"
	"cardscan/internal/report"
	"cardscan/internal/warp"
	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

func solid(w, h int, v float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), h, w, gocv.MatTypeCV8UC3)
}

// createTinyCard puts a card covering under 3% of the frame on a dark mat.
func createTinyCard() gocv.Mat {
	img := solid(600, 840, 40)
	gocv.Rectangle(&img, image.Rect(250, 350, 350, 490), color.RGBA{R: 230, G: 140, B: 40}, -1)
	return img
}

// Slab layout used by the refinement tests: a colored card inside a black
// holder on a light table.
var (
	slabHolder = image.Rect(100, 100, 500, 700)
	slabCard   = image.Rect(150, 160, 450, 640)
)

// createSlab draws a colored card inside a black holder on a light table.
func createSlab(holder, card image.Rectangle) gocv.Mat {
	img := solid(600, 800, 200)
	gocv.Rectangle(&img, holder, color.RGBA{R: 20, G: 20, B: 20}, -1)
	gocv.Rectangle(&img, card, color.RGBA{R: 210, G: 120, B: 40}, -1)
	return img
}

func rectQuad(r image.Rectangle) geometry.Quad {
	return geometry.QuadFromRect(geometry.Rect{
		X: float64(r.Min.X), Y: float64(r.Min.Y), Width: float64(r.Dx()), Height: float64(r.Dy()),
	})
}

// createScreenshot draws status-bar-like rules into the top and bottom 8%.
func createScreenshot(w, h int) gocv.Mat {
	img := solid(w, h, 120)
	bar := int(float64(h) * 0.08)
	for _, y0 := range []int{0, h - bar} {
		for y := y0 + 2; y < y0+bar-2; y += 4 {
			gocv.Line(&img, image.Pt(0, y), image.Pt(w-1, y), color.RGBA{200, 200, 200, 0}, 1)
		}
	}
	return img
}

func toImage(t *testing.T, m gocv.Mat) image.Image {
	t.Helper()
	img, err := cardimage.ToImage(m)
	if err != nil {
		t.Fatalf("ToImage: %v", err)
	}
	return img
}

// fixedRegistry returns a registry whose only detector proposes q.
func fixedRegistry(id detect.ID, q geometry.Quad) detect.Registry {
	return detect.Registry{
		id: func(detect.Frame, detect.Params) (geometry.Quad, bool) { return q, true },
	}
}

func nearQuad(t *testing.T, got, want geometry.Quad, tol float64) {
	t.Helper()
	for i := range want {
		if d := got[i].Distance(want[i]); d > tol {
			t.Errorf("corner %d: got %v, want %v (off by %.1fpx)", i, got[i], want[i], d)
		}
	}
}

func TestDetectBoundary_TinyCardFallsBack(t *testing.T) {
	img := createTinyCard()
	defer img.Close()

	o := DefaultOptions()
	o.Profile = profile.RawOnMat.String()
	o.Registry = detect.DefaultRegistry()
	b, err := DetectBoundary(context.Background(), img, o)
	if err != nil {
		t.Fatalf("DetectBoundary: %v", err)
	}
	if !b.Fallback || b.Method != MethodFallback {
		t.Fatalf("expected fallback, got method %q with %d candidates", b.Method, len(b.Candidates))
	}
	if b.Confidence != confidence.Unreliable {
		t.Errorf("confidence: got %s", b.Confidence)
	}
	if len(b.Candidates) != 0 {
		t.Errorf("candidates: got %d, want 0", len(b.Candidates))
	}
	nearQuad(t, b.Quad, warp.FallbackQuad(600, 840, 0.05), 1e-6)

	if want := len(profile.For(profile.RawOnMat).Detectors); len(b.Outcomes) != want {
		t.Fatalf("outcomes: got %d, want %d", len(b.Outcomes), want)
	}
	for _, oc := range b.Outcomes {
		if oc.Found || oc.Rejected == "" {
			t.Errorf("%s: accepted a 3%% card", oc.Detector)
		}
		if oc.Rejected == "not registered" {
			t.Errorf("%s: not registered", oc.Detector)
		}
	}
}

func TestDetectBoundary_SlabRefinesToInnerCard(t *testing.T) {
	img := createSlab(slabHolder, slabCard)
	defer img.Close()

	o := DefaultOptions()
	o.Profile = profile.Slab.String()
	o.Registry = fixedRegistry(detect.LSD, rectQuad(slabHolder))

	b, err := DetectBoundary(context.Background(), img, o)
	if err != nil {
		t.Fatalf("DetectBoundary: %v", err)
	}
	if b.Profile.Kind != profile.Slab {
		t.Errorf("profile: got %s", b.Profile.Name())
	}
	if len(b.Candidates) != 1 {
		t.Fatalf("candidates: got %d, want 1", len(b.Candidates))
	}
	outer := b.Candidates[0].Score
	if outer < o.ReplaceBelow {
		t.Fatalf("holder scored %.1f, below the replacement floor", outer)
	}
	if !b.Refined || b.Method != "lsd+inner" {
		t.Fatalf("expected refinement, got method %q", b.Method)
	}
	if b.Score < outer-o.ComparableMargin {
		t.Errorf("inner score %.1f not comparable to outer %.1f", b.Score, outer)
	}
	nearQuad(t, b.Quad, rectQuad(slabCard), 8)
}

func TestDetectBoundary_SlabWithFullEnsemble(t *testing.T) {
	img := createSlab(slabHolder, slabCard)
	defer img.Close()

	o := DefaultOptions()
	o.Profile = profile.Slab.String()
	o.Registry = detect.DefaultRegistry()

	b, err := DetectBoundary(context.Background(), img, o)
	if err != nil {
		t.Fatalf("DetectBoundary: %v", err)
	}
	if b.Fallback {
		t.Fatal("unexpected fallback")
	}
	holder := rectQuad(slabHolder)
	foundHolder := false
	for _, c := range b.Candidates {
		near := true
		for i := range holder {
			if c.Quad[i].Distance(holder[i]) > 8 {
				near = false
			}
		}
		foundHolder = foundHolder || near
	}
	if !foundHolder {
		t.Errorf("no candidate at the holder outline among %d", len(b.Candidates))
	}
	nearQuad(t, b.Quad, rectQuad(slabCard), 10)
}

func TestDetectBoundary_InnerQuadOutsideProfileBounds(t *testing.T) {
	// The holder covers about 9% of the frame; the card inside it about 4%,
	// under the slab profile's 8% floor.
	holderRect := image.Rect(210, 275, 390, 525)
	cardRect := image.Rect(240, 315, 360, 485)
	img := createSlab(holderRect, cardRect)
	defer img.Close()

	o := DefaultOptions()
	o.Profile = profile.Slab.String()
	o.Registry = fixedRegistry(detect.LSD, rectQuad(holderRect))
	o.ReplaceBelow = 101

	b, err := DetectBoundary(context.Background(), img, o)
	if err != nil {
		t.Fatalf("DetectBoundary: %v", err)
	}
	if b.Fallback {
		t.Fatal("unexpected fallback")
	}
	if b.Refined || b.Method != "lsd" {
		t.Errorf("method: got %q, want the unrefined holder", b.Method)
	}
	nearQuad(t, b.Quad, rectQuad(holderRect), 1e-6)
	p := b.Profile
	if b.AreaRatio < p.MinArea || b.AreaRatio > p.MaxArea {
		t.Errorf("area ratio %.3f outside %.2f-%.2f", b.AreaRatio, p.MinArea, p.MaxArea)
	}
}

func TestDetectBoundary_NoRefinementForRawProfile(t *testing.T) {
	img := createSlab(slabHolder, slabCard)
	defer img.Close()

	holder := rectQuad(slabHolder)
	o := DefaultOptions()
	o.Profile = profile.RawOnMat.String()
	o.Registry = fixedRegistry(detect.FusedEdges, holder)

	b, err := DetectBoundary(context.Background(), img, o)
	if err != nil {
		t.Fatalf("DetectBoundary: %v", err)
	}
	if b.Refined || b.Method != "fused_edges" {
		t.Errorf("method: got %q", b.Method)
	}
	nearQuad(t, b.Quad, holder, 1e-6)
}

func TestDetectBoundary_ScreenshotOffset(t *testing.T) {
	img := createScreenshot(600, 900)
	defer img.Close()

	q := geometry.QuadFromRect(geometry.Rect{X: 100, Y: 100, Width: 400, Height: 600})
	o := DefaultOptions()
	o.Registry = fixedRegistry(detect.FusedEdges, q)

	b, err := DetectBoundary(context.Background(), img, o)
	if err != nil {
		t.Fatalf("DetectBoundary: %v", err)
	}
	if b.Profile.Kind != profile.PhoneScreenshot {
		t.Errorf("profile: got %s", b.Profile.Name())
	}
	if b.CropTop == 0 {
		t.Fatal("expected UI bars to be cropped")
	}
	nearQuad(t, b.Quad, q.Translate(0, float64(b.CropTop)), 1e-6)
}

func TestDetectBoundary_UnknownProfile(t *testing.T) {
	img := solid(100, 140, 90)
	defer img.Close()
	o := DefaultOptions()
	o.Profile = "shoebox"
	if _, err := DetectBoundary(context.Background(), img, o); err == nil {
		t.Error("expected an error for an unknown profile")
	}
}

func TestDetectBoundary_Cancelled(t *testing.T) {
	img := createTinyCard()
	defer img.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := DetectBoundary(ctx, img, DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestAnalyzeSide_Fallback(t *testing.T) {
	img := createTinyCard()
	defer img.Close()

	sink := &report.MemorySink{}
	o := DefaultOptions()
	o.Profile = profile.RawOnMat.String()
	o.Sink = sink

	sm := AnalyzeSide(context.Background(), toImage(t, img), "front", o)
	if sm.Failed() {
		t.Fatalf("side failed: %s", sm.Error)
	}
	if sm.SideLabel != "front" || sm.Height != o.WarpHeight {
		t.Errorf("side %q height %d", sm.SideLabel, sm.Height)
	}
	if !sm.Centering.FallbackMode || sm.Centering.Confidence != confidence.Unreliable {
		t.Errorf("centering: got %+v", sm.Centering)
	}
	if !strings.HasSuffix(sm.Centering.ValidationNotes, measure.FallbackWarning) {
		t.Errorf("notes: %q", sm.Centering.ValidationNotes)
	}
	if len(sm.Obstructions) == 0 || sm.Obstructions[0].Type != "no_quad_detected" {
		t.Errorf("obstructions: %+v", sm.Obstructions)
	}
	md := sm.DetectionMetadata
	if md == nil || !md.Fallback || md.Method != MethodFallback || md.Confidence != confidence.Unreliable {
		t.Errorf("metadata: %+v", md)
	}
	if md != nil && md.CandidatesTested != 0 {
		t.Errorf("candidates tested: got %d, want 0", md.CandidatesTested)
	}

	for _, key := range []string{report.AssetNormalized, report.AssetGlareMask, report.AssetOverlay, report.AssetCardMask} {
		if _, ok := sm.DebugAssets[key]; !ok {
			t.Errorf("missing asset %s", key)
		}
	}
	if len(sink.Names()) != 4 {
		t.Errorf("sink holds %v", sink.Names())
	}
	for _, side := range measure.Sides {
		if len(sm.EdgeSegments[side]) != o.Measure.Segments {
			t.Errorf("%s: %d segments", side, len(sm.EdgeSegments[side]))
		}
	}
	if len(sm.Corners) != 4 {
		t.Errorf("corners: %d", len(sm.Corners))
	}
}

func TestAnalyzeSide_Failures(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	small := solid(60, 80, 120)
	defer small.Close()

	tests := []struct {
		name     string
		ctx      context.Context
		img      image.Image
		fallback string
	}{
		{"empty image", context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 0)), FallbackRetake},
		{"cancelled", cancelled, toImage(t, small), FallbackRetryTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := AnalyzeSide(tt.ctx, tt.img, "back", DefaultOptions())
			if !sm.Failed() {
				t.Fatal("expected a failure result")
			}
			if sm.SuggestedFallback != tt.fallback {
				t.Errorf("fallback: got %q, want %q", sm.SuggestedFallback, tt.fallback)
			}
			if sm.SideLabel != "back" || sm.Centering.MethodUsed != measure.Failed {
				t.Errorf("got %+v", sm)
			}
		})
	}
}

func TestAnalyzeSide_DetectorPanicFallsBack(t *testing.T) {
	img := solid(300, 420, 90)
	defer img.Close()

	o := DefaultOptions()
	o.Profile = profile.RawOnMat.String()
	o.Registry = detect.Registry{
		detect.FusedEdges: func(detect.Frame, detect.Params) (geometry.Quad, bool) { panic("boom") },
	}
	sm := AnalyzeSide(context.Background(), toImage(t, img), "front", o)
	if sm.Failed() {
		t.Fatalf("unexpected failure: %s", sm.Error)
	}
	if sm.DetectionMetadata == nil || !sm.DetectionMetadata.Fallback {
		t.Errorf("metadata: %+v", sm.DetectionMetadata)
	}
}

func TestAnalyzeCard(t *testing.T) {
	if _, err := AnalyzeCard(context.Background(), nil, nil, "r", DefaultOptions()); !errors.Is(err, ErrNoSides) {
		t.Fatalf("got %v, want ErrNoSides", err)
	}

	img := createTinyCard()
	defer img.Close()
	o := DefaultOptions()
	o.Profile = profile.RawOnMat.String()

	out, err := AnalyzeCard(context.Background(), toImage(t, img), nil, "run-7", o)
	if err != nil {
		t.Fatalf("AnalyzeCard: %v", err)
	}
	if out.RunID != "run-7" || out.Version != "stage1_opencv_v1.0" {
		t.Errorf("header: %+v", out)
	}
	if out.Front == nil || out.Front.SideLabel != "front" {
		t.Fatalf("front: %+v", out.Front)
	}
	if out.Back != nil {
		t.Errorf("back: got %+v, want nil", out.Back)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	o := DefaultOptions()
	if o.MaxInputDim != 2200 || o.DetectionMaxDim != 1200 || o.WarpHeight != 1600 {
		t.Errorf("sizes: %+v", o)
	}
	if o.ComparableMargin != 2 || o.ReplaceBelow != 60 || o.FallbackInset != 0.05 {
		t.Errorf("refinement: %+v", o)
	}
	if o.Measure != measure.DefaultOptions() {
		t.Errorf("measure: got %+v", o.Measure)
	}
	if o.Timeout.Seconds() != 60 {
		t.Errorf("timeout: %v", o.Timeout)
	}
}
