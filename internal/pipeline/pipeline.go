// Package pipeline runs the per-side analysis: normalization, boundary
// detection, rectification, casing detection, measurement and reporting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"sync"

	"cardscan/internal/casing"
	"cardscan/internal/cvutil"
	cardimage "cardscan/internal/image"
	"cardscan/internal/measure"
	"cardscan/internal/preprocess"
	"cardscan/internal/report"
	"cardscan/internal/warp"

	"gocv.io/x/gocv"
)

// ErrNoSides is returned by AnalyzeCard when neither side has an image.
var ErrNoSides = errors.New("pipeline: no sides to analyze")

// Suggested fallbacks reported with a failed side.
const (
	FallbackRetake       = "retake_photo"
	FallbackRetryTimeout = "retry_with_longer_timeout"
	FallbackManualReview = "manual_review"
)

// AnalyzeCard analyzes the front and back concurrently. Either image may be
// nil, but not both.
func AnalyzeCard(ctx context.Context, front, back image.Image, runID string, o Options) (*report.CombinedMetrics, error) {
	if front == nil && back == nil {
		return nil, ErrNoSides
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	out := report.NewCombined(runID)
	var wg sync.WaitGroup
	run := func(img image.Image, label string, dst **report.SideMetrics) {
		if img == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			*dst = AnalyzeSide(ctx, img, label, o)
		}()
	}
	run(front, cardimage.SideFront.String(), &out.Front)
	run(back, cardimage.SideBack.String(), &out.Back)
	wg.Wait()
	return out, nil
}

// AnalyzeSide analyzes one card face. It never fails: errors and panics
// become a SideMetrics carrying Error and SuggestedFallback.
func AnalyzeSide(ctx context.Context, img image.Image, label string, o Options) (sm *report.SideMetrics) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("side analysis panicked", "side", label, "panic", r, "stack", string(debug.Stack()))
			sm = report.FailedSide(label, fmt.Errorf("panic: %v", r), FallbackManualReview)
		}
	}()

	sm, err := analyzeSide(ctx, img, label, o)
	if err != nil {
		slog.Error("side analysis failed", "side", label, "error", err)
		return report.FailedSide(label, err, suggestFallback(err))
	}
	return sm
}

func suggestFallback(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return FallbackRetryTimeout
	case errors.Is(err, cardimage.ErrEmptyImage):
		return FallbackRetake
	default:
		return FallbackManualReview
	}
}

func analyzeSide(ctx context.Context, img image.Image, label string, o Options) (*report.SideMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := cardimage.ToMat(img)
	if err != nil {
		return nil, fmt.Errorf("convert %s image: %w", label, err)
	}
	defer src.Close()

	resized, _ := cvutil.ResizeMax(src, o.MaxInputDim)
	defer resized.Close()
	normalized := preprocess.Normalize(resized)
	defer normalized.Close()

	b, err := DetectBoundary(ctx, normalized, o)
	if err != nil {
		return nil, fmt.Errorf("detect %s boundary: %w", label, err)
	}

	rect, err := warp.Rectify(resized, b.Quad, o.WarpHeight)
	if err != nil && !b.Fallback {
		slog.Warn("rectify failed, using fallback quad", "side", label, "error", err)
		b.Quad = warp.FallbackQuad(resized.Cols(), resized.Rows(), o.FallbackInset)
		b.Fallback = true
		rect, err = warp.Rectify(resized, b.Quad, o.WarpHeight)
	}
	if err != nil {
		return nil, fmt.Errorf("rectify %s: %w", label, err)
	}
	defer rect.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sm, err := measureSide(rect, b, label, o)
	if err != nil {
		return nil, err
	}
	slog.Info("side analyzed",
		"side", label, "profile", b.Profile.Name(), "method", b.Method,
		"centering", sm.Centering.MethodUsed, "fallback", b.Fallback)
	return sm, nil
}

func measureSide(rect warp.Result, b Boundary, label string, o Options) (*report.SideMetrics, error) {
	warped := rect.Warped
	glare := preprocess.GlareMask(warped)
	defer glare.Close()

	verdict, _, err := casing.Detect(warped, o.Casing)
	if err != nil {
		slog.Warn("casing check on rectified card failed", "side", label, "error", err)
	}

	centering, err := measure.CenteringFromImage(warped, o.Measure)
	if err != nil {
		return nil, fmt.Errorf("centering: %w", err)
	}
	if b.Fallback {
		centering.MarkFallback()
	}
	edges, err := measure.EdgeWhitening(warped, o.Measure)
	if err != nil {
		return nil, fmt.Errorf("edge whitening: %w", err)
	}
	corners, err := measure.Corners(warped, o.Measure)
	if err != nil {
		return nil, fmt.Errorf("corners: %w", err)
	}
	surface, err := measure.SurfaceMetrics(warped, glare)
	if err != nil {
		return nil, fmt.Errorf("surface: %w", err)
	}

	overlay := report.DrawOverlay(warped, edges, corners, glare)
	defer overlay.Close()
	assets, err := report.WriteAssets(o.sink(), label, map[string]gocv.Mat{
		report.AssetNormalized: warped,
		report.AssetGlareMask:  glare,
		report.AssetOverlay:    overlay,
		report.AssetCardMask:   rect.Mask,
	})
	if err != nil {
		slog.Warn("debug assets not written", "side", label, "error", err)
	}

	return &report.SideMetrics{
		SideLabel:          label,
		Width:              rect.Width,
		Height:             rect.Height,
		Centering:          centering,
		EdgeSegments:       edges,
		Corners:            corners,
		Surface:            surface,
		SleeveIndicator:    verdict.Sleeve,
		TopLoaderIndicator: verdict.TopLoader,
		SlabIndicator:      verdict.Slab,
		GlareMaskPercent:   surface.GlareCoveragePercent,
		Obstructions:       obstructions(b),
		DebugAssets:        assets,
		DetectionMetadata: &report.DetectionMetadata{
			Profile:          b.Profile.Name(),
			Method:           b.Method,
			Score:            b.Score,
			Confidence:       b.Confidence,
			CandidatesTested: len(b.Candidates),
			AreaRatio:        b.AreaRatio,
			Fallback:         b.Fallback,
		},
	}, nil
}

func obstructions(b Boundary) []report.Obstruction {
	out := []report.Obstruction{}
	if b.Fallback {
		out = append(out, report.Obstruction{Zone: "full", Type: "no_quad_detected", Action: "fallback_full_image"})
	}
	if b.Preflight.UIBars.Top {
		out = append(out, report.Obstruction{Zone: "top", Type: "ui_bar", Action: "cropped"})
	}
	if b.Preflight.UIBars.Bottom {
		out = append(out, report.Obstruction{Zone: "bottom", Type: "ui_bar", Action: "cropped"})
	}
	return out
}
