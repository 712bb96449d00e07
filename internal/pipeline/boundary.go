package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"cardscan/internal/casing"
	"cardscan/internal/confidence"
	"cardscan/internal/cvutil"
	"cardscan/internal/detect"
	"cardscan/internal/fusion"
	"cardscan/internal/preflight"
	"cardscan/internal/preprocess"
	"cardscan/internal/profile"
	"cardscan/internal/raster"
	"cardscan/internal/refine"
	"cardscan/internal/warp"
	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

// MethodFallback names the boundary of a run where no candidate survived.
const MethodFallback = "fallback"

// Boundary is the card outline found in an analysis image.
type Boundary struct {
	// Quad is in the coordinates of the image passed to DetectBoundary.
	Quad       geometry.Quad
	Profile    profile.Profile
	Method     string
	Score      float64
	Confidence confidence.Level
	// AreaRatio is the quad area over the searched frame area.
	AreaRatio  float64
	Fallback   bool
	Refined    bool
	Candidates []fusion.Candidate
	Outcomes   []detect.Outcome
	Preflight  preflight.Signals
	// Casing is the vote taken on the whole normalized image.
	Casing casing.Verdict
	// CropTop is the number of UI-bar rows removed before detection.
	CropTop int
}

// DetectBoundary selects a profile for the normalized image, runs the
// detector ensemble at detection scale, scores every proposal and optionally
// refines the winner to the inner card. When no proposal survives it returns
// the inset fallback quad flagged unreliable. Only a cancelled context
// produces an error.
func DetectBoundary(ctx context.Context, img gocv.Mat, o Options) (Boundary, error) {
	if img.Empty() {
		return Boundary{}, fmt.Errorf("detect boundary: empty image")
	}
	w, h := img.Cols(), img.Rows()

	verdict, _, err := casing.Detect(img, o.Casing)
	if err != nil {
		slog.Warn("casing pre-check failed", "error", err)
	}
	sig := preflight.Run(img)
	prof, err := selectProfile(o.Profile, verdict, sig)
	if err != nil {
		return Boundary{}, err
	}

	cropped, top := preflight.CropUIBars(img, sig.UIBars)
	defer cropped.Close()

	det, ratio := cvutil.ResizeMax(cropped, o.DetectionMaxDim)
	defer det.Close()
	glare := preprocess.GlareMask(det)
	defer glare.Close()
	edges := detect.EnhancedEdges(det, glare)
	defer edges.Close()

	if err := ctx.Err(); err != nil {
		return Boundary{}, err
	}

	params := prof.Params()
	params.Margin = o.BorderMargin
	frame := detect.Frame{Image: det, Edges: edges, Glare: glare, Ratio: ratio}
	props, outcomes, err := detect.Run(ctx, frame, params, prof.Detectors, o.registry(), o.ParallelDetectors)
	if err != nil {
		return Boundary{}, err
	}

	edgePlane, err := raster.FromMat(edges)
	if err != nil {
		return Boundary{}, fmt.Errorf("detect boundary: %w", err)
	}
	glarePlane, err := raster.FromMat(glare)
	if err != nil {
		return Boundary{}, fmt.Errorf("detect boundary: %w", err)
	}

	b := Boundary{
		Profile:   prof,
		Outcomes:  outcomes,
		Preflight: sig,
		Casing:    verdict,
		CropTop:   top,
	}
	b.Candidates = fusion.ScoreAll(props, edgePlane, glarePlane, params)

	best, ok := fusion.Best(b.Candidates)
	if !ok {
		b.Quad = warp.FallbackQuad(w, h, o.FallbackInset)
		b.Method = MethodFallback
		b.Confidence = confidence.Unreliable
		b.AreaRatio = b.Quad.Area() / float64(w*h)
		b.Fallback = true
		slog.Warn("no boundary candidate survived, using fallback quad",
			"profile", prof.Name(), "detectors", len(outcomes))
		return b, nil
	}

	q := best.Quad
	b.Method = best.Detector.String()
	b.Score = best.Score
	b.Confidence = best.Confidence

	dw, dh := det.Cols(), det.Rows()
	if prof.RefineDepth > 0 {
		if err := ctx.Err(); err != nil {
			return Boundary{}, err
		}
		res, ok := refine.Inner(cropped, q.Scale(ratio), prof.RefineDepth, o.RefineHeight)
		var inner geometry.Quad
		if ok {
			inner = res.Quad.Scale(1 / ratio).Ordered()
			if err := detect.Validate(inner, dw, dh, params); err != nil {
				slog.Debug("inner refinement rejected", "strategy", res.Strategy, "reason", err)
				ok = false
			}
		}
		if ok {
			score, conf, _ := fusion.Score(inner, edgePlane, glarePlane, params)
			replace := refine.ShouldReplace(best.Score, score, o.ComparableMargin, o.ReplaceBelow)
			slog.Debug("inner refinement",
				"strategy", res.Strategy, "outer_score", best.Score, "inner_score", score, "replace", replace)
			if replace {
				q = inner
				b.Method += "+inner"
				b.Score = score
				b.Confidence = conf
				b.Refined = true
			}
		}
	}

	b.AreaRatio = q.Area() / float64(dw*dh)
	b.Quad = q.Scale(ratio).Translate(0, float64(top)).Clamp(float64(w-1), float64(h-1))

	slog.Info("boundary detected",
		"profile", prof.Name(), "method", b.Method, "score", b.Score,
		"confidence", b.Confidence, "candidates", len(b.Candidates))
	return b, nil
}

func selectProfile(forced string, v casing.Verdict, sig preflight.Signals) (profile.Profile, error) {
	if forced != "" {
		k, err := profile.ParseKind(forced)
		if err != nil {
			return profile.Profile{}, fmt.Errorf("detect boundary: %w", err)
		}
		return profile.For(k), nil
	}
	return profile.Select(profile.Evidence{
		Slab:         v.Slab,
		Sleeve:       v.Sleeve,
		TopLoader:    v.TopLoader,
		Translucent:  sig.Translucent,
		UIBars:       sig.UIBars.Present(),
		Foil:         sig.Foil,
		TextureScore: sig.TextureScore,
	}), nil
}
