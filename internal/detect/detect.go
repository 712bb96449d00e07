// Package detect runs the boundary detector ensemble. Each detector proposes
// at most one quadrilateral in detection-scale coordinates; proposals are
// validated here and scored by the fusion package.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cardscan/internal/raster"
	"cardscan/pkg/geometry"

	"gocv.io/x/gocv"
)

// Validation bounds applied to every proposal.
const (
	MinWidthHeight = 0.35
	MaxWidthHeight = 1.8
	DefaultMargin  = 10
)

// Params are the profile-derived bounds a detector run needs.
type Params struct {
	MinArea        float64
	MaxArea        float64
	AspectMin      float64
	AspectMax      float64
	GlareTolerance float64
	// Border margin in detection-scale pixels; 0 uses DefaultMargin.
	Margin int
}

func (p Params) margin() int {
	if p.Margin <= 0 {
		return DefaultMargin
	}
	return p.Margin
}

// Frame is the shared read-only input of one ensemble run. Detectors must not
// modify or close its Mats.
type Frame struct {
	// Image is the normalized BGR image at detection scale.
	Image gocv.Mat
	// Edges is the enhanced edge map of Image.
	Edges gocv.Mat
	// Glare is the glare mask of Image.
	Glare gocv.Mat
	// Ratio maps detection-scale coordinates to the analysis image.
	Ratio float64
}

// Size returns the frame width and height.
func (f Frame) Size() (int, int) {
	return f.Image.Cols(), f.Image.Rows()
}

// Func proposes a quad for frame f, or reports false when it finds none.
type Func func(f Frame, p Params) (geometry.Quad, bool)

// Registry maps detector IDs to their implementations.
type Registry map[ID]Func

// DefaultRegistry returns the seven built-in detectors.
func DefaultRegistry() Registry {
	return Registry{
		FusedEdges: DetectFusedEdges,
		LSD:        DetectLSD,
		Hough:      DetectHough,
		GrabCut:    DetectGrabCut,
		ColorSeg:   DetectColorSeg,
		LabChroma:  DetectLabChroma,
		Saliency:   DetectSaliency,
	}
}

// Subset returns the part of reg named by names. An unknown or
// unregistered name is an error.
func (reg Registry) Subset(names []string) (Registry, error) {
	out := Registry{}
	for _, name := range names {
		id, err := ParseID(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		fn, ok := reg[id]
		if !ok {
			return nil, fmt.Errorf("detector %q not registered", name)
		}
		out[id] = fn
	}
	return out, nil
}

// Proposal is a validated detector output.
type Proposal struct {
	Detector ID
	Quad     geometry.Quad
}

// Outcome records what one detector produced, for diagnostics.
type Outcome struct {
	Detector ID
	Found    bool
	Rejected string
}

// ErrNoQuad is returned by Validate for an empty proposal.
var ErrNoQuad = errors.New("no quadrilateral")

// Validate checks a detection-scale quad against the frame and profile
// bounds. The returned error names the first rule that failed.
func Validate(q geometry.Quad, w, h int, p Params) error {
	if !q.IsConvex() {
		return errors.New("not convex")
	}
	if q.TouchesBorder(float64(w), float64(h), float64(p.margin())) {
		return errors.New("touches image border")
	}
	ar := q.WidthHeightRatio()
	if ar < MinWidthHeight || ar > MaxWidthHeight {
		return fmt.Errorf("aspect %.2f outside %.2f-%.2f", ar, MinWidthHeight, MaxWidthHeight)
	}
	frame := float64(w * h)
	if frame <= 0 {
		return ErrNoQuad
	}
	area := q.Area() / frame
	if area < p.MinArea || area > p.MaxArea {
		return fmt.Errorf("area ratio %.3f outside %.2f-%.2f", area, p.MinArea, p.MaxArea)
	}
	return nil
}

// Run executes every detector in ids against f and returns the proposals
// that pass Validate, in ids order. Detectors run concurrently when parallel
// is set; the result order never depends on scheduling. A cancelled context
// stops detectors that have not started yet and returns ctx.Err().
func Run(ctx context.Context, f Frame, p Params, ids []ID, reg Registry, parallel bool) ([]Proposal, []Outcome, error) {
	w, h := f.Size()
	outcomes := make([]Outcome, len(ids))
	quads := make([]geometry.Quad, len(ids))

	runOne := func(i int) {
		id := ids[i]
		outcomes[i].Detector = id
		fn, ok := reg[id]
		if !ok {
			outcomes[i].Rejected = "not registered"
			return
		}
		q, found := safeCall(fn, f, p)
		if !found {
			outcomes[i].Rejected = "no candidate"
			return
		}
		if err := Validate(q, w, h, p); err != nil {
			outcomes[i].Rejected = err.Error()
			return
		}
		outcomes[i].Found = true
		quads[i] = q
	}

	if parallel {
		var wg sync.WaitGroup
		for i := range ids {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if ctx.Err() != nil {
					return
				}
				runOne(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range ids {
			if ctx.Err() != nil {
				break
			}
			runOne(i)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, outcomes, err
	}

	var out []Proposal
	for i, o := range outcomes {
		if o.Found {
			out = append(out, Proposal{Detector: o.Detector, Quad: quads[i]})
		} else {
			slog.Debug("detector rejected", "detector", o.Detector, "reason", o.Rejected)
		}
	}
	return out, outcomes, nil
}

// safeCall runs fn and turns a panic inside a detector into "no candidate".
func safeCall(fn Func, f Frame, p Params) (q geometry.Quad, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("detector panicked", "panic", r)
			ok = false
		}
	}()
	q, ok = fn(f, p)
	if ok {
		q = q.Ordered()
	}
	return q, ok
}

// GrayPlane copies the grayscale version of img into a raster plane.
func GrayPlane(img gocv.Mat) (raster.Plane, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	if img.Channels() == 1 {
		img.CopyTo(&gray)
	} else {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}
	return raster.FromMat(gray)
}
