// Package measure extracts condition signals from a rectified card image:
// border centering, edge whitening, corner wear and surface blemishes.
package measure

import "cardscan/internal/confidence"

// Method says how centering was obtained.
type Method string

const (
	BorderPresent        Method = "border-present"
	DesignAnchorRequired Method = "design-anchor-required"
	Failed               Method = "failed"
)

// Centering holds border thickness means and left/right, top/bottom splits.
// Each ratio pair sums to 100.
type Centering struct {
	LRRatio            [2]float64       `json:"lr_ratio"`
	TBRatio            [2]float64       `json:"tb_ratio"`
	LeftBorderMeanPx   float64          `json:"left_border_mean_px"`
	RightBorderMeanPx  float64          `json:"right_border_mean_px"`
	TopBorderMeanPx    float64          `json:"top_border_mean_px"`
	BottomBorderMeanPx float64          `json:"bottom_border_mean_px"`
	MethodUsed         Method           `json:"method_used"`
	Confidence         confidence.Level `json:"confidence"`
	ValidationNotes    string           `json:"validation_notes"`
	FallbackMode       bool             `json:"fallback_mode"`
}

// FallbackWarning is appended to the notes of a centering measured on an
// approximate boundary.
const FallbackWarning = " | WARNING: Measuring full image, not card boundaries - OpenCV centering unreliable"

// MarkFallback flags c as measured without a detected card boundary.
func (c *Centering) MarkFallback() {
	c.Confidence = confidence.Unreliable
	c.FallbackMode = true
	c.ValidationNotes += FallbackWarning
}

// EdgeSegment is the whitening summary of one border segment.
type EdgeSegment struct {
	SegmentName       string  `json:"segment_name"`
	WhiteningLengthPx float64 `json:"whitening_length_px"`
	WhiteningCount    int     `json:"whitening_count"`
	ChipsCount        int     `json:"chips_count"`
	WhiteDotsCount    int     `json:"white_dots_count"`
}

// Corner is the wear summary of one corner patch.
type Corner struct {
	CornerName        string  `json:"corner_name"`
	RoundingRadiusPx  float64 `json:"rounding_radius_px"`
	WhiteningLengthPx float64 `json:"whitening_length_px"`
	WhiteDotsCount    int     `json:"white_dots_count"`
}

// Surface collects whole-card surface indicators.
type Surface struct {
	WhiteDotsCount          int        `json:"white_dots_count"`
	ScratchCount            int        `json:"scratch_count"`
	CreaseLikeCount         int        `json:"crease_like_count"`
	GlareCoveragePercent    float64    `json:"glare_coverage_percent"`
	FocusVariance           float64    `json:"focus_variance"`
	LightingUniformityScore float64    `json:"lighting_uniformity_score"`
	ColorBiasBGR            [3]float64 `json:"color_bias_bgr"`
}

// Options tune the measurements.
type Options struct {
	CardHeightMM      float64
	MinBorderMM       float64
	MaxBorderMM       float64
	GradientThreshold float64
	SampleMargin      int
	StripWidth        int
	Segments          int
	WhiteningDeltaE   float64
	CornerPatch       int
}

// DefaultOptions returns the standard measurement settings.
func DefaultOptions() Options {
	return Options{
		CardHeightMM:      88.9,
		MinBorderMM:       2,
		MaxBorderMM:       15,
		GradientThreshold: 10,
		SampleMargin:      24,
		StripWidth:        8,
		Segments:          3,
		WhiteningDeltaE:   8,
		CornerPatch:       80,
	}
}

// Sides in report order.
var Sides = []string{"top", "right", "bottom", "left"}
