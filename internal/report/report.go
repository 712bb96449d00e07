// Package report defines the JSON metrics model and writes debug assets.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"cardscan/internal/confidence"
	"cardscan/internal/measure"
	"cardscan/internal/version"
)

// Obstruction notes a region or condition that limited the analysis.
type Obstruction struct {
	Zone   string `json:"zone"`
	Type   string `json:"type"`
	Action string `json:"action"`
}

// DetectionMetadata describes how the card boundary was found.
type DetectionMetadata struct {
	Profile          string           `json:"profile"`
	Method           string           `json:"method"`
	Score            float64          `json:"score"`
	Confidence       confidence.Level `json:"confidence"`
	CandidatesTested int              `json:"candidates_tested"`
	AreaRatio        float64          `json:"area_ratio"`
	Fallback         bool             `json:"fallback"`
}

// SideMetrics is the full analysis of one card face.
type SideMetrics struct {
	SideLabel          string                           `json:"side_label"`
	Width              int                              `json:"width"`
	Height             int                              `json:"height"`
	Centering          measure.Centering                `json:"centering"`
	EdgeSegments       map[string][]measure.EdgeSegment `json:"edge_segments"`
	Corners            []measure.Corner                 `json:"corners"`
	Surface            measure.Surface                  `json:"surface"`
	SleeveIndicator    bool                             `json:"sleeve_indicator"`
	TopLoaderIndicator bool                             `json:"top_loader_indicator"`
	SlabIndicator      bool                             `json:"slab_indicator"`
	GlareMaskPercent   float64                          `json:"glare_mask_percent"`
	Obstructions       []Obstruction                    `json:"obstructions"`
	DebugAssets        map[string]string                `json:"debug_assets"`
	DetectionMetadata  *DetectionMetadata               `json:"detection_metadata,omitempty"`

	// Set only when the side could not be analyzed.
	Error             string `json:"error,omitempty"`
	SuggestedFallback string `json:"suggested_fallback,omitempty"`
}

// Failed reports whether the side carries an analysis error.
func (s *SideMetrics) Failed() bool {
	return s != nil && s.Error != ""
}

// CombinedMetrics holds both faces of one analysis run.
type CombinedMetrics struct {
	Version string       `json:"version"`
	RunID   string       `json:"run_id"`
	Front   *SideMetrics `json:"front"`
	Back    *SideMetrics `json:"back"`
}

// NewCombined returns an empty result tagged with the metrics version.
func NewCombined(runID string) *CombinedMetrics {
	return &CombinedMetrics{Version: version.MetricsVersion, RunID: runID}
}

// FailedSide builds the structured result for a side whose analysis aborted.
func FailedSide(label string, err error, fallback string) *SideMetrics {
	return &SideMetrics{
		SideLabel: label,
		Centering: measure.Centering{
			LRRatio:         [2]float64{50, 50},
			TBRatio:         [2]float64{50, 50},
			MethodUsed:      measure.Failed,
			Confidence:      confidence.Unreliable,
			ValidationNotes: "analysis failed",
			FallbackMode:    true,
		},
		EdgeSegments:      map[string][]measure.EdgeSegment{},
		Corners:           []measure.Corner{},
		Obstructions:      []Obstruction{{Zone: "full", Type: "analysis_error", Action: fallback}},
		DebugAssets:       map[string]string{},
		Error:             err.Error(),
		SuggestedFallback: fallback,
	}
}

// Serialize writes m as indented JSON.
func Serialize(w io.Writer, m *CombinedMetrics) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	return nil
}
