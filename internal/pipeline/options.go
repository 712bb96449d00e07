package pipeline

import (
	"time"

	"cardscan/internal/casing"
	"cardscan/internal/config"
	"cardscan/internal/detect"
	"cardscan/internal/measure"
	"cardscan/internal/report"
)

// Options configures an analysis run.
type Options struct {
	MaxInputDim       int           // analysis image size cap
	DetectionMaxDim   int           // detection image size cap
	BorderMargin      int           // border-touch margin at detection scale
	ParallelDetectors bool          // fan detectors out to goroutines
	Timeout           time.Duration // per-card deadline; 0 disables it
	RefineHeight      int
	ComparableMargin  float64
	ReplaceBelow      float64
	FallbackInset     float64
	WarpHeight        int

	Casing  casing.Thresholds
	Measure measure.Options

	// Profile forces a profile by name; empty selects one per image.
	Profile string
	// Registry defaults to detect.DefaultRegistry when nil.
	Registry detect.Registry
	// Sink receives debug assets; nil discards them.
	Sink report.AssetSink
}

// DefaultOptions returns the options of a default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.NewDefaultConfig())
}

// OptionsFromConfig maps the [pipeline], [casing] and [measure] sections.
func OptionsFromConfig(cfg *config.Config) Options {
	p, m := cfg.Pipeline, cfg.Measure

	mo := measure.DefaultOptions()
	mo.CardHeightMM = m.CardHeightMM
	mo.MinBorderMM = m.MinBorderMM
	mo.MaxBorderMM = m.MaxBorderMM
	mo.GradientThreshold = m.GradientThreshold
	mo.StripWidth = m.StripWidth
	mo.Segments = m.Segments
	mo.WhiteningDeltaE = m.WhiteningDeltaE
	mo.CornerPatch = m.CornerPatch

	return Options{
		MaxInputDim:       p.MaxInputDim,
		DetectionMaxDim:   p.DetectionMaxDim,
		BorderMargin:      int(p.BorderMargin),
		ParallelDetectors: p.ParallelDetectors,
		Timeout:           time.Duration(p.TimeoutSec * float64(time.Second)),
		RefineHeight:      p.RefineHeight,
		ComparableMargin:  p.ComparableMargin,
		ReplaceBelow:      p.ReplaceBelow,
		FallbackInset:     p.FallbackInset,
		WarpHeight:        m.WarpHeight,
		Casing:            casing.Thresholds(cfg.Casing),
		Measure:           mo,
	}
}

func (o Options) registry() detect.Registry {
	if o.Registry == nil {
		return detect.DefaultRegistry()
	}
	return o.Registry
}

func (o Options) sink() report.AssetSink {
	if o.Sink == nil {
		return report.Discard{}
	}
	return o.Sink
}
