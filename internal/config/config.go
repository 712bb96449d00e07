// Package config loads the cardscan TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

const appName = "cardscan"

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Casing   CasingConfig   `toml:"casing"`
	Measure  MeasureConfig  `toml:"measure"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type ServerConfig struct {
	Addr               string `toml:"addr"`
	MaxUploadMB        int64  `toml:"max_upload_mb"`
	DownloadTimeoutSec int    `toml:"download_timeout_sec"`
	AssetDir           string `toml:"asset_dir"`
}

type PipelineConfig struct {
	MaxInputDim       int     `toml:"max_input_dim"`
	DetectionMaxDim   int     `toml:"detection_max_dim"`
	BorderMargin      float64 `toml:"border_margin"`
	ParallelDetectors bool    `toml:"parallel_detectors"`
	TimeoutSec        float64 `toml:"timeout_sec"`
	RefineHeight      int     `toml:"refine_height"`
	ComparableMargin  float64 `toml:"comparable_margin"`
	ReplaceBelow      float64 `toml:"replace_below"`
	FallbackInset     float64 `toml:"fallback_inset"`
}

// CasingConfig holds the calibration bands of the casing vote.
// Field order and types match casing.Thresholds so the two convert directly.
type CasingConfig struct {
	SleeveEdgeMin        float64 `toml:"sleeve_edge_min"`
	SleeveEdgeMax        float64 `toml:"sleeve_edge_max"`
	SleeveGlareLowMin    float64 `toml:"sleeve_glare_low_min"`
	SleeveGlareLowMax    float64 `toml:"sleeve_glare_low_max"`
	SleeveGlareHighMin   float64 `toml:"sleeve_glare_high_min"`
	SleeveGlareHighMax   float64 `toml:"sleeve_glare_high_max"`
	SleeveColorStdMin    float64 `toml:"sleeve_color_std_min"`
	SleeveColorStdMax    float64 `toml:"sleeve_color_std_max"`
	TopLoaderEdgeMin     float64 `toml:"top_loader_edge_min"`
	TopLoaderGlareMin    float64 `toml:"top_loader_glare_min"`
	TopLoaderGlareMax    float64 `toml:"top_loader_glare_max"`
	TopLoaderColorStdMax float64 `toml:"top_loader_color_std_max"`
	SlabEdgeMin          float64 `toml:"slab_edge_min"`
	SlabGlareMin         float64 `toml:"slab_glare_min"`
	SlabColorStdMax      float64 `toml:"slab_color_std_max"`
	VerticalLineMin      float64 `toml:"vertical_line_min"`
	EdgeWeight           int     `toml:"edge_weight"`
	GlareWeight          int     `toml:"glare_weight"`
	LineWeight           int     `toml:"line_weight"`
	ColorWeight          int     `toml:"color_weight"`
	SlabColorWeight      int     `toml:"slab_color_weight"`
	VoteThreshold        int     `toml:"vote_threshold"`
	SleevePreferGlareMax float64 `toml:"sleeve_prefer_glare_max"`
}

type MeasureConfig struct {
	WarpHeight        int     `toml:"warp_height"`
	CardHeightMM      float64 `toml:"card_height_mm"`
	MinBorderMM       float64 `toml:"min_border_mm"`
	MaxBorderMM       float64 `toml:"max_border_mm"`
	GradientThreshold float64 `toml:"gradient_threshold"`
	StripWidth        int     `toml:"strip_width"`
	Segments          int     `toml:"segments"`
	WhiteningDeltaE   float64 `toml:"whitening_delta_e"`
	CornerPatch       int     `toml:"corner_patch"`
}

// DefaultPath returns $XDG_CONFIG_HOME/cardscan/config.toml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.toml")
}

func NewDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr:               ":5001",
			MaxUploadMB:        50,
			DownloadTimeoutSec: 30,
		},
		Pipeline: PipelineConfig{
			MaxInputDim:       2200,
			DetectionMaxDim:   1200,
			BorderMargin:      10,
			ParallelDetectors: true,
			TimeoutSec:        60,
			RefineHeight:      1500,
			ComparableMargin:  2.0,
			ReplaceBelow:      60,
			FallbackInset:     0.05,
		},
		Casing: CasingConfig{
			SleeveEdgeMin:        0.015,
			SleeveEdgeMax:        0.045,
			SleeveGlareLowMin:    0.005,
			SleeveGlareLowMax:    0.12,
			SleeveGlareHighMin:   0.20,
			SleeveGlareHighMax:   0.35,
			SleeveColorStdMin:    15,
			SleeveColorStdMax:    45,
			TopLoaderEdgeMin:     0.03,
			TopLoaderGlareMin:    0.35,
			TopLoaderGlareMax:    0.65,
			TopLoaderColorStdMax: 20,
			SlabEdgeMin:          0.06,
			SlabGlareMin:         0.5,
			SlabColorStdMax:      12,
			VerticalLineMin:      0.015,
			EdgeWeight:           2,
			GlareWeight:          3,
			LineWeight:           1,
			ColorWeight:          1,
			SlabColorWeight:      2,
			VoteThreshold:        5,
			SleevePreferGlareMax: 0.35,
		},
		Measure: MeasureConfig{
			WarpHeight:        1600,
			CardHeightMM:      88.9,
			MinBorderMM:       2,
			MaxBorderMM:       15,
			GradientThreshold: 10,
			StripWidth:        8,
			Segments:          3,
			WhiteningDeltaE:   8,
			CornerPatch:       80,
		},
	}
}

// LoadFromFile reads path over the defaults. A missing file is not an error.
func LoadFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.MaxInputDim < 64 {
		errs = append(errs, fmt.Errorf("pipeline.max_input_dim must be >= 64, got %d", c.Pipeline.MaxInputDim))
	}
	if c.Pipeline.DetectionMaxDim < 64 {
		errs = append(errs, fmt.Errorf("pipeline.detection_max_dim must be >= 64, got %d", c.Pipeline.DetectionMaxDim))
	}
	if c.Pipeline.FallbackInset <= 0 || c.Pipeline.FallbackInset >= 0.5 {
		errs = append(errs, fmt.Errorf("pipeline.fallback_inset must be in (0, 0.5), got %g", c.Pipeline.FallbackInset))
	}
	if c.Pipeline.RefineHeight < 100 {
		errs = append(errs, fmt.Errorf("pipeline.refine_height must be >= 100, got %d", c.Pipeline.RefineHeight))
	}
	if c.Measure.WarpHeight < 100 {
		errs = append(errs, fmt.Errorf("measure.warp_height must be >= 100, got %d", c.Measure.WarpHeight))
	}
	if c.Measure.MinBorderMM >= c.Measure.MaxBorderMM {
		errs = append(errs, fmt.Errorf("measure.min_border_mm (%g) must be below max_border_mm (%g)", c.Measure.MinBorderMM, c.Measure.MaxBorderMM))
	}
	if c.Measure.Segments < 1 || c.Measure.StripWidth < 1 || c.Measure.CornerPatch < 8 {
		errs = append(errs, errors.New("measure.segments, strip_width and corner_patch must be positive"))
	}
	if c.Casing.VoteThreshold < 1 {
		errs = append(errs, fmt.Errorf("casing.vote_threshold must be >= 1, got %d", c.Casing.VoteThreshold))
	}
	if c.Server.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be >= 1, got %d", c.Server.MaxUploadMB))
	}
	return errors.Join(errs...)
}
