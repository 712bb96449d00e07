// Package profile defines the scenario profiles that tune boundary detection
// and the rules for choosing one per image.
package profile

import (
	"fmt"
	"log/slog"

	"cardscan/internal/detect"
)

// Kind identifies a capture scenario.
type Kind int

const (
	RawOnMat Kind = iota
	Sleeve
	Slab
	BusyBackground
	PhoneScreenshot
	HoloFullBleed
)

var kindNames = [...]string{
	RawOnMat:        "raw_on_mat",
	Sleeve:          "sleeve",
	Slab:            "slab",
	BusyBackground:  "busy_bg",
	PhoneScreenshot: "phone_screenshot",
	HoloFullBleed:   "holo_full_bleed",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("profile(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a profile name to its Kind.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown profile %q", name)
}

// Profile holds the detection parameters for one scenario. Values are never
// mutated after For returns them.
type Profile struct {
	Kind Kind
	// Area bounds as a fraction of the image area.
	MinArea float64
	MaxArea float64
	// Long-side over short-side target band.
	AspectMin float64
	AspectMax float64
	Detectors []detect.ID
	// Percentage of perimeter samples allowed to fall on glare before the
	// fusion score is penalised.
	GlareTolerance float64
	// Inner refinement depth; 0 disables refinement.
	RefineDepth int
	Notes       string
}

// Name returns the profile name.
func (p Profile) Name() string {
	return p.Kind.String()
}

// Params converts the profile bounds to detector parameters.
func (p Profile) Params() detect.Params {
	return detect.Params{
		MinArea:        p.MinArea,
		MaxArea:        p.MaxArea,
		AspectMin:      p.AspectMin,
		AspectMax:      p.AspectMax,
		GlareTolerance: p.GlareTolerance,
	}
}

// For returns the profile of kind k. Unknown kinds yield RawOnMat.
func For(k Kind) Profile {
	switch k {
	case Sleeve:
		return Profile{
			Kind: Sleeve, MinArea: 0.12, MaxArea: 0.98, AspectMin: 1.30, AspectMax: 1.60,
			Detectors:      []detect.ID{detect.LabChroma, detect.FusedEdges, detect.LSD, detect.GrabCut, detect.ColorSeg, detect.Hough, detect.Saliency},
			GlareTolerance: 25, RefineDepth: 2,
			Notes: "Card in penny sleeve or toploader - inner refinement needed",
		}
	case Slab:
		return Profile{
			Kind: Slab, MinArea: 0.08, MaxArea: 0.98, AspectMin: 1.25, AspectMax: 1.70,
			Detectors:      []detect.ID{detect.LSD, detect.Hough, detect.FusedEdges, detect.LabChroma, detect.GrabCut, detect.ColorSeg},
			GlareTolerance: 35, RefineDepth: 1,
			Notes: "Graded slab with thick outer acrylic - inner card refined from the holder outline",
		}
	case BusyBackground:
		return Profile{
			Kind: BusyBackground, MinArea: 0.20, MaxArea: 0.98, AspectMin: 1.25, AspectMax: 1.70,
			Detectors:      []detect.ID{detect.LabChroma, detect.GrabCut, detect.FusedEdges, detect.LSD, detect.ColorSeg, detect.Saliency},
			GlareTolerance: 18, RefineDepth: 1,
			Notes: "Textured or patterned background - suppress background",
		}
	case PhoneScreenshot:
		return Profile{
			Kind: PhoneScreenshot, MinArea: 0.15, MaxArea: 0.98, AspectMin: 1.25, AspectMax: 1.70,
			Detectors:      []detect.ID{detect.LabChroma, detect.FusedEdges, detect.Hough, detect.LSD, detect.GrabCut, detect.ColorSeg},
			GlareTolerance: 20, RefineDepth: 1,
			Notes: "Screenshot with status bar or gallery UI",
		}
	case HoloFullBleed:
		return Profile{
			Kind: HoloFullBleed, MinArea: 0.15, MaxArea: 0.98, AspectMin: 1.25, AspectMax: 1.70,
			Detectors:      []detect.ID{detect.LabChroma, detect.GrabCut, detect.LSD, detect.ColorSeg, detect.Hough, detect.FusedEdges},
			GlareTolerance: 30, RefineDepth: 2,
			Notes: "Foils, full-art cards with weak outer borders",
		}
	default:
		return Profile{
			Kind: RawOnMat, MinArea: 0.25, MaxArea: 0.98, AspectMin: 1.30, AspectMax: 1.55,
			Detectors:      []detect.ID{detect.FusedEdges, detect.LabChroma, detect.LSD, detect.Hough, detect.GrabCut, detect.ColorSeg, detect.Saliency},
			GlareTolerance: 12, RefineDepth: 0,
			Notes: "Single card on neutral background - default profile",
		}
	}
}

// All returns every profile in Kind order.
func All() []Profile {
	out := make([]Profile, len(kindNames))
	for i := range kindNames {
		out[i] = For(Kind(i))
	}
	return out
}

// Evidence is what the selector looks at: preflight checks plus the
// casing vote taken on the normalized image.
type Evidence struct {
	Slab         bool
	Sleeve       bool
	TopLoader    bool
	Translucent  bool
	UIBars       bool
	Foil         bool
	TextureScore float64
}

// BusyTextureScore is the texture score above which a background counts as busy.
const BusyTextureScore = 40

// Select picks the profile for e. Priority runs slab, sleeve (including
// top-loaders and translucent edges), phone UI, foil, busy texture, then
// the raw default.
func Select(e Evidence) Profile {
	var k Kind
	var reason string
	switch {
	case e.Slab:
		k, reason = Slab, "slab casing detected"
	case e.Sleeve || e.TopLoader || e.Translucent:
		k, reason = Sleeve, "sleeve or translucent frame detected"
	case e.UIBars:
		k, reason = PhoneScreenshot, "UI bars detected"
	case e.Foil:
		k, reason = HoloFullBleed, "foil highlights detected"
	case e.TextureScore > BusyTextureScore:
		k, reason = BusyBackground, "textured background"
	default:
		k, reason = RawOnMat, "default"
	}
	p := For(k)
	slog.Debug("selected profile", "profile", p.Name(), "reason", reason)
	return p
}
