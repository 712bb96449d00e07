package profile

import (
	"testing"

	"cardscan/internal/detect"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name string
		e    Evidence
		want Kind
	}{
		{"nothing", Evidence{}, RawOnMat},
		{"slab beats everything", Evidence{Slab: true, Sleeve: true, UIBars: true, Foil: true, TextureScore: 90}, Slab},
		{"sleeve", Evidence{Sleeve: true, UIBars: true}, Sleeve},
		{"top-loader maps to sleeve", Evidence{TopLoader: true}, Sleeve},
		{"translucent edges map to sleeve", Evidence{Translucent: true, Foil: true}, Sleeve},
		{"ui bars", Evidence{UIBars: true, Foil: true, TextureScore: 80}, PhoneScreenshot},
		{"foil", Evidence{Foil: true, TextureScore: 80}, HoloFullBleed},
		{"busy background", Evidence{TextureScore: 41}, BusyBackground},
		{"texture at threshold stays raw", Evidence{TextureScore: 40}, RawOnMat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Select(tt.e).Kind; got != tt.want {
				t.Errorf("Select: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProfilesWellFormed(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range All() {
		if seen[p.Name()] {
			t.Errorf("duplicate profile name %s", p.Name())
		}
		seen[p.Name()] = true

		if p.MinArea <= 0 || p.MinArea >= p.MaxArea || p.MaxArea > 1 {
			t.Errorf("%s: bad area bounds %g-%g", p.Name(), p.MinArea, p.MaxArea)
		}
		if p.AspectMin < 1 || p.AspectMin >= p.AspectMax {
			t.Errorf("%s: bad aspect band %g-%g", p.Name(), p.AspectMin, p.AspectMax)
		}
		if len(p.Detectors) == 0 {
			t.Errorf("%s: no detectors", p.Name())
		}
		ids := map[detect.ID]bool{}
		for _, id := range p.Detectors {
			if ids[id] {
				t.Errorf("%s: detector %s listed twice", p.Name(), id)
			}
			ids[id] = true
		}
		if p.Notes == "" {
			t.Errorf("%s: missing notes", p.Name())
		}
	}
	if len(seen) != 6 {
		t.Errorf("profile count: got %d, want 6", len(seen))
	}
}

func TestRefinementDepths(t *testing.T) {
	if For(RawOnMat).RefineDepth != 0 {
		t.Error("raw_on_mat should not refine")
	}
	for _, k := range []Kind{Sleeve, Slab, HoloFullBleed} {
		if For(k).RefineDepth == 0 {
			t.Errorf("%s should refine", k)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, p := range All() {
		k, err := ParseKind(p.Name())
		if err != nil || k != p.Kind {
			t.Errorf("ParseKind(%q): got %v, %v", p.Name(), k, err)
		}
	}
	if _, err := ParseKind("toaster"); err == nil {
		t.Error("expected error for unknown profile")
	}
}
