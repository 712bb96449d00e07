package report

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	cardimage "cardscan/internal/image"

	"github.com/anthonynsimon/bild/imgio"
	"gocv.io/x/gocv"
)

// Asset keys in SideMetrics.DebugAssets and the file suffix each one uses.
const (
	AssetNormalized = "normalized_image"
	AssetGlareMask  = "glare_mask"
	AssetOverlay    = "overlay"
	AssetCardMask   = "card_mask"
)

var assetSuffix = map[string]string{
	AssetNormalized: "normalized",
	AssetGlareMask:  "glare_mask",
	AssetOverlay:    "overlay",
	AssetCardMask:   "card_mask",
}

// assetOrder fixes the write order so output is reproducible.
var assetOrder = []string{AssetNormalized, AssetGlareMask, AssetOverlay, AssetCardMask}

// AssetSink stores a named debug image and returns where it went.
type AssetSink interface {
	Save(name string, img image.Image) (string, error)
}

// DirSink writes PNG files into a directory.
type DirSink struct {
	Dir string
}

func (d DirSink) Save(name string, img image.Image) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create asset dir: %w", err)
	}
	path := filepath.Join(d.Dir, name+".png")
	if err := imgio.Save(path, img, imgio.PNGEncoder()); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// Discard drops every asset.
type Discard struct{}

func (Discard) Save(string, image.Image) (string, error) { return "", nil }

// MemorySink keeps assets in memory, keyed by name.
type MemorySink struct {
	mu     sync.Mutex
	Images map[string]image.Image
}

func (m *MemorySink) Save(name string, img image.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Images == nil {
		m.Images = map[string]image.Image{}
	}
	m.Images[name] = img
	return "mem://" + name, nil
}

// Names returns the stored asset names.
func (m *MemorySink) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.Images))
	for n := range m.Images {
		names = append(names, n)
	}
	return names
}

// WriteAssets saves the debug images of one side as "{side}_{suffix}" and
// returns the DebugAssets map. Keys missing from mats or empty Mats are
// skipped; a sink that returns no location leaves the key out.
func WriteAssets(sink AssetSink, side string, mats map[string]gocv.Mat) (map[string]string, error) {
	out := map[string]string{}
	if sink == nil {
		return out, nil
	}
	for _, key := range assetOrder {
		m, ok := mats[key]
		if !ok || m.Empty() {
			continue
		}
		img, err := cardimage.ToImage(m)
		if err != nil {
			return out, fmt.Errorf("asset %s: %w", key, err)
		}
		loc, err := sink.Save(side+"_"+assetSuffix[key], img)
		if err != nil {
			return out, err
		}
		if loc != "" {
			out[key] = loc
		}
	}
	return out, nil
}
