package preprocess

import (
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

func solid(w, h int, b, g, r float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), h, w, gocv.MatTypeCV8UC3)
}

func TestNormalizeKeepsSize(t *testing.T) {
	img := solid(120, 80, 40, 90, 160)
	defer img.Close()

	out := Normalize(img)
	defer out.Close()

	if out.Cols() != 120 || out.Rows() != 80 || out.Channels() != 3 {
		t.Fatalf("shape: got %dx%dx%d, want 120x80x3", out.Cols(), out.Rows(), out.Channels())
	}
}

func TestGrayWorldBalancesChannels(t *testing.T) {
	img := solid(64, 64, 60, 120, 180)
	defer img.Close()

	out := grayWorld(img)
	defer out.Close()

	chans := gocv.Split(out)
	defer func() {
		for _, c := range chans {
			c.Close()
		}
	}()
	for i, c := range chans {
		if m := c.Mean().Val1; math.Abs(m-120) > 1.5 {
			t.Errorf("channel %d mean: got %.1f, want ~120", i, m)
		}
	}
}

func TestGlareMask(t *testing.T) {
	img := solid(100, 100, 80, 80, 80)
	defer img.Close()

	// white, unsaturated hotspot
	hot := img.Region(image.Rect(40, 40, 60, 60))
	hot.SetTo(gocv.NewScalar(250, 250, 250, 0))
	hot.Close()

	mask := GlareMask(img)
	defer mask.Close()

	pct := GlarePercent(mask)
	// 20x20 spot plus one pixel of dilation on each side
	if pct < 4 || pct > 5 {
		t.Errorf("glare percent: got %.2f, want between 4 and 5", pct)
	}
	if mask.GetUCharAt(50, 50) != 255 {
		t.Error("hotspot center should be glare")
	}
	if mask.GetUCharAt(5, 5) != 0 {
		t.Error("gray background should not be glare")
	}
}
