// Command detecttest runs boundary detection on one image and prints every
// candidate, its score breakdown and the per-detector outcomes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	cardimage "cardscan/internal/image"
	"cardscan/internal/cvutil"
	"cardscan/internal/detect"
	"cardscan/internal/pipeline"
	"cardscan/internal/preprocess"
	"cardscan/internal/warp"

	"github.com/disintegration/imaging"
)

func main() {
	path := flag.String("f", "", "Path to image")
	profileName := flag.String("p", "", "Force a detection profile (e.g. 'slab')")
	out := flag.String("o", "", "Write the rectified card to this path")
	serial := flag.Bool("serial", false, "Run detectors one at a time")
	only := flag.String("d", "", "Comma-separated detectors to run ("+strings.Join(detect.Names(), ", ")+")")
	flag.Parse()

	if *path == "" {
		fmt.Println("Usage: detecttest -f <image> [-p <profile>] [-d <detectors>] [-o <out.png>] [-serial]")
		os.Exit(1)
	}

	opts := pipeline.DefaultOptions()
	opts.Profile = *profileName
	opts.ParallelDetectors = !*serial
	if *only != "" {
		reg, err := detect.DefaultRegistry().Subset(strings.Split(*only, ","))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Bad -d: %v\n", err)
			os.Exit(1)
		}
		opts.Registry = reg
	}

	fmt.Printf("=== Loading: %s ===\n", *path)
	img, err := cardimage.Load(*path, opts.MaxInputDim)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	src, err := cardimage.ToMat(img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to convert image: %v\n", err)
		os.Exit(1)
	}
	defer src.Close()
	resized, _ := cvutil.ResizeMax(src, opts.MaxInputDim)
	defer resized.Close()
	normalized := preprocess.Normalize(resized)
	defer normalized.Close()
	fmt.Printf("  size: %dx%d\n", resized.Cols(), resized.Rows())

	start := time.Now()
	b, err := pipeline.DetectBoundary(context.Background(), normalized, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	fmt.Printf("\n=== Pre-flight ===\n")
	fmt.Printf("  casing: sleeve=%v (%d) top_loader=%v (%d) slab=%v (%d)\n",
		b.Casing.Sleeve, b.Casing.SleeveScore, b.Casing.TopLoader, b.Casing.TopLoaderScore,
		b.Casing.Slab, b.Casing.SlabScore)
	fmt.Printf("  ui bars: top=%v bottom=%v crop=%d/%d\n",
		b.Preflight.UIBars.Top, b.Preflight.UIBars.Bottom,
		b.Preflight.UIBars.CropTop, b.Preflight.UIBars.CropBottom)
	fmt.Printf("  texture=%.1f busy=%v foil=%.3f/%v edges=%.3f/%v\n",
		b.Preflight.TextureScore, b.Preflight.BusyTexture, b.Preflight.FoilDensity,
		b.Preflight.Foil, b.Preflight.EdgeDensity, b.Preflight.Translucent)
	fmt.Printf("  profile: %s\n", b.Profile.Name())

	fmt.Printf("\n=== Detectors ===\n")
	for _, o := range b.Outcomes {
		status := "no proposal"
		switch {
		case o.Found && o.Rejected == "":
			status = "accepted"
		case o.Found:
			status = "rejected: " + o.Rejected
		}
		fmt.Printf("  %-12s %s\n", o.Detector, status)
	}

	fmt.Printf("\n=== Candidates (%d) ===\n", len(b.Candidates))
	for i, c := range b.Candidates {
		bd := c.Breakdown
		fmt.Printf("  #%d %-12s score=%5.1f %-10s rect=%.2f edge=%.2f aspect=%.2f cont=%.2f area=%.3f glare=%.1f%%\n",
			i+1, c.Detector, c.Score, c.Confidence, bd.Rectangularity, bd.EdgeSupport,
			bd.Aspect, bd.Continuity, bd.AreaRatio, bd.GlareAlongBorder)
	}

	fmt.Printf("\n=== Result ===\n")
	fmt.Printf("  method=%s score=%.1f confidence=%s fallback=%v refined=%v area=%.3f\n",
		b.Method, b.Score, b.Confidence, b.Fallback, b.Refined, b.AreaRatio)
	for i, p := range b.Quad {
		fmt.Printf("  corner %d: (%.1f, %.1f)\n", i, p.X, p.Y)
	}
	fmt.Printf("  took %v\n", elapsed)

	if *out == "" {
		return
	}
	res, err := warp.Rectify(resized, b.Quad, opts.WarpHeight)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rectify failed: %v\n", err)
		os.Exit(1)
	}
	defer res.Close()
	rgba, err := cardimage.ToImage(res.Warped)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Convert failed: %v\n", err)
		os.Exit(1)
	}
	if err := imaging.Save(rgba, *out); err != nil {
		fmt.Fprintf(os.Stderr, "Save failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  wrote %s (%dx%d)\n", *out, res.Width, res.Height)
}
