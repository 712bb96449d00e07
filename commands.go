package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cardscan/internal/confidence"
	cardimage "cardscan/internal/image"
	"cardscan/internal/pipeline"
	"cardscan/internal/profile"
	"cardscan/internal/report"
	"cardscan/internal/server"
	"cardscan/internal/version"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const metricsFile = "stage1_metrics.json"

type analyzeFlags struct {
	front    string
	back     string
	outdir   string
	profile  string
	noAssets bool
	jsonOut  bool
}

func newAnalyzeCmd() *cobra.Command {
	var af analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze [image...]",
		Short: "Analyze the front and/or back photo of a card",
		Long: "Analyze card photos. Images can be given with --front/--back or as " +
			"arguments, in which case the side is guessed from the file name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), af, args)
		},
	}
	cmd.Flags().StringVarP(&af.front, "front", "f", "", "Path to the front image")
	cmd.Flags().StringVarP(&af.back, "back", "b", "", "Path to the back image")
	cmd.Flags().StringVarP(&af.outdir, "outdir", "o", "./out", "Output directory for metrics and debug images")
	cmd.Flags().StringVarP(&af.profile, "profile", "p", "", "Force a detection profile instead of selecting one")
	cmd.Flags().BoolVar(&af.noAssets, "no-assets", false, "Do not write debug images")
	cmd.Flags().BoolVar(&af.jsonOut, "json", false, "Print the metrics JSON to stdout")
	return cmd
}

// assignSides fills front/back from positional arguments.
func assignSides(af *analyzeFlags, args []string) error {
	for _, path := range args {
		switch cardimage.GuessSideFromFilename(path) {
		case cardimage.SideBack:
			if af.back != "" {
				return fmt.Errorf("two back images: %s and %s", af.back, path)
			}
			af.back = path
		default:
			if af.front == "" {
				af.front = path
			} else if af.back == "" {
				af.back = path
			} else {
				return fmt.Errorf("too many images: %s", path)
			}
		}
	}
	if af.front == "" && af.back == "" {
		return errors.New("no images: use --front/--back or pass image paths")
	}
	return nil
}

func runAnalyze(ctx context.Context, af analyzeFlags, args []string) error {
	if err := assignSides(&af, args); err != nil {
		return err
	}
	if af.profile != "" {
		if _, err := profile.ParseKind(af.profile); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(af.outdir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	opts := pipeline.OptionsFromConfig(cfg)
	opts.Profile = af.profile
	if !af.noAssets {
		opts.Sink = report.DirSink{Dir: af.outdir}
	}

	load := func(path string) (image.Image, error) {
		if path == "" {
			return nil, nil
		}
		return cardimage.Load(path, cfg.Pipeline.MaxInputDim)
	}
	front, err := load(af.front)
	if err != nil {
		return fmt.Errorf("front: %w", err)
	}
	back, err := load(af.back)
	if err != nil {
		return fmt.Errorf("back: %w", err)
	}

	res, err := pipeline.AnalyzeCard(ctx, front, back, uuid.NewString(), opts)
	if err != nil {
		return err
	}

	path := filepath.Join(af.outdir, metricsFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.Serialize(f, res); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if af.jsonOut {
		return report.Serialize(os.Stdout, res)
	}
	printSummary(res)
	fmt.Printf("Saved Stage 1 metrics to: %s\n", path)
	return nil
}

func levelColor(l confidence.Level) *color.Color {
	switch l {
	case confidence.High:
		return color.New(color.FgGreen)
	case confidence.Medium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func printSummary(res *report.CombinedMetrics) {
	bold := color.New(color.Bold)
	for _, s := range []*report.SideMetrics{res.Front, res.Back} {
		if s == nil {
			continue
		}
		bold.Printf("%s\n", strings.ToUpper(s.SideLabel))
		if s.Failed() {
			color.Red("  error: %s (suggested: %s)\n", s.Error, s.SuggestedFallback)
			continue
		}
		if md := s.DetectionMetadata; md != nil {
			fmt.Printf("  boundary  %-16s %-20s score %5.1f  ", md.Profile, md.Method, md.Score)
			levelColor(md.Confidence).Printf("%s\n", md.Confidence)
		}
		c := s.Centering
		fmt.Printf("  centering L/R %.1f/%.1f  T/B %.1f/%.1f  %s  ",
			c.LRRatio[0], c.LRRatio[1], c.TBRatio[0], c.TBRatio[1], c.MethodUsed)
		levelColor(c.Confidence).Printf("%s\n", c.Confidence)
		fmt.Printf("  surface   dots %d  scratches %d  creases %d  glare %.1f%%\n",
			s.Surface.WhiteDotsCount, s.Surface.ScratchCount, s.Surface.CreaseLikeCount, s.GlareMaskPercent)
		var casings []string
		if s.SleeveIndicator {
			casings = append(casings, "sleeve")
		}
		if s.TopLoaderIndicator {
			casings = append(casings, "top-loader")
		}
		if s.SlabIndicator {
			casings = append(casings, "slab")
		}
		if len(casings) > 0 {
			color.Cyan("  casing    %s\n", strings.Join(casings, ", "))
		}
		for _, o := range s.Obstructions {
			color.Yellow("  note      %s %s: %s\n", o.Zone, o.Type, o.Action)
		}
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	app := server.NewApp(
		pipeline.OptionsFromConfig(cfg),
		cfg.Server.MaxUploadMB<<20,
		time.Duration(cfg.Server.DownloadTimeoutSec)*time.Second,
		cfg.Server.AssetDir,
	)
	srv := &http.Server{Addr: addr, Handler: server.NewRouter(app)}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr, "service", version.ServiceName)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the detection profiles",
		Run: func(cmd *cobra.Command, args []string) {
			name := color.New(color.FgHiCyan)
			for _, p := range profile.All() {
				name.Printf("%-17s", p.Name())
				fmt.Printf(" area %.2f-%.2f  aspect %.2f-%.2f  glare %2.0f%%  refine %d\n",
					p.MinArea, p.MaxArea, p.AspectMin, p.AspectMax, p.GlareTolerance, p.RefineDepth)
				ids := make([]string, len(p.Detectors))
				for i, id := range p.Detectors {
					ids[i] = id.String()
				}
				fmt.Printf("                  %s\n", strings.Join(ids, " > "))
				fmt.Printf("                  %s\n", p.Notes)
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version: %s (commit %s, built %s)\n",
				appName, version.Version, version.GitCommit, version.BuildTime)
			fmt.Printf("metrics format: %s\n", version.MetricsVersion)
		},
	}
}
