package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	cardimage "cardscan/internal/image"
	"cardscan/internal/pipeline"
	"cardscan/internal/report"
	"cardscan/internal/version"

	"github.com/google/uuid"
)

// App holds what the handlers need.
type App struct {
	Options         pipeline.Options
	MaxUploadSize   int64
	DownloadTimeout time.Duration
	// AssetDir receives per-run debug assets; empty discards them.
	AssetDir string
	Client   *http.Client
}

// NewApp returns an App with the given pipeline options and limits.
func NewApp(opts pipeline.Options, maxUploadSize int64, downloadTimeout time.Duration, assetDir string) *App {
	return &App{
		Options:         opts,
		MaxUploadSize:   maxUploadSize,
		DownloadTimeout: downloadTimeout,
		AssetDir:        assetDir,
		Client:          &http.Client{Timeout: downloadTimeout},
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type urlRequest struct {
	FrontURL string `json:"frontUrl"`
	BackURL  string `json:"backUrl"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, title, msg string) {
	writeJSON(w, status, errorResponse{Error: title, Message: msg})
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": version.ServiceName,
		"version": version.APIVersion,
	})
}

// AnalyzeHandler accepts multipart "front" and/or "back" image files.
func (app *App) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)
	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload", err.Error())
		return
	}

	front, ferr := app.formImage(r, "front")
	back, berr := app.formImage(r, "back")
	if errors.Is(ferr, http.ErrMissingFile) && errors.Is(berr, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, "No file provided", "Please provide at least one image (front or back)")
		return
	}
	for _, err := range []error{ferr, berr} {
		if err == nil || errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if errors.Is(err, errFileType) {
			writeError(w, http.StatusBadRequest, "Invalid file type",
				"Allowed types: "+strings.Join(cardimage.UploadFormats(), ", "))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid image", err.Error())
		return
	}

	app.analyze(r.Context(), w, front, back)
}

// AnalyzeURLHandler downloads the images named in a JSON body.
func (app *App) AnalyzeURLHandler(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FrontURL == "" {
		writeError(w, http.StatusBadRequest, "No URL provided", "Please provide frontUrl in request body")
		return
	}

	front, err := app.download(r.Context(), req.FrontURL)
	if err != nil {
		slog.Error("download front image", "url", req.FrontURL, "error", err)
		writeError(w, http.StatusBadGateway, "Failed to download image", err.Error())
		return
	}
	var back image.Image
	if req.BackURL != "" {
		back, err = app.download(r.Context(), req.BackURL)
		if err != nil {
			slog.Error("download back image", "url", req.BackURL, "error", err)
			writeError(w, http.StatusBadGateway, "Failed to download image", err.Error())
			return
		}
	}

	app.analyze(r.Context(), w, front, back)
}

func (app *App) analyze(ctx context.Context, w http.ResponseWriter, front, back image.Image) {
	runID := uuid.NewString()
	opts := app.Options
	if app.AssetDir != "" {
		opts.Sink = report.DirSink{Dir: filepath.Join(app.AssetDir, runID)}
	}

	res, err := pipeline.AnalyzeCard(ctx, front, back, runID, opts)
	if err != nil {
		slog.Error("analysis failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "Analysis failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

var errFileType = errors.New("unsupported file type")

func (app *App) formImage(r *http.Request, field string) (image.Image, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return app.decodeUpload(file, header)
}

func (app *App) decodeUpload(file multipart.File, header *multipart.FileHeader) (image.Image, error) {
	if !cardimage.IsUploadFormat(header.Filename) {
		return nil, fmt.Errorf("%s: %w", header.Filename, errFileType)
	}
	return cardimage.Decode(file, app.Options.MaxInputDim)
}

func (app *App) download(ctx context.Context, url string) (image.Image, error) {
	if app.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.DownloadTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := app.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, app.MaxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return cardimage.DecodeBytes(data, app.Options.MaxInputDim)
}
