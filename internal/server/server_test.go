package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cardscan/internal/detect"
	"cardscan/internal/pipeline"
	"cardscan/internal/report"
)

// cardPNG encodes a small card on a dark mat.
func cardPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 420))
	for y := 0; y < 420; y++ {
		for x := 0; x < 300; x++ {
			c := color.RGBA{40, 40, 40, 255}
			if x >= 60 && x < 240 && y >= 80 && y < 340 {
				c = color.RGBA{230, 140, 40, 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testApp() *App {
	opts := pipeline.DefaultOptions()
	reg := detect.DefaultRegistry()
	opts.Registry = detect.Registry{
		detect.FusedEdges: reg[detect.FusedEdges],
		detect.LabChroma:  reg[detect.LabChroma],
	}
	return NewApp(opts, 50<<20, 5*time.Second, "")
}

func multipartBody(t *testing.T, files map[string]string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(testApp()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "healthy" || got["service"] != "opencv-card-analysis" || got["version"] != "v1.0" {
		t.Errorf("body: %v", got)
	}
}

func TestAnalyze_BadRequests(t *testing.T) {
	data := cardPNG(t)
	tests := []struct {
		name      string
		files     map[string]string
		payload   []byte
		wantError string
	}{
		{"no files", map[string]string{}, data, "No file provided"},
		{"wrong extension", map[string]string{"front": "card.gif"}, data, "Invalid file type"},
		{"undecodable", map[string]string{"front": "card.png"}, []byte("not an image"), "Invalid image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ctype := multipartBody(t, tt.files, tt.payload)
			req := httptest.NewRequest(http.MethodPost, "/analyze", body)
			req.Header.Set("Content-Type", ctype)
			rec := httptest.NewRecorder()
			NewRouter(testApp()).ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d", rec.Code)
			}
			var got errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if got.Error != tt.wantError {
				t.Errorf("error: got %q, want %q", got.Error, tt.wantError)
			}
		})
	}
}

func TestAnalyze_FrontOnly(t *testing.T) {
	body, ctype := multipartBody(t, map[string]string{"front": "front.png"}, cardPNG(t))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	NewRouter(testApp()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}
	var got report.CombinedMetrics
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Version != "stage1_opencv_v1.0" || got.RunID == "" {
		t.Errorf("header: %+v", got)
	}
	if got.Front == nil || got.Front.SideLabel != "front" {
		t.Fatalf("front: %+v", got.Front)
	}
	if got.Back != nil {
		t.Error("back should be null")
	}
}

func TestAnalyzeURL(t *testing.T) {
	data := cardPNG(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/card.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer upstream.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"missing url", `{}`, http.StatusBadRequest},
		{"malformed", `{"frontUrl":`, http.StatusBadRequest},
		{"upstream 404", `{"frontUrl":"` + upstream.URL + `/missing.png"}`, http.StatusBadGateway},
		{"front and back", `{"frontUrl":"` + upstream.URL + `/card.png","backUrl":"` + upstream.URL + `/card.png"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/analyze-url", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			NewRouter(testApp()).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status: got %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var got report.CombinedMetrics
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if got.Front == nil || got.Back == nil {
				t.Errorf("expected both sides: %+v", got)
			}
		})
	}
}

func TestAnalyze_WritesAssets(t *testing.T) {
	app := testApp()
	app.AssetDir = t.TempDir()

	body, ctype := multipartBody(t, map[string]string{"back": "back.jpg"}, cardPNG(t))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	NewRouter(app).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}
	var got report.CombinedMetrics
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Back == nil {
		t.Fatal("missing back")
	}
	overlay := got.Back.DebugAssets[report.AssetOverlay]
	if !strings.HasPrefix(overlay, app.AssetDir) || !strings.HasSuffix(overlay, "back_overlay.png") {
		t.Errorf("overlay path: %q", overlay)
	}
}
