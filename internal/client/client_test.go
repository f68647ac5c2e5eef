package client

import (
	"bytes"
	"change-detector/internal/detect"
	diffimage "change-detector/internal/diff/image"
	"change-detector/internal/failure"
	"change-detector/internal/routes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func createPNG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buffer.Bytes()
}

func newServer(t *testing.T, wrap func(http.Handler) http.Handler) *httptest.Server {
	t.Helper()

	detector, err := detect.NewDetector(nil, diffimage.DefaultHeatmapOptions())
	if err != nil {
		t.Fatalf("failed to create detector: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /compare", routes.Compare(detector, routes.CompareConfig{
		MaxUploadBytes:    1 << 20,
		ProcessingTimeout: 10 * time.Second,
		DefaultThreshold:  diffimage.DefaultThreshold,
	}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var handler http.Handler = mux
	if wrap != nil {
		handler = wrap(handler)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestClient_Compare(t *testing.T) {
	server := newServer(t, nil)
	c := New(server.URL, 10*time.Second, 0)

	threshold := uint8(100)
	minRegionArea := 0
	got, err := c.Compare(context.Background(),
		Image{Name: "before.png", Data: createPNG(t, 80, 60, color.Black), MIMEType: "image/png"},
		Image{Name: "after.png", Data: createPNG(t, 80, 60, color.White)},
		Params{Threshold: &threshold, GridCols: 2, GridRows: 1, MinRegionArea: &minRegionArea},
	)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if got.ChangePercentage != 100 || got.Severity != diffimage.SeverityCatastrophic {
		t.Errorf("Expected 100%% catastrophic, got %.2f%% %s", got.ChangePercentage, got.Severity)
	}
	if diff := cmp.Diff([]diffimage.Region{{X: 0, Y: 0, Width: 80, Height: 60, ChangedPixelCount: 4800}}, got.Regions); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if len(got.Zones) != 2 {
		t.Errorf("Expected 2 zones, got %d", len(got.Zones))
	}
	if got.Heatmap == "" {
		t.Errorf("Expected heatmap to be present")
	}
}

func TestClient_Compare_APIError(t *testing.T) {
	server := newServer(t, nil)
	c := New(server.URL, 10*time.Second, 0)

	valid := createPNG(t, 80, 60, color.Black)
	_, err := c.Compare(context.Background(),
		Image{Name: "before.png", Data: valid, MIMEType: "image/png"},
		Image{Name: "after.png", Data: valid[:len(valid)/2], MIMEType: "image/png"},
		Params{},
	)

	var apiError *APIError
	if !errors.As(err, &apiError) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiError.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", apiError.StatusCode)
	}
	if !errors.Is(err, failure.CorruptedImage) {
		t.Errorf("Expected %s, got %v", failure.CorruptedImage, err)
	}
}

func TestClient_Compare_RetriesUnavailable(t *testing.T) {
	var calls int32
	server := newServer(t, func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	c := New(server.URL, 10*time.Second, 2)

	data := createPNG(t, 60, 60, color.Black)
	got, err := c.Compare(context.Background(),
		Image{Name: "before.png", Data: data, MIMEType: "image/png"},
		Image{Name: "after.png", Data: data, MIMEType: "image/png"},
		Params{},
	)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if got.ChangePercentage != 0 || got.Severity != diffimage.SeverityNone {
		t.Errorf("Expected no change, got %.2f%% %s", got.ChangePercentage, got.Severity)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("Expected 2 calls, got %d", n)
	}
}

func TestClient_Healthz(t *testing.T) {
	server := newServer(t, nil)

	if err := New(server.URL+"/", time.Second, 0).Healthz(context.Background()); err != nil {
		t.Errorf("Expected healthy, got %v", err)
	}

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()
	if err := New(unhealthy.URL, time.Second, 0).Healthz(context.Background()); err == nil {
		t.Errorf("Expected error from unhealthy server")
	}
}

func TestEncodeForm_FieldOrder(t *testing.T) {
	threshold := uint8(0)
	body, contentType, err := encodeForm(
		Image{Name: `a"b.png`, Data: []byte("x")},
		Image{Name: "c.png", Data: []byte("y"), MIMEType: "image/png"},
		Params{Threshold: &threshold},
	)
	if err != nil {
		t.Fatalf("encodeForm failed: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/compare", bytes.NewReader(body))
	request.Header.Set("Content-Type", contentType)
	if err := request.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("failed to parse form: %v", err)
	}

	if got := request.FormValue("threshold"); got != "0" {
		t.Errorf("Expected threshold 0, got %q", got)
	}
	if got := request.FormValue("gridCols"); got != "" {
		t.Errorf("Expected no gridCols, got %q", got)
	}
	before := request.MultipartForm.File["before"][0]
	if before.Filename != `a"b.png` || before.Header.Get("Content-Type") != "application/octet-stream" {
		t.Errorf("unexpected before part: %q %q", before.Filename, before.Header.Get("Content-Type"))
	}
}
