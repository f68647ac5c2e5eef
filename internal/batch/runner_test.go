package batch

import (
	"change-detector/internal/client"
	diffimage "change-detector/internal/diff/image"
	"change-detector/internal/failure"
	"change-detector/internal/routes"
	"change-detector/internal/storage"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeComparer struct {
	mu       sync.Mutex
	running  int
	peak     int
	requests []string
	respond  func(before client.Image) (*routes.CompareResponse, error)
}

func (f *fakeComparer) Compare(ctx context.Context, before client.Image, after client.Image, params client.Params) (*routes.CompareResponse, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	f.requests = append(f.requests, before.Name+"->"+after.Name)
	f.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	f.mu.Lock()
	f.running--
	f.mu.Unlock()

	return f.respond(before)
}

func TestRunner_Run(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{"bad.png": []byte("too small")}
	for i, name := range []string{"a1.png", "a2.png", "b1.png", "b2.png", "c1.png", "c2.png", "d1.png", "d2.png"} {
		files[name] = createNoisyPNG(t, 60, 60, int64(i))
	}
	writeFiles(t, dir, files)

	heatmap := []byte("\x89PNG fake heatmap")
	comparer := &fakeComparer{
		respond: func(before client.Image) (*routes.CompareResponse, error) {
			if before.MIMEType != "image/png" {
				t.Errorf("Expected sniffed MIME type image/png, got %q", before.MIMEType)
			}
			if strings.HasPrefix(before.Name, "c") {
				return nil, &client.APIError{StatusCode: 422, Kind: failure.CorruptedImage, Reason: "broken"}
			}
			return &routes.CompareResponse{
				ChangePercentage: 12.5,
				Severity:         diffimage.SeverityModerate,
				Heatmap:          base64.StdEncoding.EncodeToString(heatmap),
			}, nil
		},
	}

	out := t.TempDir()
	heatmaps, err := storage.NewFileStorage(context.Background(), storage.FileConfig{Directory: out})
	if err != nil {
		t.Fatal(err)
	}

	pairs := []Pair{
		{filepath.Join(dir, "a1.png"), filepath.Join(dir, "a2.png")},
		{filepath.Join(dir, "bad.png"), filepath.Join(dir, "a2.png")},
		{filepath.Join(dir, "b1.png"), filepath.Join(dir, "b2.png")},
		{filepath.Join(dir, "c1.png"), filepath.Join(dir, "c2.png")},
		{filepath.Join(dir, "d1.png"), filepath.Join(dir, "d2.png")},
	}
	runner := &Runner{
		Comparer:    comparer,
		Concurrency: 2,
		MaxPairs:    4,
		Heatmaps:    heatmaps,
		RunID:       "run",
	}

	outcomes, err := runner.Run(context.Background(), pairs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(outcomes) != 4 {
		t.Fatalf("Expected 4 outcomes, got %d", len(outcomes))
	}
	for i, outcome := range outcomes {
		if outcome.Pair != pairs[i] {
			t.Errorf("outcome %d: expected pair %v, got %v", i, pairs[i], outcome.Pair)
		}
	}
	if !outcomes[0].Succeeded() || !outcomes[2].Succeeded() {
		t.Errorf("Expected pairs 0 and 2 to succeed, got %+v", outcomes)
	}
	if outcomes[1].Succeeded() || !strings.Contains(outcomes[1].Error, "too small") {
		t.Errorf("Expected pair 1 to fail validation, got %+v", outcomes[1])
	}
	if outcomes[3].Succeeded() || !strings.Contains(outcomes[3].Error, "broken") {
		t.Errorf("Expected pair 3 to carry the API error, got %+v", outcomes[3])
	}

	stored, err := os.ReadFile(outcomes[2].Result.HeatmapPath)
	if err != nil {
		t.Fatalf("failed to read stored heatmap: %v", err)
	}
	if string(stored) != string(heatmap) {
		t.Errorf("stored heatmap differs from response")
	}
	if want := filepath.Join(out, "Heatmap", "run", "0002.png"); outcomes[2].Result.HeatmapPath != want {
		t.Errorf("Expected heatmap at %s, got %s", want, outcomes[2].Result.HeatmapPath)
	}

	if len(comparer.requests) != 3 {
		t.Errorf("Expected 3 requests, got %v", comparer.requests)
	}
	if comparer.peak > 2 {
		t.Errorf("Expected at most 2 concurrent requests, got %d", comparer.peak)
	}
}

func TestRunner_Run_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &Runner{Comparer: &fakeComparer{}}
	_, err := runner.Run(ctx, []Pair{{"a.png", "b.png"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected %v, got %v", context.Canceled, err)
	}
}
