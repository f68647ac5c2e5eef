package batch

import (
	"change-detector/internal/client"
	"change-detector/internal/decode"
	diffimage "change-detector/internal/diff/image"
	"change-detector/internal/routes"
	"change-detector/internal/storage"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const DefaultConcurrency = 4

type Comparer interface {
	Compare(ctx context.Context, before client.Image, after client.Image, params client.Params) (*routes.CompareResponse, error)
}

// Result is the part of a comparison kept in the batch report. The heatmap
// itself is only stored when the runner has a heatmap store.
type Result struct {
	ChangePercentage  float64             `json:"changePercentage"`
	ChangedPixelCount int                 `json:"changedPixelCount"`
	TotalPixelCount   int                 `json:"totalPixelCount"`
	Severity          diffimage.Severity  `json:"severity"`
	Zones             []diffimage.Zone    `json:"zones"`
	Regions           []diffimage.Region  `json:"regions"`
	Warnings          []diffimage.Warning `json:"warnings"`
	HeatmapPath       string              `json:"heatmapPath,omitempty"`
}

type Outcome struct {
	Pair
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

func (o Outcome) Succeeded() bool {
	return o.Result != nil
}

type Runner struct {
	Comparer    Comparer
	Params      client.Params
	Concurrency int
	MaxPairs    int
	// Heatmaps stores each returned heatmap under Heatmap/<RunID>/ when set.
	Heatmaps storage.Storage
	RunID    string
}

// Run validates and compares every pair, at most Concurrency at a time. A
// failed pair is recorded in its Outcome and does not stop the run. Outcomes
// are in the order of pairs.
func (r *Runner) Run(ctx context.Context, pairs []Pair) ([]Outcome, error) {
	if r.MaxPairs > 0 && r.MaxPairs < len(pairs) {
		slog.Info("limiting pairs", "found", len(pairs), "limit", r.MaxPairs)
		pairs = pairs[:r.MaxPairs]
	}

	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	outcomes := make([]Outcome, len(pairs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, pair := range pairs {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes[i] = r.runPair(ctx, i, pair)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, xerrors.Errorf("batch run interrupted: %w", err)
	}

	return outcomes, nil
}

func (r *Runner) runPair(ctx context.Context, index int, pair Pair) Outcome {
	logger := slog.With("before", pair.Before, "after", pair.After)

	if err := ValidatePair(pair); err != nil {
		logger.Warn("skipping invalid pair", "error", err)
		return Outcome{Pair: pair, Error: err.Error()}
	}

	before, err := readImage(pair.Before)
	if err != nil {
		return Outcome{Pair: pair, Error: err.Error()}
	}
	after, err := readImage(pair.After)
	if err != nil {
		return Outcome{Pair: pair, Error: err.Error()}
	}

	response, err := r.Comparer.Compare(ctx, before, after, r.Params)
	if err != nil {
		logger.Error("comparison failed", "error", err)
		return Outcome{Pair: pair, Error: err.Error()}
	}

	result := &Result{
		ChangePercentage:  response.ChangePercentage,
		ChangedPixelCount: response.ChangedPixelCount,
		TotalPixelCount:   response.TotalPixelCount,
		Severity:          response.Severity,
		Zones:             response.Zones,
		Regions:           response.Regions,
		Warnings:          response.Warnings,
	}

	if r.Heatmaps != nil && response.Heatmap != "" {
		heatmap, err := base64.StdEncoding.DecodeString(response.Heatmap)
		if err != nil {
			return Outcome{Pair: pair, Error: fmt.Sprintf("failed to decode heatmap: %s", err)}
		}
		key := fmt.Sprintf("Heatmap/%s/%04d.png", r.RunID, index)
		path, err := r.Heatmaps.Put(ctx, key, heatmap)
		if err != nil {
			return Outcome{Pair: pair, Error: fmt.Sprintf("failed to store heatmap: %s", err)}
		}
		result.HeatmapPath = path
	}

	logger.Info("comparison completed", "changePercentage", result.ChangePercentage, "severity", result.Severity)
	return Outcome{Pair: pair, Result: result}
}

func readImage(path string) (client.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return client.Image{}, xerrors.Errorf("failed to read %s: %w", path, err)
	}

	image := client.Image{
		Name: filepath.Base(path),
		Data: data,
	}
	if format, ok := decode.Sniff(data); ok {
		image.MIMEType = format.MIMEType()
	}
	return image, nil
}
