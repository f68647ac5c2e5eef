package main

import (
	"change-detector/internal/decode"
	"change-detector/internal/detect"
	diffimage "change-detector/internal/diff/image"
	"change-detector/internal/env"
	"change-detector/internal/retry"
	"change-detector/internal/storage"
	"context"
	"crypto/sha256"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

type CompareOutput struct {
	HeatmapPath       string              `json:"heatmapPath"`
	ChangePercentage  float64             `json:"changePercentage"`
	ChangedPixelCount int                 `json:"changedPixelCount"`
	TotalPixelCount   int                 `json:"totalPixelCount"`
	Severity          diffimage.Severity  `json:"severity"`
	Width             int                 `json:"width"`
	Height            int                 `json:"height"`
	Zones             []diffimage.Zone    `json:"zones"`
	Regions           []diffimage.Region  `json:"regions"`
	Warnings          []diffimage.Warning `json:"warnings"`
	Before            detect.SourceInfo   `json:"before"`
	After             detect.SourceInfo   `json:"after"`
}

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	var directory string
	var storageBackend string
	var s3Bucket string
	var threshold uint
	var gridCols int
	var gridRows int
	var minRegionArea int
	var timeout time.Duration
	flag.StringVar(&directory, "directory", env.OrDefault("DIRECTORY", "/tmp"), "Output directory for file storage")
	flag.StringVar(&storageBackend, "storage-backend", env.OrDefault("STORAGE_BACKEND", "file"), "Storage backend (file or s3)")
	flag.StringVar(&s3Bucket, "s3-bucket", env.OrDefault("S3_BUCKET", ""), "S3 bucket for heatmaps")
	flag.UintVar(&threshold, "threshold", env.OrDefault("DEFAULT_THRESHOLD", uint(diffimage.DefaultThreshold)), "Per-pixel change threshold (0-255)")
	flag.IntVar(&gridCols, "grid-cols", 0, "Zone grid columns (0 for the cardinal layout)")
	flag.IntVar(&gridRows, "grid-rows", 0, "Zone grid rows (0 for the cardinal layout)")
	flag.IntVar(&minRegionArea, "min-region-area", diffimage.DefaultMinRegionArea, "Minimum changed pixels per region")
	flag.DurationVar(&timeout, "timeout", env.OrDefault("PROCESSING_TIMEOUT", 30*time.Second), "Processing timeout")

	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		log.Fatalf("before, after not specified")
	}
	beforePath := args[0]
	afterPath := args[1]

	if threshold > detect.MaxThreshold {
		log.Fatalf("threshold must be at most %d, got %d", detect.MaxThreshold, threshold)
	}
	options := detect.DefaultOptions()
	options.Threshold = uint8(threshold)
	options.MinRegionArea = minRegionArea
	if gridCols != 0 || gridRows != 0 {
		options.Layout = diffimage.GridLayout(gridCols, gridRows)
	}

	ctx := context.Background()
	s, err := storage.Open(ctx, storage.Config{
		Backend: storage.Backend(storageBackend),
		File:    storage.FileConfig{Directory: directory},
		S3:      storage.S3Config{Bucket: s3Bucket},
	})
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}

	fetcher := storage.NewFetcher(&http.Client{
		Timeout: 30 * time.Second, // retry.Transport does not have perTryTimeout
		Transport: &retry.Transport{
			Base:          http.DefaultTransport,
			RetryStrategy: retry.NewExponentialBackOff(100*time.Millisecond, 5*time.Second, 3, nil),
			RetryOn:       retry.NewDefaultRetryOn(),
		},
	}, decode.MaxBytes)

	before, after, err := load(ctx, fetcher, beforePath, afterPath)
	if err != nil {
		log.Fatalf("Failed to load images: %v", err)
	}

	detector, err := detect.NewDetector(nil, diffimage.DefaultHeatmapOptions())
	if err != nil {
		log.Fatalf("Failed to create detector: %v", err)
	}

	compareCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := detector.Compare(compareCtx, before, after, options)
	if err != nil {
		log.Fatalf("Failed to compare images: %v", err)
	}

	timestamp := time.Now().Format("20060102150405")

	h := sha256.New()
	h.Write([]byte(beforePath + afterPath))
	hash := fmt.Sprintf("%x", h.Sum(nil))[:16]

	key := fmt.Sprintf("Heatmap/%s/%s.png", hash, timestamp)
	heatmapPath, err := s.Put(ctx, key, result.Heatmap)
	if err != nil {
		log.Fatalf("Failed to save heatmap: %v", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(CompareOutput{
		HeatmapPath:       heatmapPath,
		ChangePercentage:  result.Report.ChangePercentage,
		ChangedPixelCount: result.Report.ChangedPixelCount,
		TotalPixelCount:   result.Report.TotalPixelCount,
		Severity:          result.Report.Severity,
		Width:             result.Width,
		Height:            result.Height,
		Zones:             result.Report.Zones,
		Regions:           nonNil(result.Regions),
		Warnings:          nonNil(result.Warnings),
		Before:            result.Before,
		After:             result.After,
	}); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
}

func load(ctx context.Context, fetcher *storage.Fetcher, beforePath string, afterPath string) (detect.Input, detect.Input, error) {
	var before detect.Input
	var after detect.Input

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		data, err := fetcher.Fetch(ctx, beforePath)
		if err != nil {
			return xerrors.Errorf("failed to load before image: %w", err)
		}
		before = detect.Input{Data: data}
		return nil
	})
	eg.Go(func() error {
		data, err := fetcher.Fetch(ctx, afterPath)
		if err != nil {
			return xerrors.Errorf("failed to load after image: %w", err)
		}
		after = detect.Input{Data: data}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return detect.Input{}, detect.Input{}, err
	}

	return before, after, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
