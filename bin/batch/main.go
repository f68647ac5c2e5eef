package main

import (
	"change-detector/internal/batch"
	"change-detector/internal/client"
	"change-detector/internal/detect"
	"change-detector/internal/env"
	"change-detector/internal/runnable"
	"change-detector/internal/storage"
	"context"
	"flag"
	"log"
	"log/slog"
	"time"

	"golang.org/x/xerrors"
)

func main() {
	if err := env.Load(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}

	var directory string
	var strategy string
	var endpoint string
	var concurrency int
	var maxPairs int
	var schedule string
	var outputDirectory string
	var storageBackend string
	var s3Bucket string
	var saveHeatmaps bool
	var timeout time.Duration
	var maxRetryCount uint
	var threshold int
	var gridCols int
	var gridRows int
	var debug bool
	flag.StringVar(&directory, "dir", env.OrDefault("DATASET_DIRECTORY", "./datasets"), "Directory to search for image pairs")
	flag.StringVar(&strategy, "strategy", env.OrDefault("PAIRING_STRATEGY", string(batch.Sequential)), "Pairing strategy (sequential or temporal)")
	flag.StringVar(&endpoint, "endpoint", env.OrDefault("COMPARE_SERVER_ENDPOINT", "http://localhost:8383"), "compare-server endpoint")
	flag.IntVar(&concurrency, "concurrency", env.OrDefault("CONCURRENCY", batch.DefaultConcurrency), "Maximum concurrent comparisons")
	flag.IntVar(&maxPairs, "max-pairs", env.OrDefault("MAX_PAIRS", 0), "Maximum pairs per run (0 for all)")
	flag.StringVar(&schedule, "schedule", env.OrDefault("SCHEDULE", ""), "Standard 5-field cron expression; empty runs once")
	flag.StringVar(&outputDirectory, "directory", env.OrDefault("DIRECTORY", "/tmp"), "Output directory for file storage")
	flag.StringVar(&storageBackend, "storage-backend", env.OrDefault("STORAGE_BACKEND", "file"), "Storage backend (file or s3)")
	flag.StringVar(&s3Bucket, "s3-bucket", env.OrDefault("S3_BUCKET", ""), "S3 bucket for reports")
	flag.BoolVar(&saveHeatmaps, "save-heatmaps", env.OrDefault("SAVE_HEATMAPS", false), "Store each heatmap next to the report")
	flag.DurationVar(&timeout, "timeout", env.OrDefault("REQUEST_TIMEOUT", 60*time.Second), "Per-request timeout including retries")
	flag.UintVar(&maxRetryCount, "max-retry-count", env.OrDefault("MAX_RETRY_COUNT", uint(3)), "Retries for gateway errors and connect failures")
	flag.IntVar(&threshold, "threshold", -1, "Per-pixel change threshold (-1 for the server default)")
	flag.IntVar(&gridCols, "grid-cols", 0, "Zone grid columns (0 for the cardinal layout)")
	flag.IntVar(&gridRows, "grid-rows", 0, "Zone grid rows (0 for the cardinal layout)")
	flag.BoolVar(&debug, "debug", env.OrDefault("DEBUG", false), "Enable text logs")

	flag.Parse()

	logger, err := runnable.NewLogger(debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	slog.SetDefault(logger)

	pairing, err := batch.ParseStrategy(strategy)
	if err != nil {
		log.Fatalf("Invalid strategy: %v", err)
	}

	params := client.Params{GridCols: gridCols, GridRows: gridRows}
	if threshold >= 0 {
		if threshold > detect.MaxThreshold {
			log.Fatalf("threshold must be at most %d, got %d", detect.MaxThreshold, threshold)
		}
		t := uint8(threshold)
		params.Threshold = &t
	}

	ctx := context.Background()
	s, err := storage.Open(ctx, storage.Config{
		Backend: storage.Backend(storageBackend),
		File:    storage.FileConfig{Directory: outputDirectory},
		S3:      storage.S3Config{Bucket: s3Bucket},
	})
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}

	c := client.New(endpoint, timeout, maxRetryCount)

	job := func(ctx context.Context) error {
		return run(ctx, c, s, runConfig{
			directory:    directory,
			strategy:     pairing,
			concurrency:  concurrency,
			maxPairs:     maxPairs,
			params:       params,
			saveHeatmaps: saveHeatmaps,
		})
	}
	if err := runnable.Schedule(ctx, schedule, job); err != nil {
		log.Fatalf("Batch failed: %v", err)
	}
}

type runConfig struct {
	directory    string
	strategy     batch.Strategy
	concurrency  int
	maxPairs     int
	params       client.Params
	saveHeatmaps bool
}

func run(ctx context.Context, c *client.Client, s storage.Storage, config runConfig) error {
	startedAt := time.Now()
	runID := startedAt.Format("20060102150405")

	if err := c.Healthz(ctx); err != nil {
		return xerrors.Errorf("compare-server is unavailable: %w", err)
	}

	pairs, err := batch.FindPairs(config.directory, config.strategy)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		slog.Warn("no image pairs found", "directory", config.directory, "strategy", config.strategy)
		return nil
	}
	slog.Info("found image pairs", "count", len(pairs), "strategy", config.strategy)

	runner := &batch.Runner{
		Comparer:    c,
		Params:      config.params,
		Concurrency: config.concurrency,
		MaxPairs:    config.maxPairs,
		RunID:       runID,
	}
	if config.saveHeatmaps {
		runner.Heatmaps = s
	}

	outcomes, err := runner.Run(ctx, pairs)
	if err != nil {
		return err
	}

	report := &batch.Report{
		RunID:       runID,
		Directory:   config.directory,
		Strategy:    config.strategy,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Summary:     batch.Summarize(outcomes),
		Outcomes:    outcomes,
	}
	jsonPath, csvPath, err := report.Write(ctx, s)
	if err != nil {
		return err
	}

	slog.Info("batch completed",
		"successful", report.Summary.Successful,
		"total", report.Summary.TotalPairs,
		"successRate", report.Summary.SuccessRate,
		"meanChangePercentage", report.Summary.MeanChangePercentage,
		"report", jsonPath,
		"summary", csvPath,
	)
	return nil
}
