package detect

import (
	"change-detector/internal/decode"
	diffimage "change-detector/internal/diff/image"
	"change-detector/internal/failure"
	"context"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// MaxThreshold bounds the threshold flags. At 255 no pixel is changed.
const MaxThreshold = math.MaxUint8

type Options struct {
	Threshold     uint8
	Layout        diffimage.Layout
	MinRegionArea int
}

func DefaultOptions() Options {
	return Options{
		Threshold:     diffimage.DefaultThreshold,
		Layout:        diffimage.CardinalLayout(),
		MinRegionArea: diffimage.DefaultMinRegionArea,
	}
}

func (o Options) validate() error {
	if o.MinRegionArea < 0 {
		return failure.New(failure.InvalidArgument, "minimum region area must not be negative, got %d", o.MinRegionArea)
	}
	return nil
}

type Input struct {
	Data     []byte
	MIMEType string
}

type SourceInfo struct {
	Format decode.Format `json:"format"`
	Width  int           `json:"width"`
	Height int           `json:"height"`
}

type Result struct {
	Report   diffimage.ChangeReport
	Heatmap  []byte
	Width    int
	Height   int
	Regions  []diffimage.Region
	Warnings []diffimage.Warning
	Before   SourceInfo
	After    SourceInfo
}

type Detector struct {
	heatmap                        *diffimage.Heatmap
	comparisonsTotal               metric.Int64Counter
	changePercentage               metric.Float64Histogram
	comparisonDurationMicroSeconds metric.Int64Histogram
}

// NewDetector creates a Detector. A nil meter disables metrics.
func NewDetector(meter metric.Meter, heatmapOptions diffimage.HeatmapOptions) (*Detector, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("detect")
	}

	comparisonsTotal, err := meter.Int64Counter("comparisons_total")
	if err != nil {
		return nil, xerrors.Errorf("failed to create counter: %w", err)
	}
	changePercentage, err := meter.Float64Histogram("change_percentage")
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}
	comparisonDurationMicroSeconds, err := meter.Int64Histogram("comparison_duration_micro_seconds")
	if err != nil {
		return nil, xerrors.Errorf("failed to create histogram: %w", err)
	}

	return &Detector{
		heatmap:                        diffimage.NewHeatmap(heatmapOptions),
		comparisonsTotal:               comparisonsTotal,
		changePercentage:               changePercentage,
		comparisonDurationMicroSeconds: comparisonDurationMicroSeconds,
	}, nil
}

// Compare runs decode, normalize, diff and then aggregation, heatmap
// synthesis and region finding over the shared mask. ctx is checked between
// stages; a done context fails with failure.ProcessingTimeout and no partial
// result.
func (d *Detector) Compare(ctx context.Context, before Input, after Input, options Options) (result *Result, err error) {
	now := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(failure.KindOf(err))
			if outcome == "" {
				outcome = "internal"
			}
		}
		d.comparisonsTotal.Add(ctx, 1, metric.WithAttributes(attribute.Key("outcome").String(outcome)))
		d.comparisonDurationMicroSeconds.Record(ctx, time.Since(now).Microseconds(), metric.WithAttributes(attribute.Key("outcome").String(outcome)))
		if result != nil {
			d.changePercentage.Record(ctx, result.Report.ChangePercentage)
		}
	}()

	if err := options.validate(); err != nil {
		return nil, err
	}

	if err := checkContext(ctx, "decode"); err != nil {
		return nil, err
	}
	beforeImage, afterImage, err := decodePair(before, after)
	if err != nil {
		return nil, err
	}

	if err := checkContext(ctx, "normalize"); err != nil {
		return nil, err
	}
	pair, err := diffimage.Normalize(beforeImage.Image, afterImage.Image)
	if err != nil {
		return nil, xerrors.Errorf("failed to normalize images: %w", err)
	}

	if err := checkContext(ctx, "diff"); err != nil {
		return nil, err
	}
	mask := diffimage.NewPixelDiff(options.Threshold).Calculate(pair)

	if err := checkContext(ctx, "aggregate"); err != nil {
		return nil, err
	}

	var report *diffimage.ChangeReport
	var heatmap []byte
	var regions []diffimage.Region
	{
		eg, egctx := errgroup.WithContext(ctx)

		eg.Go(func() error {
			r, err := diffimage.Aggregate(mask, options.Layout)
			if err != nil {
				return xerrors.Errorf("failed to aggregate change: %w", err)
			}
			report = r
			return nil
		})

		eg.Go(func() error {
			data, err := d.heatmap.Synthesize(mask).EncodePNG()
			if err != nil {
				return xerrors.Errorf("failed to synthesize heatmap: %w", err)
			}
			heatmap = data
			return nil
		})

		eg.Go(func() error {
			r, err := diffimage.FindRegions(egctx, mask, options.MinRegionArea)
			if err != nil {
				return xerrors.Errorf("failed to find regions: %w", err)
			}
			regions = r
			return nil
		})

		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}

	if err := checkContext(ctx, "response"); err != nil {
		return nil, err
	}

	for _, w := range pair.Warnings {
		slog.Warn(w.Message, "code", w.Code)
	}

	return &Result{
		Report:   *report,
		Heatmap:  heatmap,
		Width:    pair.Width,
		Height:   pair.Height,
		Regions:  regions,
		Warnings: pair.Warnings,
		Before:   sourceInfo(beforeImage),
		After:    sourceInfo(afterImage),
	}, nil
}

// decodePair decodes both inputs concurrently. When both fail, the before
// image's error is reported.
func decodePair(before Input, after Input) (*decode.RawImage, *decode.RawImage, error) {
	var beforeImage *decode.RawImage
	var afterImage *decode.RawImage
	var beforeErr error
	var afterErr error

	var eg errgroup.Group
	eg.Go(func() error {
		beforeImage, beforeErr = decode.Decode(before.Data, before.MIMEType)
		return nil
	})
	eg.Go(func() error {
		afterImage, afterErr = decode.Decode(after.Data, after.MIMEType)
		return nil
	})
	_ = eg.Wait()

	if beforeErr != nil {
		return nil, nil, xerrors.Errorf("failed to decode before image: %w", beforeErr)
	}
	if afterErr != nil {
		return nil, nil, xerrors.Errorf("failed to decode after image: %w", afterErr)
	}
	return beforeImage, afterImage, nil
}

func checkContext(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return failure.Wrap(failure.ProcessingTimeout, err, "comparison stopped before %s", stage)
	}
	return nil
}

func sourceInfo(raw *decode.RawImage) SourceInfo {
	return SourceInfo{
		Format: raw.Format,
		Width:  raw.Width,
		Height: raw.Height,
	}
}
