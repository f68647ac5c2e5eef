package routes

import (
	"change-detector/internal/detect"
	diffimage "change-detector/internal/diff/image"
	"change-detector/internal/failure"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

type CompareConfig struct {
	MaxUploadBytes    int64
	ProcessingTimeout time.Duration
	DefaultThreshold  uint8
}

type CompareResponse struct {
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
	Heatmap           string              `json:"heatmap"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

var errPayloadTooLarge = errors.New("payload too large")

// multipartOverhead covers boundaries, part headers and the small option
// fields on top of the two image parts.
const multipartOverhead = 1 << 20

func Compare(detector *detect.Detector, config CompareConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 2*config.MaxUploadBytes+multipartOverhead)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var maxBytesError *http.MaxBytesError
			if errors.As(err, &maxBytesError) {
				writeError(w, failure.Wrap(failure.InvalidArgument, errPayloadTooLarge, "request body exceeds %d bytes", maxBytesError.Limit))
				return
			}
			writeError(w, failure.Wrap(failure.InvalidArgument, err, "request is not valid multipart form data"))
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()

		options, err := parseOptions(r, config.DefaultThreshold)
		if err != nil {
			writeError(w, err)
			return
		}

		before, err := readImage(r, "before", config.MaxUploadBytes)
		if err != nil {
			writeError(w, err)
			return
		}
		after, err := readImage(r, "after", config.MaxUploadBytes)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.ProcessingTimeout)
		defer cancel()

		result, err := detector.Compare(ctx, before, after, options)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(newCompareResponse(result)); err != nil {
			slog.Error("Failed to encode response", "error", err)
		}
	}
}

func newCompareResponse(result *detect.Result) CompareResponse {
	response := CompareResponse{
		ChangePercentage:  result.Report.ChangePercentage,
		ChangedPixelCount: result.Report.ChangedPixelCount,
		TotalPixelCount:   result.Report.TotalPixelCount,
		Severity:          result.Report.Severity,
		Width:             result.Width,
		Height:            result.Height,
		Zones:             result.Report.Zones,
		Regions:           result.Regions,
		Warnings:          result.Warnings,
		Before:            result.Before,
		After:             result.After,
		Heatmap:           base64.StdEncoding.EncodeToString(result.Heatmap),
	}
	if response.Zones == nil {
		response.Zones = []diffimage.Zone{}
	}
	if response.Regions == nil {
		response.Regions = []diffimage.Region{}
	}
	if response.Warnings == nil {
		response.Warnings = []diffimage.Warning{}
	}
	return response
}

func readImage(r *http.Request, field string, maxBytes int64) (detect.Input, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return detect.Input{}, failure.Wrap(failure.InvalidArgument, err, "missing %s image", field)
	}
	defer file.Close()

	if header.Size > maxBytes {
		return detect.Input{}, failure.Wrap(failure.InvalidArgument, errPayloadTooLarge, "%s image is %d bytes, limit is %d bytes", field, header.Size, maxBytes)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return detect.Input{}, xerrors.Errorf("failed to read %s image: %w", field, err)
	}

	return detect.Input{
		Data:     data,
		MIMEType: contentType(header),
	}, nil
}

func contentType(header *multipart.FileHeader) string {
	return header.Header.Get("Content-Type")
}

func parseOptions(r *http.Request, defaultThreshold uint8) (detect.Options, error) {
	options := detect.DefaultOptions()
	options.Threshold = defaultThreshold

	if v := r.FormValue("threshold"); v != "" {
		threshold, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return options, failure.New(failure.InvalidArgument, "threshold must be an integer between 0 and %d, got %q", detect.MaxThreshold, v)
		}
		options.Threshold = uint8(threshold)
	}

	cols := r.FormValue("gridCols")
	rows := r.FormValue("gridRows")
	if cols != "" || rows != "" {
		gridCols, err := strconv.Atoi(cols)
		if err != nil {
			return options, failure.New(failure.InvalidArgument, "gridCols must be an integer, got %q", cols)
		}
		gridRows, err := strconv.Atoi(rows)
		if err != nil {
			return options, failure.New(failure.InvalidArgument, "gridRows must be an integer, got %q", rows)
		}
		options.Layout = diffimage.GridLayout(gridCols, gridRows)
	}

	if v := r.FormValue("minRegionArea"); v != "" {
		area, err := strconv.Atoi(v)
		if err != nil || area < 0 {
			return options, failure.New(failure.InvalidArgument, "minRegionArea must be a non-negative integer, got %q", v)
		}
		options.MinRegionArea = area
	}

	return options, nil
}

func statusOf(err error) int {
	if errors.Is(err, errPayloadTooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	switch failure.KindOf(err) {
	case failure.UnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case failure.CorruptedImage, failure.DimensionOutOfRange:
		return http.StatusUnprocessableEntity
	case failure.InvalidArgument:
		return http.StatusBadRequest
	case failure.ProcessingTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	response := ErrorResponse{
		Error:  string(failure.KindOf(err)),
		Reason: failure.ReasonOf(err),
	}
	if status == http.StatusInternalServerError {
		slog.Error(fmt.Sprintf("failed to compare images: %s", err))
		response = ErrorResponse{
			Error:  "internal",
			Reason: http.StatusText(http.StatusInternalServerError),
		}
	} else {
		slog.Warn(fmt.Sprintf("rejected comparison: %s", err), "status", status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
