package batch

import (
	"bytes"
	"change-detector/internal/storage"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

type Report struct {
	RunID       string    `json:"runId"`
	Directory   string    `json:"directory"`
	Strategy    Strategy  `json:"strategy"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Summary     Summary   `json:"summary"`
	Outcomes    []Outcome `json:"outcomes"`
}

var csvHeader = []string{
	"before",
	"after",
	"status",
	"change_percentage",
	"severity",
	"changed_pixels",
	"total_pixels",
	"regions",
	"error",
}

// Write stores the JSON report and the per-pair CSV under Report/<RunID>/
// and returns both locations.
func (r *Report) Write(ctx context.Context, s storage.Storage) (string, string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", xerrors.Errorf("failed to encode report: %w", err)
	}
	jsonPath, err := s.Put(ctx, fmt.Sprintf("Report/%s/report.json", r.RunID), data)
	if err != nil {
		return "", "", xerrors.Errorf("failed to store report: %w", err)
	}

	summary, err := r.csv()
	if err != nil {
		return "", "", xerrors.Errorf("failed to encode summary: %w", err)
	}
	csvPath, err := s.Put(ctx, fmt.Sprintf("Report/%s/summary.csv", r.RunID), summary)
	if err != nil {
		return "", "", xerrors.Errorf("failed to store summary: %w", err)
	}

	return jsonPath, csvPath, nil
}

func (r *Report) csv() ([]byte, error) {
	var buffer bytes.Buffer
	w := csv.NewWriter(&buffer)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, outcome := range r.Outcomes {
		record := []string{outcome.Before, outcome.After, "failed", "", "", "", "", "", outcome.Error}
		if result := outcome.Result; result != nil {
			record = []string{
				outcome.Before,
				outcome.After,
				"ok",
				strconv.FormatFloat(result.ChangePercentage, 'f', 2, 64),
				string(result.Severity),
				strconv.Itoa(result.ChangedPixelCount),
				strconv.Itoa(result.TotalPixelCount),
				strconv.Itoa(len(result.Regions)),
				"",
			}
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buffer.Bytes(), w.Error()
}
