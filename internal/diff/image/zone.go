package image

import (
	"change-detector/internal/failure"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/xerrors"
)

var ErrInvalidLayout = xerrors.New("invalid zone layout")

type Severity string

const (
	SeverityNone         Severity = "none"
	SeverityMinor        Severity = "minor"
	SeverityModerate     Severity = "moderate"
	SeveritySevere       Severity = "severe"
	SeverityCatastrophic Severity = "catastrophic"
)

// SeverityOf buckets a change percentage. The bands are for presentation
// only and carry no detection semantics.
func SeverityOf(percentage float64) Severity {
	switch {
	case percentage <= 0:
		return SeverityNone
	case percentage < 5:
		return SeverityMinor
	case percentage < 15:
		return SeverityModerate
	case percentage < 40:
		return SeveritySevere
	default:
		return SeverityCatastrophic
	}
}

type Zone struct {
	Label             string   `json:"label"`
	X                 int      `json:"x"`
	Y                 int      `json:"y"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	ChangedPixelCount int      `json:"changedPixelCount"`
	TotalPixelCount   int      `json:"totalPixelCount"`
	Percentage        float64  `json:"percentage"`
	Severity          Severity `json:"severity"`
}

type ChangeReport struct {
	ChangePercentage  float64  `json:"changePercentage"`
	ChangedPixelCount int      `json:"changedPixelCount"`
	TotalPixelCount   int      `json:"totalPixelCount"`
	Severity          Severity `json:"severity"`
	Zones             []Zone   `json:"zones"`
}

type layoutKind int

const (
	cardinal layoutKind = iota
	grid
)

// Layout describes how a mask is partitioned into zones. The zero value is
// the cardinal layout.
type Layout struct {
	kind layoutKind
	cols int
	rows int
}

// CardinalLayout splits the mask into North, South, West, Central and East.
// North and South each take a quarter of the height at full width; the
// middle band is split at a quarter and three quarters of the width.
func CardinalLayout() Layout {
	return Layout{kind: cardinal}
}

func GridLayout(cols int, rows int) Layout {
	return Layout{kind: grid, cols: cols, rows: rows}
}

func (l Layout) String() string {
	if l.kind == grid {
		return fmt.Sprintf("grid %dx%d", l.cols, l.rows)
	}
	return "cardinal"
}

func (l Layout) zones(width int, height int) ([]Zone, error) {
	switch l.kind {
	case grid:
		if l.cols <= 0 || l.rows <= 0 || l.cols > width || l.rows > height {
			return nil, failure.Wrap(failure.InvalidArgument, ErrInvalidLayout, "%dx%d grid does not fit a %dx%d mask", l.cols, l.rows, width, height)
		}

		colDigits := len(strconv.Itoa(l.cols))
		rowDigits := len(strconv.Itoa(l.rows))
		zones := make([]Zone, 0, l.cols*l.rows)
		for row := 0; row < l.rows; row++ {
			y0 := row * height / l.rows
			y1 := (row + 1) * height / l.rows
			for col := 0; col < l.cols; col++ {
				x0 := col * width / l.cols
				x1 := (col + 1) * width / l.cols
				zones = append(zones, Zone{
					Label:  fmt.Sprintf("R%0*dC%0*d", rowDigits, row+1, colDigits, col+1),
					X:      x0,
					Y:      y0,
					Width:  x1 - x0,
					Height: y1 - y0,
				})
			}
		}
		return zones, nil
	default:
		quarterW := width / 4
		quarterH := height / 4
		if quarterW == 0 || quarterH == 0 {
			return nil, failure.Wrap(failure.InvalidArgument, ErrInvalidLayout, "cardinal zones need at least 4x4 pixels, mask is %dx%d", width, height)
		}

		middleH := height - 2*quarterH
		return []Zone{
			{Label: "North", X: 0, Y: 0, Width: width, Height: quarterH},
			{Label: "South", X: 0, Y: height - quarterH, Width: width, Height: quarterH},
			{Label: "West", X: 0, Y: quarterH, Width: quarterW, Height: middleH},
			{Label: "Central", X: quarterW, Y: quarterH, Width: width - 2*quarterW, Height: middleH},
			{Label: "East", X: width - quarterW, Y: quarterH, Width: quarterW, Height: middleH},
		}, nil
	}
}

// Aggregate computes the global change percentage and the per-zone
// breakdown. Zones are ordered by percentage descending, then by label.
func Aggregate(mask *DiffMask, layout Layout) (*ChangeReport, error) {
	zones, err := layout.zones(mask.Width, mask.Height)
	if err != nil {
		return nil, err
	}

	for i := range zones {
		zone := &zones[i]
		for y := zone.Y; y < zone.Y+zone.Height; y++ {
			row := mask.Intensity[y*mask.Width+zone.X : y*mask.Width+zone.X+zone.Width]
			for _, v := range row {
				if v > mask.Threshold {
					zone.ChangedPixelCount++
				}
			}
		}
		zone.TotalPixelCount = zone.Width * zone.Height
		zone.Percentage = percentage(zone.ChangedPixelCount, zone.TotalPixelCount)
		zone.Severity = SeverityOf(zone.Percentage)
	}

	sort.SliceStable(zones, func(i, j int) bool {
		if zones[i].Percentage != zones[j].Percentage {
			return zones[i].Percentage > zones[j].Percentage
		}
		return zones[i].Label < zones[j].Label
	})

	changed := mask.ChangedCount()
	total := mask.Width * mask.Height
	changePercentage := percentage(changed, total)

	return &ChangeReport{
		ChangePercentage:  changePercentage,
		ChangedPixelCount: changed,
		TotalPixelCount:   total,
		Severity:          SeverityOf(changePercentage),
		Zones:             zones,
	}, nil
}

func percentage(changed int, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(100 * float64(changed) / float64(total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
