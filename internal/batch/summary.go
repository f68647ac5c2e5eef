package batch

import (
	diffimage "change-detector/internal/diff/image"
	"math"
	"sort"
)

const MaxHotspots = 10

type Hotspot struct {
	Pair
	ChangePercentage float64            `json:"changePercentage"`
	Severity         diffimage.Severity `json:"severity"`
}

type Summary struct {
	TotalPairs           int                        `json:"totalPairs"`
	Successful           int                        `json:"successful"`
	Failed               int                        `json:"failed"`
	SuccessRate          float64                    `json:"successRate"`
	MeanChangePercentage float64                    `json:"meanChangePercentage"`
	MaxChangePercentage  float64                    `json:"maxChangePercentage"`
	SeverityDistribution map[diffimage.Severity]int `json:"severityDistribution"`
	Hotspots             []Hotspot                  `json:"hotspots"`
}

// Summarize aggregates outcomes. SuccessRate is a percentage; all
// percentages are rounded to two decimals.
func Summarize(outcomes []Outcome) Summary {
	summary := Summary{
		TotalPairs:           len(outcomes),
		SeverityDistribution: map[diffimage.Severity]int{},
		Hotspots:             []Hotspot{},
	}

	var total float64
	for _, outcome := range outcomes {
		if !outcome.Succeeded() {
			summary.Failed++
			continue
		}
		summary.Successful++
		total += outcome.Result.ChangePercentage
		summary.MaxChangePercentage = math.Max(summary.MaxChangePercentage, outcome.Result.ChangePercentage)
		summary.SeverityDistribution[outcome.Result.Severity]++
		summary.Hotspots = append(summary.Hotspots, Hotspot{
			Pair:             outcome.Pair,
			ChangePercentage: outcome.Result.ChangePercentage,
			Severity:         outcome.Result.Severity,
		})
	}

	if summary.TotalPairs > 0 {
		summary.SuccessRate = round2(100 * float64(summary.Successful) / float64(summary.TotalPairs))
	}
	if summary.Successful > 0 {
		summary.MeanChangePercentage = round2(total / float64(summary.Successful))
	}

	sort.SliceStable(summary.Hotspots, func(i, j int) bool {
		return summary.Hotspots[i].ChangePercentage > summary.Hotspots[j].ChangePercentage
	})
	if len(summary.Hotspots) > MaxHotspots {
		summary.Hotspots = summary.Hotspots[:MaxHotspots]
	}

	return summary
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
