package blocks

import (
	"math"
	"time"
)

// BurnRate is the consumption rate derived from one block's entries.
type BurnRate struct {
	TokensPerMinute             float64
	TokensPerMinuteForIndicator float64 // input+output only; cache tokens excluded
	CostPerHour                 float64
}

// CalculateBurnRate derives a rate for a real block with at least two
// distinct timestamps. Gap blocks, empty blocks, and single-entry blocks
// (zero span) report no data rather than a zero rate.
func CalculateBurnRate(b SessionBlock) (BurnRate, bool) {
	if b.IsGap || len(b.Entries) == 0 {
		return BurnRate{}, false
	}

	first := b.Entries[0].Time
	last := b.Entries[len(b.Entries)-1].Time
	minutes := float64(last.Sub(first) / time.Minute)
	if minutes <= 0 {
		return BurnRate{}, false
	}

	nonCache := float64(b.TokenCounts.InputTokens + b.TokenCounts.OutputTokens)
	return BurnRate{
		TokensPerMinute:             float64(b.TokenCounts.Total()) / minutes,
		TokensPerMinuteForIndicator: nonCache / minutes,
		CostPerHour:                 b.CostUSD / minutes * 60,
	}, true
}

// ProjectedUsage extrapolates an active block's totals to the end of its
// window at the current burn rate.
type ProjectedUsage struct {
	TotalTokens      int64
	TotalCost        float64
	RemainingMinutes int64
}

// ProjectUsage returns a projection for an active, non-gap block, or false
// when no burn rate is available.
func ProjectUsage(b SessionBlock, now time.Time) (ProjectedUsage, bool) {
	if !b.IsActive || b.IsGap {
		return ProjectedUsage{}, false
	}
	rate, ok := CalculateBurnRate(b)
	if !ok {
		return ProjectedUsage{}, false
	}

	remaining := b.EndTime.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	remainingMinutes := float64(remaining / time.Minute)

	totalTokens := float64(b.TokenCounts.Total()) + rate.TokensPerMinute*remainingMinutes
	totalCost := b.CostUSD + rate.CostPerHour/60*remainingMinutes

	return ProjectedUsage{
		TotalTokens:      int64(math.Round(totalTokens)),
		TotalCost:        math.Round(totalCost*100) / 100,
		RemainingMinutes: int64(math.Round(remainingMinutes)),
	}, true
}
