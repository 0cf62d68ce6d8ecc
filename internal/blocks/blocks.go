// Package blocks groups usage entries into fixed-duration billing blocks
// (5 hours by default) with gap detection, and derives burn rates and
// projections from them.
package blocks

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/qstatus/qstatus/internal/estimate"
)

// DefaultSessionDuration is the billing block length.
const DefaultSessionDuration = 5 * time.Hour

// Entry is one timestamped usage record, already parsed and deduplicated by
// the data source.
type Entry struct {
	Time    time.Time
	Usage   estimate.TokenUsage
	Model   string
	CostUSD float64
}

// TokenCounts aggregates token tallies across a block's entries.
type TokenCounts struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// Total sums all four categories.
func (t TokenCounts) Total() int64 {
	return t.InputTokens + t.OutputTokens + t.CacheCreationTokens + t.CacheReadTokens
}

// SessionBlock is one time-boxed grouping of entries, or a synthetic gap.
type SessionBlock struct {
	ID            string // ISO start time, "gap-" prefixed for gap blocks
	StartTime     time.Time
	EndTime       time.Time // start + duration for real blocks, gap end for gaps
	ActualEndTime *time.Time
	IsActive      bool
	IsGap         bool
	Entries       []Entry
	TokenCounts   TokenCounts
	CostUSD       float64
	Models        []string
}

// floorToHour truncates a timestamp to the top of its UTC hour.
func floorToHour(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

// Identify partitions entries into session blocks. Entries are sorted by
// timestamp first; a new block starts when an entry lands more than one
// duration after either the block start or the previous entry, and gaps
// longer than one duration get a synthetic gap block between the real ones.
// Zero-value timestamps are dropped before grouping.
func Identify(entries []Entry, duration time.Duration, now time.Time) []SessionBlock {
	if duration <= 0 {
		duration = DefaultSessionDuration
	}

	sorted := lo.Filter(entries, func(e Entry, _ int) bool { return !e.Time.IsZero() })
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
	if len(sorted) == 0 {
		return nil
	}

	var out []SessionBlock
	blockStart := floorToHour(sorted[0].Time)
	current := []Entry{sorted[0]}

	for _, e := range sorted[1:] {
		last := current[len(current)-1]
		sinceBlockStart := e.Time.Sub(blockStart)
		sinceLastEntry := e.Time.Sub(last.Time)

		if sinceBlockStart > duration || sinceLastEntry > duration {
			out = append(out, buildBlock(blockStart, current, duration, now))
			if sinceLastEntry > duration {
				out = append(out, gapBlock(last.Time, e.Time, duration))
			}
			blockStart = floorToHour(e.Time)
			current = []Entry{e}
			continue
		}
		current = append(current, e)
	}

	out = append(out, buildBlock(blockStart, current, duration, now))
	return out
}

func buildBlock(start time.Time, entries []Entry, duration time.Duration, now time.Time) SessionBlock {
	endTime := start.Add(duration)
	actualEnd := entries[len(entries)-1].Time
	isActive := now.Sub(actualEnd) < duration && now.Before(endTime)

	var counts TokenCounts
	var cost float64
	models := map[string]struct{}{}
	for _, e := range entries {
		counts.InputTokens += e.Usage.InputTokens
		counts.OutputTokens += e.Usage.OutputTokens
		counts.CacheCreationTokens += e.Usage.CacheCreationTokens
		counts.CacheReadTokens += e.Usage.CacheReadTokens
		cost += e.CostUSD
		if e.Model != "" {
			models[e.Model] = struct{}{}
		}
	}

	names := lo.Keys(models)
	sort.Strings(names)

	return SessionBlock{
		ID:            start.Format(time.RFC3339),
		StartTime:     start,
		EndTime:       endTime,
		ActualEndTime: &actualEnd,
		IsActive:      isActive,
		Entries:       entries,
		TokenCounts:   counts,
		CostUSD:       cost,
		Models:        names,
	}
}

func gapBlock(lastActivity, nextActivity time.Time, duration time.Duration) SessionBlock {
	gapStart := lastActivity.Add(duration)
	return SessionBlock{
		ID:        "gap-" + gapStart.Format(time.RFC3339),
		StartTime: gapStart,
		EndTime:   nextActivity,
		IsGap:     true,
	}
}

// FilterRecent keeps blocks that started within the last N days or are still
// active. Zero days means the 3-day default.
func FilterRecent(all []SessionBlock, days int, now time.Time) []SessionBlock {
	if days <= 0 {
		days = 3
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	return lo.Filter(all, func(b SessionBlock, _ int) bool {
		return !b.StartTime.Before(cutoff) || b.IsActive
	})
}

// ActiveBlock returns the single active block, if any.
func ActiveBlock(all []SessionBlock) (SessionBlock, bool) {
	return lo.Find(all, func(b SessionBlock) bool { return b.IsActive && !b.IsGap })
}
