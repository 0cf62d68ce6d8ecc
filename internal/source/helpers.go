package source

import (
	"sort"

	"github.com/samber/lo"

	"github.com/qstatus/qstatus/internal/core"
)

// GroupByFolder merges sessions sharing a working directory into one summary
// per folder. Token counts, messages, and cost add up; usage percent and
// state are recomputed against the merged total.
func GroupByFolder(sessions []core.SessionSummary, contextWindow int64) []core.SessionSummary {
	grouped := lo.GroupBy(sessions, func(s core.SessionSummary) string { return s.CWD })

	merged := lo.MapToSlice(grouped, func(cwd string, group []core.SessionSummary) core.SessionSummary {
		out := group[0]
		out.ID = cwd
		for _, s := range group[1:] {
			out.TokensUsed += s.TokensUsed
			out.MessageCount += s.MessageCount
			out.CostUSD += s.CostUSD
			out.HasCompaction = out.HasCompaction || s.HasCompaction
			if s.LastActivity != nil && (out.LastActivity == nil || s.LastActivity.After(*out.LastActivity)) {
				out.LastActivity = s.LastActivity
			}
			if s.RowID > out.RowID {
				out.RowID = s.RowID
			}
		}
		out.ContextWindow = contextWindow
		out.UsagePercent = core.SessionUsagePercent(out.TokensUsed, contextWindow)
		out.State = core.StateForUsage(out.UsagePercent)
		if out.HasCompaction {
			out.State = core.StateCompacted
		}
		return out
	})

	// Map iteration order is random; restore newest-first.
	sort.Slice(merged, func(i, j int) bool { return merged[i].RowID > merged[j].RowID })
	return merged
}

// Paginate applies offset then limit. Limit <= 0 means no limit.
func Paginate(sessions []core.SessionSummary, limit, offset int) []core.SessionSummary {
	if offset > 0 {
		if offset >= len(sessions) {
			return nil
		}
		sessions = sessions[offset:]
	}
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions
}

// Rollup aggregates a session list into global metrics. TopHeavySessions is
// the topN sessions by token count, heaviest first.
func Rollup(sessions []core.SessionSummary, topN int) core.GlobalMetrics {
	m := core.GlobalMetrics{TotalSessions: len(sessions)}
	for _, s := range sessions {
		m.TotalTokens += s.TokensUsed
		m.TotalCostUSD += s.CostUSD
		m.TotalMessages += s.MessageCount
		// Near limit means >= 90%; the percent check also catches sessions
		// whose state was overridden to COMPACTING or COMPACTED.
		if s.State == core.StateCritical || s.UsagePercent >= 90 {
			m.SessionsNearLimit++
		}
	}

	byTokens := make([]core.SessionSummary, len(sessions))
	copy(byTokens, sessions)
	sort.SliceStable(byTokens, func(i, j int) bool { return byTokens[i].TokensUsed > byTokens[j].TokensUsed })
	if topN > 0 && topN < len(byTokens) {
		byTokens = byTokens[:topN]
	}
	m.TopHeavySessions = byTokens
	return m
}
