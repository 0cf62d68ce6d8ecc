package core

// Every "used / limit" percentage shown anywhere in the app is computed here,
// so the status icon, session list, and dashboard can never disagree.

// DefaultPersonalMaxTokens is the baseline used for plans without a hard token
// cap when no block history exists yet to derive a personal peak from.
const DefaultPersonalMaxTokens int64 = 10_000_000

// MessageQuotaLimit is the fixed monthly message quota, independent of plan.
const MessageQuotaLimit = 5000

// Level is an alerting severity derived from a percentage.
type Level int

const (
	LevelHealthy Level = iota
	LevelCaution
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelCritical:
		return "critical"
	case LevelWarning:
		return "warning"
	case LevelCaution:
		return "caution"
	default:
		return "healthy"
	}
}

// CriticalMetric names which metric drove a critical percentage.
type CriticalMetric string

const (
	MetricTokens CriticalMetric = "tokens"
	MetricCost   CriticalMetric = "cost"
)

// TokenPercent returns tokens as a percentage of limit, capped at 100.
// A non-positive limit yields 0.
func TokenPercent(tokens, limit int64) float64 {
	p := TokenPercentUncapped(tokens, limit)
	if p > 100 {
		return 100
	}
	return p
}

// TokenPercentUncapped is TokenPercent without the 100% ceiling, for
// warning-threshold checks that care about overshoot.
func TokenPercentUncapped(tokens, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(tokens) / float64(limit) * 100
}

// PersonalMaxPercent compares current tokens against the user's own
// historical per-block peak. When no history exists the fixed default
// baseline stands in, so plans without a hard cap still get a meaningful bar.
func PersonalMaxPercent(tokens, personalMax int64) float64 {
	if personalMax <= 0 {
		personalMax = DefaultPersonalMaxTokens
	}
	return TokenPercent(tokens, personalMax)
}

// CostPercent measures cost against either a per-block baseline (a flat USD
// figure for a typical 5-hour budget) or a monthly plan limit, never both.
func CostPercent(cost, blockBaseline, monthlyLimit float64, useMonthly bool) float64 {
	limit := blockBaseline
	if useMonthly {
		limit = monthlyLimit
	}
	if limit <= 0 {
		return 0
	}
	p := cost / limit * 100
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// CriticalPercent returns whichever of the two percentages is closer to its
// limit, and names the winning metric. Ties go to tokens.
func CriticalPercent(tokenPct, costPct float64) (float64, CriticalMetric) {
	if costPct > tokenPct {
		return costPct, MetricCost
	}
	return tokenPct, MetricTokens
}

// MessageQuotaPercent measures messages against the fixed monthly quota.
func MessageQuotaPercent(messages int) float64 {
	return float64(messages) / float64(MessageQuotaLimit) * 100
}

// SessionUsagePercent derives the displayed usage percentage for a session:
// capped at 99.9 unless the session is truly at or over its window, in which
// case it reads exactly 100.
func SessionUsagePercent(tokens, window int64) float64 {
	if window <= 0 {
		return 0
	}
	if tokens >= window {
		return 100
	}
	p := float64(tokens) / float64(window) * 100
	if p > 99.9 {
		return 99.9
	}
	return p
}

// LevelForUsage maps a percentage to a level using the 90/75/50 thresholds
// shared by the message quota and the session list.
func LevelForUsage(pct float64) Level {
	switch {
	case pct >= 90:
		return LevelCritical
	case pct >= 75:
		return LevelWarning
	case pct >= 50:
		return LevelCaution
	default:
		return LevelHealthy
	}
}

// LevelForCritical maps the critical percentage to a level using the
// 95/80/60 thresholds its display call sites expect. Distinct from
// LevelForUsage on purpose; the two sets are pinned by tests.
func LevelForCritical(pct float64) Level {
	switch {
	case pct >= 95:
		return LevelCritical
	case pct >= 80:
		return LevelWarning
	case pct >= 60:
		return LevelCaution
	default:
		return LevelHealthy
	}
}
