package core

import "time"

// SessionState describes where a session sits relative to its context budget.
type SessionState string

const (
	StateNormal     SessionState = "NORMAL"
	StateWarn       SessionState = "WARN"
	StateCritical   SessionState = "CRITICAL"
	StateCompacting SessionState = "COMPACTING"
	StateCompacted  SessionState = "COMPACTED"
	StateError      SessionState = "ERROR"
)

// Default context windows by provider. Amazon Q reports an effective limit of
// 175k before compaction kicks in; Claude models carry a 200k window.
const (
	DefaultContextWindowQ      = 175_000
	DefaultContextWindowClaude = 200_000
)

// UsageSnapshot is a point-in-time reading of the most recent usage,
// appended to a bounded rolling history each poll cycle.
type UsageSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	TokensUsed     int64     `json:"tokens_used"`
	MessageCount   int       `json:"message_count"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SessionLimit   int64     `json:"session_limit,omitempty"`
}

// SessionSummary is one logical session/conversation as shown in the session
// list. It is rebuilt from the data source on every poll; values are never
// mutated in place.
type SessionSummary struct {
	ID            string       `json:"id"`
	CWD           string       `json:"cwd,omitempty"`
	TokensUsed    int64        `json:"tokens_used"`
	ContextWindow int64        `json:"context_window"`
	UsagePercent  float64      `json:"usage_percent"`
	MessageCount  int          `json:"message_count"`
	LastActivity  *time.Time   `json:"last_activity,omitempty"`
	State         SessionState `json:"state"`
	RowID         int64        `json:"-"` // ordering proxy, not part of the model
	HasCompaction bool         `json:"has_compaction_indicators"`
	ModelID       string       `json:"model_id,omitempty"`
	CostUSD       float64      `json:"cost_usd"`
}

// TokenBreakdown splits a session's estimated tokens into display categories.
type TokenBreakdown struct {
	History      int64 `json:"history"`
	ContextFiles int64 `json:"context_files"`
	Tools        int64 `json:"tools"`
	SystemPrompt int64 `json:"system_prompt"`
}

// Total returns the sum over all categories.
func (b TokenBreakdown) Total() int64 {
	return b.History + b.ContextFiles + b.Tools + b.SystemPrompt
}

// SessionDetails is a SessionSummary plus its token breakdown, built on
// demand when a single session is inspected.
type SessionDetails struct {
	Summary   SessionSummary `json:"summary"`
	Breakdown TokenBreakdown `json:"breakdown"`
}

// GlobalMetrics is the cross-session rollup recomputed each poll.
type GlobalMetrics struct {
	TotalSessions     int              `json:"total_sessions"`
	TotalTokens       int64            `json:"total_tokens"`
	TotalCostUSD      float64          `json:"total_cost_usd"`
	TotalMessages     int              `json:"total_messages"`
	SessionsNearLimit int              `json:"sessions_near_limit"` // usage >= 90%
	TopHeavySessions  []SessionSummary `json:"top_heavy_sessions"`
}

// PeriodMetrics holds token/cost/message rollups for calendar-ish windows.
// Providers that cannot compute these return the zero value, not an error.
type PeriodMetrics struct {
	TodayTokens int64   `json:"today_tokens"`
	TodayCost   float64 `json:"today_cost"`
	WeekTokens  int64   `json:"week_tokens"`
	WeekCost    float64 `json:"week_cost"`
	MonthTokens int64   `json:"month_tokens"`
	MonthCost   float64 `json:"month_cost"`
	YearTokens  int64   `json:"year_tokens"`
	YearCost    float64 `json:"year_cost"`
}

// ModelUsage is a per-model token/cost rollup for the extended
// model-grouped query.
type ModelUsage struct {
	Model  string  `json:"model"`
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// BurnRates bundles the per-hour consumption rates shown for the active
// session.
type BurnRates struct {
	MessagesPerHour float64 `json:"messages_per_hour"`
	TokensPerHour   float64 `json:"tokens_per_hour"`
	CostPerHour     float64 `json:"cost_per_hour"`
}

// ActiveSessionData describes the most recently active session. It is
// transient and recomputed each poll.
//
// ContextTokens is what the model currently holds in memory (latest entry's
// input + cache-read + cache-creation), not the cumulative sum; after a
// compaction the two diverge sharply.
type ActiveSessionData struct {
	SessionID     string    `json:"session_id"`
	CWD           string    `json:"cwd,omitempty"`
	ContextTokens int64     `json:"context_tokens"`
	ContextWindow int64     `json:"context_window"`
	TotalTokens   int64     `json:"total_tokens"`
	CostUSD       float64   `json:"cost_usd"`
	MessageCount  int       `json:"message_count"`
	Models        []string  `json:"models,omitempty"`
	IsActive      bool      `json:"is_active"`
	LastActivity  time.Time `json:"last_activity"`
	Rates         BurnRates `json:"rates"`

	BlockStart      *time.Time    `json:"block_start,omitempty"`
	BlockEnd        *time.Time    `json:"block_end,omitempty"`
	BlockTokens     int64         `json:"block_tokens"`
	BlockCostUSD    float64       `json:"block_cost_usd"`
	BlockNumber     int           `json:"block_number"` // 1-based
	TotalBlockCount int           `json:"total_block_count"`
	BlockTimeLeft   time.Duration `json:"-"`

	// Extrapolations to the end of the current block at the present burn
	// rate; zero when no block is active.
	ProjectedBlockTokens  int64   `json:"projected_block_tokens,omitempty"`
	ProjectedBlockCostUSD float64 `json:"projected_block_cost_usd,omitempty"`
}

// StateForUsage derives the list-level session state from a usage
// percentage. 70/90 are the compaction-pressure boundaries the source data
// itself reports against.
func StateForUsage(pct float64) SessionState {
	switch {
	case pct >= 90:
		return StateCritical
	case pct >= 70:
		return StateWarn
	default:
		return StateNormal
	}
}
