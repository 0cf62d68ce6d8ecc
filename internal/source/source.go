// Package source defines the read-only data-source contract shared by the
// Amazon Q SQLite provider and the Claude Code JSONL provider, plus the
// aggregation helpers both share.
package source

import (
	"context"
	"strings"

	"github.com/qstatus/qstatus/internal/core"
)

// Type identifies a concrete provider.
type Type string

const (
	TypeAmazonQ    Type = "amazon-q"
	TypeClaudeCode Type = "claude-code"
)

// ParseType maps a config string to a provider type, defaulting to Amazon Q
// for anything unrecognized (bad values persisted by older versions must not
// crash startup).
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claude-code", "claude_code", "claude":
		return TypeClaudeCode
	default:
		return TypeAmazonQ
	}
}

// SessionQuery parameterizes a paginated session-list fetch.
type SessionQuery struct {
	Limit         int
	Offset        int
	GroupByFolder bool
	ActiveOnly    bool
}

// DataSource is the polymorphic read interface both providers implement.
//
// All methods are read-only against the underlying store. The extended
// methods (FetchModelUsage, FetchPeriodMetrics, MonthlyMessageCount) follow
// an empty-means-unsupported contract: a provider that cannot compute them
// returns zero values and a nil error, and callers must not treat empty
// results as failures.
type DataSource interface {
	Type() Type

	// OpenIfNeeded initializes the connection or scanner state. Idempotent;
	// safe to call every cycle.
	OpenIfNeeded(ctx context.Context) error

	// DataVersion is a cheap change-detection token: it differs from the
	// previous reading whenever the underlying data changed.
	DataVersion(ctx context.Context) (int64, error)

	FetchLatestUsage(ctx context.Context) (core.UsageSnapshot, error)
	FetchSessions(ctx context.Context, q SessionQuery) ([]core.SessionSummary, error)
	FetchSessionDetail(ctx context.Context, key string) (core.SessionDetails, bool, error)
	SessionCount(ctx context.Context, activeOnly bool) (int, error)
	FetchGlobalMetrics(ctx context.Context, topN int) (core.GlobalMetrics, error)

	FetchModelUsage(ctx context.Context) ([]core.ModelUsage, error)
	FetchPeriodMetrics(ctx context.Context) (core.PeriodMetrics, error)
	MonthlyMessageCount(ctx context.Context) (int, error)

	Close() error
}

// ActiveSessionSource is implemented by providers that can resolve the
// currently active session (the JSONL provider). Callers type-assert.
type ActiveSessionSource interface {
	FetchActiveSession(ctx context.Context) (core.ActiveSessionData, bool, error)
}
