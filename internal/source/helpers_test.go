package source

import (
	"testing"
	"time"

	"github.com/qstatus/qstatus/internal/core"
)

func TestGroupByFolder(t *testing.T) {
	older := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	sessions := []core.SessionSummary{
		{ID: "s1", CWD: "/work/api", TokensUsed: 1000, MessageCount: 4, CostUSD: 0.10, RowID: 1, LastActivity: &older},
		{ID: "s2", CWD: "/work/api", TokensUsed: 2000, MessageCount: 6, CostUSD: 0.20, RowID: 3, LastActivity: &newer},
		{ID: "s3", CWD: "/work/web", TokensUsed: 500, MessageCount: 2, CostUSD: 0.05, RowID: 2},
	}

	got := GroupByFolder(sessions, 175_000)
	if len(got) != 2 {
		t.Fatalf("got %d groups, want 2", len(got))
	}

	api := got[0] // RowID 3 sorts first
	if api.ID != "/work/api" {
		t.Fatalf("expected /work/api first, got %q", api.ID)
	}
	if api.TokensUsed != 3000 {
		t.Errorf("TokensUsed = %d, want 3000", api.TokensUsed)
	}
	if api.MessageCount != 10 {
		t.Errorf("MessageCount = %d, want 10", api.MessageCount)
	}
	if api.CostUSD != 0.30000000000000004 && api.CostUSD != 0.3 {
		t.Errorf("CostUSD = %v, want 0.3", api.CostUSD)
	}
	if api.LastActivity == nil || !api.LastActivity.Equal(newer) {
		t.Errorf("LastActivity = %v, want newest %v", api.LastActivity, newer)
	}
	if want := core.SessionUsagePercent(3000, 175_000); api.UsagePercent != want {
		t.Errorf("UsagePercent = %v, want recomputed %v", api.UsagePercent, want)
	}
	if got[1].ID != "/work/web" {
		t.Errorf("second group = %q, want /work/web", got[1].ID)
	}
}

func TestGroupByFolderCompactionPropagates(t *testing.T) {
	sessions := []core.SessionSummary{
		{ID: "s1", CWD: "/p", TokensUsed: 100},
		{ID: "s2", CWD: "/p", TokensUsed: 100, HasCompaction: true},
	}
	got := GroupByFolder(sessions, 175_000)
	if len(got) != 1 || !got[0].HasCompaction || got[0].State != core.StateCompacted {
		t.Errorf("compaction flag lost in merge: %+v", got)
	}
}

func TestPaginate(t *testing.T) {
	sessions := []core.SessionSummary{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	tests := []struct {
		name    string
		limit   int
		offset  int
		wantIDs []string
	}{
		{"no limit", 0, 0, []string{"a", "b", "c", "d"}},
		{"limit only", 2, 0, []string{"a", "b"}},
		{"offset only", 0, 1, []string{"b", "c", "d"}},
		{"limit and offset", 2, 1, []string{"b", "c"}},
		{"offset past end", 0, 10, nil},
		{"limit past end", 10, 2, []string{"c", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Paginate(sessions, tt.limit, tt.offset)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d sessions, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("session %d = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestRollup(t *testing.T) {
	sessions := []core.SessionSummary{
		{ID: "a", TokensUsed: 100, MessageCount: 2, CostUSD: 1, State: core.StateNormal},
		{ID: "b", TokensUsed: 300, MessageCount: 4, CostUSD: 2, State: core.StateWarn},
		{ID: "c", TokensUsed: 200, MessageCount: 6, CostUSD: 3, State: core.StateCritical},
	}

	m := Rollup(sessions, 2)
	if m.TotalSessions != 3 || m.TotalTokens != 600 || m.TotalMessages != 12 || m.TotalCostUSD != 6 {
		t.Errorf("totals wrong: %+v", m)
	}
	if m.SessionsNearLimit != 1 {
		t.Errorf("SessionsNearLimit = %d, want only the critical session", m.SessionsNearLimit)
	}
	if len(m.TopHeavySessions) != 2 || m.TopHeavySessions[0].ID != "b" || m.TopHeavySessions[1].ID != "c" {
		t.Errorf("TopHeavySessions = %+v, want [b c]", m.TopHeavySessions)
	}
}

// Near limit is the 90% boundary, not the 70% warning boundary.
func TestRollupNearLimitThreshold(t *testing.T) {
	sessions := []core.SessionSummary{
		{ID: "warn", UsagePercent: 75, State: core.StateWarn},
		{ID: "crit", UsagePercent: 95, State: core.StateCritical},
		{ID: "compacting", UsagePercent: 92, State: core.StateCompacting},
	}
	if m := Rollup(sessions, 5); m.SessionsNearLimit != 2 {
		t.Errorf("SessionsNearLimit = %d, want the two sessions at >= 90%%", m.SessionsNearLimit)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"amazon-q", TypeAmazonQ},
		{"claude-code", TypeClaudeCode},
		{"", TypeAmazonQ},
		{"nonsense", TypeAmazonQ},
	}
	for _, tt := range tests {
		if got := ParseType(tt.in); got != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
