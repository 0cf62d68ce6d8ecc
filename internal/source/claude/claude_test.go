package claude

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qstatus/qstatus/internal/config"
	"github.com/qstatus/qstatus/internal/core"
	"github.com/qstatus/qstatus/internal/source"
)

func writeTranscript(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	var data []byte
	for _, l := range lines {
		data = append(data, []byte(l+"\n")...)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func usageJSON(ts time.Time, sessionID, msgID, reqID string, input, output, cacheRead int64) string {
	return fmt.Sprintf(`{"timestamp":%q,"sessionId":%q,"requestId":%q,"cwd":"/work/api","message":{"id":%q,"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":%d,"output_tokens":%d,"cache_read_input_tokens":%d}}}`,
		ts.Format(time.RFC3339), sessionID, reqID, msgID, input, output, cacheRead)
}

func testProvider(t *testing.T, root string) *Provider {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ClaudeConfigDirs = []string{root}
	cfg.CostMode = "calculate"
	p := New(cfg)
	t.Cleanup(func() { p.Close() })
	if err := p.OpenIfNeeded(context.Background()); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFetchSessions(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	writeTranscript(t, root, "a.jsonl",
		usageJSON(now.Add(-20*time.Minute), "sess-1", "m1", "r1", 1000, 200, 0),
		usageJSON(now.Add(-10*time.Minute), "sess-1", "m2", "r2", 1500, 300, 8000),
		`not json at all`,
		`{"type":"progress","timestamp":"2026-03-10T09:00:00Z"}`,
	)

	p := testProvider(t, root)
	sessions, err := p.FetchSessions(context.Background(), source.SessionQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.ID != "sess-1" || s.CWD != "/work/api" {
		t.Errorf("identity wrong: %+v", s)
	}
	if s.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2 (malformed lines skipped)", s.MessageCount)
	}
	// Context load is the latest entry's input + cache tokens, not the sum.
	if s.TokensUsed != 1500+8000 {
		t.Errorf("TokensUsed = %d, want 9500", s.TokensUsed)
	}
	if s.ContextWindow != core.DefaultContextWindowClaude {
		t.Errorf("ContextWindow = %d, want %d", s.ContextWindow, core.DefaultContextWindowClaude)
	}
	if s.CostUSD <= 0 {
		t.Errorf("CostUSD = %v, want > 0 in calculate mode", s.CostUSD)
	}
}

// Reading the same records from two files must not double-count.
func TestDedupAcrossFiles(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	line1 := usageJSON(now.Add(-5*time.Minute), "sess-1", "m1", "r1", 100, 10, 0)
	line2 := usageJSON(now.Add(-4*time.Minute), "sess-1", "m2", "r2", 200, 20, 0)
	writeTranscript(t, root, "a.jsonl", line1, line2)
	writeTranscript(t, root, "b.jsonl", line1, line2)

	p := testProvider(t, root)
	count, err := p.SessionCount(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("got %d sessions, want 1", count)
	}
	m, err := p.FetchGlobalMetrics(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalTokens != 330 {
		t.Errorf("TotalTokens = %d, want 330 (duplicates dropped)", m.TotalTokens)
	}
	if m.TotalMessages != 2 {
		t.Errorf("TotalMessages = %d, want 2", m.TotalMessages)
	}
}

func TestSessionKeyFallback(t *testing.T) {
	e := usageEntry{CWD: "/work/api", Time: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	key := sessionKey(e)
	if key == "" || key == "/work/api" {
		t.Errorf("fallback key should combine cwd and time bucket, got %q", key)
	}
	later := e
	later.Time = e.Time.Add(time.Hour)
	if sessionKey(later) != key {
		t.Errorf("entries within the same bucket should share a key")
	}
}

func TestFetchActiveSession(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	writeTranscript(t, root, "s.jsonl",
		usageJSON(now.Add(-30*time.Minute), "sess-1", "m1", "r1", 1000, 100, 0),
		usageJSON(now.Add(-2*time.Minute), "sess-1", "m2", "r2", 2000, 200, 50_000),
	)

	p := testProvider(t, root)
	data, found, err := p.FetchActiveSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected an active session")
	}
	if !data.IsActive {
		t.Error("session with recent activity should be active")
	}
	if data.ContextTokens != 52_000 {
		t.Errorf("ContextTokens = %d, want 52000", data.ContextTokens)
	}
	if data.TotalTokens != 1000+100+2000+200+50_000 {
		t.Errorf("TotalTokens = %d, want cumulative sum", data.TotalTokens)
	}
	if data.BlockStart == nil || data.BlockNumber != 1 || data.TotalBlockCount != 1 {
		t.Errorf("block position wrong: %+v", data)
	}
	if data.BlockTimeLeft <= 0 {
		t.Error("active block should have time left")
	}
	if data.Rates.TokensPerHour <= 0 {
		t.Errorf("Rates = %+v, want positive token rate", data.Rates)
	}
	if data.ContextWindow != core.DefaultContextWindowClaude {
		t.Errorf("ContextWindow = %d, want %d", data.ContextWindow, core.DefaultContextWindowClaude)
	}
	if len(data.Models) != 1 || data.Models[0] != "claude-3-5-sonnet-20241022" {
		t.Errorf("Models = %v, want the one model seen", data.Models)
	}
	if data.ProjectedBlockTokens < data.BlockTokens {
		t.Errorf("ProjectedBlockTokens = %d, want at least the block's %d",
			data.ProjectedBlockTokens, data.BlockTokens)
	}
	if data.ProjectedBlockCostUSD < data.BlockCostUSD {
		t.Errorf("ProjectedBlockCostUSD = %v, want at least the block's %v",
			data.ProjectedBlockCostUSD, data.BlockCostUSD)
	}
}

// A configured context window above the Claude default flows through to the
// active session reading.
func TestFetchActiveSessionConfiguredWindow(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	writeTranscript(t, root, "s.jsonl",
		usageJSON(now.Add(-2*time.Minute), "sess-1", "m1", "r1", 1000, 100, 0),
	)

	cfg := config.DefaultConfig()
	cfg.ClaudeConfigDirs = []string{root}
	cfg.DefaultContextWindow = 400_000
	p := New(cfg)
	t.Cleanup(func() { p.Close() })

	data, found, err := p.FetchActiveSession(context.Background())
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if data.ContextWindow != 400_000 {
		t.Errorf("ContextWindow = %d, want the configured 400000", data.ContextWindow)
	}
}

func TestFetchModelUsage(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	writeTranscript(t, root, "s.jsonl",
		usageJSON(now.Add(-10*time.Minute), "sess-1", "m1", "r1", 100, 10, 0),
		usageJSON(now.Add(-5*time.Minute), "sess-1", "m2", "r2", 200, 20, 0),
	)

	p := testProvider(t, root)
	usage, err := p.FetchModelUsage(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(usage) != 1 {
		t.Fatalf("got %d models, want 1", len(usage))
	}
	if usage[0].Model != "claude-3-5-sonnet-20241022" || usage[0].Tokens != 330 {
		t.Errorf("model usage = %+v", usage[0])
	}
}

func TestDataVersionMovesOnWrite(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	writeTranscript(t, root, "s.jsonl",
		usageJSON(now.Add(-10*time.Minute), "sess-1", "m1", "r1", 100, 10, 0),
	)

	p := testProvider(t, root)
	ctx := context.Background()
	v1, err := p.DataVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Give the watcher a beat, then append and wait for the bump. The
	// mtime-scan fallback observes the change immediately.
	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(filepath.Join(root, "s.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(usageJSON(now, "sess-1", "m2", "r2", 200, 20, 0) + "\n")
	f.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v2, err := p.DataVersion(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v2 != v1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("data version never moved after append")
}

func TestOpenIfNeededMissingRoots(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ClaudeConfigDirs = []string{filepath.Join(t.TempDir(), "does-not-exist")}
	p := New(cfg)
	if err := p.OpenIfNeeded(context.Background()); err == nil {
		t.Error("expected an error for missing transcript roots")
	}
}

func TestCostSummary(t *testing.T) {
	root := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	supplied := fmt.Sprintf(`{"timestamp":%q,"sessionId":"sess-1","requestId":"r1","cwd":"/p","costUSD":0.25,"message":{"id":"m1","model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":100,"output_tokens":10}}}`,
		now.Add(-10*time.Minute).Format(time.RFC3339))
	derived := usageJSON(now.Add(-5*time.Minute), "sess-1", "m2", "r2", 1_000_000, 0, 0)
	writeTranscript(t, root, "s.jsonl", supplied, derived)

	cfg := config.DefaultConfig()
	cfg.ClaudeConfigDirs = []string{root}
	cfg.CostMode = "auto"
	p := New(cfg)
	t.Cleanup(func() { p.Close() })

	costs, err := p.CostSummary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	near := func(got, want float64) bool { return got > want-1e-6 && got < want+1e-6 }
	if !near(costs.FromSourceUSD, 0.25) {
		t.Errorf("FromSourceUSD = %v, want 0.25", costs.FromSourceUSD)
	}
	if !near(costs.CalculatedUSD, 3.0) { // 1M sonnet input tokens
		t.Errorf("CalculatedUSD = %v, want 3.0", costs.CalculatedUSD)
	}
	if !near(costs.TotalUSD, 3.25) {
		t.Errorf("TotalUSD = %v, want 3.25", costs.TotalUSD)
	}
	if pa := costs.PercentActual(); pa < 7.6 || pa > 7.7 {
		t.Errorf("PercentActual = %v, want ~7.69", pa)
	}
}
