package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadFromMissingFile(t *testing.T) {
	cfg := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadFromBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{{{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := LoadFrom(path)
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("broken file should degrade to defaults, got %+v", cfg)
	}
}

func TestLoadFromPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "refresh_interval_seconds: 10\ndata_source: claude-code\nplan: max\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadFrom(path)
	if cfg.RefreshIntervalSeconds != 10 {
		t.Errorf("RefreshIntervalSeconds = %d, want 10", cfg.RefreshIntervalSeconds)
	}
	if cfg.DataSource != "claude-code" {
		t.Errorf("DataSource = %q, want claude-code", cfg.DataSource)
	}
	if cfg.Plan != PlanMax {
		t.Errorf("Plan = %q, want max", cfg.Plan)
	}
	// Everything the file omitted keeps its default.
	if cfg.DefaultContextWindow != 175_000 || cfg.TopSessions != 5 {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
}

func TestInvalidPlanFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("plan: enterprise\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if cfg := LoadFrom(path); cfg.Plan != PlanPro {
		t.Errorf("Plan = %q, want fallback pro", cfg.Plan)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QSTATUS_REFRESH_RATE", "7")
	t.Setenv("QSTATUS_DATA_SOURCE", "claude-code")
	t.Setenv("QSTATUS_COST_MODE", "display")
	t.Setenv("QSTATUS_TOKEN_LIMIT", "60000")
	t.Setenv("QSTATUS_CONTEXT_WINDOW", "200000")
	t.Setenv("QSTATUS_CLAUDE_CONFIG_DIR", "/a , /b,")
	t.Setenv("QSTATUS_Q_DB_PATH", "/tmp/q.db")

	cfg := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.RefreshIntervalSeconds != 7 {
		t.Errorf("RefreshIntervalSeconds = %d, want 7", cfg.RefreshIntervalSeconds)
	}
	if cfg.DataSource != "claude-code" || cfg.CostMode != "display" {
		t.Errorf("source/mode overrides lost: %+v", cfg)
	}
	if cfg.SessionTokenLimit != 60_000 || cfg.DefaultContextWindow != 200_000 {
		t.Errorf("limit overrides lost: %+v", cfg)
	}
	if len(cfg.ClaudeConfigDirs) != 2 || cfg.ClaudeConfigDirs[0] != "/a" || cfg.ClaudeConfigDirs[1] != "/b" {
		t.Errorf("ClaudeConfigDirs = %v, want [/a /b]", cfg.ClaudeConfigDirs)
	}
	if cfg.QDatabasePath != "/tmp/q.db" {
		t.Errorf("QDatabasePath = %q", cfg.QDatabasePath)
	}
}

func TestEnvIgnoresGarbageNumbers(t *testing.T) {
	t.Setenv("QSTATUS_REFRESH_RATE", "soon")
	t.Setenv("QSTATUS_TOKEN_LIMIT", "-5")

	cfg := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.RefreshIntervalSeconds != 2 || cfg.SessionTokenLimit != 44_000 {
		t.Errorf("garbage env values should be ignored: %+v", cfg)
	}
}

func TestMonthlyCostLimit(t *testing.T) {
	tests := []struct {
		plan   Plan
		custom float64
		want   float64
	}{
		{PlanFree, 0, 0},
		{PlanPro, 0, 20},
		{PlanMax, 0, 200},
		{PlanCustom, 55, 55},
	}
	for _, tt := range tests {
		cfg := Config{Plan: tt.plan, CustomMonthlyLimit: tt.custom}
		if got := cfg.MonthlyCostLimit(); got != tt.want {
			t.Errorf("MonthlyCostLimit(%s) = %v, want %v", tt.plan, got, tt.want)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	want := DefaultConfig()
	want.DataSource = "claude-code"
	want.GroupByFolder = true

	if err := Save(path, want); err != nil {
		t.Fatal(err)
	}
	got := LoadFrom(path)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}
