// Package config loads the qstatus settings file. The loaded Config is an
// immutable snapshot: the coordinator re-reads it before each poll cycle and
// never writes it back.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan names usage plans with known monthly cost limits.
type Plan string

const (
	PlanFree   Plan = "free"
	PlanPro    Plan = "pro"
	PlanMax    Plan = "max"
	PlanCustom Plan = "custom"
)

// Config is the full settings snapshot. YAML keys mirror the on-disk file;
// every field has a safe default so a missing or partial file still yields a
// working configuration.
type Config struct {
	RefreshIntervalSeconds int     `yaml:"refresh_interval_seconds"`
	SessionTokenLimit      int64   `yaml:"session_token_limit"`
	DefaultContextWindow   int64   `yaml:"default_context_window"`
	CostPer1KTokens        float64 `yaml:"cost_per_1k_tokens"`
	CostMode               string  `yaml:"cost_mode"` // auto | calculate | display

	Plan               Plan    `yaml:"plan"`
	CustomMonthlyLimit float64 `yaml:"custom_monthly_limit_usd"`
	BlockCostBaseline  float64 `yaml:"block_cost_baseline_usd"`
	UseMonthlyCostCap  bool    `yaml:"use_monthly_cost_cap"`

	DataSource       string   `yaml:"data_source"` // amazon-q | claude-code
	ClaudeConfigDirs []string `yaml:"claude_config_dirs"`
	QDatabasePath    string   `yaml:"q_database_path"`

	GroupByFolder bool `yaml:"group_by_folder"`
	CompactUI     bool `yaml:"compact_ui"`
	TopSessions   int  `yaml:"top_sessions"`

	SessionDurationHours int `yaml:"session_duration_hours"`
}

// DefaultConfig returns the baseline every load starts from.
func DefaultConfig() Config {
	return Config{
		RefreshIntervalSeconds: 2,
		SessionTokenLimit:      44_000,
		DefaultContextWindow:   175_000,
		CostPer1KTokens:        0.0066, // blended sonnet rate, ~30% output
		CostMode:               "auto",
		Plan:                   PlanPro,
		BlockCostBaseline:      35.0,
		DataSource:             "amazon-q",
		TopSessions:            5,
		SessionDurationHours:   5,
	}
}

// MonthlyCostLimit resolves the USD limit for the configured plan.
func (c Config) MonthlyCostLimit() float64 {
	switch c.Plan {
	case PlanFree:
		return 0
	case PlanMax:
		return 200
	case PlanCustom:
		return c.CustomMonthlyLimit
	default:
		return 20
	}
}

// ConfigDir is the per-user directory holding the settings file.
func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "qstatus")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "qstatus")
}

// ConfigPath is the settings file location.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Load reads the default config file and applies environment overrides.
func Load() Config {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads a config file, fills defaults for anything missing or
// invalid, and applies QSTATUS_* environment overrides. It never fails: a
// broken file degrades to defaults.
func LoadFrom(path string) Config {
	cfg := DefaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		var fileCfg Config
		if yaml.Unmarshal(data, &fileCfg) == nil {
			cfg = merge(cfg, fileCfg)
		}
	}

	applyEnv(&cfg)
	return sanitize(cfg)
}

func merge(base, file Config) Config {
	out := file
	if out.RefreshIntervalSeconds == 0 {
		out.RefreshIntervalSeconds = base.RefreshIntervalSeconds
	}
	if out.SessionTokenLimit == 0 {
		out.SessionTokenLimit = base.SessionTokenLimit
	}
	if out.DefaultContextWindow == 0 {
		out.DefaultContextWindow = base.DefaultContextWindow
	}
	if out.CostPer1KTokens == 0 {
		out.CostPer1KTokens = base.CostPer1KTokens
	}
	if out.CostMode == "" {
		out.CostMode = base.CostMode
	}
	if out.Plan == "" {
		out.Plan = base.Plan
	}
	if out.BlockCostBaseline == 0 {
		out.BlockCostBaseline = base.BlockCostBaseline
	}
	if out.DataSource == "" {
		out.DataSource = base.DataSource
	}
	if out.TopSessions == 0 {
		out.TopSessions = base.TopSessions
	}
	if out.SessionDurationHours == 0 {
		out.SessionDurationHours = base.SessionDurationHours
	}
	return out
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("QSTATUS_REFRESH_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RefreshIntervalSeconds = n
		}
	}
	if v := os.Getenv("QSTATUS_DATA_SOURCE"); v != "" {
		cfg.DataSource = v
	}
	if v := os.Getenv("QSTATUS_COST_MODE"); v != "" {
		cfg.CostMode = v
	}
	if v := os.Getenv("QSTATUS_TOKEN_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.SessionTokenLimit = n
		}
	}
	if v := os.Getenv("QSTATUS_CONTEXT_WINDOW"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.DefaultContextWindow = n
		}
	}
	if v := os.Getenv("QSTATUS_CLAUDE_CONFIG_DIR"); v != "" {
		var dirs []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				dirs = append(dirs, p)
			}
		}
		if len(dirs) > 0 {
			cfg.ClaudeConfigDirs = dirs
		}
	}
	if v := os.Getenv("QSTATUS_Q_DB_PATH"); v != "" {
		cfg.QDatabasePath = v
	}
}

func sanitize(cfg Config) Config {
	if cfg.RefreshIntervalSeconds <= 0 {
		cfg.RefreshIntervalSeconds = DefaultConfig().RefreshIntervalSeconds
	}
	if cfg.SessionTokenLimit <= 0 {
		cfg.SessionTokenLimit = DefaultConfig().SessionTokenLimit
	}
	if cfg.DefaultContextWindow <= 0 {
		cfg.DefaultContextWindow = DefaultConfig().DefaultContextWindow
	}
	if cfg.SessionDurationHours <= 0 {
		cfg.SessionDurationHours = DefaultConfig().SessionDurationHours
	}
	if cfg.TopSessions <= 0 {
		cfg.TopSessions = DefaultConfig().TopSessions
	}
	switch cfg.Plan {
	case PlanFree, PlanPro, PlanMax, PlanCustom:
	default:
		cfg.Plan = PlanPro
	}
	return cfg
}

// Save writes the config back out, mainly for the `init` CLI path.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
