// Package claude reads Claude Code's JSONL transcripts under the per-user
// projects directories, aggregating them into sessions, billing blocks, and
// burn rates.
package claude

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/qstatus/qstatus/internal/blocks"
	"github.com/qstatus/qstatus/internal/config"
	"github.com/qstatus/qstatus/internal/core"
	"github.com/qstatus/qstatus/internal/estimate"
	"github.com/qstatus/qstatus/internal/source"
)

// A session with no activity for this long is no longer "active".
const activeSessionWindow = blocks.DefaultSessionDuration

// Provider implements source.DataSource plus source.ActiveSessionSource over
// Claude Code transcripts. Transcripts are append-only, so every refresh is
// a full re-read and re-aggregation; correctness over incremental cleverness.
type Provider struct {
	mu    sync.Mutex
	roots []string
	calc  *estimate.CostCalculator
	mode  estimate.CostMode

	contextWindow int64
	blockDuration time.Duration

	watcher *watcher

	loadedVersion int64
	entries       []usageEntry
	sessions      []claudeSession
}

// claudeSession is the parsed per-session aggregate.
type claudeSession struct {
	key           string
	entries       []usageEntry
	contextTokens int64 // latest entry's input + cache reads + cache writes
	totalTokens   int64
	costUSD       float64
	costs         estimate.CostBreakdown
	models        []string
	lastActivity  time.Time
	summary       core.SessionSummary
}

// New builds a provider from config. Watching starts in OpenIfNeeded.
func New(cfg config.Config) *Provider {
	roots := cfg.ClaudeConfigDirs
	if len(roots) == 0 {
		roots = defaultRoots()
	}
	window := cfg.DefaultContextWindow
	if window < core.DefaultContextWindowClaude {
		window = core.DefaultContextWindowClaude
	}
	duration := time.Duration(cfg.SessionDurationHours) * time.Hour
	if duration <= 0 {
		duration = blocks.DefaultSessionDuration
	}
	return &Provider{
		roots:         lo.Map(roots, func(r string, _ int) string { return expandHome(r) }),
		calc:          estimate.NewCostCalculator(),
		mode:          estimate.ParseCostMode(cfg.CostMode),
		contextWindow: window,
		blockDuration: duration,
		loadedVersion: -1,
	}
}

func defaultRoots() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".claude", "projects"),
		filepath.Join(home, ".config", "claude", "projects"),
	}
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func (p *Provider) Type() source.Type { return source.TypeClaudeCode }

// OpenIfNeeded verifies at least one transcript root exists and starts the
// change watcher. Idempotent.
func (p *Provider) OpenIfNeeded(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		return nil
	}

	existing := lo.Filter(p.roots, func(r string, _ int) bool {
		info, err := os.Stat(r)
		return err == nil && info.IsDir()
	})
	if len(existing) == 0 {
		return fmt.Errorf("claude: no transcript directory among %v", p.roots)
	}
	p.roots = existing
	p.watcher = newWatcher(existing)
	return nil
}

// DataVersion reports a counter that moves whenever a transcript changes.
func (p *Provider) DataVersion(ctx context.Context) (int64, error) {
	if err := p.OpenIfNeeded(ctx); err != nil {
		return 0, err
	}
	p.mu.Lock()
	w := p.watcher
	p.mu.Unlock()
	return w.version(), nil
}

// refresh re-reads all transcripts if the version moved since the last load.
func (p *Provider) refresh(ctx context.Context) error {
	if err := p.OpenIfNeeded(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	version := p.watcher.version()
	if version == p.loadedVersion {
		return nil
	}

	entries := loadEntries(p.roots)
	p.entries = entries
	p.sessions = lo.Map(groupSessions(entries), func(group []usageEntry, _ int) claudeSession {
		return p.buildSession(group)
	})
	p.loadedVersion = version
	return nil
}

func (p *Provider) buildSession(entries []usageEntry) claudeSession {
	last := entries[len(entries)-1]
	s := claudeSession{
		key:          sessionKey(last),
		entries:      entries,
		lastActivity: last.Time,
		contextTokens: last.Usage.InputTokens +
			last.Usage.CacheReadTokens +
			last.Usage.CacheCreationTokens,
	}
	seen := map[string]struct{}{}
	for _, e := range entries {
		s.totalTokens += e.Usage.Total()
		effective := p.calc.Cost(e.Usage, e.Model, p.mode, e.CostUSD)
		s.costUSD += effective
		s.costs.Record(e.CostUSD, effective)
		if e.Model != "" {
			seen[e.Model] = struct{}{}
		}
	}
	s.models = lo.Keys(seen)
	sort.Strings(s.models)

	pct := core.SessionUsagePercent(s.contextTokens, p.contextWindow)
	activity := s.lastActivity
	s.summary = core.SessionSummary{
		ID:            s.key,
		CWD:           last.CWD,
		TokensUsed:    s.contextTokens,
		ContextWindow: p.contextWindow,
		UsagePercent:  pct,
		MessageCount:  len(entries),
		LastActivity:  &activity,
		State:         core.StateForUsage(pct),
		ModelID:       last.Model,
		CostUSD:       s.costUSD,
	}
	return s
}

func (p *Provider) snapshotSessions(ctx context.Context) ([]claudeSession, error) {
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions, nil
}

func (p *Provider) snapshotEntries(ctx context.Context) ([]usageEntry, error) {
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries, nil
}

// FetchLatestUsage reports the most recently active session's context load.
func (p *Provider) FetchLatestUsage(ctx context.Context) (core.UsageSnapshot, error) {
	sessions, err := p.snapshotSessions(ctx)
	if err != nil {
		return core.UsageSnapshot{}, err
	}
	snap := core.UsageSnapshot{Timestamp: time.Now()}
	if len(sessions) == 0 {
		return snap, nil
	}
	latest := sessions[0]
	snap.TokensUsed = latest.contextTokens
	snap.MessageCount = latest.summary.MessageCount
	snap.ConversationID = latest.key
	snap.SessionLimit = p.contextWindow
	return snap, nil
}

func (p *Provider) FetchSessions(ctx context.Context, q source.SessionQuery) ([]core.SessionSummary, error) {
	sessions, err := p.snapshotSessions(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	summaries := lo.Map(sessions, func(s claudeSession, _ int) core.SessionSummary { return s.summary })
	if q.ActiveOnly {
		summaries = lo.Filter(summaries, func(s core.SessionSummary, _ int) bool {
			return s.LastActivity != nil && now.Sub(*s.LastActivity) < activeSessionWindow
		})
	}
	if q.GroupByFolder {
		summaries = source.GroupByFolder(summaries, p.contextWindow)
	}
	return source.Paginate(summaries, q.Limit, q.Offset), nil
}

// FetchSessionDetail exposes the per-session breakdown. Transcripts report
// token counts, not content categories, so everything lands under history.
func (p *Provider) FetchSessionDetail(ctx context.Context, key string) (core.SessionDetails, bool, error) {
	sessions, err := p.snapshotSessions(ctx)
	if err != nil {
		return core.SessionDetails{}, false, err
	}
	s, ok := lo.Find(sessions, func(s claudeSession) bool { return s.key == key })
	if !ok {
		return core.SessionDetails{}, false, nil
	}
	return core.SessionDetails{
		Summary:   s.summary,
		Breakdown: core.TokenBreakdown{History: s.contextTokens},
	}, true, nil
}

func (p *Provider) SessionCount(ctx context.Context, activeOnly bool) (int, error) {
	sessions, err := p.snapshotSessions(ctx)
	if err != nil {
		return 0, err
	}
	if !activeOnly {
		return len(sessions), nil
	}
	now := time.Now()
	return lo.CountBy(sessions, func(s claudeSession) bool {
		return now.Sub(s.lastActivity) < activeSessionWindow
	}), nil
}

// FetchGlobalMetrics sums cumulative tokens across all entries rather than
// context loads, so the rollup reflects everything billed, not what the
// models currently hold.
func (p *Provider) FetchGlobalMetrics(ctx context.Context, topN int) (core.GlobalMetrics, error) {
	sessions, err := p.snapshotSessions(ctx)
	if err != nil {
		return core.GlobalMetrics{}, err
	}
	summaries := lo.Map(sessions, func(s claudeSession, _ int) core.SessionSummary { return s.summary })
	m := source.Rollup(summaries, topN)
	m.TotalTokens = lo.SumBy(sessions, func(s claudeSession) int64 { return s.totalTokens })
	return m, nil
}

func (p *Provider) FetchModelUsage(ctx context.Context) ([]core.ModelUsage, error) {
	entries, err := p.snapshotEntries(ctx)
	if err != nil {
		return nil, err
	}
	grouped := lo.GroupBy(entries, func(e usageEntry) string {
		return estimate.NormalizeModelName(e.Model)
	})
	usage := lo.MapToSlice(grouped, func(model string, group []usageEntry) core.ModelUsage {
		return core.ModelUsage{
			Model:  model,
			Tokens: lo.SumBy(group, func(e usageEntry) int64 { return e.Usage.Total() }),
			Cost: lo.SumBy(group, func(e usageEntry) float64 {
				return p.calc.Cost(e.Usage, e.Model, p.mode, e.CostUSD)
			}),
		}
	})
	return usage, nil
}

func (p *Provider) FetchPeriodMetrics(ctx context.Context) (core.PeriodMetrics, error) {
	entries, err := p.snapshotEntries(ctx)
	if err != nil {
		return core.PeriodMetrics{}, err
	}

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := now.AddDate(0, 0, -7)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())

	var m core.PeriodMetrics
	for _, e := range entries {
		tokens := e.Usage.Total()
		cost := p.calc.Cost(e.Usage, e.Model, p.mode, e.CostUSD)
		if !e.Time.Before(dayStart) {
			m.TodayTokens += tokens
			m.TodayCost += cost
		}
		if !e.Time.Before(weekStart) {
			m.WeekTokens += tokens
			m.WeekCost += cost
		}
		if !e.Time.Before(monthStart) {
			m.MonthTokens += tokens
			m.MonthCost += cost
		}
		if !e.Time.Before(yearStart) {
			m.YearTokens += tokens
			m.YearCost += cost
		}
	}
	return m, nil
}

func (p *Provider) MonthlyMessageCount(ctx context.Context) (int, error) {
	entries, err := p.snapshotEntries(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return lo.CountBy(entries, func(e usageEntry) bool { return !e.Time.Before(monthStart) }), nil
}

// FetchActiveSession assembles burn rates and billing-block position for the
// most recently active session.
func (p *Provider) FetchActiveSession(ctx context.Context) (core.ActiveSessionData, bool, error) {
	sessions, err := p.snapshotSessions(ctx)
	if err != nil {
		return core.ActiveSessionData{}, false, err
	}
	if len(sessions) == 0 {
		return core.ActiveSessionData{}, false, nil
	}

	entries, err := p.snapshotEntries(ctx)
	if err != nil {
		return core.ActiveSessionData{}, false, err
	}

	now := time.Now()
	s := sessions[0]
	data := core.ActiveSessionData{
		SessionID:     s.key,
		CWD:           s.summary.CWD,
		ContextTokens: s.contextTokens,
		ContextWindow: p.contextWindow,
		TotalTokens:   s.totalTokens,
		CostUSD:       s.costUSD,
		MessageCount:  len(s.entries),
		Models:        s.models,
		IsActive:      now.Sub(s.lastActivity) < activeSessionWindow,
		LastActivity:  s.lastActivity,
	}

	// Blocks are identified over all activity, not just this session; the
	// billing window spans everything running concurrently. The numbered
	// position counts only recent blocks so weeks-old history does not
	// inflate "block N of M".
	all := blocks.Identify(blockEntries(entries, p.calc, p.mode), p.blockDuration, now)
	recent := blocks.FilterRecent(all, 0, now)
	real := lo.Filter(recent, func(b blocks.SessionBlock, _ int) bool { return !b.IsGap })
	data.TotalBlockCount = len(real)

	if active, ok := blocks.ActiveBlock(recent); ok {
		start, end := active.StartTime, active.EndTime
		data.BlockStart = &start
		data.BlockEnd = &end
		data.BlockTokens = active.TokenCounts.Total()
		data.BlockCostUSD = active.CostUSD
		data.BlockTimeLeft = end.Sub(now)
		if data.BlockTimeLeft < 0 {
			data.BlockTimeLeft = 0
		}
		for i, b := range real {
			if b.ID == active.ID {
				data.BlockNumber = i + 1
				break
			}
		}
		if rate, ok := blocks.CalculateBurnRate(active); ok {
			data.Rates = ratesFromBlock(active, rate)
		}
		if proj, ok := blocks.ProjectUsage(active, now); ok {
			data.ProjectedBlockTokens = proj.TotalTokens
			data.ProjectedBlockCostUSD = proj.TotalCost
		}
	}

	if data.Rates == (core.BurnRates{}) {
		data.Rates = sessionWideRates(s)
	}
	return data, true, nil
}

// ratesFromBlock converts a block burn rate into per-hour display rates.
func ratesFromBlock(b blocks.SessionBlock, rate blocks.BurnRate) core.BurnRates {
	r := core.BurnRates{
		TokensPerHour: rate.TokensPerMinute * 60,
		CostPerHour:   rate.CostPerHour,
	}
	first, last := b.Entries[0].Time, b.Entries[len(b.Entries)-1].Time
	if hours := last.Sub(first).Hours(); hours > 0 {
		r.MessagesPerHour = float64(len(b.Entries)) / hours
	}
	return r
}

// sessionWideRates is the fallback when no block is active: average over the
// session's own span.
func sessionWideRates(s claudeSession) core.BurnRates {
	if len(s.entries) < 2 {
		return core.BurnRates{}
	}
	hours := s.lastActivity.Sub(s.entries[0].Time).Hours()
	if hours <= 0 {
		return core.BurnRates{}
	}
	return core.BurnRates{
		MessagesPerHour: float64(len(s.entries)) / hours,
		TokensPerHour:   float64(s.totalTokens) / hours,
		CostPerHour:     s.costUSD / hours,
	}
}

// CostSummary aggregates every session's cost provenance: how much of the
// total was reported by the transcripts versus derived from pricing.
func (p *Provider) CostSummary(ctx context.Context) (estimate.CostBreakdown, error) {
	sessions, err := p.snapshotSessions(ctx)
	if err != nil {
		return estimate.CostBreakdown{}, err
	}
	var total estimate.CostBreakdown
	for _, s := range sessions {
		total.TotalUSD += s.costs.TotalUSD
		total.FromSourceUSD += s.costs.FromSourceUSD
		total.CalculatedUSD += s.costs.CalculatedUSD
	}
	return total, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watcher != nil {
		p.watcher.stop()
		p.watcher = nil
	}
	p.entries = nil
	p.sessions = nil
	p.loadedVersion = -1
	return nil
}
