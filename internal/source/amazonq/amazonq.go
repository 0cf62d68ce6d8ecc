// Package amazonq reads Amazon Q's conversation store: a single SQLite table
// of (key, JSON blob) rows keyed by working directory. The store is owned by
// the Q CLI; this provider opens it strictly read-only and must never block
// behind the writer.
package amazonq

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/lo"

	"github.com/qstatus/qstatus/internal/config"
	"github.com/qstatus/qstatus/internal/core"
	"github.com/qstatus/qstatus/internal/estimate"
	"github.com/qstatus/qstatus/internal/source"
)

const activeWindow = 7 * 24 * time.Hour

// Provider implements source.DataSource over the Amazon Q SQLite database.
// All state behind mu; no caller ever observes a half-loaded session list.
type Provider struct {
	mu            sync.Mutex
	dbPath        string
	db            *sql.DB
	table         string
	keyCol        string
	valCol        string
	costPer1K     float64
	contextWindow int64

	cachedVersion int64
	cached        []record
}

type record struct {
	rowID     int64
	key       string
	summary   core.SessionSummary
	breakdown core.TokenBreakdown
}

// New builds a provider from config. The database is not opened until
// OpenIfNeeded.
func New(cfg config.Config) *Provider {
	window := cfg.DefaultContextWindow
	if window <= 0 {
		window = core.DefaultContextWindowQ
	}
	return &Provider{
		dbPath:        cfg.QDatabasePath,
		costPer1K:     cfg.CostPer1KTokens,
		contextWindow: window,
		cachedVersion: -1,
	}
}

func (p *Provider) Type() source.Type { return source.TypeAmazonQ }

// OpenIfNeeded locates and opens the database read-only. Idempotent.
func (p *Provider) OpenIfNeeded(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openLocked(ctx)
}

func (p *Provider) openLocked(ctx context.Context) error {
	if p.db != nil {
		return nil
	}

	path := p.dbPath
	if path == "" {
		found, err := findDatabase()
		if err != nil {
			return err
		}
		path = found
	}

	// _busy_timeout=0 keeps reads fail-fast: better a skipped poll cycle
	// than contending with the Q CLI's own writes.
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_busy_timeout=0", path))
	if err != nil {
		return fmt.Errorf("amazonq: opening %s: %w", path, err)
	}
	// data_version is tracked per connection; a pool would report different
	// baselines on different calls.
	db.SetMaxOpenConns(1)

	table, keyCol, valCol, err := discoverSchema(ctx, db)
	if err != nil {
		db.Close()
		return err
	}

	p.db = db
	p.dbPath = path
	p.table = table
	p.keyCol = keyCol
	p.valCol = valCol
	return nil
}

// findDatabase probes the known Amazon Q store locations.
func findDatabase() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("amazonq: resolving home dir: %w", err)
	}

	candidates := []string{
		filepath.Join(home, ".local", "share", "amazon-q", "data.sqlite3"),
		filepath.Join(home, ".aws", "q", "db", "q.db"),
	}
	if runtime.GOOS == "darwin" {
		candidates = append([]string{
			filepath.Join(home, "Library", "Application Support", "amazon-q", "data.sqlite3"),
		}, candidates...)
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("amazonq: no database found under known paths")
}

// DataVersion returns SQLite's change counter for the connection.
func (p *Provider) DataVersion(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openLocked(ctx); err != nil {
		return 0, err
	}
	var v int64
	if err := p.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("amazonq: data_version: %w", err)
	}
	return v, nil
}

// load refreshes the parsed session cache when the data version moved.
func (p *Provider) load(ctx context.Context) ([]record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openLocked(ctx); err != nil {
		return nil, err
	}

	var version int64
	if err := p.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&version); err != nil {
		return nil, fmt.Errorf("amazonq: data_version: %w", err)
	}
	if version == p.cachedVersion && p.cached != nil {
		return p.cached, nil
	}

	query := fmt.Sprintf(`SELECT rowid, %s, %s FROM %s ORDER BY rowid DESC`, p.keyCol, p.valCol, p.table)
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("amazonq: querying %s: %w", p.table, err)
	}
	defer rows.Close()

	var records []record
	for rows.Next() {
		var rowID int64
		var key string
		var blob []byte
		if err := rows.Scan(&rowID, &key, &blob); err != nil {
			log.Printf("[amazonq] skipping unreadable row: %v", err)
			continue
		}
		records = append(records, p.buildRecord(rowID, key, blob))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("amazonq: iterating %s: %w", p.table, err)
	}

	p.cached = records
	p.cachedVersion = version
	return records, nil
}

func (p *Provider) buildRecord(rowID int64, key string, blob []byte) record {
	est := estimate.EstimateConversation(blob)
	tokens := est.Breakdown.Total()
	if tokens > p.contextWindow {
		tokens = p.contextWindow
	}
	pct := core.SessionUsagePercent(tokens, p.contextWindow)

	summary := core.SessionSummary{
		ID:            key,
		CWD:           key, // Q keys conversations by working directory
		TokensUsed:    tokens,
		ContextWindow: p.contextWindow,
		UsagePercent:  pct,
		MessageCount:  est.MessageCount,
		State:         core.StateForUsage(pct),
		RowID:         rowID,
		HasCompaction: est.HasCompaction,
		CostUSD:       estimate.FlatCost(tokens, p.costPer1K),
	}
	if est.HasCompaction {
		summary.State = core.StateCompacted
	}
	if t, ok := dirModTime(key); ok {
		summary.LastActivity = &t
	}
	return record{rowID: rowID, key: key, summary: summary, breakdown: est.Breakdown}
}

// dirModTime uses the working directory's mtime as an activity proxy; the Q
// store itself carries no timestamps.
func dirModTime(dir string) (time.Time, bool) {
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func isActive(s core.SessionSummary, now time.Time) bool {
	return s.LastActivity != nil && now.Sub(*s.LastActivity) < activeWindow
}

// FetchLatestUsage returns the newest conversation as a snapshot, newest by
// rowid since insertion order is the only ordering the store offers.
func (p *Provider) FetchLatestUsage(ctx context.Context) (core.UsageSnapshot, error) {
	records, err := p.load(ctx)
	if err != nil {
		return core.UsageSnapshot{}, err
	}
	snap := core.UsageSnapshot{Timestamp: time.Now()}
	if len(records) == 0 {
		return snap, nil
	}
	latest := records[0]
	snap.TokensUsed = latest.summary.TokensUsed
	snap.MessageCount = latest.summary.MessageCount
	snap.ConversationID = latest.summary.ID
	snap.SessionLimit = latest.summary.ContextWindow
	return snap, nil
}

// FetchSessions returns the session list, newest first by rowid.
func (p *Provider) FetchSessions(ctx context.Context, q source.SessionQuery) ([]core.SessionSummary, error) {
	records, err := p.load(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sessions := lo.Map(records, func(r record, _ int) core.SessionSummary { return r.summary })
	if q.ActiveOnly {
		sessions = lo.Filter(sessions, func(s core.SessionSummary, _ int) bool { return isActive(s, now) })
	}
	if q.GroupByFolder {
		sessions = source.GroupByFolder(sessions, p.contextWindow)
	}
	return source.Paginate(sessions, q.Limit, q.Offset), nil
}

// FetchSessionDetail returns the full category breakdown for one session.
func (p *Provider) FetchSessionDetail(ctx context.Context, key string) (core.SessionDetails, bool, error) {
	records, err := p.load(ctx)
	if err != nil {
		return core.SessionDetails{}, false, err
	}
	r, ok := lo.Find(records, func(r record) bool { return r.key == key })
	if !ok {
		return core.SessionDetails{}, false, nil
	}
	return core.SessionDetails{Summary: r.summary, Breakdown: r.breakdown}, true, nil
}

func (p *Provider) SessionCount(ctx context.Context, activeOnly bool) (int, error) {
	records, err := p.load(ctx)
	if err != nil {
		return 0, err
	}
	if !activeOnly {
		return len(records), nil
	}
	now := time.Now()
	return lo.CountBy(records, func(r record) bool { return isActive(r.summary, now) }), nil
}

func (p *Provider) FetchGlobalMetrics(ctx context.Context, topN int) (core.GlobalMetrics, error) {
	records, err := p.load(ctx)
	if err != nil {
		return core.GlobalMetrics{}, err
	}
	sessions := lo.Map(records, func(r record, _ int) core.SessionSummary { return r.summary })
	return source.Rollup(sessions, topN), nil
}

// FetchModelUsage is unsupported: the Q store records no model identity.
// Empty result, not an error, per the extended-method contract.
func (p *Provider) FetchModelUsage(ctx context.Context) ([]core.ModelUsage, error) {
	return nil, nil
}

// FetchPeriodMetrics is approximated as unsupported. The store's history
// table exists in the schema but is never populated by the Q CLI, so there
// is nothing to bucket by period.
func (p *Provider) FetchPeriodMetrics(ctx context.Context) (core.PeriodMetrics, error) {
	return core.PeriodMetrics{}, nil
}

// MonthlyMessageCount approximates the month's messages as the total across
// the conversations table; without timestamps no tighter window exists.
func (p *Provider) MonthlyMessageCount(ctx context.Context) (int, error) {
	records, err := p.load(ctx)
	if err != nil {
		return 0, err
	}
	return lo.SumBy(records, func(r record) int { return r.summary.MessageCount }), nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	p.cached = nil
	p.cachedVersion = -1
	return err
}
