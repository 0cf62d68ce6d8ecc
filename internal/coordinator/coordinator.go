// Package coordinator runs the background poll loop: it gates on the data
// source's change counter, aggregates sessions and metrics, applies the
// compaction heuristic, and publishes immutable view-model snapshots.
package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qstatus/qstatus/internal/config"
	"github.com/qstatus/qstatus/internal/core"
	"github.com/qstatus/qstatus/internal/source"
)

const (
	// Rolling snapshot history bound.
	historyCap = 360

	// How long a detected compaction keeps a session marked COMPACTING.
	compactingWindow = 10 * time.Second

	// Adaptive interval: each stable cycle adds a second, up to the bonus
	// cap, and the whole interval never exceeds the maximum.
	stabilityBonusCap = 10
	maxInterval       = 30 * time.Second

	// Detail fan-out concurrency for the top-N list.
	detailFetchLimit = 4

	firstPageSize = 50
)

// ViewModel is the published aggregate. Values are rebuilt wholesale each
// cycle; consumers never see a partial update.
type ViewModel struct {
	SourceType source.Type                    `json:"source_type"`
	Snapshot   core.UsageSnapshot             `json:"snapshot"`
	Sessions   []core.SessionSummary          `json:"sessions"`
	Details    map[string]core.TokenBreakdown `json:"details,omitempty"`
	Global     core.GlobalMetrics             `json:"global"`
	Active     *core.ActiveSessionData        `json:"active,omitempty"`
	UpdatedAt  time.Time                      `json:"updated_at"`
}

// NotificationSink receives usage threshold crossings.
type NotificationSink interface {
	Notify(pct float64, level core.Level)
}

// observation is what the compaction heuristic remembers per session.
type observation struct {
	tokens   int64
	messages int
	percent  float64
	seenAt   time.Time
}

// Coordinator owns the poll loop. All mutable state behind mu; the loop is
// the only writer of the published view model.
type Coordinator struct {
	mu  sync.Mutex
	src source.DataSource

	loadConfig func() config.Config
	onUpdate   func(ViewModel)
	sink       NotificationSink
	now        func() time.Time

	history      []core.UsageSnapshot
	observed     map[string]observation
	compacting   map[string]time.Time
	stableCycles int
	lastVersion  int64
	haveVersion  bool
	state        ViewModel

	lastNotified     core.Level
	haveNotification bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSink installs a threshold notification sink.
func WithSink(s NotificationSink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New builds a coordinator. loadConfig is called fresh each cycle so settings
// changes take effect without a restart; onUpdate fires after each published
// state change and may be nil.
func New(src source.DataSource, loadConfig func() config.Config, onUpdate func(ViewModel), opts ...Option) *Coordinator {
	c := &Coordinator{
		src:        src,
		loadConfig: loadConfig,
		onUpdate:   onUpdate,
		now:        time.Now,
		observed:   make(map[string]observation),
		compacting: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Source returns the data source currently in use.
func (c *Coordinator) Source() source.DataSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.src
}

// Current returns the last published view model.
func (c *Coordinator) Current() ViewModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns a copy of the rolling snapshot history.
func (c *Coordinator) History() []core.UsageSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.UsageSnapshot, len(c.history))
	copy(out, c.history)
	return out
}

// Start launches the poll loop. Returns immediately; Stop joins it.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Stop cancels the loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Coordinator) run(ctx context.Context) {
	// First cycle immediately; the timer reschedules with the adaptive
	// interval after each pass.
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		c.Poll(ctx)
		timer.Reset(c.interval())
	}
}

// interval computes the next sleep from the configured base and how long the
// source has been quiet.
func (c *Coordinator) interval() time.Duration {
	cfg := c.loadConfig()
	base := time.Duration(cfg.RefreshIntervalSeconds) * time.Second
	if base <= 0 {
		base = 2 * time.Second
	}
	c.mu.Lock()
	stable := c.stableCycles
	c.mu.Unlock()
	if stable > stabilityBonusCap {
		stable = stabilityBonusCap
	}
	interval := base + time.Duration(stable)*time.Second
	if interval > maxInterval {
		interval = maxInterval
	}
	return interval
}

// Poll runs one gated cycle: cheap version check first, full collection only
// when the source moved. Fetch errors leave the last-good state untouched.
func (c *Coordinator) Poll(ctx context.Context) {
	version, err := c.Source().DataVersion(ctx)
	if err != nil {
		log.Printf("[coordinator] data version check failed: %v", err)
		return
	}

	c.mu.Lock()
	unchanged := c.haveVersion && version == c.lastVersion
	if unchanged {
		c.stableCycles++
		c.mu.Unlock()
		return
	}
	c.stableCycles = 0
	c.mu.Unlock()

	// The observed version is committed only after collection succeeds, so
	// a transient fetch failure retries the same version next cycle instead
	// of skipping it as "unchanged".
	if c.collect(ctx) != nil {
		return
	}
	c.mu.Lock()
	c.lastVersion = version
	c.haveVersion = true
	c.mu.Unlock()
}

// Refresh bypasses the version gate and always re-fetches.
func (c *Coordinator) Refresh(ctx context.Context) {
	version, verr := c.Source().DataVersion(ctx)
	if c.collect(ctx) != nil {
		return
	}
	if verr == nil {
		c.mu.Lock()
		c.lastVersion = version
		c.haveVersion = true
		c.stableCycles = 0
		c.mu.Unlock()
	}
}

func (c *Coordinator) collect(ctx context.Context) error {
	cfg := c.loadConfig()
	now := c.now()
	src := c.Source()

	snapshot, err := src.FetchLatestUsage(ctx)
	if err != nil {
		log.Printf("[coordinator] snapshot fetch failed: %v", err)
		return err
	}

	sessions, err := src.FetchSessions(ctx, source.SessionQuery{
		Limit:         firstPageSize,
		GroupByFolder: cfg.GroupByFolder,
	})
	if err != nil {
		log.Printf("[coordinator] session fetch failed: %v", err)
		return err
	}

	topN := cfg.TopSessions
	if topN <= 0 {
		topN = 5
	}
	global, err := src.FetchGlobalMetrics(ctx, topN)
	if err != nil {
		log.Printf("[coordinator] global metrics fetch failed: %v", err)
		return err
	}

	details := c.fetchDetails(ctx, src, global.TopHeavySessions)

	var active *core.ActiveSessionData
	if as, ok := src.(source.ActiveSessionSource); ok {
		data, found, err := as.FetchActiveSession(ctx)
		if err != nil {
			log.Printf("[coordinator] active session fetch failed: %v", err)
		} else if found {
			active = &data
		}
	}

	sessions = c.applyCompactionHeuristic(sessions, cfg, now)

	c.mu.Lock()
	c.history = append(c.history, snapshot)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
	c.state = ViewModel{
		SourceType: src.Type(),
		Snapshot:   snapshot,
		Sessions:   sessions,
		Details:    details,
		Global:     global,
		Active:     active,
		UpdatedAt:  now,
	}
	state := c.state
	callback := c.onUpdate
	c.mu.Unlock()

	c.maybeNotify(snapshot, cfg)
	if callback != nil {
		callback(state)
	}
	return nil
}

// fetchDetails enriches the top-N list concurrently, bounded so a slow store
// never sees an unbounded burst of reads. Failures drop the one detail.
func (c *Coordinator) fetchDetails(ctx context.Context, src source.DataSource, top []core.SessionSummary) map[string]core.TokenBreakdown {
	if len(top) == 0 {
		return nil
	}
	var mu sync.Mutex
	details := make(map[string]core.TokenBreakdown, len(top))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchLimit)
	for _, s := range top {
		s := s
		g.Go(func() error {
			d, found, err := src.FetchSessionDetail(gctx, s.ID)
			if err != nil || !found {
				return nil
			}
			mu.Lock()
			details[s.ID] = d.Breakdown
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return details
}

// applyCompactionHeuristic marks sessions whose usage collapsed between
// cycles. A genuine compaction shrinks tokens while the conversation keeps
// growing, so a drop paired with fewer messages (a deleted or restarted
// session) does not count.
func (c *Coordinator) applyCompactionHeuristic(sessions []core.SessionSummary, cfg config.Config, now time.Time) []core.SessionSummary {
	window := cfg.DefaultContextWindow
	if window <= 0 {
		window = core.DefaultContextWindowQ
	}
	tokenDropFloor := float64(window) * 0.05

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]core.SessionSummary, len(sessions))
	for i, s := range sessions {
		prev, seen := c.observed[s.ID]
		if seen && s.MessageCount >= prev.messages {
			usageDrop := prev.percent - s.UsagePercent
			tokenDrop := float64(prev.tokens - s.TokensUsed)
			if usageDrop >= 10 || tokenDrop > tokenDropFloor {
				c.compacting[s.ID] = now.Add(compactingWindow)
			}
		}
		c.observed[s.ID] = observation{
			tokens:   s.TokensUsed,
			messages: s.MessageCount,
			percent:  s.UsagePercent,
			seenAt:   now,
		}
		if until, ok := c.compacting[s.ID]; ok {
			if now.Before(until) {
				s.State = core.StateCompacting
			} else {
				delete(c.compacting, s.ID)
			}
		}
		out[i] = s
	}
	return out
}

// maybeNotify fires the sink on 70/90/95 crossings, suppressing repeats of
// the same level until a different one is reached. A provider-supplied limit
// overrides the configured session token limit.
func (c *Coordinator) maybeNotify(snapshot core.UsageSnapshot, cfg config.Config) {
	if c.sink == nil {
		return
	}
	limit := snapshot.SessionLimit
	if limit <= 0 {
		limit = cfg.SessionTokenLimit
	}
	if limit <= 0 {
		return
	}
	pct := core.TokenPercent(snapshot.TokensUsed, limit)
	level, ok := notifyLevel(pct)
	if !ok {
		c.mu.Lock()
		c.haveNotification = false
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	repeat := c.haveNotification && level == c.lastNotified
	c.lastNotified = level
	c.haveNotification = true
	c.mu.Unlock()
	if repeat {
		return
	}
	c.sink.Notify(pct, level)
}

// notifyLevel maps a usage percentage onto the notification boundaries.
func notifyLevel(pct float64) (core.Level, bool) {
	switch {
	case pct >= 95:
		return core.LevelCritical, true
	case pct >= 90:
		return core.LevelWarning, true
	case pct >= 70:
		return core.LevelCaution, true
	default:
		return core.LevelHealthy, false
	}
}

// SwitchProvider swaps the data source at runtime: stop the loop, drop every
// piece of cached state, swap, restart, and refresh once immediately.
func (c *Coordinator) SwitchProvider(ctx context.Context, next source.DataSource) error {
	c.Stop()

	c.mu.Lock()
	old := c.src
	c.src = next
	c.history = nil
	c.observed = make(map[string]observation)
	c.compacting = make(map[string]time.Time)
	c.stableCycles = 0
	c.haveVersion = false
	c.haveNotification = false
	c.state = ViewModel{SourceType: next.Type()}
	c.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Printf("[coordinator] closing previous source: %v", err)
		}
	}
	if err := next.OpenIfNeeded(ctx); err != nil {
		return err
	}

	c.Start(ctx)
	c.Refresh(ctx)
	return nil
}
