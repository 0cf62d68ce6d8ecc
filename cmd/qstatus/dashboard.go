package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"github.com/qstatus/qstatus/internal/config"
	"github.com/qstatus/qstatus/internal/coordinator"
	"github.com/qstatus/qstatus/internal/core"
	"github.com/qstatus/qstatus/internal/source"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	critStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	compactStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	borderStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	barFillStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	barEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type stateMsg coordinator.ViewModel

type dashModel struct {
	vm      coordinator.ViewModel
	width   int
	compact bool

	onRefresh func()
	onSwitch  func()
}

func (m dashModel) Init() tea.Cmd { return nil }

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case stateMsg:
		m.vm = coordinator.ViewModel(msg)
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.onRefresh != nil {
				m.onRefresh()
			}
		case "s":
			if m.onSwitch != nil {
				m.onSwitch()
			}
		}
	}
	return m, nil
}

func (m dashModel) View() string {
	var b strings.Builder

	header := titleStyle.Render("qstatus") + dimStyle.Render(
		fmt.Sprintf("  %s  •  q quit  r refresh  s switch source", m.vm.SourceType))
	b.WriteString(header + "\n\n")

	if m.vm.UpdatedAt.IsZero() {
		b.WriteString(dimStyle.Render("waiting for first poll...") + "\n")
		return b.String()
	}

	b.WriteString(m.activeView())
	b.WriteString(m.sessionsView())
	b.WriteString(m.footerView())
	return b.String()
}

func (m dashModel) activeView() string {
	a := m.vm.Active
	if a == nil {
		snap := m.vm.Snapshot
		if snap.SessionLimit <= 0 {
			return ""
		}
		pct := core.TokenPercent(snap.TokensUsed, snap.SessionLimit)
		line := fmt.Sprintf("%s %s %s  %d msgs",
			styleFor(core.StateForUsage(pct)).Render(fmt.Sprintf("%5.1f%%", pct)),
			usageBar(pct, 24),
			formatTokens(snap.TokensUsed), snap.MessageCount)
		return borderStyle.Render(line) + "\n"
	}

	window := a.ContextWindow
	if window <= 0 {
		window = core.DefaultContextWindowClaude
	}
	pct := core.TokenPercent(a.ContextTokens, window)
	lines := []string{
		fmt.Sprintf("%s  %s %s context  •  %s total  •  $%.2f",
			styleFor(core.StateForUsage(pct)).Render(fmt.Sprintf("%5.1f%%", pct)),
			usageBar(pct, 24), formatTokens(a.ContextTokens),
			formatTokens(a.TotalTokens), a.CostUSD),
	}
	if a.BlockStart != nil {
		block := fmt.Sprintf("block %d/%d  •  %s tokens  •  $%.2f  •  %s left",
			a.BlockNumber, a.TotalBlockCount, formatTokens(a.BlockTokens),
			a.BlockCostUSD, a.BlockTimeLeft.Round(time.Minute))
		if a.ProjectedBlockTokens > 0 {
			block += fmt.Sprintf("  •  ~%s / $%.2f by block end",
				formatTokens(a.ProjectedBlockTokens), a.ProjectedBlockCostUSD)
		}
		lines = append(lines, dimStyle.Render(block))
	}
	if a.Rates != (core.BurnRates{}) {
		lines = append(lines, dimStyle.Render(fmt.Sprintf(
			"burn %s tok/h  •  %.1f msg/h  •  $%.2f/h",
			formatTokens(int64(a.Rates.TokensPerHour)),
			a.Rates.MessagesPerHour, a.Rates.CostPerHour)))
	}
	return borderStyle.Render(strings.Join(lines, "\n")) + "\n"
}

func (m dashModel) sessionsView() string {
	sessions := m.vm.Sessions
	if m.compact || len(sessions) == 0 {
		return ""
	}
	limit := 8
	if len(sessions) < limit {
		limit = len(sessions)
	}

	var b strings.Builder
	b.WriteString("\n")
	for _, s := range sessions[:limit] {
		name := s.CWD
		if name == "" {
			name = s.ID
		}
		b.WriteString(fmt.Sprintf("  %s %s %s %s\n",
			styleFor(s.State).Render(fmt.Sprintf("%5.1f%%", s.UsagePercent)),
			usageBar(s.UsagePercent, 16),
			dimStyle.Render(fmt.Sprintf("%-6s", formatTokens(s.TokensUsed))),
			truncatePath(name, 48)))
	}
	if rest := len(sessions) - limit; rest > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  … and %d more\n", rest)))
	}
	return b.String()
}

func (m dashModel) footerView() string {
	g := m.vm.Global
	parts := []string{
		fmt.Sprintf("%d sessions", g.TotalSessions),
		fmt.Sprintf("%s tokens", formatTokens(g.TotalTokens)),
		fmt.Sprintf("$%.2f", g.TotalCostUSD),
	}
	if g.SessionsNearLimit > 0 {
		parts = append(parts, warnStyle.Render(fmt.Sprintf("%d near limit", g.SessionsNearLimit)))
	}
	return "\n" + dimStyle.Render(strings.Join(parts, "  •  ")) + "\n"
}

func styleFor(state core.SessionState) lipgloss.Style {
	switch state {
	case core.StateCritical:
		return critStyle
	case core.StateWarn:
		return warnStyle
	case core.StateCompacting, core.StateCompacted:
		return compactStyle
	default:
		return okStyle
	}
}

func usageBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	return barFillStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

func formatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func truncatePath(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max+1:]
}

func runDashboard(cfg config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newSource(cfg)
	if err := src.OpenIfNeeded(ctx); err != nil {
		fmt.Printf("cannot open %s data source: %v\n", src.Type(), err)
		return
	}

	var program *tea.Program
	coord := coordinator.New(src,
		config.Load,
		func(vm coordinator.ViewModel) {
			if program != nil {
				program.Send(stateMsg(vm))
			}
		},
	)

	model := dashModel{compact: cfg.CompactUI}
	model.onRefresh = func() { go coord.Refresh(ctx) }
	model.onSwitch = func() {
		go func() {
			current := coord.Current().SourceType
			nextCfg := config.Load()
			nextCfg.DataSource = string(lo.Ternary(current == source.TypeAmazonQ,
				source.TypeClaudeCode, source.TypeAmazonQ))
			if err := coord.SwitchProvider(ctx, newSource(nextCfg)); err != nil {
				log.Printf("[dashboard] provider switch failed: %v", err)
			}
		}()
	}

	program = tea.NewProgram(model, tea.WithAltScreen())
	coord.Start(ctx)
	defer func() {
		coord.Stop()
		// The active source may have changed via the switch binding.
		if err := coord.Source().Close(); err != nil {
			log.Printf("[dashboard] closing source: %v", err)
		}
	}()

	if _, err := program.Run(); err != nil {
		log.Printf("[dashboard] program exited: %v", err)
	}
}
