package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/qstatus/qstatus/internal/config"
	"github.com/qstatus/qstatus/internal/coordinator"
	"github.com/qstatus/qstatus/internal/core"
	"github.com/qstatus/qstatus/internal/estimate"
	"github.com/qstatus/qstatus/internal/source/claude"
)

// statsOutput is the one-shot JSON dump: the full view model, the extended
// per-model and per-period rollups, the derived limit percentages, and cost
// provenance when the provider can report it.
type statsOutput struct {
	coordinator.ViewModel
	Models          []core.ModelUsage       `json:"models,omitempty"`
	Periods         core.PeriodMetrics      `json:"periods"`
	MonthlyMessages int                     `json:"monthly_messages"`
	Limits          statsLimits             `json:"limits"`
	Costs           *estimate.CostBreakdown `json:"costs,omitempty"`
}

// statsLimits is every "how full" reading derived from one collection pass.
type statsLimits struct {
	TokenPercent        float64             `json:"token_percent"`
	PersonalMaxPercent  float64             `json:"personal_max_percent"`
	CostPercent         float64             `json:"cost_percent"`
	CriticalPercent     float64             `json:"critical_percent"`
	CriticalMetric      core.CriticalMetric `json:"critical_metric"`
	Level               string              `json:"level"`
	MessageQuotaPercent float64             `json:"message_quota_percent"`
	MessageQuotaLevel   string              `json:"message_quota_level"`
}

// buildLimits derives the limit percentages. The token side measures the
// latest snapshot against the provider-supplied limit, falling back to the
// configured session token limit; the cost side measures either the active
// block against the block baseline or the month against the plan cap.
func buildLimits(vm coordinator.ViewModel, periods core.PeriodMetrics, monthlyMessages int, cfg config.Config) statsLimits {
	limit := vm.Snapshot.SessionLimit
	if limit <= 0 {
		limit = cfg.SessionTokenLimit
	}
	tokenPct := core.TokenPercent(vm.Snapshot.TokensUsed, limit)

	cost := vm.Global.TotalCostUSD
	if cfg.UseMonthlyCostCap {
		cost = periods.MonthCost
	} else if vm.Active != nil {
		cost = vm.Active.BlockCostUSD
	}
	costPct := core.CostPercent(cost, cfg.BlockCostBaseline, cfg.MonthlyCostLimit(), cfg.UseMonthlyCostCap)

	critPct, metric := core.CriticalPercent(tokenPct, costPct)
	msgPct := core.MessageQuotaPercent(monthlyMessages)
	return statsLimits{
		TokenPercent:        tokenPct,
		PersonalMaxPercent:  core.PersonalMaxPercent(vm.Global.TotalTokens, 0),
		CostPercent:         costPct,
		CriticalPercent:     critPct,
		CriticalMetric:      metric,
		Level:               core.LevelForCritical(critPct).String(),
		MessageQuotaPercent: msgPct,
		MessageQuotaLevel:   core.LevelForUsage(msgPct).String(),
	}
}

func newStatsCommand() *cobra.Command {
	var sourceFlag string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Collect once and print the aggregate state as JSON.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if sourceFlag != "" {
				cfg.DataSource = sourceFlag
			}
			src := newSource(cfg)
			defer src.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := src.OpenIfNeeded(ctx); err != nil {
				return err
			}

			coord := coordinator.New(src, func() config.Config { return cfg }, nil)
			coord.Refresh(ctx)

			out := statsOutput{ViewModel: coord.Current()}
			// Extended methods report empty when unsupported; errors here
			// just leave the section empty too.
			if models, err := src.FetchModelUsage(ctx); err == nil {
				out.Models = models
			}
			if periods, err := src.FetchPeriodMetrics(ctx); err == nil {
				out.Periods = periods
			}
			if n, err := src.MonthlyMessageCount(ctx); err == nil {
				out.MonthlyMessages = n
			}
			out.Limits = buildLimits(out.ViewModel, out.Periods, out.MonthlyMessages, cfg)
			if cp, ok := src.(*claude.Provider); ok {
				if costs, err := cp.CostSummary(ctx); err == nil {
					out.Costs = &costs
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&sourceFlag, "source", "", "data source override: amazon-q or claude-code")
	return cmd
}
