package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/qstatus/qstatus/internal/config"
	"github.com/qstatus/qstatus/internal/source"
	"github.com/qstatus/qstatus/internal/source/amazonq"
	"github.com/qstatus/qstatus/internal/source/claude"
)

func main() {
	if os.Getenv("QSTATUS_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	root := cobra.Command{
		Use:   "qstatus",
		Short: "qstatus watches Amazon Q and Claude Code usage: context pressure, billing blocks, burn rates.",
		Run: func(_ *cobra.Command, _ []string) {
			runDashboard(config.Load())
		},
	}

	root.AddCommand(newStatsCommand(), newInitCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newSource picks the provider the config asks for.
func newSource(cfg config.Config) source.DataSource {
	switch source.ParseType(cfg.DataSource) {
	case source.TypeClaudeCode:
		return claude.New(cfg)
	default:
		return amazonq.New(cfg)
	}
}

// newInitCommand writes a default config file if none exists.
func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file to the per-user config directory.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.ConfigPath()
			if _, err := os.Stat(path); err == nil {
				cmd.Printf("config already exists at %s\n", path)
				return nil
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
}
