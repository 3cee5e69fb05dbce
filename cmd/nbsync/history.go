package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"nbsync/internal/domain"
	"nbsync/internal/logger"
	"nbsync/internal/report"
	"nbsync/internal/repository/sqlite"
)

// newHistoryCmd lists recorded runs, or the outcomes of one run
func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded reconciliation runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(g)
			if err != nil {
				return err
			}
			if cfg.Journal.Disabled {
				return &domain.FatalError{Component: "journal", Err: errors.New("journal is disabled in the config")}
			}
			log, err := newLogger(cfg.Logging, g.debug)
			if err != nil {
				return err
			}

			journal, err := sqlite.New(cfg.Journal.Path, logger.WithComponent(log, "journal"))
			if err != nil {
				return &domain.FatalError{Component: "journal", Err: err}
			}
			defer journal.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := journal.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				report.WriteRuns(out, runs)
				return nil
			}

			run, err := journal.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			outcomes, err := journal.Outcomes(ctx, run.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Run %s (%s), %d attempted, %d failed\n", run.ID, run.Kind, run.Attempted, run.Failed)
			report.WriteOutcomes(out, outcomes)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", sqlite.DefaultListLimit, "number of runs to show")
	return cmd
}
