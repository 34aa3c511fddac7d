package reconcile

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"courseledger/internal/interfaces/cli/app"
)

var configPath string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle pending ledger operations once and exit",
		Long:  `Replay the pending-operation journal and run one reconcile sweep over every unsettled operation.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./configs/config.yaml)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, log, err := app.Bootstrap(configPath)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	recovered, err := a.Recover(ctx)
	if err != nil {
		return fmt.Errorf("journal recovery failed: %w", err)
	}
	summary := a.Coordinator.ReconcileAll(ctx)

	log.Infow("reconcile pass finished",
		"recovered", recovered,
		"converged", summary.Converged,
		"pending", summary.Pending,
		"index_lag", summary.IndexLag,
		"rejected", summary.Rejected,
		"failed", summary.Failed,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "recovered=%d converged=%d pending=%d index_lag=%d rejected=%d failed=%d\n",
		recovered, summary.Converged, summary.Pending, summary.IndexLag, summary.Rejected, summary.Failed)
	return nil
}
