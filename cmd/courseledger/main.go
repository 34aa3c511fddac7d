package main

import (
	"os"

	"github.com/spf13/cobra"

	"courseledger/internal/interfaces/cli/reconcile"
	"courseledger/internal/interfaces/cli/server"
	"courseledger/internal/interfaces/cli/status"
	"courseledger/internal/shared/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "courseledger",
		Short:   "Courseledger - course license and progress reconciliation engine",
		Long:    `Courseledger keeps course licenses, progress and credentials coherent between a ledger and its index.`,
		Version: version.String(),
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		reconcile.NewCommand(),
		status.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
