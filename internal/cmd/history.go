package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/intunectl/intunectl/internal/core"
	"github.com/intunectl/intunectl/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded bulk operation results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		query := core.OperationQuery{}
		if query.RunID, err = cmd.Flags().GetString("run"); err != nil {
			return err
		}
		if query.Operation, err = cmd.Flags().GetString("operation"); err != nil {
			return err
		}
		if query.Status, err = cmd.Flags().GetString("status"); err != nil {
			return err
		}
		if query.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
			return err
		}
		pruneOlder, err := cmd.Flags().GetDuration("prune-older-than")
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		if pruneOlder > 0 {
			removed, err := db.PruneOperations(cmd.Context(), time.Now().Add(-pruneOlder))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d operation records\n", removed)
			return err
		}

		records, err := db.ListOperations(cmd.Context(), query)
		if err != nil {
			return err
		}
		rendered, err := output.NewFormatter(format).FormatOperations(records)
		if err != nil {
			return err
		}
		return writeRendered(cmd, rendered)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("run", "", "Only this run id")
	historyCmd.Flags().String("operation", "", "Only this operation: upload, duplicate, assign, unassign, delete")
	historyCmd.Flags().String("status", "", "Only this status: Success, Warning, Error")
	historyCmd.Flags().Int("limit", 200, "Maximum rows to show")
	historyCmd.Flags().Duration("prune-older-than", 0, "Delete records older than this instead of listing")
	addOutputFlags(historyCmd)
}
