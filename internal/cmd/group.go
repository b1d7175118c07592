package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/intunectl/intunectl/internal/output"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Look up Entra ID groups for assignment",
}

var groupSearchCmd = &cobra.Command{
	Use:   "search <prefix>",
	Short: "Find groups whose display name starts with prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		cfg, db, err := loadRuntime(ctx)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close() // nolint:errcheck // best-effort cleanup
		}
		conn, err := connectGraph(ctx, cfg, db)
		if err != nil {
			return err
		}
		defer conn.Close() // nolint:errcheck // best-effort cleanup

		groups, err := conn.client.SearchGroups(ctx, strings.TrimSpace(args[0]))
		if err != nil {
			return err
		}
		rendered, err := output.NewFormatter(format).FormatGroups(groups)
		if err != nil {
			return err
		}
		return writeRendered(cmd, rendered)
	},
}

func init() {
	rootCmd.AddCommand(groupCmd)
	groupCmd.AddCommand(groupSearchCmd)
	addOutputFlags(groupSearchCmd)
}
