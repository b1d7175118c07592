package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/config"
	"github.com/intunectl/intunectl/internal/core/store"
	"github.com/intunectl/intunectl/internal/intune"
	"github.com/intunectl/intunectl/internal/observability"
	"github.com/intunectl/intunectl/internal/output"
)

var policyUploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Create policies from exported JSON or YAML files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPolicyUpload,
}

var policyDuplicateCmd = &cobra.Command{
	Use:   "duplicate",
	Short: `Create a "Copy of" each selected policy`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSelected(cmd, false, nil, func(ctx context.Context, r *intune.Runner, policies []*intune.Policy) (*intune.Report, error) {
			return r.Duplicate(ctx, policies)
		})
	},
}

var policyAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign the selected policies to all devices, all users or a group",
	Long: `Assign the selected policies to one target.

Graph replaces every existing assignment of a policy with the new one, so
this asks for confirmation unless --yes is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := targetFromFlags(cmd)
		if err != nil {
			return err
		}
		if target.Kind == intune.TargetNone {
			return errors.New("--target is required: allDevices, allUsers or group")
		}
		return runSelected(cmd, false, assignQuestion(target), func(ctx context.Context, r *intune.Runner, policies []*intune.Policy) (*intune.Report, error) {
			return r.Assign(ctx, policies, target)
		})
	},
}

var policyUnassignCmd = &cobra.Command{
	Use:   "unassign",
	Short: "Remove every assignment from the selected policies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSelected(cmd, true, countQuestion("Remove all assignments from"), func(ctx context.Context, r *intune.Runner, policies []*intune.Policy) (*intune.Report, error) {
			return r.Unassign(ctx, policies)
		})
	},
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the selected policies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSelected(cmd, false, countQuestion("Delete"), func(ctx context.Context, r *intune.Runner, policies []*intune.Policy) (*intune.Report, error) {
			return r.Delete(ctx, policies)
		})
	},
}

type bulkFunc func(ctx context.Context, r *intune.Runner, policies []*intune.Policy) (*intune.Report, error)

// bulkQuestion phrases the confirmation prompt for n selected policies. A
// nil question means the operation runs without asking.
type bulkQuestion func(n int) string

func countQuestion(verb string) bulkQuestion {
	return func(n int) string {
		return fmt.Sprintf("%s %d policies?", verb, n)
	}
}

func assignQuestion(target intune.AssignmentTarget) bulkQuestion {
	return func(n int) string {
		return fmt.Sprintf("Assign %d policies to %s, replacing their current assignments?", n, target.Label())
	}
}

// confirmBulk reports whether the operation may proceed: --yes skips the
// prompt, anything but y or yes aborts.
func confirmBulk(cmd *cobra.Command, question string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, err
	}
	if yes {
		return true, nil
	}
	ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), question)
	if err != nil || ok {
		return ok, err
	}
	_, err = fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
	return false, err
}

func init() {
	policyCmd.AddCommand(policyUploadCmd, policyDuplicateCmd, policyAssignCmd, policyUnassignCmd, policyDeleteCmd)

	policyUploadCmd.Flags().String("prefix", "", "Prefix added to each uploaded policy name")
	addTargetFlags(policyUploadCmd)

	for _, c := range []*cobra.Command{policyDuplicateCmd, policyAssignCmd, policyUnassignCmd, policyDeleteCmd} {
		c.Flags().StringSlice("id", nil, "Policy ids to act on")
		c.Flags().String("ids-file", "", "File with one policy id per line (- for stdin)")
		addFilterFlags(c)
	}
	addTargetFlags(policyAssignCmd)

	for _, c := range []*cobra.Command{policyAssignCmd, policyUnassignCmd, policyDeleteCmd} {
		c.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	}

	for _, c := range []*cobra.Command{policyUploadCmd, policyDuplicateCmd, policyAssignCmd, policyUnassignCmd, policyDeleteCmd} {
		addOutputFlags(c)
		c.Flags().String("results-csv", "", "Also write results as CSV to this path")
	}
}

func addTargetFlags(c *cobra.Command) {
	c.Flags().String("target", "", "Assignment target: allDevices, allUsers or group")
	c.Flags().String("group-id", "", "Group id for --target group")
	c.Flags().String("group-name", "", "Group display name used in result messages")
}

func targetFromFlags(cmd *cobra.Command) (intune.AssignmentTarget, error) {
	kind, err := cmd.Flags().GetString("target")
	if err != nil {
		return intune.AssignmentTarget{}, err
	}
	groupID, err := cmd.Flags().GetString("group-id")
	if err != nil {
		return intune.AssignmentTarget{}, err
	}
	groupName, err := cmd.Flags().GetString("group-name")
	if err != nil {
		return intune.AssignmentTarget{}, err
	}
	return intune.ParseTarget(kind, groupID, groupName)
}

func runPolicyUpload(cmd *cobra.Command, args []string) error {
	prefix, err := cmd.Flags().GetString("prefix")
	if err != nil {
		return err
	}
	target, err := targetFromFlags(cmd)
	if err != nil {
		return err
	}
	policies, err := intune.LoadPolicyFiles(args)
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

	opts := intune.UploadOptions{Prefix: prefix, Target: target}
	return runBulk(cmd, cfg, db, conn, policies, func(ctx context.Context, r *intune.Runner, policies []*intune.Policy) (*intune.Report, error) {
		return r.Upload(ctx, policies, opts)
	})
}

// runSelected lists policies, narrows them by the selection flags and runs
// fn over the result. When question is set the user must confirm first.
func runSelected(cmd *cobra.Command, withAssignments bool, question bulkQuestion, fn bulkFunc) error {
	flagIDs, err := cmd.Flags().GetStringSlice("id")
	if err != nil {
		return err
	}
	idsFile, err := cmd.Flags().GetString("ids-file")
	if err != nil {
		return err
	}
	ids, err := resolveIDs(flagIDs, idsFile, cmd.InOrStdin())
	if err != nil {
		return err
	}
	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}
	if len(ids) == 0 && filter == (intune.Filter{}) {
		return errors.New("select policies with --id, --ids-file, --type, --search or --assigned")
	}
	if filter.AssignedOnly {
		withAssignments = true
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

	policies, err := fetchPolicies(ctx, conn.client, withAssignments)
	if err != nil {
		return err
	}
	policies = filter.Apply(policies)
	intune.SortByName(policies)
	policies, err = pickByID(policies, ids)
	if err != nil {
		return err
	}

	if question != nil {
		ok, err := confirmBulk(cmd, question(len(policies)))
		if err != nil || !ok {
			return err
		}
	}

	return runBulk(cmd, cfg, db, conn, policies, fn)
}

// runBulk executes one bulk operation, persists its results and renders
// the report. It fails when the run stopped early or any item errored.
func runBulk(cmd *cobra.Command, cfg *config.Config, db *store.Store, conn *graphConn, policies []*intune.Policy, fn bulkFunc) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	csvPath, err := cmd.Flags().GetString("results-csv")
	if err != nil {
		return err
	}

	progress := cmd.ErrOrStderr()
	runner := &intune.Runner{
		Client: conn.client,
		Pacer:  conn.pacer,
		Logger: observability.CLILogger,
		OnResult: func(done, total int, res intune.Result) {
			_, _ = fmt.Fprintf(progress, "[%d/%d] %s: %s - %s\n", done, total, res.Name, res.Status, res.Details)
		},
	}

	report, runErr := fn(cmd.Context(), runner, policies)
	if report == nil {
		if runErr != nil {
			return runErr
		}
		return errors.New("bulk operation produced no report")
	}

	// Persist even when the run stopped early; the context may be done.
	persistReport(context.WithoutCancel(cmd.Context()), cfg, db, report)

	if strings.TrimSpace(csvPath) != "" {
		if err := writeResultsCSV(csvPath, report.Results); err != nil {
			return err
		}
	}

	rendered, err := output.NewFormatter(format).FormatReport(report)
	if err != nil {
		return err
	}
	if err := writeRendered(cmd, rendered); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}
	if failed := report.Count(intune.StatusError); failed > 0 {
		return fmt.Errorf("%d of %d %s operations failed", failed, len(report.Results), report.Operation)
	}
	return nil
}

func persistReport(ctx context.Context, cfg *config.Config, db *store.Store, report *intune.Report) {
	if db == nil || report == nil {
		return
	}
	if cfg != nil && cfg.Store.OperationRetention > 0 {
		if _, err := db.PruneOperations(ctx, time.Now().Add(-cfg.Store.OperationRetention)); err != nil && observability.CLILogger != nil {
			observability.CLILogger.Warn("Failed to prune operation log", zap.Error(err))
		}
	}
	if err := db.AppendOperations(ctx, report.Records()); err != nil && observability.CLILogger != nil {
		observability.CLILogger.Warn("Failed to record operation results", zap.String("run_id", report.RunID), zap.Error(err))
	}
}

func writeResultsCSV(path string, results []intune.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := intune.WriteResultsCSV(file, results); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
