package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/core/store"
	"github.com/intunectl/intunectl/internal/intune"
	"github.com/intunectl/intunectl/internal/observability"
	"github.com/intunectl/intunectl/internal/output"
)

var policyCmd = &cobra.Command{
	Use:     "policy",
	Aliases: []string{"policies"},
	Short:   "List, export and bulk-manage Intune policies",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies across every supported policy type",
	Args:  cobra.NoArgs,
	RunE:  runPolicyList,
}

var policyRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch every policy with its assignments and store a snapshot",
	Args:  cobra.NoArgs,
	RunE:  runPolicyRefresh,
}

var policyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export policies as JSON files in a zip archive",
	Args:  cobra.NoArgs,
	RunE:  runPolicyExport,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyListCmd, policyRefreshCmd, policyExportCmd)

	for _, c := range []*cobra.Command{policyListCmd, policyExportCmd} {
		addFilterFlags(c)
		c.Flags().Bool("cached", false, "Read from the last stored snapshot instead of Graph")
	}
	policyListCmd.Flags().Bool("with-assignments", false, "Fetch assignments for each policy")
	addOutputFlags(policyListCmd)

	policyExportCmd.Flags().StringSlice("id", nil, "Policy ids to export (default all matching)")
	policyExportCmd.Flags().String("out", "", "Zip file to write (default intune-policies-<timestamp>.zip)")
}

func addFilterFlags(c *cobra.Command) {
	c.Flags().String("type", "", "Policy type: "+strings.Join(intune.TypeNames(), ", "))
	c.Flags().String("search", "", "Case-insensitive match on name or description")
	c.Flags().Bool("assigned", false, "Only policies with at least one assignment")
}

func addOutputFlags(c *cobra.Command) {
	c.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	c.Flags().String("out", "", "Write output to a file (default stdout)")
}

func filterFromFlags(cmd *cobra.Command) (intune.Filter, error) {
	var f intune.Filter
	typeName, err := cmd.Flags().GetString("type")
	if err != nil {
		return f, err
	}
	if strings.TrimSpace(typeName) != "" {
		t, err := intune.ParsePolicyType(typeName)
		if err != nil {
			return f, err
		}
		f.Type = t
	}
	if f.Search, err = cmd.Flags().GetString("search"); err != nil {
		return f, err
	}
	if f.AssignedOnly, err = cmd.Flags().GetBool("assigned"); err != nil {
		return f, err
	}
	return f, nil
}

// fetchPolicies lists policies from Graph and logs any type that failed.
func fetchPolicies(ctx context.Context, client *intune.Client, withAssignments bool) ([]*intune.Policy, error) {
	inv, err := client.ListAll(ctx, withAssignments)
	if err != nil {
		return nil, err
	}
	for _, t := range intune.Types {
		if typeErr, ok := inv.Errors[t]; ok && observability.CLILogger != nil {
			observability.CLILogger.Warn("Failed to list policy type", zap.String("type", string(t)), zap.Error(typeErr))
		}
	}
	if len(inv.Policies) == 0 && len(inv.Errors) == len(intune.Types) {
		return nil, fmt.Errorf("every policy type failed to list: %w", inv.Errors[intune.Types[0]])
	}
	return inv.Policies, nil
}

func cachedPolicies(ctx context.Context, db *store.Store) ([]*intune.Policy, error) {
	if db == nil {
		return nil, errors.New("no store available for cached listing")
	}
	snapshots, err := db.ListSnapshots(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, errors.New("no stored snapshot; run 'policy refresh' first")
	}
	policies := make([]*intune.Policy, 0, len(snapshots))
	for _, snap := range snapshots {
		p, err := intune.FromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// loadPolicies returns the filtered, sorted listing either from Graph or
// from the stored snapshot.
func loadPolicies(cmd *cobra.Command, withAssignments bool) ([]*intune.Policy, error) {
	ctx := cmd.Context()
	filter, err := filterFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	cached, err := cmd.Flags().GetBool("cached")
	if err != nil {
		return nil, err
	}
	if filter.AssignedOnly {
		withAssignments = true
	}

	cfg, db, err := loadRuntime(ctx)
	if err != nil {
		return nil, err
	}
	if db != nil {
		defer db.Close() // nolint:errcheck // best-effort cleanup
	}

	var policies []*intune.Policy
	if cached {
		policies, err = cachedPolicies(ctx, db)
	} else {
		var conn *graphConn
		conn, err = connectGraph(ctx, cfg, db)
		if err != nil {
			return nil, err
		}
		defer conn.Close() // nolint:errcheck // best-effort cleanup
		policies, err = fetchPolicies(ctx, conn.client, withAssignments)
	}
	if err != nil {
		return nil, err
	}

	policies = filter.Apply(policies)
	intune.SortByName(policies)
	return policies, nil
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	withAssignments, err := cmd.Flags().GetBool("with-assignments")
	if err != nil {
		return err
	}

	policies, err := loadPolicies(cmd, withAssignments)
	if err != nil {
		return err
	}

	rendered, err := output.NewFormatter(format).FormatPolicies(policies)
	if err != nil {
		return err
	}
	return writeRendered(cmd, rendered)
}

func runPolicyRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, db, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("store is required for refresh")
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	conn, err := connectGraph(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer conn.Close() // nolint:errcheck // best-effort cleanup

	startedAt := time.Now()
	policies, err := fetchPolicies(ctx, conn.client, true)
	if err != nil {
		return err
	}
	snapshots, err := intune.Snapshots(policies, time.Now())
	if err != nil {
		return err
	}
	if err := db.ReplaceSnapshots(ctx, snapshots); err != nil {
		return err
	}

	stats := intune.ComputeStats(policies)
	types := make([]string, 0, len(stats.ByType))
	for t, n := range stats.ByType {
		types = append(types, fmt.Sprintf("%s=%d", t, n))
	}
	sort.Strings(types)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stored %d policies (%d assigned) in %s: %s\n",
		stats.Total, stats.Assigned, time.Since(startedAt).Round(time.Millisecond), strings.Join(types, ", "))
	return err
}

func runPolicyExport(cmd *cobra.Command, args []string) error {
	ids, err := cmd.Flags().GetStringSlice("id")
	if err != nil {
		return err
	}
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	if strings.TrimSpace(outPath) == "" {
		outPath = fmt.Sprintf("intune-policies-%s.zip", time.Now().Format("20060102-150405"))
	}

	policies, err := loadPolicies(cmd, false)
	if err != nil {
		return err
	}
	policies, err = pickByID(policies, ids)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if err := intune.WriteZip(file, policies); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d policies to %s\n", len(policies), outPath)
	return err
}

// pickByID narrows policies to ids when any are given. Unknown ids are
// logged; an empty selection is an error.
func pickByID(policies []*intune.Policy, ids []string) ([]*intune.Policy, error) {
	ids = normalizeInputList(ids)
	if len(ids) > 0 {
		selected, missing := intune.SelectByID(policies, ids)
		if len(missing) > 0 && observability.CLILogger != nil {
			observability.CLILogger.Warn("Some policy ids were not found", zap.Strings("ids", missing))
		}
		policies = selected
	}
	if len(policies) == 0 {
		return nil, errors.New("no policies matched")
	}
	return policies, nil
}

func writeRendered(cmd *cobra.Command, rendered string) error {
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	sink, err := openSink(cmd.OutOrStdout(), outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	if strings.TrimSpace(rendered) == "" {
		return nil
	}
	_, err = fmt.Fprintln(sink, rendered)
	return err
}
