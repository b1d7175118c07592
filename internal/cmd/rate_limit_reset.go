package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/intunectl/intunectl/internal/core/store"
	"github.com/intunectl/intunectl/internal/output"
)

var (
	rateLimitResetAll      bool
	rateLimitResetEndpoint string
	rateLimitResetPrefix   string
	rateLimitResetYes      bool
	rateLimitResetDryRun   bool
	rateLimitResetOutput   string
	rateLimitResetOut      string
	rateLimitResetOutDir   string
)

// rateLimitResetResult is the reset command's JSON output.
type rateLimitResetResult struct {
	Matched int   `json:"matched"`
	Deleted int64 `json:"deleted"`
	DryRun  bool  `json:"dry_run"`
	Aborted bool  `json:"aborted,omitempty"`
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget stored Graph throttling state",
	Long: `Delete persisted request windows and 429 backoff for one host, a host
prefix, or every host. Deleting state lifts any open backoff window for the
next run. Asks for confirmation unless --yes is given.`,
	RunE: runRateLimitReset,
}

func runRateLimitReset(cmd *cobra.Command, _ []string) error {
	format, err := output.ParseFormat(rateLimitResetOutput)
	if err != nil {
		return err
	}
	if format != output.FormatJSON && format != output.FormatTable {
		return fmt.Errorf("unsupported output format: %s", format)
	}

	query := store.RateLimitQuery{
		All:      rateLimitResetAll,
		Endpoint: strings.TrimSpace(rateLimitResetEndpoint),
		Prefix:   strings.TrimSpace(rateLimitResetPrefix),
	}
	if err := query.Validate(); err != nil {
		return err
	}

	db, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	result := rateLimitResetResult{DryRun: rateLimitResetDryRun}
	if result.Matched, err = db.CountRateLimits(cmd.Context(), query); err != nil {
		return err
	}

	if !result.DryRun && result.Matched > 0 && !rateLimitResetYes {
		ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
			fmt.Sprintf("Reset throttling state for %d host(s)?", result.Matched))
		if err != nil {
			return err
		}
		result.Aborted = !ok
	}

	if !result.DryRun && !result.Aborted {
		if result.Deleted, err = db.ResetRateLimits(cmd.Context(), query); err != nil {
			return err
		}
	}

	sink, err := openTargetSink(cmd.OutOrStdout(), rateLimitResetOut, rateLimitResetOutDir, "rate-limit.reset", format)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()
	return writeRateLimitResetResult(format, sink, result)
}

func writeRateLimitResetResult(format output.Format, w io.Writer, result rateLimitResetResult) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	var line string
	switch {
	case result.DryRun:
		line = fmt.Sprintf("Would reset %d host(s)", result.Matched)
	case result.Aborted:
		line = "Reset aborted; nothing deleted"
	default:
		line = fmt.Sprintf("Reset %d/%d host(s)", result.Deleted, result.Matched)
	}
	_, err := fmt.Fprint(w, ascii.DrawBox(line, 0))
	return err
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset every host")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetEndpoint, "endpoint", "", "Reset one host (exact match)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset hosts with matching prefix")
	rateLimitResetCmd.Flags().BoolVarP(&rateLimitResetYes, "yes", "y", false, "Skip the confirmation prompt")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be reset")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOut, "out", "", "Write output to a file (default stdout)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetOutDir, "out-dir", "", "Write output to a directory")
}
