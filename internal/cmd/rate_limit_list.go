package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/intunectl/intunectl/internal/core/store"
	"github.com/intunectl/intunectl/internal/output"
)

var (
	rateLimitListOutput   string
	rateLimitListOut      string
	rateLimitListOutDir   string
	rateLimitListEndpoint string
	rateLimitListPrefix   string
	rateLimitListThrottle bool
)

// rateLimitView is one host in `rate-limit list --output-format json`.
type rateLimitView struct {
	Endpoint       string     `json:"endpoint"`
	Throttled      bool       `json:"throttled"`
	RequestCount   int        `json:"request_count"`
	WindowStart    time.Time  `json:"window_start"`
	BackoffUntil   *time.Time `json:"backoff_until,omitempty"`
	Last429At      *time.Time `json:"last_429_at,omitempty"`
	ThrottleCount  int        `json:"throttle_count"`
	LastRetryAfter string     `json:"last_retry_after,omitempty"`
}

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored Graph rate limit state",
	Long: `List persisted request windows and 429 backoff per Graph host.

Without --endpoint or --prefix every host is listed. --throttled keeps only
hosts whose backoff window is still open.`,
	RunE: runRateLimitList,
}

func runRateLimitList(cmd *cobra.Command, _ []string) error {
	format, err := output.ParseFormat(rateLimitListOutput)
	if err != nil {
		return err
	}
	if format != output.FormatJSON && format != output.FormatTable {
		return fmt.Errorf("unsupported output format: %s", format)
	}

	query := store.RateLimitQuery{
		Endpoint: strings.TrimSpace(rateLimitListEndpoint),
		Prefix:   strings.TrimSpace(rateLimitListPrefix),
	}
	query.All = query.Endpoint == "" && query.Prefix == ""

	db, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	entries, err := db.ListRateLimits(cmd.Context(), query)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if rateLimitListThrottle {
		entries = throttledOnly(entries, now)
	}

	sink, err := openTargetSink(cmd.OutOrStdout(), rateLimitListOut, rateLimitListOutDir, "rate-limit.list", format)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()
	return writeRateLimits(sink, format, entries, now)
}

func throttledOnly(entries []store.RateLimitEntry, now time.Time) []store.RateLimitEntry {
	kept := entries[:0]
	for _, entry := range entries {
		if entry.State.Throttled(now) {
			kept = append(kept, entry)
		}
	}
	return kept
}

func writeRateLimits(w io.Writer, format output.Format, entries []store.RateLimitEntry, now time.Time) error {
	if format != output.FormatJSON {
		rows := make([]output.RateLimitRow, 0, len(entries))
		for _, entry := range entries {
			rows = append(rows, output.RateLimitRow{Endpoint: entry.Endpoint, State: entry.State})
		}
		_, err := fmt.Fprintln(w, output.FormatRateLimits(rows, now))
		return err
	}

	views := make([]rateLimitView, 0, len(entries))
	for _, entry := range entries {
		state := entry.State
		view := rateLimitView{
			Endpoint:      entry.Endpoint,
			Throttled:     state.Throttled(now),
			RequestCount:  state.RequestCount,
			WindowStart:   state.WindowStart,
			BackoffUntil:  state.BackoffUntil,
			Last429At:     state.Last429At,
			ThrottleCount: state.ThrottleCount,
		}
		if state.LastRetryAfter > 0 {
			view.LastRetryAfter = state.LastRetryAfter.String()
		}
		views = append(views, view)
	}
	payload, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func init() {
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOut, "out", "", "Write output to a file (default stdout)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListOutDir, "out-dir", "", "Write output to a directory")
	rateLimitListCmd.Flags().StringVar(&rateLimitListEndpoint, "endpoint", "", "List one host (exact match)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List hosts with matching prefix")
	rateLimitListCmd.Flags().BoolVar(&rateLimitListThrottle, "throttled", false, "Only hosts still in backoff")
}
