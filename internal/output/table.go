package output

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/intunectl/intunectl/internal/core"
	"github.com/intunectl/intunectl/internal/intune"
)

const descriptionWidth = 60

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(header)
	return t
}

// FormatPolicies renders a policy listing.
func (f *TableFormatter) FormatPolicies(policies []*intune.Policy) (string, error) {
	t := newTable(table.Row{"Name", "Type", "Assigned", "Description", "ID"})
	for _, p := range policies {
		if p == nil {
			continue
		}
		t.AppendRow(table.Row{
			p.Name(),
			string(p.Type),
			yesNo(p.Assigned()),
			truncate(p.Description(), descriptionWidth),
			p.ID(),
		})
	}
	t.AppendFooter(table.Row{"", "", "", policySummary(policies), ""})
	return t.Render(), nil
}

// FormatReport renders bulk results.
func (f *TableFormatter) FormatReport(report *intune.Report) (string, error) {
	if report == nil {
		return "", nil
	}
	t := newTable(table.Row{"Policy Name", "Status", "Details"})
	t.SetTitle("%s run %s", report.Operation, report.RunID)
	for _, res := range report.Results {
		t.AppendRow(table.Row{res.Name, statusLabel(res.Status), res.Details})
	}
	t.AppendFooter(table.Row{"", reportSummary(report), ""})
	return t.Render(), nil
}

// FormatGroups renders group search results.
func (f *TableFormatter) FormatGroups(groups []intune.Group) (string, error) {
	t := newTable(table.Row{"Name", "ID", "Description"})
	for _, g := range groups {
		t.AppendRow(table.Row{g.DisplayName, g.ID, truncate(g.Description, descriptionWidth)})
	}
	return t.Render(), nil
}

// FormatOperations renders operation log rows.
func (f *TableFormatter) FormatOperations(records []core.OperationRecord) (string, error) {
	t := newTable(table.Row{"Time", "Run", "Operation", "Policy", "Status", "Details"})
	for _, rec := range records {
		t.AppendRow(table.Row{
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			shortRunID(rec.RunID),
			rec.Operation,
			rec.PolicyName,
			rec.Status,
			truncate(rec.Details, descriptionWidth),
		})
	}
	return t.Render(), nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RateLimitRow is one host's persisted throttle state.
type RateLimitRow struct {
	Endpoint string
	State    core.RateLimitState
}

// FormatRateLimits renders throttle state. Open backoff windows show the
// time remaining at now.
func FormatRateLimits(rows []RateLimitRow, now time.Time) string {
	t := newTable(table.Row{"Endpoint", "Requests", "Window Start", "Backoff", "Throttles", "Last Retry-After", "Last 429"})
	t.SetTitle("Graph Rate Limits")
	for _, row := range rows {
		backoff := "-"
		if row.State.Throttled(now) {
			backoff = row.State.BackoffUntil.Sub(now).Round(time.Second).String()
		}
		retryAfter := "-"
		if row.State.Last429At != nil {
			retryAfter = row.State.LastRetryAfter.String()
		}
		t.AppendRow(table.Row{
			row.Endpoint,
			row.State.RequestCount,
			formatInstant(&row.State.WindowStart),
			backoff,
			row.State.ThrottleCount,
			retryAfter,
			formatInstant(row.State.Last429At),
		})
	}
	if len(rows) == 0 {
		t.AppendRow(table.Row{"(no stored rate limit state)", "", "", "", "", "", ""})
	}
	return t.Render()
}

func formatInstant(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
