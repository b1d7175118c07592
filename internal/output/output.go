package output

import (
	"fmt"
	"strings"

	"github.com/intunectl/intunectl/internal/core"
	"github.com/intunectl/intunectl/internal/intune"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders policy listings and bulk results.
type Formatter interface {
	FormatPolicies(policies []*intune.Policy) (string, error)
	FormatReport(report *intune.Report) (string, error)
	FormatGroups(groups []intune.Group) (string, error)
	FormatOperations(records []core.OperationRecord) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// PolicyView is the listing shape of a policy.
type PolicyView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	ODataType   string `json:"odata_type,omitempty"`
	Description string `json:"description,omitempty"`
	Assigned    bool   `json:"assigned"`
}

// ViewOf flattens a policy for listing.
func ViewOf(p *intune.Policy) PolicyView {
	return PolicyView{
		ID:          p.ID(),
		Name:        p.Name(),
		Type:        string(p.Type),
		ODataType:   p.ODataType(),
		Description: p.Description(),
		Assigned:    p.Assigned(),
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func policySummary(policies []*intune.Policy) string {
	stats := intune.ComputeStats(policies)
	return fmt.Sprintf("%d policies, %d assigned", stats.Total, stats.Assigned)
}

func reportSummary(report *intune.Report) string {
	return fmt.Sprintf("%d succeeded, %d warnings, %d errors",
		report.Count(intune.StatusSuccess),
		report.Count(intune.StatusWarning),
		report.Count(intune.StatusError),
	)
}

func statusLabel(s intune.Status) string {
	switch s {
	case intune.StatusSuccess:
		return "✓ " + string(s)
	case intune.StatusWarning:
		return "! " + string(s)
	case intune.StatusError:
		return "✗ " + string(s)
	default:
		return string(s)
	}
}
