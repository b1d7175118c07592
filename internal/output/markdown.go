package output

import (
	"fmt"
	"strings"

	"github.com/intunectl/intunectl/internal/core"
	"github.com/intunectl/intunectl/internal/intune"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatPolicies renders a policy listing as Markdown.
func (f *MarkdownFormatter) FormatPolicies(policies []*intune.Policy) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Name | Type | Assigned | Description |\n")
	sb.WriteString("|------|------|----------|-------------|\n")
	for _, p := range policies {
		if p == nil {
			continue
		}
		writeRow(&sb, p.Name(), string(p.Type), yesNo(p.Assigned()), truncate(p.Description(), descriptionWidth))
	}
	sb.WriteString(fmt.Sprintf("\n**Total**: %s\n", policySummary(policies)))
	return sb.String(), nil
}

// FormatReport renders bulk results as Markdown.
func (f *MarkdownFormatter) FormatReport(report *intune.Report) (string, error) {
	if report == nil {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s results\n\n", escapeMarkdownCell(string(report.Operation))))
	sb.WriteString("| Policy Name | Status | Details |\n")
	sb.WriteString("|-------------|--------|---------|\n")
	for _, res := range report.Results {
		writeRow(&sb, res.Name, string(res.Status), res.Details)
	}
	sb.WriteString(fmt.Sprintf("\n**Summary**: %s\n", reportSummary(report)))
	return sb.String(), nil
}

// FormatGroups renders group search results as Markdown.
func (f *MarkdownFormatter) FormatGroups(groups []intune.Group) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Name | ID | Description |\n")
	sb.WriteString("|------|----|-------------|\n")
	for _, g := range groups {
		writeRow(&sb, g.DisplayName, g.ID, truncate(g.Description, descriptionWidth))
	}
	return sb.String(), nil
}

// FormatOperations renders operation log rows as Markdown.
func (f *MarkdownFormatter) FormatOperations(records []core.OperationRecord) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Time | Operation | Policy | Status | Details |\n")
	sb.WriteString("|------|-----------|--------|--------|---------|\n")
	for _, rec := range records {
		writeRow(&sb, rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), rec.Operation, rec.PolicyName, rec.Status, rec.Details)
	}
	return sb.String(), nil
}

func writeRow(sb *strings.Builder, cells ...string) {
	sb.WriteString("|")
	for _, cell := range cells {
		sb.WriteString(" ")
		sb.WriteString(escapeMarkdownCell(cell))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "|", "\\|")
}
