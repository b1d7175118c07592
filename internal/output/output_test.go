package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intunectl/intunectl/internal/core"
	"github.com/intunectl/intunectl/internal/intune"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func samplePolicies() []*intune.Policy {
	return []*intune.Policy{
		{
			Type: intune.TypeConfigurationPolicies,
			Data: map[string]any{
				"id":          "a",
				"name":        "Firewall | Baseline",
				"description": "Turns the\nfirewall on",
			},
			Assignments: []map[string]any{{"id": "x"}},
		},
		{
			Type: intune.TypeDeviceConfigurations,
			Data: map[string]any{"id": "b", "displayName": "BitLocker", "@odata.type": "#microsoft.graph.windows10EndpointProtectionConfiguration"},
		},
	}
}

func sampleReport() *intune.Report {
	return &intune.Report{
		RunID:     "0d6f1f9e-5a8e-4c1a-9a7e-1f1f3b2c4d5e",
		Operation: intune.OpDelete,
		Results: []intune.Result{
			{Name: "Firewall", Status: intune.StatusSuccess, Details: "Policy deleted successfully"},
			{Name: "BitLocker", Status: intune.StatusError, Details: "HTTP 400"},
		},
	}
}

func TestTableFormatter(t *testing.T) {
	f := NewFormatter(FormatTable)

	rendered, err := f.FormatPolicies(samplePolicies())
	require.NoError(t, err)
	require.Contains(t, rendered, "NAME")
	require.Contains(t, rendered, "BitLocker")
	require.Contains(t, rendered, "configurationPolicies")
	require.Contains(t, rendered, "Turns the firewall on")
	require.Contains(t, strings.ToLower(rendered), "2 policies, 1 assigned")

	rendered, err = f.FormatReport(sampleReport())
	require.NoError(t, err)
	require.Contains(t, rendered, "Policy deleted successfully")
	require.Contains(t, strings.ToLower(rendered), "1 succeeded, 0 warnings, 1 errors")

	rendered, err = f.FormatGroups([]intune.Group{{ID: "g1", DisplayName: "Pilot Devices"}})
	require.NoError(t, err)
	require.Contains(t, rendered, "Pilot Devices")

	rendered, err = f.FormatOperations([]core.OperationRecord{{RunID: "run-123456789", Operation: "delete", PolicyName: "A", Status: "Success", CreatedAt: time.Now()}})
	require.NoError(t, err)
	require.Contains(t, rendered, "run-1234")
	require.NotContains(t, rendered, "run-123456789")
}

func TestJSONFormatter(t *testing.T) {
	f := NewFormatter(FormatJSON)

	rendered, err := f.FormatPolicies(samplePolicies())
	require.NoError(t, err)
	var views []PolicyView
	require.NoError(t, json.Unmarshal([]byte(rendered), &views))
	require.Len(t, views, 2)
	require.Equal(t, PolicyView{
		ID:          "a",
		Name:        "Firewall | Baseline",
		Type:        "configurationPolicies",
		Description: "Turns the\nfirewall on",
		Assigned:    true,
	}, views[0])

	rendered, err = f.FormatReport(sampleReport())
	require.NoError(t, err)
	require.Contains(t, rendered, `"operation": "delete"`)
	require.Contains(t, rendered, `"status": "Error"`)

	rendered, err = f.FormatGroups(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)

	rendered, err = f.FormatOperations(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)
}

func TestMarkdownFormatter(t *testing.T) {
	f := NewFormatter(FormatMarkdown)

	rendered, err := f.FormatPolicies(samplePolicies())
	require.NoError(t, err)
	require.Contains(t, rendered, `| Firewall \| Baseline | configurationPolicies | yes | Turns the firewall on |`)
	require.Contains(t, rendered, "**Total**: 2 policies, 1 assigned")

	rendered, err = f.FormatReport(sampleReport())
	require.NoError(t, err)
	require.Contains(t, rendered, "## delete results")
	require.Contains(t, rendered, "| BitLocker | Error | HTTP 400 |")

	rendered, err = f.FormatReport(nil)
	require.NoError(t, err)
	require.Empty(t, rendered)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", truncate("abc", 10))
	require.Equal(t, "abcdefg...", truncate("abcdefghijkl", 10))
	require.Equal(t, "a b", truncate("a\n  b", 10))
}

func TestFormatRateLimits(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(45 * time.Second)
	last := now.Add(-15 * time.Second)

	rendered := FormatRateLimits([]RateLimitRow{
		{Endpoint: "graph.microsoft.com", State: core.RateLimitState{
			RequestCount: 12, WindowStart: now, BackoffUntil: &until, Last429At: &last,
			ThrottleCount: 3, LastRetryAfter: time.Minute,
		}},
		{Endpoint: "login.microsoftonline.com", State: core.RateLimitState{RequestCount: 1, WindowStart: now}},
	}, now)

	require.Contains(t, rendered, "Graph Rate Limits")
	require.Contains(t, rendered, "graph.microsoft.com")
	require.Contains(t, rendered, "45s")
	require.Contains(t, rendered, "1m0s")
	require.Contains(t, rendered, "2026-03-01T11:59:45Z")

	require.Contains(t, FormatRateLimits(nil, now), "no stored rate limit state")
}
