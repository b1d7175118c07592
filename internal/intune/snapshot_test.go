package intune

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intunectl/intunectl/internal/core"
)

func TestSnapshotRoundTrip(t *testing.T) {
	refreshed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := policy(TypeConfigurationPolicies, "a", "Firewall")
	p.Data["settingCount"] = json.Number("12")
	p.Assignments = []map[string]any{{"id": "x", "target": map[string]any{"@odata.type": "#microsoft.graph.allDevicesAssignmentTarget"}}}

	snap, err := Snapshot(p, refreshed)
	require.NoError(t, err)
	require.Equal(t, "a", snap.PolicyID)
	require.Equal(t, "configurationPolicies", snap.PolicyType)
	require.Equal(t, "Firewall", snap.Name)
	require.True(t, snap.Assigned)
	require.Equal(t, refreshed, snap.RefreshedAt)

	back, err := FromSnapshot(snap)
	require.NoError(t, err)
	require.Equal(t, TypeConfigurationPolicies, back.Type)
	require.Equal(t, "Firewall", back.Name())
	require.Equal(t, json.Number("12"), back.Data["settingCount"])
	require.True(t, back.Assigned())
	require.Equal(t, "snapshot", back.Source)
}

func TestSnapshotsSkipPoliciesWithoutID(t *testing.T) {
	snaps, err := Snapshots([]*Policy{
		policy(TypeDeviceConfigurations, "a", "A"),
		{Type: TypeDeviceConfigurations, Data: map[string]any{"displayName": "no id"}},
		nil,
	}, time.Now())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Nil(t, snaps[0].Assignments)
}

func TestFromSnapshotKeepsStoredAssignedFlag(t *testing.T) {
	snap := core.PolicySnapshot{
		PolicyID:   "a",
		PolicyType: "deviceConfigurations",
		Name:       "Wi-Fi",
		Assigned:   true,
		Payload:    json.RawMessage(`{"id":"a","displayName":"Wi-Fi"}`),
	}

	p, err := FromSnapshot(snap)
	require.NoError(t, err)
	require.Empty(t, p.Assignments)
	require.True(t, p.Assigned())
	require.Len(t, Filter{AssignedOnly: true}.Apply([]*Policy{p}), 1)

	again, err := Snapshot(p, time.Now())
	require.NoError(t, err)
	require.True(t, again.Assigned)

	snap.Assigned = false
	p, err = FromSnapshot(snap)
	require.NoError(t, err)
	require.False(t, p.Assigned())
}

func TestFromSnapshotRejectsUnknownType(t *testing.T) {
	_, err := FromSnapshot(core.PolicySnapshot{PolicyID: "a", PolicyType: "mysteryPolicies", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
}

func TestReportRecords(t *testing.T) {
	finished := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	report := &Report{
		RunID:      "run-1",
		Operation:  OpDelete,
		FinishedAt: finished,
		Results: []Result{
			{Name: "A", Status: StatusSuccess, Details: "Policy deleted successfully", PolicyID: "a", Type: TypeDeviceConfigurations},
			{Name: "B", Status: StatusError, Details: "HTTP 400"},
		},
	}

	records := report.Records()
	require.Len(t, records, 2)
	require.Equal(t, core.OperationRecord{
		RunID:      "run-1",
		Operation:  "delete",
		PolicyName: "A",
		PolicyID:   "a",
		PolicyType: "deviceConfigurations",
		Status:     "Success",
		Details:    "Policy deleted successfully",
		CreatedAt:  finished,
	}, records[0])
	require.Empty(t, records[1].PolicyType)

	var nilReport *Report
	require.Nil(t, nilReport.Records())
}
