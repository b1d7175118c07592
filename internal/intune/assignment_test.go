package intune

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("allDevices", "", "")
	require.NoError(t, err)
	require.Equal(t, TargetAllDevices, target.Kind)

	target, err = ParseTarget("", "", "")
	require.NoError(t, err)
	require.Equal(t, TargetNone, target.Kind)

	_, err = ParseTarget("group", "", "")
	require.Error(t, err)

	_, err = ParseTarget("everyone", "", "")
	require.Error(t, err)

	target, err = ParseTarget("group", " g-1 ", "Pilot")
	require.NoError(t, err)
	require.Equal(t, "g-1", target.GroupID)
	require.Equal(t, "Pilot", target.Label())
}

func TestAssignmentBodies(t *testing.T) {
	require.Equal(t, []map[string]any{{
		"target": map[string]any{"@odata.type": "#microsoft.graph.allDevicesAssignmentTarget"},
	}}, AssignmentTarget{Kind: TargetAllDevices}.Assignments())

	require.Equal(t, []map[string]any{{
		"target": map[string]any{"@odata.type": "#microsoft.graph.allLicensedUsersAssignmentTarget"},
	}}, AssignmentTarget{Kind: TargetAllUsers}.Assignments())

	require.Equal(t, []map[string]any{{
		"target": map[string]any{
			"@odata.type": "#microsoft.graph.groupAssignmentTarget",
			"groupId":     "g-1",
		},
	}}, AssignmentTarget{Kind: TargetGroup, GroupID: "g-1"}.Assignments())

	require.Empty(t, AssignmentTarget{Kind: TargetNone}.Assignments())
	require.Equal(t, "allUsers", AssignmentTarget{Kind: TargetAllUsers}.Label())
}
