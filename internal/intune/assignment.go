package intune

import (
	"errors"
	"fmt"
	"strings"
)

// TargetKind selects who a policy is assigned to.
type TargetKind string

const (
	TargetNone       TargetKind = "none"
	TargetAllDevices TargetKind = "allDevices"
	TargetAllUsers   TargetKind = "allUsers"
	TargetGroup      TargetKind = "group"
)

// AssignmentTarget is a resolved assignment choice.
type AssignmentTarget struct {
	Kind      TargetKind
	GroupID   string
	GroupName string
}

// ParseTarget validates a target kind and, for groups, its id.
func ParseTarget(kind, groupID, groupName string) (AssignmentTarget, error) {
	var k TargetKind
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		k = TargetNone
	case "alldevices", "all-devices":
		k = TargetAllDevices
	case "allusers", "all-users":
		k = TargetAllUsers
	case "group":
		k = TargetGroup
	default:
		return AssignmentTarget{}, fmt.Errorf("unknown assignment target: %q", kind)
	}

	target := AssignmentTarget{Kind: k}
	if k == TargetGroup {
		target.GroupID = strings.TrimSpace(groupID)
		target.GroupName = strings.TrimSpace(groupName)
		if target.GroupID == "" {
			return AssignmentTarget{}, errors.New("a group id is required for group assignment")
		}
	}
	return target, nil
}

// Assignments renders the target as the body of an assign action.
func (t AssignmentTarget) Assignments() []map[string]any {
	switch t.Kind {
	case TargetAllDevices:
		return []map[string]any{{
			"target": map[string]any{odataTypeKey: "#microsoft.graph.allDevicesAssignmentTarget"},
		}}
	case TargetAllUsers:
		return []map[string]any{{
			"target": map[string]any{odataTypeKey: "#microsoft.graph.allLicensedUsersAssignmentTarget"},
		}}
	case TargetGroup:
		if t.GroupID == "" {
			return []map[string]any{}
		}
		return []map[string]any{{
			"target": map[string]any{
				odataTypeKey: "#microsoft.graph.groupAssignmentTarget",
				"groupId":    t.GroupID,
			},
		}}
	default:
		return []map[string]any{}
	}
}

// Label names the target for result messages.
func (t AssignmentTarget) Label() string {
	if t.Kind == TargetGroup {
		if t.GroupName != "" {
			return t.GroupName
		}
		return t.GroupID
	}
	return string(t.Kind)
}
