package intune

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultBaseURL is the Graph beta root used for device management.
	DefaultBaseURL = "https://graph.microsoft.com/beta"

	// DefaultGroupsBaseURL is the Graph v1.0 root used for group lookup.
	DefaultGroupsBaseURL = "https://graph.microsoft.com/v1.0"
)

// PolicyType names one family of Intune policies.
type PolicyType string

const (
	TypeConfigurationPolicies     PolicyType = "configurationPolicies"
	TypeDeviceConfigurations      PolicyType = "deviceConfigurations"
	TypeCompliancePolicies        PolicyType = "compliancePolicies"
	TypeGroupPolicyConfigurations PolicyType = "groupPolicyConfigurations"
	TypeIntentPolicies            PolicyType = "intentPolicies"
)

// Endpoints holds the path templates for a policy type. {id} is replaced by
// the policy id.
type Endpoints struct {
	List        string
	Delete      string
	Assignments string
	Assign      string
}

// Types lists policy types in fetch order.
var Types = []PolicyType{
	TypeConfigurationPolicies,
	TypeDeviceConfigurations,
	TypeCompliancePolicies,
	TypeGroupPolicyConfigurations,
	TypeIntentPolicies,
}

// Registry maps each policy type to its Graph endpoints.
var Registry = map[PolicyType]Endpoints{
	TypeConfigurationPolicies: {
		List:        "/deviceManagement/configurationPolicies",
		Delete:      "/deviceManagement/configurationPolicies/",
		Assignments: "/deviceManagement/configurationPolicies/{id}/assignments",
		Assign:      "/deviceManagement/configurationPolicies/{id}/assign",
	},
	TypeDeviceConfigurations: {
		List:        "/deviceManagement/deviceConfigurations",
		Delete:      "/deviceManagement/deviceConfigurations/",
		Assignments: "/deviceManagement/deviceConfigurations/{id}/assignments",
		Assign:      "/deviceManagement/deviceConfigurations/{id}/assign",
	},
	TypeCompliancePolicies: {
		List:        "/deviceManagement/deviceCompliancePolicies",
		Delete:      "/deviceManagement/deviceCompliancePolicies/",
		Assignments: "/deviceManagement/deviceCompliancePolicies/{id}/assignments",
		Assign:      "/deviceManagement/deviceCompliancePolicies/{id}/assign",
	},
	TypeGroupPolicyConfigurations: {
		List:        "/deviceManagement/groupPolicyConfigurations",
		Delete:      "/deviceManagement/groupPolicyConfigurations/",
		Assignments: "/deviceManagement/groupPolicyConfigurations/{id}/assignments",
		Assign:      "/deviceManagement/groupPolicyConfigurations/{id}/assign",
	},
	TypeIntentPolicies: {
		List:        "/deviceManagement/intents",
		Delete:      "/deviceManagement/intents/",
		Assignments: "/deviceManagement/intents/{id}/assignments",
		Assign:      "/deviceManagement/intents/{id}/assign",
	},
}

// EndpointsFor looks up the endpoints of t.
func EndpointsFor(t PolicyType) (Endpoints, error) {
	endpoints, ok := Registry[t]
	if !ok {
		return Endpoints{}, fmt.Errorf("unknown policy type: %q", t)
	}
	return endpoints, nil
}

// DeletePath returns the delete path for a policy id.
func (e Endpoints) DeletePath(id string) string {
	return e.Delete + url.PathEscape(id)
}

// AssignmentsPath returns the assignment listing path for a policy id.
func (e Endpoints) AssignmentsPath(id string) string {
	return strings.ReplaceAll(e.Assignments, "{id}", url.PathEscape(id))
}

// AssignPath returns the assign action path for a policy id.
func (e Endpoints) AssignPath(id string) string {
	return strings.ReplaceAll(e.Assign, "{id}", url.PathEscape(id))
}

// ParsePolicyType accepts a registry key, case-insensitively.
func ParsePolicyType(value string) (PolicyType, error) {
	trimmed := strings.TrimSpace(value)
	for _, t := range Types {
		if strings.EqualFold(trimmed, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown policy type: %q (expected one of %s)", value, strings.Join(TypeNames(), ", "))
}

// TypeNames returns the registry keys in fetch order.
func TypeNames() []string {
	names := make([]string, 0, len(Types))
	for _, t := range Types {
		names = append(names, string(t))
	}
	return names
}

// TypeForODataType resolves the collection a payload is created in from its
// @odata.type. Unrecognized types land in deviceConfigurations.
func TypeForODataType(odataType string) PolicyType {
	switch {
	case strings.Contains(odataType, "deviceManagementConfigurationPolicy"),
		strings.Contains(odataType, "configurationPolicy"):
		return TypeConfigurationPolicies
	case strings.Contains(odataType, "deviceCompliancePolicy"),
		strings.Contains(odataType, "compliancePolicy"):
		return TypeCompliancePolicies
	case strings.Contains(odataType, "groupPolicyConfiguration"):
		return TypeGroupPolicyConfigurations
	case strings.Contains(odataType, "deviceManagementIntent"),
		strings.Contains(odataType, "intent"):
		return TypeIntentPolicies
	default:
		return TypeDeviceConfigurations
	}
}
