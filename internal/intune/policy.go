package intune

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	odataTypeKey = "@odata.type"

	odataConfigurationPolicy = "#microsoft.graph.deviceManagementConfigurationPolicy"
	odataCompliancePolicy    = "#microsoft.graph.deviceCompliancePolicy"
	odataDeviceConfiguration = "#microsoft.graph.deviceConfiguration"
)

// Server-managed properties that Graph rejects on create.
var serverManagedProperties = []string{
	"id", "createdDateTime", "lastModifiedDateTime", "version",
	"referencedConfigurationPolicyCount", "roleScopeTagIds",
	"supportsScopeTags", "deviceManagementApplicabilityRuleOsEdition",
	"deviceManagementApplicabilityRuleOsVersion", "deviceManagementApplicabilityRuleDeviceMode",
	"creationSource", "isAssigned", "settingCount", "templateReference", "platformType",
}

// Policy is a Graph policy payload plus the metadata the tool tracks.
type Policy struct {
	Type        PolicyType       `json:"type,omitempty"`
	Data        map[string]any   `json:"data"`
	Assignments []map[string]any `json:"assignments,omitempty"`
	Source      string           `json:"source,omitempty"`

	// assigned is the stored flag of a snapshot whose assignments were not
	// captured.
	assigned bool
}

// ID returns the Graph id, if any.
func (p *Policy) ID() string {
	return p.str("id")
}

// Name returns displayName, else name, else id.
func (p *Policy) Name() string {
	for _, key := range []string{"displayName", "name", "id"} {
		if v := p.str(key); v != "" {
			return v
		}
	}
	return ""
}

// Description returns the description property.
func (p *Policy) Description() string {
	return p.str("description")
}

// ODataType returns the @odata.type property.
func (p *Policy) ODataType() string {
	return p.str(odataTypeKey)
}

// Assigned reports whether assignments were fetched and non-empty.
func (p *Policy) Assigned() bool {
	return p != nil && (len(p.Assignments) > 0 || p.assigned)
}

func (p *Policy) str(key string) string {
	if p == nil || p.Data == nil {
		return ""
	}
	if v, ok := p.Data[key].(string); ok {
		return v
	}
	return ""
}

// PrepareUpload builds the create payload for an exported policy and the
// type it must be created as.
func PrepareUpload(p *Policy, prefix string) (PolicyType, map[string]any, error) {
	body, err := clonePayload(p.Data)
	if err != nil {
		return "", nil, err
	}
	for _, key := range serverManagedProperties {
		delete(body, key)
	}

	if prefix != "" {
		displayName, _ := body["displayName"].(string)
		if displayName == "" {
			displayName, _ = body["name"].(string)
		}
		body["displayName"] = prefix + displayName
		if name, ok := body["name"].(string); ok && name != "" {
			body["name"] = prefix + name
		}
	}

	if isBlank(body["displayName"]) && isBlank(body["name"]) {
		body["displayName"] = "Unnamed Policy"
	}

	if isBlank(body[odataTypeKey]) {
		body[odataTypeKey] = inferODataType(body)
	}

	odataType, _ := body[odataTypeKey].(string)
	target := TypeForODataType(odataType)
	if target == TypeConfigurationPolicies {
		setDefault(body, "platforms", "windows10")
		setDefault(body, "technologies", "mdm")
		if _, ok := body["settings"]; !ok {
			body["settings"] = []any{}
		}
	}

	return target, body, nil
}

// PrepareDuplicate builds the create payload for a copy of an existing
// policy.
func PrepareDuplicate(p *Policy) (map[string]any, error) {
	body, err := clonePayload(p.Data)
	if err != nil {
		return nil, err
	}
	for _, key := range serverManagedProperties {
		delete(body, key)
	}

	displayName, _ := body["displayName"].(string)
	if displayName == "" {
		displayName, _ = body["name"].(string)
	}
	body["displayName"] = "Copy of " + displayName
	if name, ok := body["name"].(string); ok && name != "" {
		body["name"] = "Copy of " + name
	}
	return body, nil
}

func inferODataType(body map[string]any) string {
	if _, ok := body["settings"]; ok {
		return odataConfigurationPolicy
	}
	if _, ok := body["scheduledActionsForRule"]; ok {
		return odataCompliancePolicy
	}
	return odataDeviceConfiguration
}

func setDefault(body map[string]any, key string, value any) {
	if isBlank(body[key]) {
		body[key] = value
	}
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// clonePayload deep-copies a JSON object, keeping numbers exact.
func clonePayload(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("copy policy payload: %w", err)
	}
	return decodeObject(raw)
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode policy payload: %w", err)
	}
	return out, nil
}
