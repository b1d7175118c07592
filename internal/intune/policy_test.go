package intune

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyName(t *testing.T) {
	require.Equal(t, "Display", (&Policy{Data: map[string]any{"displayName": "Display", "name": "n"}}).Name())
	require.Equal(t, "n", (&Policy{Data: map[string]any{"name": "n", "id": "x"}}).Name())
	require.Equal(t, "x", (&Policy{Data: map[string]any{"id": "x"}}).Name())
	require.Equal(t, "", (*Policy)(nil).Name())
}

func TestPrepareUploadStripsServerProperties(t *testing.T) {
	p := &Policy{Data: map[string]any{
		"id":                    "abc",
		"createdDateTime":       "2024-01-01T00:00:00Z",
		"lastModifiedDateTime":  "2024-01-02T00:00:00Z",
		"version":               json.Number("7"),
		"roleScopeTagIds":       []any{"0"},
		"isAssigned":            true,
		"displayName":           "Baseline",
		"@odata.type":           "#microsoft.graph.windows10GeneralConfiguration",
		"passwordMinimumLength": json.Number("12"),
	}}

	target, body, err := PrepareUpload(p, "")
	require.NoError(t, err)
	require.Equal(t, TypeDeviceConfigurations, target)
	for _, key := range []string{"id", "createdDateTime", "lastModifiedDateTime", "version", "roleScopeTagIds", "isAssigned"} {
		require.NotContains(t, body, key)
	}
	require.Equal(t, "Baseline", body["displayName"])
	require.Equal(t, json.Number("12"), body["passwordMinimumLength"])

	require.Equal(t, "abc", p.ID(), "source payload must not be modified")
}

func TestPrepareUploadPrefix(t *testing.T) {
	p := &Policy{Data: map[string]any{"name": "Firewall", "settings": []any{}}}

	target, body, err := PrepareUpload(p, "PROD - ")
	require.NoError(t, err)
	require.Equal(t, TypeConfigurationPolicies, target)
	require.Equal(t, "PROD - Firewall", body["displayName"])
	require.Equal(t, "PROD - Firewall", body["name"])
}

func TestPrepareUploadInfersTypeAndDefaults(t *testing.T) {
	t.Run("Settings", func(t *testing.T) {
		target, body, err := PrepareUpload(&Policy{Data: map[string]any{"name": "x", "settings": []any{}}}, "")
		require.NoError(t, err)
		require.Equal(t, TypeConfigurationPolicies, target)
		require.Equal(t, odataConfigurationPolicy, body["@odata.type"])
		require.Equal(t, "windows10", body["platforms"])
		require.Equal(t, "mdm", body["technologies"])
	})

	t.Run("ConfigurationPolicyWithoutSettings", func(t *testing.T) {
		target, body, err := PrepareUpload(&Policy{Data: map[string]any{
			"name":        "x",
			"@odata.type": odataConfigurationPolicy,
			"platforms":   "macOS",
		}}, "")
		require.NoError(t, err)
		require.Equal(t, TypeConfigurationPolicies, target)
		require.Equal(t, "macOS", body["platforms"])
		require.Equal(t, []any{}, body["settings"])
	})

	t.Run("Compliance", func(t *testing.T) {
		target, body, err := PrepareUpload(&Policy{Data: map[string]any{"displayName": "x", "scheduledActionsForRule": []any{}}}, "")
		require.NoError(t, err)
		require.Equal(t, TypeCompliancePolicies, target)
		require.Equal(t, odataCompliancePolicy, body["@odata.type"])
	})

	t.Run("Fallback", func(t *testing.T) {
		target, body, err := PrepareUpload(&Policy{Data: map[string]any{}}, "")
		require.NoError(t, err)
		require.Equal(t, TypeDeviceConfigurations, target)
		require.Equal(t, odataDeviceConfiguration, body["@odata.type"])
		require.Equal(t, "Unnamed Policy", body["displayName"])
	})
}

func TestPrepareDuplicate(t *testing.T) {
	p := policy(TypeCompliancePolicies, "abc", "Baseline")
	p.Data["name"] = "baseline"

	body, err := PrepareDuplicate(p)
	require.NoError(t, err)
	require.Equal(t, "Copy of Baseline", body["displayName"])
	require.Equal(t, "Copy of baseline", body["name"])
	require.NotContains(t, body, "id")
	require.Equal(t, "Baseline", p.Name())
}
