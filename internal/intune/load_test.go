package intune

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPolicyFileShapes(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		want    []string
	}{
		{name: "Object", file: "one.json", content: `{"displayName":"One"}`, want: []string{"One"}},
		{name: "Array", file: "many.json", content: `[{"displayName":"A"},{"name":"B"}]`, want: []string{"A", "B"}},
		{name: "Collection", file: "export.json", content: `{"@odata.context":"x","value":[{"displayName":"C"}]}`, want: []string{"C"}},
		{name: "YAML", file: "policy.yaml", content: "displayName: Y\nsettings:\n  - id: 1\n", want: []string{"Y"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policies, err := LoadPolicyFile(writeFile(t, tc.file, tc.content))
			require.NoError(t, err)
			names := make([]string, 0, len(policies))
			for _, p := range policies {
				names = append(names, p.Name())
				require.Equal(t, tc.file, p.Source)
			}
			require.Equal(t, tc.want, names)
		})
	}
}

func TestLoadPolicyFileYAMLNumbers(t *testing.T) {
	policies, err := LoadPolicyFile(writeFile(t, "p.yml", "displayName: Y\nminLength: 12\n"))
	require.NoError(t, err)
	require.Equal(t, json.Number("12"), policies[0].Data["minLength"])
}

func TestLoadPolicyFileErrors(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadPolicyFile(writeFile(t, "empty.json", "  "))
	require.ErrorContains(t, err, "empty")

	_, err = LoadPolicyFile(writeFile(t, "bad.json", "{nope"))
	require.Error(t, err)
}

func TestLoadPolicyFiles(t *testing.T) {
	a := writeFile(t, "a.json", `{"displayName":"A"}`)
	b := writeFile(t, "b.json", `[{"displayName":"B1"},{"displayName":"B2"}]`)

	policies, err := LoadPolicyFiles([]string{a, b})
	require.NoError(t, err)
	require.Len(t, policies, 3)
	require.Equal(t, "b.json", policies[2].Source)
}
