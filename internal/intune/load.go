package intune

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadPolicyFile reads policies from a JSON or YAML file. The file may hold
// one policy object, an array of them, or a Graph collection with a value
// array.
func LoadPolicyFile(path string) ([]*Policy, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	policies, err := ParsePolicies(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	source := filepath.Base(path)
	for _, p := range policies {
		p.Source = source
	}
	return policies, nil
}

// LoadPolicyFiles loads every path in order.
func LoadPolicyFiles(paths []string) ([]*Policy, error) {
	var out []*Policy
	for _, path := range paths {
		policies, err := LoadPolicyFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, policies...)
	}
	return out, nil
}

// ParsePolicies decodes JSON policy content.
func ParsePolicies(raw []byte) ([]*Policy, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("file is empty")
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return policiesFrom(items)
	}

	obj, err := decodeObject(trimmed)
	if err != nil {
		return nil, err
	}
	if value, ok := obj["value"]; ok {
		if _, isList := value.([]any); isList {
			var page collectionPage
			if err := json.Unmarshal(trimmed, &page); err != nil {
				return nil, err
			}
			return policiesFrom(page.Value)
		}
	}
	return []*Policy{{Data: obj}}, nil
}

func policiesFrom(items []json.RawMessage) ([]*Policy, error) {
	out := make([]*Policy, 0, len(items))
	for i, item := range items {
		data, err := decodeObject(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, &Policy{Data: data})
	}
	return out, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

// normalizeYAML converts yaml map keys to strings so the tree can be
// re-encoded as JSON.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeYAML(t[i])
		}
		return t
	default:
		return v
	}
}
