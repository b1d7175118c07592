package output

import (
	"encoding/json"

	"github.com/intunectl/intunectl/internal/core"
	"github.com/intunectl/intunectl/internal/intune"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatPolicies renders a policy listing as JSON.
func (f *JSONFormatter) FormatPolicies(policies []*intune.Policy) (string, error) {
	views := make([]PolicyView, 0, len(policies))
	for _, p := range policies {
		if p == nil {
			continue
		}
		views = append(views, ViewOf(p))
	}
	return f.marshal(views)
}

// FormatReport renders bulk results as JSON.
func (f *JSONFormatter) FormatReport(report *intune.Report) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.marshal(report)
}

// FormatGroups renders group search results as JSON.
func (f *JSONFormatter) FormatGroups(groups []intune.Group) (string, error) {
	if groups == nil {
		groups = []intune.Group{}
	}
	return f.marshal(groups)
}

// FormatOperations renders operation log rows as JSON.
func (f *JSONFormatter) FormatOperations(records []core.OperationRecord) (string, error) {
	if records == nil {
		records = []core.OperationRecord{}
	}
	return f.marshal(records)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
