package intune

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// ExportFileName returns the archive entry name for a policy.
func ExportFileName(p *Policy) string {
	name := strings.TrimSpace(unsafeFileChars.ReplaceAllString(p.Name(), "_"))
	if name == "" {
		name = "policy"
	}
	return name + ".json"
}

// WriteZip writes one indented JSON file per policy. Repeated names get a
// numeric suffix.
func WriteZip(w io.Writer, policies []*Policy) error {
	zw := zip.NewWriter(w)
	used := map[string]int{}

	for _, p := range policies {
		if p == nil {
			continue
		}
		name := ExportFileName(p)
		used[name]++
		if n := used[name]; n > 1 {
			name = fmt.Sprintf("%s (%d).json", strings.TrimSuffix(name, ".json"), n)
		}

		data, err := json.MarshalIndent(p.Data, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		f, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return zw.Close()
}

// WriteResultsCSV writes bulk results with a "Policy Name,Status,Details"
// header.
func WriteResultsCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Policy Name", "Status", "Details"}); err != nil {
		return err
	}
	for _, res := range results {
		if err := cw.Write([]string{res.Name, string(res.Status), res.Details}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
