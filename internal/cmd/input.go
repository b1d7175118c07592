package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// resolveIDs merges --id values with ids read from --ids-file ("-" for stdin).
func resolveIDs(flagIDs []string, idsFile string, stdin io.Reader) ([]string, error) {
	ids := append([]string(nil), flagIDs...)
	if trimmed := strings.TrimSpace(idsFile); trimmed != "" {
		fromFile, err := readListFile(trimmed, stdin)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}
	return normalizeInputList(ids), nil
}

// readListFile reads one entry per line, skipping blanks and # comments.
func readListFile(path string, stdin io.Reader) ([]string, error) {
	var reader io.Reader
	if path == "-" {
		reader = stdin
		if reader == nil {
			reader = os.Stdin
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close() // nolint:errcheck
		reader = file
	}

	entries := make([]string, 0)
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		entries = append(entries, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries found in %s", path)
	}
	return entries, nil
}

// normalizeInputList splits comma-separated values, trims them and drops
// case-insensitive duplicates.
func normalizeInputList(values []string) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			item := strings.TrimSpace(part)
			if item == "" {
				continue
			}
			key := strings.ToLower(item)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, item)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if _, err := fmt.Fprintf(out, "%s [y/N]: ", question); err != nil {
		return false, err
	}
	reader := bufio.NewReader(in)
	answer, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
