package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/intunectl/intunectl/internal/output"
)

// outputSink is where a command writes its rendered result: stdout, or a
// file it owns and closes.
type outputSink struct {
	io.Writer
	path string
	file *os.File
}

func (s *outputSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Path is the file written, or "-" for stdout.
func (s *outputSink) Path() string {
	return s.path
}

var sinkExtensions = map[output.Format]string{
	output.FormatJSON:     "json",
	output.FormatMarkdown: "md",
	output.FormatTable:    "txt",
}

var unsafeFilename = regexp.MustCompile(`[^a-z0-9._-]+`)

// sanitizeFilename lowercases value and collapses anything unsafe in a
// filename to "-".
func sanitizeFilename(value string) string {
	clean := unsafeFilename.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	if clean = strings.Trim(clean, "-."); clean == "" {
		return "output"
	}
	return clean
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// sinkPath resolves --out and --out-dir. With only a directory the file is
// <dir>/<stem>.<ext>; with neither the result is "" for stdout.
func sinkPath(outPath, outDir, stem string, format output.Format) (string, error) {
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)
	switch {
	case outPath != "" && outDir != "":
		return "", fmt.Errorf("--out and --out-dir are mutually exclusive")
	case outDir == "":
		return outPath, nil
	}
	ext, ok := sinkExtensions[format]
	if !ok {
		ext = "txt"
	}
	dir, err := filepath.Abs(outDir)
	if err != nil {
		dir = outDir
	}
	return filepath.Join(dir, sanitizeFilename(stem)+"."+ext), nil
}

func openTargetSink(stdout io.Writer, outPath, outDir, stem string, format output.Format) (*outputSink, error) {
	path, err := sinkPath(outPath, outDir, stem, format)
	if err != nil {
		return nil, err
	}
	return openSink(stdout, path)
}

// openSink opens path for writing, creating parent directories. An empty
// path or "-" writes to stdout.
func openSink(stdout io.Writer, path string) (*outputSink, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return &outputSink{Writer: stdout, path: "-"}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &outputSink{Writer: file, path: path, file: file}, nil
}
