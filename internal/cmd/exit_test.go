package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/intunectl/intunectl/internal/config"
	apperrors "github.com/intunectl/intunectl/internal/errors"
	"github.com/intunectl/intunectl/internal/graph"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want foundry.ExitCode
	}{
		{"config", apperrors.NewConfigInvalidError("graph.credentials.tenant_id is required"), foundry.ExitConfigInvalid},
		{"validation", fmt.Errorf("load: %w", config.ErrInvalid), foundry.ExitConfigInvalid},
		{"missing ids file", fmt.Errorf("read ids: %w", os.ErrNotExist), foundry.ExitFileNotFound},
		{"retries exhausted", &graph.RetriesExhaustedError{Attempts: 4, Last: errors.New("reset")}, foundry.ExitExternalServiceUnavailable},
		{"deadline", fmt.Errorf("list: %w", context.DeadlineExceeded), foundry.ExitExternalServiceUnavailable},
		{"item failures", errors.New("2 of 5 items failed"), foundry.ExitFailure},
	}
	for _, tc := range cases {
		if got := ExitCodeFor(tc.err); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestWriteFatalIncludesEnvelopeCode(t *testing.T) {
	var out bytes.Buffer
	writeFatal(&out, foundry.ExitConfigInvalid, "Configuration invalid", apperrors.NewConfigInvalidError("missing client id"))
	if !strings.Contains(out.String(), "[CONFIG_INVALID]: missing client id") {
		t.Fatalf("unexpected output: %s", out.String())
	}
	if !strings.Contains(out.String(), "Exit Code:") {
		t.Fatalf("expected exit code line, got %s", out.String())
	}

	out.Reset()
	writeFatal(&out, foundry.ExitFailure, "Command failed", nil)
	if !strings.HasPrefix(out.String(), "FATAL: Command failed\n") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}
