package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/intunectl/intunectl/internal/config"
	"github.com/intunectl/intunectl/internal/graph"
)

func TestRunDoctorChecksInOrder(t *testing.T) {
	var seen []string
	check := func(name string, status checkStatus) doctorCheck {
		return doctorCheck{name: name, run: func(_ context.Context, env *doctorEnv) (checkStatus, string) {
			seen = append(seen, name)
			return status, name + " detail"
		}}
	}
	results := runDoctorChecks(context.Background(), &doctorEnv{}, []doctorCheck{
		check("first", checkPass),
		check("second", checkSkip),
		check("third", checkPass),
	})
	if strings.Join(seen, ",") != "first,second,third" {
		t.Fatalf("unexpected order: %v", seen)
	}
	if !doctorHealthy(results) {
		t.Fatal("skipped checks must not fail the run")
	}

	results = append(results, doctorResult{name: "store", status: checkWarn})
	if doctorHealthy(results) {
		t.Fatal("a warning must fail the run")
	}
}

func TestDoctorLine(t *testing.T) {
	got := doctorLine(1, 7, doctorResult{name: "configuration", status: checkFail, detail: "bad yaml"})
	if got != "[2/7] Checking configuration... ❌ bad yaml" {
		t.Fatalf("unexpected line: %q", got)
	}
	got = doctorLine(6, 7, doctorResult{name: "token acquisition", status: checkSkip, detail: "use --connect"})
	if got != "[7/7] Checking token acquisition... skipped (use --connect)" {
		t.Fatalf("unexpected line: %q", got)
	}
}

func TestChecksSkipWithoutConfig(t *testing.T) {
	env := &doctorEnv{cfgErr: errors.New("broken"), connect: true}
	for _, check := range []func(context.Context, *doctorEnv) (checkStatus, string){
		checkCredentials, checkDatabase, checkThrottled, checkToken,
	} {
		if status, _ := check(context.Background(), env); status != checkSkip {
			t.Fatalf("expected skip without config, got %d", status)
		}
	}
	if status, detail := checkConfig(context.Background(), env); status != checkFail || detail != "broken" {
		t.Fatalf("expected config failure, got %d %q", status, detail)
	}
}

func TestCheckCredentialsNamesVariables(t *testing.T) {
	env := &doctorEnv{cfg: &config.Config{Graph: config.GraphConfig{Credentials: graph.CredentialConfig{TenantID: "t"}}}}
	status, detail := checkCredentials(context.Background(), env)
	if status != checkFail || !strings.Contains(detail, "CLIENT_SECRET") {
		t.Fatalf("unexpected result: %d %q", status, detail)
	}

	env.cfg.Graph.Credentials = graph.CredentialConfig{AccessToken: "tok"}
	if status, detail := checkCredentials(context.Background(), env); status != checkPass || detail != "static access token" {
		t.Fatalf("unexpected result: %d %q", status, detail)
	}
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := map[time.Duration]string{
		10 * time.Second: "just now",
		time.Minute:      "1 min ago",
		45 * time.Minute: "45 mins ago",
		3 * time.Hour:    "3 hours ago",
		49 * time.Hour:   "2 days ago",
	}
	for ago, want := range cases {
		if got := formatTimeAgo(now, now.Add(-ago)); got != want {
			t.Fatalf("%s: expected %q, got %q", ago, want, got)
		}
	}
	if formatTimeAgo(now, time.Time{}) != "unknown" {
		t.Fatal("expected unknown for zero time")
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		512:                    "512 bytes",
		2048:                   "2.0 KB",
		5 * 1024 * 1024:        "5.0 MB",
		3 * 1024 * 1024 * 1024: "3.0 GB",
	}
	for size, want := range cases {
		if got := formatFileSize(size); got != want {
			t.Fatalf("%d: expected %q, got %q", size, want, got)
		}
	}
}

func TestDescribeStoreRedactsToken(t *testing.T) {
	got := describeStore(config.StoreConfig{URL: "libsql://tenant.turso.io?authToken=secret"})
	if strings.Contains(got, "secret") || !strings.HasSuffix(got, "(remote)") {
		t.Fatalf("unexpected description: %q", got)
	}
}

func TestBuildInitConfigUsesPrefix(t *testing.T) {
	body := buildInitConfig("POLICYCTL_")
	if !strings.Contains(body, "POLICYCTL_CLIENT_SECRET") {
		t.Fatalf("expected prefixed secret hint, got %q", body)
	}
}
