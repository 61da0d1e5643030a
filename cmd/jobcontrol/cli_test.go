package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// run executes the CLI against a config file and returns stdout.
func run(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--log-level", "error"}, args...))
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("jobcontrol %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func writeSQLiteConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "jobcontrol.yaml")
	body := fmt.Sprintf("store:\n  driver: sqlite\n  dsn: %s\n", filepath.Join(dir, "jobs.db"))
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfgPath
}

func TestCLI_EnqueueListCancel(t *testing.T) {
	cfg := writeSQLiteConfig(t)

	if out := run(t, cfg, "migrate"); !strings.Contains(out, "sqlite store migrated") {
		t.Fatalf("migrate output = %q", out)
	}

	out := run(t, cfg, "enqueue", "sendEmail", `{"to":"a@example.com"}`, "--retries", "3", "--backoff", "exponential")
	if !strings.Contains(out, "ready") {
		t.Fatalf("enqueue output = %q", out)
	}
	run(t, cfg, "enqueue", "report", "--delay", "1h")

	out = run(t, cfg, "list", "--type", "sendEmail")
	if !strings.Contains(out, "sendEmail") || !strings.Contains(out, "0/3") || strings.Contains(out, "report") {
		t.Fatalf("list output = %q", out)
	}

	out = run(t, cfg, "list", "--status", "pending")
	if !strings.Contains(out, "report") {
		t.Fatalf("pending list = %q", out)
	}

	if out := run(t, cfg, "cancel", "report"); !strings.Contains(out, "cancelled 1 report jobs") {
		t.Fatalf("cancel output = %q", out)
	}

	// Freshly cancelled jobs are inside the retention window.
	if out := run(t, cfg, "cleanup"); !strings.Contains(out, "removed 0 stale jobs") {
		t.Fatalf("cleanup output = %q", out)
	}
}

func TestCLI_ListRejectsUnknownStatus(t *testing.T) {
	cfg := writeSQLiteConfig(t)
	run(t, cfg, "migrate")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfg, "list", "--status", "exploded"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
