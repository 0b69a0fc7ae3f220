package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"smartduka/backend/internal/app"
	"smartduka/backend/internal/config"
)

// useMemoryApp points every command at a fresh in-memory backend.
func useMemoryApp(t *testing.T) {
	t.Helper()
	prev := openApp
	openApp = func(ctx context.Context) (*app.App, error) {
		return app.Open(ctx, config.Config{})
	}
	t.Cleanup(func() { openApp = prev })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGenerateInvoicesCommand(t *testing.T) {
	useMemoryApp(t)

	out, err := run(t, "generate-invoices", "--period", "2026-09")
	if err != nil {
		t.Fatalf("generate-invoices failed: %v", err)
	}
	if !strings.Contains(out, "period 2026-09: created 2, skipped 0") || !strings.Contains(out, "INV-202609-0001") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := run(t, "generate-invoices", "--period", "September"); err == nil {
		t.Fatalf("expected a malformed period to fail")
	}
}

func TestCreateSuperAdminCommand(t *testing.T) {
	useMemoryApp(t)

	out, err := run(t, "create-super-admin", "--email", "ops@smartduka.test", "--password", "correct-horse-battery")
	if err != nil {
		t.Fatalf("create-super-admin failed: %v", err)
	}
	if !strings.Contains(out, "created super admin ops@smartduka.test") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := run(t, "create-super-admin", "--email", "ops@smartduka.test", "--password", "short"); err == nil {
		t.Fatalf("expected short password to be refused")
	}
	if _, err := run(t, "create-super-admin"); err == nil {
		t.Fatalf("expected missing --email to fail")
	}
}

func TestJobCommandsOnEmptyBacklog(t *testing.T) {
	useMemoryApp(t)

	out, err := run(t, "sweep-payments")
	if err != nil || !strings.Contains(out, "resolved 0 pending payments") {
		t.Fatalf("sweep-payments: %q %v", out, err)
	}
	out, err = run(t, "mark-overdue")
	if err != nil || !strings.Contains(out, "marked 0 invoices overdue") {
		t.Fatalf("mark-overdue: %q %v", out, err)
	}
	if _, err := run(t, "migrate"); err == nil {
		t.Fatalf("expected migrate to need postgres")
	}
}

func TestPreviousPeriod(t *testing.T) {
	cases := map[string]time.Time{
		"2026-09": time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		"2025-12": time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC),
		// 22:30 UTC on 31 Jan is already 1 Feb in Nairobi
		"2026-01": time.Date(2026, 1, 31, 22, 30, 0, 0, time.UTC),
	}
	for want, now := range cases {
		if got := previousPeriod(now); got != want {
			t.Fatalf("previousPeriod(%s) = %s, want %s", now, got, want)
		}
	}
}
