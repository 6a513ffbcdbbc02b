package reports_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gacpline/internal/config"
	"gacpline/internal/db"
	"gacpline/internal/domain"
	"gacpline/internal/engine"
	"gacpline/internal/migrate"
	"gacpline/internal/reports"
	"gacpline/internal/retry"
)

type testEnv struct {
	Driver *reports.Driver
	Ctx    context.Context
	Dir    string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	d := reports.New(conn, config.Default(), zerolog.Nop())
	d.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	d.Backoff = retry.Policy{Base: time.Microsecond, Cap: time.Microsecond, MaxAttempts: 2}
	return testEnv{Driver: d, Ctx: context.Background(), Dir: dir}
}

func TestScheduleValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Driver.Schedule(env.Ctx, reports.TypeStateSummary, "hourly", ""); err == nil {
		t.Fatalf("expected unknown schedule to fail")
	}
	if _, err := env.Driver.Schedule(env.Ctx, reports.TypeStateSummary, domain.ScheduleOnce, "yesterday"); err == nil {
		t.Fatalf("expected malformed first_run_at to fail")
	}
	if _, err := env.Driver.Schedule(env.Ctx, "", domain.ScheduleOnce, ""); err == nil {
		t.Fatalf("expected empty type to fail")
	}

	rep, err := env.Driver.Schedule(env.Ctx, reports.TypeStateSummary, domain.ScheduleOnce, "")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if rep.Status != domain.ReportPending || rep.NextRunAt != "2025-03-01T12:00:00Z" {
		t.Fatalf("scheduled report: %+v", rep)
	}
}

func TestProcessDueRunsOnceReportToCompletion(t *testing.T) {
	env := newTestEnv(t)
	outDir := filepath.Join(env.Dir, "reports")
	env.Driver.Register(reports.TypeStateSummary, reports.StateSummaryGenerator{
		Repo: env.Driver.Repo,
		Dir:  outDir,
	})
	rep, err := env.Driver.Schedule(env.Ctx, reports.TypeStateSummary, domain.ScheduleOnce, "")
	if err != nil {
		t.Fatal(err)
	}

	ran, err := env.Driver.ProcessDue(env.Ctx)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if len(ran) != 1 || ran[0] != rep.ID {
		t.Fatalf("ran = %v", ran)
	}

	done, err := env.Driver.Repo.GetReport(env.Ctx, rep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.ReportCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
	if done.LastRunAt == nil {
		t.Fatalf("last_run_at not set")
	}
	if _, err := os.Stat(filepath.Join(outDir, reports.TypeStateSummary+"-"+rep.ID+".json")); err != nil {
		t.Fatalf("report file missing: %v", err)
	}

	// Completed once-reports never come due again.
	if due, err := env.Driver.FindDue(env.Ctx); err != nil || len(due) != 0 {
		t.Fatalf("due = %v, err = %v", due, err)
	}
}

func TestRecurringReportAdvancesNextRun(t *testing.T) {
	env := newTestEnv(t)
	env.Driver.Register(reports.TypeCertifications, reports.CertificationsGenerator{
		Repo: env.Driver.Repo,
		Dir:  filepath.Join(env.Dir, "reports"),
	})
	rep, err := env.Driver.Schedule(env.Ctx, reports.TypeCertifications, domain.ScheduleDaily, "2025-02-27T06:00:00Z")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Driver.ProcessDue(env.Ctx); err != nil {
		t.Fatal(err)
	}
	done, err := env.Driver.Repo.GetReport(env.Ctx, rep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != domain.ReportPending {
		t.Fatalf("status = %s, want pending for recurring report", done.Status)
	}
	// Anchored on the scheduled time, skipped forward past now.
	if done.NextRunAt != "2025-03-02T06:00:00Z" {
		t.Fatalf("next_run_at = %s", done.NextRunAt)
	}
}

func TestNextRunAnchorsOnScheduleTime(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		schedule    string
		scheduledAt string
		want        string
	}{
		{domain.ScheduleDaily, "2025-02-27T06:00:00Z", "2025-03-02T06:00:00Z"},
		{domain.ScheduleWeekly, "2025-02-10T06:00:00Z", "2025-03-03T06:00:00Z"},
		{domain.ScheduleMonthly, "2025-01-15T06:00:00Z", "2025-03-15T06:00:00Z"},
		{domain.ScheduleOnce, "2025-02-27T06:00:00Z", "2025-02-27T06:00:00Z"},
	}
	for _, tc := range cases {
		if got := reports.NextRun(tc.schedule, tc.scheduledAt, now); got != tc.want {
			t.Errorf("NextRun(%s, %s) = %s, want %s", tc.schedule, tc.scheduledAt, got, tc.want)
		}
	}
}

func TestGenerationFailureIsRecordedNotRescheduled(t *testing.T) {
	env := newTestEnv(t)
	env.Driver.Register(reports.TypeStateSummary, reports.GeneratorFunc(func(ctx context.Context, rep domain.ScheduledReport) error {
		return errors.New("disk full")
	}))
	rep, err := env.Driver.Schedule(env.Ctx, reports.TypeStateSummary, domain.ScheduleDaily, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Driver.ProcessDue(env.Ctx); err != nil {
		t.Fatalf("process due must not propagate generation failures: %v", err)
	}
	failed, err := env.Driver.Repo.GetReport(env.Ctx, rep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != domain.ReportFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	if failed.LastError == "" {
		t.Fatalf("failure reason not recorded")
	}
	if failed.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", failed.RetryCount)
	}

	// Failed reports are not due again on their own.
	if due, err := env.Driver.FindDue(env.Ctx); err != nil || len(due) != 0 {
		t.Fatalf("failed report came due automatically: %v, err = %v", due, err)
	}
}

func TestMissingGeneratorFailsReport(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Driver.Schedule(env.Ctx, "unknown_type", domain.ScheduleOnce, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Driver.ProcessDue(env.Ctx); err != nil {
		t.Fatal(err)
	}
	failed, _ := env.Driver.Repo.GetReport(env.Ctx, rep.ID)
	if failed.Status != domain.ReportFailed || failed.LastError == "" {
		t.Fatalf("report without generator: %+v", failed)
	}
}

func TestClaimIsMutuallyExclusive(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Driver.Schedule(env.Ctx, reports.TypeStateSummary, domain.ScheduleOnce, "")
	if err != nil {
		t.Fatal(err)
	}
	now := "2025-03-01T12:00:00Z"
	first, err := env.Driver.Repo.ClaimReportGenerating(env.Ctx, rep.ID, now)
	if err != nil || !first {
		t.Fatalf("first claim: %v %v", first, err)
	}
	second, err := env.Driver.Repo.ClaimReportGenerating(env.Ctx, rep.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if second {
		t.Fatalf("second claim must lose")
	}
}

func TestClaimRefusesSettledReports(t *testing.T) {
	env := newTestEnv(t)
	now := "2025-03-01T12:00:00Z"

	done, err := env.Driver.Schedule(env.Ctx, reports.TypeStateSummary, domain.ScheduleOnce, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Driver.Repo.CompleteReport(env.Ctx, done.ID, "2099-01-01T00:00:00Z", domain.ReportCompleted, now); err != nil {
		t.Fatal(err)
	}
	// A sweep holding a stale due list must not re-run a completed report.
	if claimed, err := env.Driver.Repo.ClaimReportGenerating(env.Ctx, done.ID, now); err != nil || claimed {
		t.Fatalf("completed report claimed = %v, err = %v", claimed, err)
	}

	failed, err := env.Driver.Schedule(env.Ctx, reports.TypeStateSummary, domain.ScheduleOnce, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Driver.Repo.FailReport(env.Ctx, failed.ID, "disk full", now); err != nil {
		t.Fatal(err)
	}
	// Failed reports stay failed until an operator re-arms them.
	if claimed, err := env.Driver.Repo.ClaimReportGenerating(env.Ctx, failed.ID, now); err != nil || claimed {
		t.Fatalf("failed report claimed = %v, err = %v", claimed, err)
	}
}

func TestManualRetryReArmsUntilCap(t *testing.T) {
	env := newTestEnv(t)
	env.Driver.Config.Reports.MaxRetries = 2
	env.Driver.Register(reports.TypeStateSummary, reports.GeneratorFunc(func(ctx context.Context, rep domain.ScheduledReport) error {
		return errors.New("broken generator")
	}))
	rep, err := env.Driver.Schedule(env.Ctx, reports.TypeStateSummary, domain.ScheduleOnce, "")
	if err != nil {
		t.Fatal(err)
	}

	// Only failed reports can be retried.
	if _, err := env.Driver.Retry(env.Ctx, rep.ID); err == nil {
		t.Fatalf("expected retry of pending report to fail")
	}

	// First failure leaves one retry budget; the second exhausts it.
	if _, err := env.Driver.ProcessDue(env.Ctx); err != nil {
		t.Fatal(err)
	}
	rearmed, err := env.Driver.Retry(env.Ctx, rep.ID)
	if err != nil {
		t.Fatalf("retry after first failure: %v", err)
	}
	if rearmed.Status != domain.ReportPending {
		t.Fatalf("re-armed status = %s", rearmed.Status)
	}

	if _, err := env.Driver.ProcessDue(env.Ctx); err != nil {
		t.Fatal(err)
	}
	_, err = env.Driver.Retry(env.Ctx, rep.ID)
	var capErr engine.MaxRetriesExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected max retries exceeded, got %v", err)
	}
}
