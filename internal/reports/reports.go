// Package reports runs scheduled report generation off the scheduled_reports
// table. Sweeps are safe to overlap: claiming a report is a conditional UPDATE
// and exactly one sweep wins it.
package reports

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gacpline/internal/config"
	"gacpline/internal/domain"
	"gacpline/internal/engine"
	"gacpline/internal/repo"
	"gacpline/internal/retry"
)

// Generator produces one report run. Implementations decide where the output
// goes; the driver only tracks scheduling state.
type Generator interface {
	Generate(ctx context.Context, rep domain.ScheduledReport) error
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, rep domain.ScheduledReport) error

func (f GeneratorFunc) Generate(ctx context.Context, rep domain.ScheduledReport) error {
	return f(ctx, rep)
}

// Driver owns the scheduled-report lifecycle: scheduling, the due sweep with
// its generating claim, failure bookkeeping and manual retries.
type Driver struct {
	Repo       repo.Repo
	Config     *config.Config
	Backoff    retry.Policy
	Generators map[string]Generator
	Log        zerolog.Logger
	Now        func() time.Time
}

// New builds a driver with no generators registered. Callers register one
// generator per report type with Register before sweeping.
func New(db *sql.DB, cfg *config.Config, log zerolog.Logger) *Driver {
	return &Driver{
		Repo:       repo.Repo{DB: db},
		Config:     cfg,
		Backoff:    retry.FromConfig(cfg),
		Generators: map[string]Generator{},
		Log:        log,
	}
}

// Register binds a generator to a report type, replacing any previous one.
func (d *Driver) Register(reportType string, g Generator) {
	d.Generators[reportType] = g
}

func (d *Driver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Driver) nowRFC3339() string {
	return d.now().UTC().Format(time.RFC3339)
}

// Schedule creates a pending report. firstRunAt may be empty for "run at the
// next sweep".
func (d *Driver) Schedule(ctx context.Context, reportType, schedule, firstRunAt string) (domain.ScheduledReport, error) {
	switch schedule {
	case domain.ScheduleOnce, domain.ScheduleDaily, domain.ScheduleWeekly, domain.ScheduleMonthly:
	default:
		return domain.ScheduledReport{}, fmt.Errorf("schedule must be once, daily, weekly or monthly, got %q", schedule)
	}
	if reportType == "" {
		return domain.ScheduledReport{}, fmt.Errorf("report type is required")
	}
	now := d.nowRFC3339()
	if firstRunAt == "" {
		firstRunAt = now
	} else if _, err := time.Parse(time.RFC3339, firstRunAt); err != nil {
		return domain.ScheduledReport{}, fmt.Errorf("first_run_at must be RFC3339: %w", err)
	}
	rep := domain.ScheduledReport{
		ID:        uuid.NewString(),
		Type:      reportType,
		Schedule:  schedule,
		NextRunAt: firstRunAt,
		Status:    domain.ReportPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.Repo.InsertReport(ctx, rep); err != nil {
		return domain.ScheduledReport{}, err
	}
	d.Log.Info().Str("report_id", rep.ID).Str("type", rep.Type).Str("schedule", rep.Schedule).
		Str("next_run_at", rep.NextRunAt).Msg("report scheduled")
	return rep, nil
}

// FindDue lists reports whose next run is at or before now and which no sweep
// currently holds.
func (d *Driver) FindDue(ctx context.Context) ([]domain.ScheduledReport, error) {
	return d.Repo.FindDueReports(ctx, d.nowRFC3339())
}

// ProcessDue claims and runs every due report once. Failures are recorded on
// the row and never automatically rescheduled; an operator retries them with
// Retry. Returns the ids actually run, successful or not.
func (d *Driver) ProcessDue(ctx context.Context) ([]string, error) {
	due, err := d.FindDue(ctx)
	if err != nil {
		return nil, err
	}
	var ran []string
	for _, rep := range due {
		claimed, err := d.Repo.ClaimReportGenerating(ctx, rep.ID, d.nowRFC3339())
		if err != nil {
			return ran, err
		}
		if !claimed {
			continue
		}
		ran = append(ran, rep.ID)
		if err := d.runOne(ctx, rep); err != nil {
			return ran, err
		}
	}
	return ran, nil
}

// runOne generates a claimed report, retrying transient generator failures
// within the run under the shared backoff policy.
func (d *Driver) runOne(ctx context.Context, rep domain.ScheduledReport) error {
	gen, ok := d.Generators[rep.Type]
	if !ok {
		reason := fmt.Sprintf("no generator registered for type %s", rep.Type)
		d.Log.Error().Str("report_id", rep.ID).Str("type", rep.Type).Msg(reason)
		return d.Repo.FailReport(ctx, rep.ID, reason, d.nowRFC3339())
	}
	err := d.Backoff.Do(ctx, func() error {
		return gen.Generate(ctx, rep)
	})
	now := d.nowRFC3339()
	if err != nil {
		d.Log.Error().Err(err).Str("report_id", rep.ID).Str("type", rep.Type).Msg("report generation failed")
		if ferr := d.Repo.FailReport(ctx, rep.ID, err.Error(), now); ferr != nil {
			return ferr
		}
		return nil
	}
	status := domain.ReportPending
	nextRun := rep.NextRunAt
	if rep.Schedule == domain.ScheduleOnce {
		status = domain.ReportCompleted
	} else {
		nextRun = NextRun(rep.Schedule, rep.NextRunAt, d.now())
	}
	d.Log.Info().Str("report_id", rep.ID).Str("type", rep.Type).Str("next_run_at", nextRun).Msg("report generated")
	return d.Repo.CompleteReport(ctx, rep.ID, nextRun, status, now)
}

// Retry re-arms a failed report for the next sweep. The retry counter is
// bounded; past the cap the report stays failed for good.
func (d *Driver) Retry(ctx context.Context, id string) (domain.ScheduledReport, error) {
	rep, err := d.Repo.GetReport(ctx, id)
	if err != nil {
		return domain.ScheduledReport{}, err
	}
	if rep.Status != domain.ReportFailed {
		return domain.ScheduledReport{}, fmt.Errorf("report %s is %s; only failed reports can be retried", id, rep.Status)
	}
	if rep.RetryCount >= d.Config.Reports.MaxRetries {
		return domain.ScheduledReport{}, engine.MaxRetriesExceededError{
			Op:  fmt.Sprintf("report %s generation", id),
			Max: d.Config.Reports.MaxRetries,
		}
	}
	now := d.nowRFC3339()
	if _, err := d.Repo.ResetReportForRetry(ctx, id, now, now); err != nil {
		return domain.ScheduledReport{}, err
	}
	d.Log.Info().Str("report_id", id).Int("retry_count", rep.RetryCount).Msg("report re-armed for retry")
	return d.Repo.GetReport(ctx, id)
}

// NextRun advances a recurring schedule from its scheduled time, skipping
// forward until the result is in the future. Anchoring on the scheduled time
// instead of completion time keeps runs from drifting.
func NextRun(schedule, scheduledAt string, now time.Time) string {
	at, err := time.Parse(time.RFC3339, scheduledAt)
	if err != nil {
		at = now
	}
	now = now.UTC()
	for !at.After(now) {
		switch schedule {
		case domain.ScheduleDaily:
			at = at.AddDate(0, 0, 1)
		case domain.ScheduleWeekly:
			at = at.AddDate(0, 0, 7)
		case domain.ScheduleMonthly:
			at = at.AddDate(0, 1, 0)
		default:
			return scheduledAt
		}
	}
	return at.UTC().Format(time.RFC3339)
}
