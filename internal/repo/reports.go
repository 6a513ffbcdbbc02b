package repo

import (
	"context"
	"database/sql"

	"gacpline/internal/domain"
)

const reportColumns = `id, type, schedule, next_run_at, status, retry_count, COALESCE(last_error,''), last_run_at, created_at, updated_at`

func scanReport(scan func(dest ...any) error) (domain.ScheduledReport, error) {
	var rep domain.ScheduledReport
	var lastRunAt sql.NullString
	err := scan(&rep.ID, &rep.Type, &rep.Schedule, &rep.NextRunAt, &rep.Status, &rep.RetryCount, &rep.LastError, &lastRunAt, &rep.CreatedAt, &rep.UpdatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	if lastRunAt.Valid {
		rep.LastRunAt = &lastRunAt.String
	}
	return rep, nil
}

func (r Repo) InsertReport(ctx context.Context, rep domain.ScheduledReport) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO scheduled_reports(id, type, schedule, next_run_at, status, retry_count, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		rep.ID, rep.Type, rep.Schedule, rep.NextRunAt, rep.Status, rep.RetryCount, rep.CreatedAt, rep.UpdatedAt)
	return err
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.ScheduledReport, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM scheduled_reports WHERE id=?`, id)
	return scanReport(row.Scan)
}

func (r Repo) ListReports(ctx context.Context, status string) ([]domain.ScheduledReport, error) {
	query := `SELECT ` + reportColumns + ` FROM scheduled_reports`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY next_run_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduledReport
	for rows.Next() {
		rep, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// FindDueReports returns pending reports whose next run is at or before now.
// Failed reports are never due again on their own; an operator re-arms them.
func (r Repo) FindDueReports(ctx context.Context, now string) ([]domain.ScheduledReport, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM scheduled_reports
WHERE next_run_at <= ? AND status = ? ORDER BY next_run_at ASC, id ASC`, now, domain.ReportPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduledReport
	for rows.Next() {
		rep, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// ClaimReportGenerating flips a pending report to generating only if no other
// sweep got there first. The conditional UPDATE is the mutual-exclusion flag:
// overlapping sweeps race on it and exactly one wins. A report that is already
// completed or failed cannot be claimed, so a sweep holding a stale due list
// never re-runs or revives it.
func (r Repo) ClaimReportGenerating(ctx context.Context, id, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE scheduled_reports SET status=?, updated_at=?
WHERE id=? AND status = ?`, domain.ReportGenerating, now, id, domain.ReportPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) CompleteReport(ctx context.Context, id, nextRunAt, status, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE scheduled_reports SET status=?, next_run_at=?, last_error=NULL, last_run_at=?, updated_at=?
WHERE id=?`, status, nextRunAt, now, now, id)
	return err
}

// FailReport records a failed generation: the failure reason is retained and
// the retry counter advances. The report stays failed until an operator
// retries it explicitly.
func (r Repo) FailReport(ctx context.Context, id, reason, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE scheduled_reports SET status=?, last_error=?, retry_count=retry_count+1, last_run_at=?, updated_at=?
WHERE id=?`, domain.ReportFailed, reason, now, now, id)
	return err
}

// ResetReportForRetry re-arms a failed report for the next sweep.
func (r Repo) ResetReportForRetry(ctx context.Context, id, nextRunAt, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE scheduled_reports SET status=?, next_run_at=?, updated_at=?
WHERE id=? AND status=?`, domain.ReportPending, nextRunAt, now, id, domain.ReportFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
