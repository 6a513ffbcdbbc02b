package repo

import (
	"context"
	"database/sql"
	"errors"

	"gacpline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic-lock write observes a
// stale version. Callers reload and retry.
var ErrVersionConflict = errors.New("version conflict")

const applicationColumns = `id, applicant_id, COALESCE(farm_name,''), crop_type, farm_area_rai, prior_violations,
review_mode, current_state, COALESCE(risk_tier,''), reinspection_count, version, created_at, updated_at, certified_at`

func scanApplication(scan func(dest ...any) error) (domain.Application, error) {
	var a domain.Application
	var certifiedAt sql.NullString
	err := scan(&a.ID, &a.ApplicantID, &a.FarmName, &a.CropType, &a.FarmAreaRai, &a.PriorViolations,
		&a.ReviewMode, &a.CurrentState, &a.RiskTier, &a.ReinspectionCount, &a.Version, &a.CreatedAt, &a.UpdatedAt, &certifiedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if certifiedAt.Valid {
		a.CertifiedAt = &certifiedAt.String
	}
	return a, nil
}

func (r Repo) InsertApplicationTx(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO applications
(id, applicant_id, farm_name, crop_type, farm_area_rai, prior_violations, review_mode, current_state, risk_tier, reinspection_count, version, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ApplicantID, nullable(a.FarmName), a.CropType, a.FarmAreaRai, a.PriorViolations,
		a.ReviewMode, a.CurrentState, nullable(a.RiskTier), a.ReinspectionCount, a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id)
	return scanApplication(row.Scan)
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Application, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id)
	return scanApplication(row.Scan)
}

// UpdateApplicationTx writes the application with an optimistic version check:
// the row is only updated when the stored version still equals expectedVersion,
// and the stored version is bumped in the same statement.
func (r Repo) UpdateApplicationTx(ctx context.Context, tx *sql.Tx, a domain.Application, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET
current_state=?, risk_tier=?, reinspection_count=?, review_mode=?, version=version+1, updated_at=?, certified_at=?
WHERE id=? AND version=?`,
		a.CurrentState, nullable(a.RiskTier), a.ReinspectionCount, a.ReviewMode, a.UpdatedAt, nullableStringPtr(a.CertifiedAt),
		a.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := r.GetApplicationTx(ctx, tx, a.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

type ApplicationFilters struct {
	State       string
	ApplicantID string
	RiskTier    string
	Limit       int
}

func (r Repo) ListApplications(ctx context.Context, f ApplicationFilters) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE 1=1`
	var args []any
	if f.State != "" {
		query += ` AND current_state=?`
		args = append(args, f.State)
	}
	if f.ApplicantID != "" {
		query += ` AND applicant_id=?`
		args = append(args, f.ApplicantID)
	}
	if f.RiskTier != "" {
		query += ` AND risk_tier=?`
		args = append(args, f.RiskTier)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListApplicationsInStates returns applications whose current state is one of
// the given states; used by the expiry sweeps.
func (r Repo) ListApplicationsInStates(ctx context.Context, states ...string) ([]domain.Application, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE current_state IN (?` +
		repeat(",?", len(states)-1) + `) ORDER BY created_at ASC`
	args := make([]any, 0, len(states))
	for _, s := range states {
		args = append(args, s)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func (r Repo) AppendHistoryTx(ctx context.Context, tx *sql.Tx, h domain.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO application_history(application_id, from_state, to_state, actor_id, actor_role, reason, at)
VALUES (?,?,?,?,?,?,?)`,
		h.ApplicationID, h.FromState, h.ToState, h.ActorID, h.ActorRole, nullable(h.Reason), h.At)
	return err
}

func (r Repo) ListHistory(ctx context.Context, applicationID string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT application_id, from_state, to_state, actor_id, actor_role, COALESCE(reason,''), at
FROM application_history WHERE application_id=? ORDER BY id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.ApplicationID, &h.FromState, &h.ToState, &h.ActorID, &h.ActorRole, &h.Reason, &h.At); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
