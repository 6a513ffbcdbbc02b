package repo

import (
	"context"
	"database/sql"

	"gacpline/internal/domain"
)

const enrollmentColumns = `id, farmer_id, course_id, module_completion, assessment_score, participation_score,
assessment_attempts, final_score, certificate_earned, status, created_at, updated_at, completed_at`

func scanEnrollment(scan func(dest ...any) error) (domain.Enrollment, error) {
	var e domain.Enrollment
	var finalScore sql.NullInt64
	var certEarned int
	var completedAt sql.NullString
	err := scan(&e.ID, &e.FarmerID, &e.CourseID, &e.ModuleCompletion, &e.AssessmentScore, &e.ParticipationScore,
		&e.AssessmentAttempts, &finalScore, &certEarned, &e.Status, &e.CreatedAt, &e.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if finalScore.Valid {
		v := int(finalScore.Int64)
		e.FinalScore = &v
	}
	e.CertificateEarned = certEarned != 0
	if completedAt.Valid {
		e.CompletedAt = &completedAt.String
	}
	return e, nil
}

func (r Repo) InsertEnrollmentTx(ctx context.Context, tx *sql.Tx, e domain.Enrollment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO enrollments(id, farmer_id, course_id, module_completion, assessment_score, participation_score, assessment_attempts, status, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.FarmerID, e.CourseID, e.ModuleCompletion, e.AssessmentScore, e.ParticipationScore, e.AssessmentAttempts, e.Status, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateEnrollmentTx(ctx context.Context, tx *sql.Tx, e domain.Enrollment) error {
	var finalScore any
	if e.FinalScore != nil {
		finalScore = *e.FinalScore
	}
	res, err := tx.ExecContext(ctx, `UPDATE enrollments SET module_completion=?, assessment_score=?, participation_score=?,
assessment_attempts=?, final_score=?, certificate_earned=?, status=?, updated_at=?, completed_at=? WHERE id=?`,
		e.ModuleCompletion, e.AssessmentScore, e.ParticipationScore,
		e.AssessmentAttempts, finalScore, boolToInt(e.CertificateEarned), e.Status, e.UpdatedAt, nullableStringPtr(e.CompletedAt), e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetEnrollment(ctx context.Context, id string) (domain.Enrollment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id=?`, id)
	return scanEnrollment(row.Scan)
}

func (r Repo) GetEnrollmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Enrollment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id=?`, id)
	return scanEnrollment(row.Scan)
}

func (r Repo) GetEnrollmentByCourse(ctx context.Context, farmerID, courseID string) (domain.Enrollment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE farmer_id=? AND course_id=?`, farmerID, courseID)
	return scanEnrollment(row.Scan)
}

func (r Repo) ListEnrollments(ctx context.Context, farmerID string) ([]domain.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments`
	var args []any
	if farmerID != "" {
		query += ` WHERE farmer_id=?`
		args = append(args, farmerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
