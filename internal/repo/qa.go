package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"gacpline/internal/domain"
)

const qaColumns = `id, application_id, verifier_id, risk_level_at_sampling, checklist_scores_json, qa_score, issues_json, outcome, superseded, verified_at, created_at`

// CreateQATx inserts a verification and marks any previous record for the same
// application superseded. Records are never mutated in place; the latest
// non-superseded row is the active one.
func (r Repo) CreateQATx(ctx context.Context, tx *sql.Tx, v domain.QAVerification) error {
	checklist, err := json.Marshal(v.ChecklistScores)
	if err != nil {
		return err
	}
	issues, err := json.Marshal(v.IssuesFound)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE qa_verifications SET superseded=1 WHERE application_id=? AND superseded=0`, v.ApplicationID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO qa_verifications(id, application_id, verifier_id, risk_level_at_sampling, checklist_scores_json, qa_score, issues_json, outcome, superseded, verified_at, created_at)
VALUES (?,?,?,?,?,?,?,?,0,?,?)`,
		v.ID, v.ApplicationID, v.VerifierID, v.RiskLevelAtSampling, string(checklist), v.QAScore, string(issues), v.Outcome, v.VerifiedAt, v.CreatedAt)
	return err
}

func scanQA(scan func(dest ...any) error) (domain.QAVerification, error) {
	var v domain.QAVerification
	var checklistJSON, issuesJSON string
	var superseded int
	err := scan(&v.ID, &v.ApplicationID, &v.VerifierID, &v.RiskLevelAtSampling, &checklistJSON, &v.QAScore, &issuesJSON, &v.Outcome, &superseded, &v.VerifiedAt, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Superseded = superseded != 0
	if err := json.Unmarshal([]byte(checklistJSON), &v.ChecklistScores); err != nil {
		return v, err
	}
	if issuesJSON != "" {
		if err := json.Unmarshal([]byte(issuesJSON), &v.IssuesFound); err != nil {
			return v, err
		}
	}
	return v, nil
}

func (r Repo) GetQA(ctx context.Context, id string) (domain.QAVerification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+qaColumns+` FROM qa_verifications WHERE id=?`, id)
	return scanQA(row.Scan)
}

// ActiveQATx returns the non-superseded verification for an application.
func (r Repo) ActiveQATx(ctx context.Context, tx *sql.Tx, applicationID string) (domain.QAVerification, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+qaColumns+` FROM qa_verifications WHERE application_id=? AND superseded=0
ORDER BY created_at DESC, id DESC LIMIT 1`, applicationID)
	return scanQA(row.Scan)
}

func (r Repo) ListQA(ctx context.Context, applicationID string) ([]domain.QAVerification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+qaColumns+` FROM qa_verifications WHERE application_id=?
ORDER BY created_at ASC, id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QAVerification
	for rows.Next() {
		v, err := scanQA(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
