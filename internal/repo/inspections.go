package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"gacpline/internal/domain"
)

func (r Repo) CreateInspectionTx(ctx context.Context, tx *sql.Tx, rec domain.InspectionRecord) error {
	scores, err := json.Marshal(rec.CCPScores)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO inspections(id, application_id, inspector_id, mode, ccp_scores_json, total_score, passed, conducted_at, created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.ApplicationID, rec.InspectorID, rec.Mode, string(scores), rec.TotalScore, boolToInt(rec.Passed), rec.ConductedAt, rec.CreatedAt)
	return err
}

func scanInspection(scan func(dest ...any) error) (domain.InspectionRecord, error) {
	var rec domain.InspectionRecord
	var scoresJSON string
	var passed int
	err := scan(&rec.ID, &rec.ApplicationID, &rec.InspectorID, &rec.Mode, &scoresJSON, &rec.TotalScore, &passed, &rec.ConductedAt, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Passed = passed != 0
	if err := json.Unmarshal([]byte(scoresJSON), &rec.CCPScores); err != nil {
		return rec, err
	}
	return rec, nil
}

const inspectionColumns = `id, application_id, inspector_id, mode, ccp_scores_json, total_score, passed, conducted_at, created_at`

func (r Repo) GetInspection(ctx context.Context, id string) (domain.InspectionRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id=?`, id)
	return scanInspection(row.Scan)
}

func (r Repo) GetInspectionTx(ctx context.Context, tx *sql.Tx, id string) (domain.InspectionRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id=?`, id)
	return scanInspection(row.Scan)
}

// LatestInspectionTx returns the most recent inspection for an application.
func (r Repo) LatestInspectionTx(ctx context.Context, tx *sql.Tx, applicationID string) (domain.InspectionRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE application_id=?
ORDER BY created_at DESC, id DESC LIMIT 1`, applicationID)
	return scanInspection(row.Scan)
}

func (r Repo) ListInspections(ctx context.Context, applicationID string) ([]domain.InspectionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE application_id=?
ORDER BY created_at ASC, id ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InspectionRecord
	for rows.Next() {
		rec, err := scanInspection(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
