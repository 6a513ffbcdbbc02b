package repo

import (
	"context"
	"database/sql"

	"gacpline/internal/domain"
)

func scanPayment(scan func(dest ...any) error) (domain.PaymentPhase, error) {
	var p domain.PaymentPhase
	var receipt, paidAt sql.NullString
	err := scan(&p.ApplicationID, &p.Phase, &p.AmountTHB, &p.Status, &receipt, &p.DueAt, &paidAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if receipt.Valid {
		p.ReceiptRef = receipt.String
	}
	if paidAt.Valid {
		p.PaidAt = &paidAt.String
	}
	return p, nil
}

func (r Repo) InsertPaymentTx(ctx context.Context, tx *sql.Tx, p domain.PaymentPhase) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO application_payments(application_id, phase, amount_thb, status, receipt_ref, due_at, paid_at)
VALUES (?,?,?,?,?,?,?)`,
		p.ApplicationID, p.Phase, p.AmountTHB, p.Status, nullable(p.ReceiptRef), p.DueAt, nullableStringPtr(p.PaidAt))
	return err
}

func (r Repo) GetPayment(ctx context.Context, applicationID string, phase int) (domain.PaymentPhase, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT application_id, phase, amount_thb, status, receipt_ref, due_at, paid_at
FROM application_payments WHERE application_id=? AND phase=?`, applicationID, phase)
	return scanPayment(row.Scan)
}

func (r Repo) GetPaymentTx(ctx context.Context, tx *sql.Tx, applicationID string, phase int) (domain.PaymentPhase, error) {
	row := tx.QueryRowContext(ctx, `SELECT application_id, phase, amount_thb, status, receipt_ref, due_at, paid_at
FROM application_payments WHERE application_id=? AND phase=?`, applicationID, phase)
	return scanPayment(row.Scan)
}

func (r Repo) ListPayments(ctx context.Context, applicationID string) ([]domain.PaymentPhase, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT application_id, phase, amount_thb, status, receipt_ref, due_at, paid_at
FROM application_payments WHERE application_id=? ORDER BY phase ASC`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PaymentPhase
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// MarkPaymentPaidTx records payment of a phase. The WHERE clause keeps it
// idempotent: an already-paid phase is left untouched and zero rows change.
func (r Repo) MarkPaymentPaidTx(ctx context.Context, tx *sql.Tx, applicationID string, phase int, receiptRef, paidAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE application_payments SET status=?, receipt_ref=?, paid_at=?
WHERE application_id=? AND phase=? AND status=?`,
		domain.PaymentPaid, nullable(receiptRef), paidAt, applicationID, phase, domain.PaymentPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) ExpirePaymentTx(ctx context.Context, tx *sql.Tx, applicationID string, phase int) error {
	_, err := tx.ExecContext(ctx, `UPDATE application_payments SET status=?
WHERE application_id=? AND phase=? AND status=?`,
		domain.PaymentExpired, applicationID, phase, domain.PaymentPending)
	return err
}
