package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gacpline/internal/domain"
	"gacpline/internal/events"
	"gacpline/internal/repo"
)

// MarkPaid records receipt of a phase fee. It is idempotent: marking an
// already-paid phase again is a no-op success, so duplicate webhook deliveries
// from the payment gateway are harmless. Advancing the workflow past the
// payment gate is a separate Transition call.
func (e Engine) MarkPaid(ctx context.Context, applicationID string, phase int, receiptRef string, actor domain.Actor) (domain.Application, error) {
	if phase != 1 && phase != 2 {
		return domain.Application{}, fmt.Errorf("phase must be 1 or 2, got %d", phase)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	app, err := e.Repo.GetApplicationTx(ctx, tx, applicationID)
	if err != nil {
		return domain.Application{}, err
	}
	p, err := e.Repo.GetPaymentTx(ctx, tx, applicationID, phase)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Application{}, GuardViolationError{
			Guard: GuardPrecondition, From: app.CurrentState,
			Detail: fmt.Sprintf("payment phase %d has not been opened", phase),
		}
	}
	if err != nil {
		return domain.Application{}, err
	}
	if p.Status == domain.PaymentExpired {
		return domain.Application{}, GuardViolationError{
			Guard: GuardPrecondition, From: app.CurrentState,
			Detail: fmt.Sprintf("payment phase %d expired on %s", phase, p.DueAt),
		}
	}
	changed, err := e.Repo.MarkPaymentPaidTx(ctx, tx, applicationID, phase, receiptRef, e.nowRFC3339())
	if err != nil {
		return domain.Application{}, err
	}
	if changed {
		if err := e.Events.Append(ctx, tx, "payment.phase_paid", "application", applicationID, actor.ID, events.EventPayload{
			"phase":       phase,
			"receipt_ref": receiptRef,
		}); err != nil {
			return domain.Application{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return e.GetApplication(ctx, applicationID)
}

// IsPhasePaid is the guard the state machine consults for the payment gates.
func (e Engine) IsPhasePaid(ctx context.Context, applicationID string, phase int) (bool, error) {
	p, err := e.Repo.GetPayment(ctx, applicationID, phase)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status == domain.PaymentPaid, nil
}

var systemActor = domain.Actor{ID: "system", Role: domain.RoleSystem}

// SweepExpiredPayments expires applications whose active payment phase passed
// its deadline unpaid. Each expiry is an ordinary guarded transition with its
// own history entry; nothing is silently deleted. Returns the expired ids.
func (e Engine) SweepExpiredPayments(ctx context.Context) ([]string, error) {
	apps, err := e.Repo.ListApplicationsInStates(ctx, domain.StatePaymentPending1, domain.StatePaymentPending2)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	var expired []string
	for _, app := range apps {
		phase := 1
		if app.CurrentState == domain.StatePaymentPending2 {
			phase = 2
		}
		p, err := e.Repo.GetPayment(ctx, app.ID, phase)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return expired, err
		}
		if p.Status != domain.PaymentPending {
			continue
		}
		due, err := time.Parse(time.RFC3339, p.DueAt)
		if err != nil || now.Before(due) {
			continue
		}
		if _, err := e.Transition(ctx, TransitionOptions{
			ApplicationID: app.ID,
			Target:        domain.StateExpired,
			Actor:         systemActor,
			Reason:        fmt.Sprintf("phase %d payment deadline passed", phase),
		}); err != nil {
			return expired, err
		}
		expired = append(expired, app.ID)
	}
	return expired, nil
}

// SweepExpiredCertificates expires certificates past their configured
// validity period.
func (e Engine) SweepExpiredCertificates(ctx context.Context) ([]string, error) {
	apps, err := e.Repo.ListApplicationsInStates(ctx, domain.StateCertified)
	if err != nil {
		return nil, err
	}
	validity := time.Duration(e.Config.Workflow.CertificateValidityDays) * 24 * time.Hour
	now := e.now().UTC()
	var expired []string
	for _, app := range apps {
		if app.CertifiedAt == nil {
			continue
		}
		certAt, err := time.Parse(time.RFC3339, *app.CertifiedAt)
		if err != nil || now.Before(certAt.Add(validity)) {
			continue
		}
		if _, err := e.Transition(ctx, TransitionOptions{
			ApplicationID: app.ID,
			Target:        domain.StateExpired,
			Actor:         systemActor,
			Reason:        "certificate validity period ended",
		}); err != nil {
			return expired, err
		}
		expired = append(expired, app.ID)
	}
	return expired, nil
}
