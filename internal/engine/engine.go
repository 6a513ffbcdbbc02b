// Package engine is the authoritative certification workflow: every state
// change flows through Transition, which checks the caller's role, the static
// transition graph and the phase preconditions before committing the new
// state, its history entry and a domain event in one transaction.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gacpline/internal/config"
	"gacpline/internal/domain"
	"gacpline/internal/events"
	"gacpline/internal/policy"
	"gacpline/internal/repo"
	"gacpline/internal/retry"
	"gacpline/internal/scoring"
)

// conflictRetries bounds the internal reload-and-retry on optimistic-lock
// conflicts before ConcurrencyConflictError surfaces to the caller.
const conflictRetries = 3

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Rules  policy.Rules
	CCP    scoring.CCPPolicy
	Retry  retry.Policy
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Rules:  policy.FromConfig(cfg),
		CCP:    scoring.CCPPolicyFromConfig(cfg),
		Retry:  retry.FromConfig(cfg),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// SubmitOptions are parameters for creating an application.
type SubmitOptions struct {
	ID              string
	ApplicantID     string
	FarmName        string
	CropType        string
	FarmAreaRai     float64
	PriorViolations int
	ReviewMode      string
	Actor           domain.Actor
}

// SubmitApplication creates an application in the submitted state.
func (e Engine) SubmitApplication(ctx context.Context, opts SubmitOptions) (domain.Application, error) {
	if opts.ApplicantID == "" {
		return domain.Application{}, errors.New("applicant_id is required")
	}
	if opts.CropType == "" {
		return domain.Application{}, errors.New("crop_type is required")
	}
	if opts.Actor.Role != domain.RoleFarmer && opts.Actor.Role != domain.RoleAdmin {
		return domain.Application{}, GuardViolationError{
			Guard: GuardRole, From: "", To: domain.StateSubmitted,
			Detail: fmt.Sprintf("role %s cannot submit applications", opts.Actor.Role),
		}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.ReviewMode == "" {
		opts.ReviewMode = "onsite"
	}
	if opts.ReviewMode != "onsite" && opts.ReviewMode != "video" {
		return domain.Application{}, fmt.Errorf("review_mode must be onsite or video")
	}
	now := e.nowRFC3339()
	app := domain.Application{
		ID:              opts.ID,
		ApplicantID:     opts.ApplicantID,
		FarmName:        opts.FarmName,
		CropType:        opts.CropType,
		FarmAreaRai:     opts.FarmAreaRai,
		PriorViolations: opts.PriorViolations,
		ReviewMode:      opts.ReviewMode,
		CurrentState:    domain.StateSubmitted,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertApplicationTx(ctx, tx, app); err != nil {
		return domain.Application{}, fmt.Errorf("insert application: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "application.submitted", "application", app.ID, opts.Actor.ID, events.EventPayload{
		"crop_type": app.CropType,
	}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return app, nil
}

// TransitionOptions carry the target state and whatever evidence the edge's
// precondition needs.
type TransitionOptions struct {
	ApplicationID string
	Target        string
	Actor         domain.Actor
	Reason        string
	ReceiptRef    string
	InspectionID  string
	QAID          string
	ReviewMode    string
}

// Transition moves an application along one edge of the state graph. Guards
// run in a fixed short-circuit order: edge validity, actor role, edge
// precondition, re-inspection cap. On success the new state, a history entry
// and one domain event commit atomically; on any guard failure nothing is
// written. Optimistic-lock conflicts are retried a bounded number of times
// before surfacing as ConcurrencyConflictError.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Application, error) {
	var app domain.Application
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.Retry.Delay(attempt - 1)):
			case <-ctx.Done():
				return domain.Application{}, ctx.Err()
			}
		}
		app, err = e.transitionOnce(ctx, opts)
		if !errors.Is(err, repo.ErrVersionConflict) {
			return app, err
		}
	}
	return domain.Application{}, ConcurrencyConflictError{ApplicationID: opts.ApplicationID}
}

func (e Engine) transitionOnce(ctx context.Context, opts TransitionOptions) (domain.Application, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, err
	}
	defer tx.Rollback()

	app, err := e.Repo.GetApplicationTx(ctx, tx, opts.ApplicationID)
	if err != nil {
		return domain.Application{}, err
	}
	from := app.CurrentState

	ed, ok := lookupEdge(from, opts.Target)
	if !ok {
		return domain.Application{}, GuardViolationError{
			Guard: GuardState, From: from, To: opts.Target,
			Detail: "no such transition in the state graph",
		}
	}
	if !ed.allows(opts.Actor.Role) {
		return domain.Application{}, GuardViolationError{
			Guard: GuardRole, From: from, To: opts.Target,
			Detail: fmt.Sprintf("role %s is not authorized", opts.Actor.Role),
		}
	}
	if err := e.checkPrecondition(ctx, tx, app, ed.cond); err != nil {
		return domain.Application{}, err
	}
	if opts.Target == domain.StateReInspectionRequested &&
		app.ReinspectionCount >= e.Config.Workflow.MaxReinspections {
		// The cap is terminal: record the forced rejection, then report it.
		if err := e.forceReject(ctx, tx, app, opts.Actor); err != nil {
			return domain.Application{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Application{}, err
		}
		return domain.Application{}, MaxRetriesExceededError{
			Op:  "re-inspection requests",
			Max: e.Config.Workflow.MaxReinspections,
		}
	}

	now := e.nowRFC3339()
	expectedVersion := app.Version
	app.CurrentState = opts.Target
	app.UpdatedAt = now
	if err := e.applyEntryEffects(ctx, tx, &app, opts, now); err != nil {
		return domain.Application{}, err
	}
	if err := e.Repo.UpdateApplicationTx(ctx, tx, app, expectedVersion); err != nil {
		return domain.Application{}, err
	}
	app.Version = expectedVersion + 1
	if err := e.Repo.AppendHistoryTx(ctx, tx, domain.HistoryEntry{
		ApplicationID: app.ID,
		FromState:     from,
		ToState:       opts.Target,
		ActorID:       opts.Actor.ID,
		ActorRole:     opts.Actor.Role,
		Reason:        opts.Reason,
		At:            now,
	}); err != nil {
		return domain.Application{}, err
	}
	if err := e.Events.Append(ctx, tx, "application.state_changed", "application", app.ID, opts.Actor.ID, events.EventPayload{
		"from": from,
		"to":   opts.Target,
	}); err != nil {
		return domain.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, err
	}
	return app, nil
}

// checkPrecondition evaluates the edge's phase-specific guard.
func (e Engine) checkPrecondition(ctx context.Context, tx *sql.Tx, app domain.Application, cond string) error {
	fail := func(detail string) error {
		return GuardViolationError{Guard: GuardPrecondition, From: app.CurrentState, Detail: detail}
	}
	switch cond {
	case "":
		return nil
	case condPhase1Paid, condPhase2Paid:
		phase := 1
		if cond == condPhase2Paid {
			phase = 2
		}
		p, err := e.Repo.GetPaymentTx(ctx, tx, app.ID, phase)
		if errors.Is(err, repo.ErrNotFound) {
			return fail(fmt.Sprintf("payment phase %d has not been opened", phase))
		}
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentPaid {
			return fail(fmt.Sprintf("payment phase %d is %s, not paid", phase, p.Status))
		}
		return nil
	case condInspectionRecorded:
		_, err := e.Repo.LatestInspectionTx(ctx, tx, app.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail("no inspection record has been submitted")
		}
		return err
	case condQARequired, condQANotRequired:
		rec, err := e.Repo.LatestInspectionTx(ctx, tx, app.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail("no inspection record has been submitted")
		}
		if err != nil {
			return err
		}
		if !rec.Passed {
			return fail(fmt.Sprintf("inspection score %.2f did not pass", rec.TotalScore))
		}
		required := e.Rules.RequiresQA(app.RiskTier, e.samplingSeed(app))
		if cond == condQARequired && !required {
			return fail("application was not sampled for QA; proceed to final approval")
		}
		if cond == condQANotRequired && required {
			return fail("application was sampled for QA verification")
		}
		return nil
	case condQARecorded:
		_, err := e.Repo.ActiveQATx(ctx, tx, app.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail("no QA verification has been recorded")
		}
		return err
	case condQAApproved:
		qa, err := e.Repo.ActiveQATx(ctx, tx, app.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return fail("no QA verification has been recorded")
		}
		if err != nil {
			return err
		}
		if qa.Outcome != domain.QAApproved {
			return fail(fmt.Sprintf("QA outcome is %s", qa.Outcome))
		}
		return nil
	default:
		return fmt.Errorf("unknown precondition %q", cond)
	}
}

// samplingSeed identifies the application within the current sampling period,
// so the QA decision is stable for one application in one period.
func (e Engine) samplingSeed(app domain.Application) string {
	return app.ID + ":" + e.now().UTC().Format("2006-01")
}

// applyEntryEffects mutates the application and child rows for states whose
// entry carries bookkeeping.
func (e Engine) applyEntryEffects(ctx context.Context, tx *sql.Tx, app *domain.Application, opts TransitionOptions, now string) error {
	switch opts.Target {
	case domain.StateDocumentReview:
		// The tier is assigned exactly once, at first entry into review.
		if app.RiskTier == "" {
			app.RiskTier = e.Rules.AssignRiskTier(policy.Snapshot{
				CropType:        app.CropType,
				FarmAreaRai:     app.FarmAreaRai,
				PriorViolations: app.PriorViolations,
			})
		}
	case domain.StatePaymentPending1:
		return e.openPaymentPhase(ctx, tx, app.ID, 1, now)
	case domain.StatePaymentPending2:
		return e.openPaymentPhase(ctx, tx, app.ID, 2, now)
	case domain.StateReInspectionRequested:
		app.ReinspectionCount++
	case domain.StateCertified:
		at := now
		app.CertifiedAt = &at
	case domain.StateExpired:
		for _, phase := range []int{1, 2} {
			if err := e.Repo.ExpirePaymentTx(ctx, tx, app.ID, phase); err != nil {
				return err
			}
		}
	}
	if opts.ReviewMode != "" {
		app.ReviewMode = opts.ReviewMode
	}
	return nil
}

// openPaymentPhase creates the phase's fee row with its configured amount and
// deadline. Re-entry (after a re-inspection loop) leaves an existing row alone.
func (e Engine) openPaymentPhase(ctx context.Context, tx *sql.Tx, applicationID string, phase int, now string) error {
	_, err := e.Repo.GetPaymentTx(ctx, tx, applicationID, phase)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	cfg := e.Config.Payments.Phase1
	if phase == 2 {
		cfg = e.Config.Payments.Phase2
	}
	due := e.now().UTC().Add(time.Duration(cfg.DeadlineDays) * 24 * time.Hour).Format(time.RFC3339)
	return e.Repo.InsertPaymentTx(ctx, tx, domain.PaymentPhase{
		ApplicationID: applicationID,
		Phase:         phase,
		AmountTHB:     cfg.AmountTHB,
		Status:        domain.PaymentPending,
		DueAt:         due,
	})
}

// forceReject writes the terminal rejection for an application whose
// re-inspection cap was exceeded.
func (e Engine) forceReject(ctx context.Context, tx *sql.Tx, app domain.Application, actor domain.Actor) error {
	now := e.nowRFC3339()
	from := app.CurrentState
	expectedVersion := app.Version
	app.CurrentState = domain.StateRejected
	app.UpdatedAt = now
	if err := e.Repo.UpdateApplicationTx(ctx, tx, app, expectedVersion); err != nil {
		return err
	}
	if err := e.Repo.AppendHistoryTx(ctx, tx, domain.HistoryEntry{
		ApplicationID: app.ID,
		FromState:     from,
		ToState:       domain.StateRejected,
		ActorID:       "system",
		ActorRole:     domain.RoleSystem,
		Reason:        fmt.Sprintf("re-inspection limit of %d exceeded", e.Config.Workflow.MaxReinspections),
		At:            now,
	}); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "application.state_changed", "application", app.ID, actor.ID, events.EventPayload{
		"from":   from,
		"to":     domain.StateRejected,
		"reason": "max_reinspections_exceeded",
	})
}

// GetApplication loads an application with its payments and history.
func (e Engine) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	app, err := e.Repo.GetApplication(ctx, id)
	if err != nil {
		return domain.Application{}, err
	}
	if app.Payments, err = e.Repo.ListPayments(ctx, id); err != nil {
		return domain.Application{}, err
	}
	if app.History, err = e.Repo.ListHistory(ctx, id); err != nil {
		return domain.Application{}, err
	}
	return app, nil
}
