package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"gacpline/internal/domain"
	"gacpline/internal/events"
	"gacpline/internal/scoring"
)

// InspectionOptions are parameters for recording a CCP assessment.
type InspectionOptions struct {
	ApplicationID string
	Actor         domain.Actor
	Mode          string
	CCPScores     map[string]int
	ConductedAt   string
}

// RecordInspection stores one CCP-based assessment. The total and pass flag
// are derived here from the raw scores and never accepted from the caller.
// The application stays in inspection_scheduled until the inspector drives
// the inspection_completed transition, whose guard requires this record.
func (e Engine) RecordInspection(ctx context.Context, opts InspectionOptions) (domain.InspectionRecord, error) {
	if opts.Actor.Role != domain.RoleInspector && opts.Actor.Role != domain.RoleAdmin {
		return domain.InspectionRecord{}, GuardViolationError{
			Guard:  GuardRole,
			Detail: fmt.Sprintf("role %s cannot record inspections", opts.Actor.Role),
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InspectionRecord{}, err
	}
	defer tx.Rollback()

	app, err := e.Repo.GetApplicationTx(ctx, tx, opts.ApplicationID)
	if err != nil {
		return domain.InspectionRecord{}, err
	}
	if app.CurrentState != domain.StateInspectionScheduled {
		return domain.InspectionRecord{}, GuardViolationError{
			Guard: GuardState, From: app.CurrentState,
			Detail: "inspections can only be recorded while one is scheduled",
		}
	}
	result, err := e.CCP.Compute(opts.CCPScores)
	if err != nil {
		return domain.InspectionRecord{}, err
	}
	now := e.nowRFC3339()
	mode := opts.Mode
	if mode == "" {
		mode = app.ReviewMode
	}
	conductedAt := opts.ConductedAt
	if conductedAt == "" {
		conductedAt = now
	}
	rec := domain.InspectionRecord{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		InspectorID:   opts.Actor.ID,
		Mode:          mode,
		CCPScores:     opts.CCPScores,
		TotalScore:    result.Total,
		Passed:        result.Passed,
		ConductedAt:   conductedAt,
		CreatedAt:     now,
	}
	if err := e.Repo.CreateInspectionTx(ctx, tx, rec); err != nil {
		return domain.InspectionRecord{}, err
	}
	if err := e.Events.Append(ctx, tx, "inspection.recorded", "inspection", rec.ID, opts.Actor.ID, events.EventPayload{
		"application_id": app.ID,
		"total_score":    rec.TotalScore,
		"passed":         rec.Passed,
	}); err != nil {
		return domain.InspectionRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InspectionRecord{}, err
	}
	return rec, nil
}

// QAOptions are parameters for recording a sampled verification pass.
type QAOptions struct {
	ApplicationID   string
	Actor           domain.Actor
	ChecklistScores map[string]int
	IssuesFound     []string
	Outcome         string
}

// RecordQA stores a second-pass verification for a sampled application. A new
// record supersedes the previous one; records are never edited in place.
func (e Engine) RecordQA(ctx context.Context, opts QAOptions) (domain.QAVerification, error) {
	if opts.Actor.Role != domain.RoleApprover && opts.Actor.Role != domain.RoleAdmin {
		return domain.QAVerification{}, GuardViolationError{
			Guard:  GuardRole,
			Detail: fmt.Sprintf("role %s cannot record QA verifications", opts.Actor.Role),
		}
	}
	switch opts.Outcome {
	case domain.QAApproved, domain.QANeedsCorrection, domain.QARejected:
	default:
		return domain.QAVerification{}, fmt.Errorf("outcome must be approved, needs_correction or rejected")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QAVerification{}, err
	}
	defer tx.Rollback()

	app, err := e.Repo.GetApplicationTx(ctx, tx, opts.ApplicationID)
	if err != nil {
		return domain.QAVerification{}, err
	}
	if app.CurrentState != domain.StateQASamplingPending {
		return domain.QAVerification{}, GuardViolationError{
			Guard: GuardState, From: app.CurrentState,
			Detail: "QA verifications can only be recorded for sampled applications",
		}
	}
	score, err := scoring.ComputeQAScore(opts.ChecklistScores)
	if err != nil {
		return domain.QAVerification{}, err
	}
	now := e.nowRFC3339()
	qa := domain.QAVerification{
		ID:                  uuid.NewString(),
		ApplicationID:       app.ID,
		VerifierID:          opts.Actor.ID,
		RiskLevelAtSampling: app.RiskTier,
		ChecklistScores:     opts.ChecklistScores,
		QAScore:             score,
		IssuesFound:         opts.IssuesFound,
		Outcome:             opts.Outcome,
		VerifiedAt:          now,
		CreatedAt:           now,
	}
	if err := e.Repo.CreateQATx(ctx, tx, qa); err != nil {
		return domain.QAVerification{}, err
	}
	if err := e.Events.Append(ctx, tx, "qa.recorded", "qa_verification", qa.ID, opts.Actor.ID, events.EventPayload{
		"application_id": app.ID,
		"qa_score":       qa.QAScore,
		"outcome":        qa.Outcome,
	}); err != nil {
		return domain.QAVerification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QAVerification{}, err
	}
	return qa, nil
}
