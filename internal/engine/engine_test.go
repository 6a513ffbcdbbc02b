package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gacpline/internal/config"
	"gacpline/internal/db"
	"gacpline/internal/domain"
	"gacpline/internal/engine"
	"gacpline/internal/migrate"
	"gacpline/internal/repo"
	"gacpline/internal/retry"
)

var (
	farmer    = domain.Actor{ID: "farmer-1", Role: domain.RoleFarmer}
	checker   = domain.Actor{ID: "checker-1", Role: domain.RoleDocumentChecker}
	inspector = domain.Actor{ID: "inspector-1", Role: domain.RoleInspector}
	approver  = domain.Actor{ID: "approver-1", Role: domain.RoleApprover}
)

// passingScores is a full inspection at weighted total 85.60.
var passingScores = map[string]int{
	"seed_quality":       85,
	"soil_management":    78,
	"pest_management":    92,
	"harvesting":         88,
	"post_harvest":       82,
	"storage_packaging":  76,
	"documentation":      94,
	"personnel_training": 89,
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func submit(t *testing.T, env testEnv, cropType string, areaRai float64, violations int) domain.Application {
	t.Helper()
	app, err := env.Engine.SubmitApplication(env.Ctx, engine.SubmitOptions{
		ApplicantID:     farmer.ID,
		FarmName:        "Ban Rai",
		CropType:        cropType,
		FarmAreaRai:     areaRai,
		PriorViolations: violations,
		Actor:           farmer,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return app
}

func advance(t *testing.T, env testEnv, id, target string, actor domain.Actor) domain.Application {
	t.Helper()
	app, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ApplicationID: id,
		Target:        target,
		Actor:         actor,
	})
	if err != nil {
		t.Fatalf("transition to %s: %v", target, err)
	}
	return app
}

func markPaid(t *testing.T, env testEnv, id string, phase int) {
	t.Helper()
	if _, err := env.Engine.MarkPaid(env.Ctx, id, phase, "rcpt", farmer); err != nil {
		t.Fatalf("mark phase %d paid: %v", phase, err)
	}
}

// toInspectionScheduled walks a fresh application through review and both
// payment gates.
func toInspectionScheduled(t *testing.T, env testEnv, app domain.Application) domain.Application {
	t.Helper()
	advance(t, env, app.ID, domain.StateDocumentReview, checker)
	advance(t, env, app.ID, domain.StatePaymentPending1, checker)
	markPaid(t, env, app.ID, 1)
	advance(t, env, app.ID, domain.StateFieldReviewScheduled, checker)
	advance(t, env, app.ID, domain.StatePaymentPending2, checker)
	markPaid(t, env, app.ID, 2)
	return advance(t, env, app.ID, domain.StateInspectionScheduled, inspector)
}

func recordPassingInspection(t *testing.T, env testEnv, id string) domain.InspectionRecord {
	t.Helper()
	rec, err := env.Engine.RecordInspection(env.Ctx, engine.InspectionOptions{
		ApplicationID: id,
		Actor:         inspector,
		CCPScores:     passingScores,
	})
	if err != nil {
		t.Fatalf("record inspection: %v", err)
	}
	return rec
}

func TestSubmitRequiresFarmerOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SubmitApplication(env.Ctx, engine.SubmitOptions{
		ApplicantID: "someone",
		CropType:    "basil",
		Actor:       inspector,
	})
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardRole {
		t.Fatalf("expected role guard violation, got %v", err)
	}
}

func TestDocumentReviewAssignsRiskTierAndHistory(t *testing.T) {
	env := newTestEnv(t)
	app := submit(t, env, "basil", 10, 0)

	moved := advance(t, env, app.ID, domain.StateDocumentReview, checker)
	if moved.CurrentState != domain.StateDocumentReview {
		t.Fatalf("state = %s", moved.CurrentState)
	}
	if moved.RiskTier != domain.RiskLow {
		t.Fatalf("risk tier = %s, want low", moved.RiskTier)
	}
	if moved.Version != app.Version+1 {
		t.Fatalf("version = %d, want %d", moved.Version, app.Version+1)
	}

	history, err := env.Engine.Repo.ListHistory(env.Ctx, app.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	h := history[0]
	if h.FromState != domain.StateSubmitted || h.ToState != domain.StateDocumentReview || h.ActorRole != domain.RoleDocumentChecker {
		t.Fatalf("unexpected history entry: %+v", h)
	}
}

func TestInvalidEdgeLeavesApplicationUntouched(t *testing.T) {
	env := newTestEnv(t)
	app := submit(t, env, "basil", 10, 0)

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ApplicationID: app.ID,
		Target:        domain.StateCertified,
		Actor:         approver,
	})
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardState {
		t.Fatalf("expected state guard violation, got %v", err)
	}

	reloaded, err := env.Engine.Repo.GetApplication(env.Ctx, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.CurrentState != domain.StateSubmitted || reloaded.Version != app.Version {
		t.Fatalf("refused transition mutated the application: %+v", reloaded)
	}
	history, _ := env.Engine.Repo.ListHistory(env.Ctx, app.ID)
	if len(history) != 0 {
		t.Fatalf("refused transition wrote history: %+v", history)
	}
}

func TestRoleGuardRunsBeforePrecondition(t *testing.T) {
	env := newTestEnv(t)
	app := submit(t, env, "basil", 10, 0)
	advance(t, env, app.ID, domain.StateDocumentReview, checker)
	advance(t, env, app.ID, domain.StatePaymentPending1, checker)

	// Phase 1 is unpaid, but the farmer's role is refused first.
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ApplicationID: app.ID,
		Target:        domain.StateFieldReviewScheduled,
		Actor:         farmer,
	})
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardRole {
		t.Fatalf("expected role guard violation, got %v", err)
	}
}

func TestPaymentGateAndIdempotentMarkPaid(t *testing.T) {
	env := newTestEnv(t)
	app := submit(t, env, "basil", 10, 0)
	advance(t, env, app.ID, domain.StateDocumentReview, checker)
	advance(t, env, app.ID, domain.StatePaymentPending1, checker)

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ApplicationID: app.ID,
		Target:        domain.StateFieldReviewScheduled,
		Actor:         checker,
	})
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardPrecondition {
		t.Fatalf("expected precondition violation while unpaid, got %v", err)
	}
	if paid, err := env.Engine.IsPhasePaid(env.Ctx, app.ID, 1); err != nil || paid {
		t.Fatalf("phase 1 paid = %v, %v before payment", paid, err)
	}

	if _, err := env.Engine.MarkPaid(env.Ctx, app.ID, 1, "rcpt-1", farmer); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if paid, err := env.Engine.IsPhasePaid(env.Ctx, app.ID, 1); err != nil || !paid {
		t.Fatalf("phase 1 paid = %v, %v after payment", paid, err)
	}
	// A duplicate gateway delivery must not error or overwrite the receipt.
	if _, err := env.Engine.MarkPaid(env.Ctx, app.ID, 1, "rcpt-2", farmer); err != nil {
		t.Fatalf("duplicate mark paid: %v", err)
	}
	p, err := env.Engine.Repo.GetPayment(env.Ctx, app.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.PaymentPaid || p.ReceiptRef != "rcpt-1" {
		t.Fatalf("payment after duplicate delivery: %+v", p)
	}

	advance(t, env, app.ID, domain.StateFieldReviewScheduled, checker)
}

func TestRecordInspectionComputesWeightedTotal(t *testing.T) {
	env := newTestEnv(t)
	app := submit(t, env, "basil", 10, 0)
	toInspectionScheduled(t, env, app)

	rec := recordPassingInspection(t, env, app.ID)
	if rec.TotalScore != 85.60 {
		t.Fatalf("total = %.2f, want 85.60", rec.TotalScore)
	}
	if !rec.Passed {
		t.Fatalf("expected passing inspection")
	}
	advance(t, env, app.ID, domain.StateInspectionCompleted, inspector)
}

func TestLowRiskSkipsQAWhenNotSampled(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Rules.LowRate = 0
	app := submit(t, env, "basil", 10, 0)
	toInspectionScheduled(t, env, app)
	recordPassingInspection(t, env, app.ID)
	advance(t, env, app.ID, domain.StateInspectionCompleted, inspector)

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ApplicationID: app.ID,
		Target:        domain.StateQASamplingPending,
		Actor:         approver,
	})
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardPrecondition {
		t.Fatalf("expected unsampled application to skip QA, got %v", err)
	}
	advance(t, env, app.ID, domain.StateFinalApprovalPending, approver)
	certified := advance(t, env, app.ID, domain.StateCertified, approver)
	if certified.CertifiedAt == nil {
		t.Fatalf("certified_at not set")
	}
}

func TestHighRiskAlwaysSampledForQA(t *testing.T) {
	env := newTestEnv(t)
	app := submit(t, env, "cannabis", 10, 0)
	moved := toInspectionScheduled(t, env, app)
	if moved.RiskTier != domain.RiskHigh {
		t.Fatalf("risk tier = %s, want high", moved.RiskTier)
	}
	recordPassingInspection(t, env, app.ID)
	advance(t, env, app.ID, domain.StateInspectionCompleted, inspector)

	// The direct route past QA is closed for sampled applications.
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ApplicationID: app.ID,
		Target:        domain.StateFinalApprovalPending,
		Actor:         approver,
	})
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardPrecondition {
		t.Fatalf("expected sampled application to require QA, got %v", err)
	}

	advance(t, env, app.ID, domain.StateQASamplingPending, approver)
	qa, err := env.Engine.RecordQA(env.Ctx, engine.QAOptions{
		ApplicationID: app.ID,
		Actor:         approver,
		ChecklistScores: map[string]int{
			"documents": 90, "photos": 85, "report": 88, "compliance": 92,
		},
		Outcome: domain.QAApproved,
	})
	if err != nil {
		t.Fatalf("record qa: %v", err)
	}
	if qa.RiskLevelAtSampling != domain.RiskHigh {
		t.Fatalf("risk at sampling = %s", qa.RiskLevelAtSampling)
	}
	if qa.QAScore != 89.0 {
		t.Fatalf("qa score = %.2f, want 89.00", qa.QAScore)
	}

	advance(t, env, app.ID, domain.StateQAVerified, approver)
	advance(t, env, app.ID, domain.StateFinalApprovalPending, approver)
	advance(t, env, app.ID, domain.StateCertified, approver)
}

func TestReinspectionCapForcesRejection(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Workflow.MaxReinspections = 1
	app := submit(t, env, "basil", 10, 0)
	toInspectionScheduled(t, env, app)
	recordPassingInspection(t, env, app.ID)
	advance(t, env, app.ID, domain.StateInspectionCompleted, inspector)

	// First re-inspection is within the cap.
	advance(t, env, app.ID, domain.StateReInspectionRequested, farmer)
	advance(t, env, app.ID, domain.StateInspectionScheduled, inspector)
	recordPassingInspection(t, env, app.ID)
	advance(t, env, app.ID, domain.StateInspectionCompleted, inspector)

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ApplicationID: app.ID,
		Target:        domain.StateReInspectionRequested,
		Actor:         farmer,
	})
	var capErr engine.MaxRetriesExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected max retries exceeded, got %v", err)
	}

	reloaded, err := env.Engine.Repo.GetApplication(env.Ctx, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.CurrentState != domain.StateRejected {
		t.Fatalf("state = %s, want rejected", reloaded.CurrentState)
	}
	history, _ := env.Engine.Repo.ListHistory(env.Ctx, app.ID)
	last := history[len(history)-1]
	if last.ToState != domain.StateRejected || last.ActorRole != domain.RoleSystem {
		t.Fatalf("forced rejection not recorded: %+v", last)
	}
}

func TestSweepExpiredPayments(t *testing.T) {
	env := newTestEnv(t)
	app := submit(t, env, "basil", 10, 0)
	advance(t, env, app.ID, domain.StateDocumentReview, checker)
	advance(t, env, app.ID, domain.StatePaymentPending1, checker)

	// Jump past the phase 1 deadline without paying.
	env.Engine.Now = func() time.Time { return time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC) }
	expired, err := env.Engine.SweepExpiredPayments(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(expired) != 1 || expired[0] != app.ID {
		t.Fatalf("expired = %v", expired)
	}
	reloaded, _ := env.Engine.Repo.GetApplication(env.Ctx, app.ID)
	if reloaded.CurrentState != domain.StateExpired {
		t.Fatalf("state = %s, want expired", reloaded.CurrentState)
	}
	p, _ := env.Engine.Repo.GetPayment(env.Ctx, app.ID, 1)
	if p.Status != domain.PaymentExpired {
		t.Fatalf("payment status = %s, want expired", p.Status)
	}
}

func TestSweepExpiredCertificates(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Rules.LowRate = 0
	app := submit(t, env, "basil", 10, 0)
	toInspectionScheduled(t, env, app)
	recordPassingInspection(t, env, app.ID)
	advance(t, env, app.ID, domain.StateInspectionCompleted, inspector)
	advance(t, env, app.ID, domain.StateFinalApprovalPending, approver)
	advance(t, env, app.ID, domain.StateCertified, approver)

	// Inside the validity window nothing expires.
	if expired, err := env.Engine.SweepExpiredCertificates(env.Ctx); err != nil || len(expired) != 0 {
		t.Fatalf("expired = %v, err = %v", expired, err)
	}

	env.Engine.Now = func() time.Time { return time.Date(2028, 4, 1, 0, 0, 0, 0, time.UTC) }
	expired, err := env.Engine.SweepExpiredCertificates(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(expired) != 1 || expired[0] != app.ID {
		t.Fatalf("expired = %v", expired)
	}
}

func TestInspectionOutsideScheduledStateRefused(t *testing.T) {
	env := newTestEnv(t)
	app := submit(t, env, "basil", 10, 0)

	_, err := env.Engine.RecordInspection(env.Ctx, engine.InspectionOptions{
		ApplicationID: app.ID,
		Actor:         inspector,
		CCPScores:     passingScores,
	})
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardState {
		t.Fatalf("expected state guard violation, got %v", err)
	}
}

func TestStaleVersionWriteIsRefused(t *testing.T) {
	env := newTestEnv(t)
	app := submit(t, env, "basil", 10, 0)

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	app.CurrentState = domain.StateDocumentReview
	err = env.Engine.Repo.UpdateApplicationTx(env.Ctx, tx, app, app.Version+1)
	if !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	// The refused write leaves the row untouched.
	tx.Rollback()
	got, err := env.Engine.Repo.GetApplication(env.Ctx, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentState != domain.StateSubmitted || got.Version != app.Version {
		t.Fatalf("application after refused write: %+v", got)
	}
}

func TestTransitionSurfacesPersistentVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Retry = retry.Policy{Base: time.Microsecond, Cap: time.Microsecond, MaxAttempts: 3}
	app := submit(t, env, "basil", 10, 0)
	advance(t, env, app.ID, domain.StateDocumentReview, checker)

	// Entering payment_pending_1 inserts the phase fee row before the
	// version-checked write. Bumping the version from that insert makes
	// every attempt read a version that is stale by write time, the shape
	// of a concurrent writer landing mid-transition.
	if _, err := env.Engine.DB.Exec(`CREATE TRIGGER competing_writer AFTER INSERT ON application_payments
BEGIN UPDATE applications SET version = version + 1 WHERE id = NEW.application_id; END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ApplicationID: app.ID,
		Target:        domain.StatePaymentPending1,
		Actor:         checker,
	})
	var cc engine.ConcurrencyConflictError
	if !errors.As(err, &cc) {
		t.Fatalf("expected concurrency conflict after bounded retries, got %v", err)
	}
	if cc.ApplicationID != app.ID {
		t.Fatalf("conflict for %s, want %s", cc.ApplicationID, app.ID)
	}

	// No attempt committed anything.
	got, err := env.Engine.Repo.GetApplication(env.Ctx, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentState != domain.StateDocumentReview {
		t.Fatalf("state = %s after refused transition", got.CurrentState)
	}
	history, err := env.Engine.Repo.ListHistory(env.Ctx, app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d entries, want the document_review move only", len(history))
	}
}
