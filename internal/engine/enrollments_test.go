package engine_test

import (
	"errors"
	"testing"

	"gacpline/internal/domain"
	"gacpline/internal/engine"
	"gacpline/internal/scoring"
)

func enroll(t *testing.T, env testEnv, courseID string) domain.Enrollment {
	t.Helper()
	enr, err := env.Engine.Enroll(env.Ctx, engine.EnrollOptions{
		FarmerID: farmer.ID,
		CourseID: courseID,
		Actor:    farmer,
	})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	return enr
}

func TestEnrollOncePerCourse(t *testing.T) {
	env := newTestEnv(t)
	enroll(t, env, "gacp-101")
	_, err := env.Engine.Enroll(env.Ctx, engine.EnrollOptions{
		FarmerID: farmer.ID,
		CourseID: "gacp-101",
		Actor:    farmer,
	})
	if err == nil {
		t.Fatalf("expected duplicate enrollment to fail")
	}
}

func TestFarmerCanOnlyEnrollThemselves(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Enroll(env.Ctx, engine.EnrollOptions{
		FarmerID: "someone-else",
		CourseID: "gacp-101",
		Actor:    farmer,
	})
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardRole {
		t.Fatalf("expected role guard violation, got %v", err)
	}
}

func TestProgressNeverMovesBackwards(t *testing.T) {
	env := newTestEnv(t)
	enr := enroll(t, env, "gacp-101")

	updated, err := env.Engine.RecordProgress(env.Ctx, enr.ID, 60, 50, farmer)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if updated.ModuleCompletion != 60 || updated.ParticipationScore != 50 {
		t.Fatalf("progress = %d/%d", updated.ModuleCompletion, updated.ParticipationScore)
	}

	updated, err = env.Engine.RecordProgress(env.Ctx, enr.ID, 30, 70, farmer)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if updated.ModuleCompletion != 60 {
		t.Fatalf("module completion regressed to %d", updated.ModuleCompletion)
	}
	if updated.ParticipationScore != 70 {
		t.Fatalf("participation = %d, want 70", updated.ParticipationScore)
	}

	_, err = env.Engine.RecordProgress(env.Ctx, enr.ID, 120, 0, farmer)
	var inv scoring.InvalidScoreInputError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid score input, got %v", err)
	}
}

func TestAssessmentAttemptsCapped(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Courses.MaxAssessmentAttempts = 2
	enr := enroll(t, env, "gacp-101")

	if _, err := env.Engine.RecordAssessment(env.Ctx, enr.ID, 55, farmer); err != nil {
		t.Fatalf("attempt 1: %v", err)
	}
	updated, err := env.Engine.RecordAssessment(env.Ctx, enr.ID, 48, farmer)
	if err != nil {
		t.Fatalf("attempt 2: %v", err)
	}
	// Best score is kept across attempts.
	if updated.AssessmentScore != 55 || updated.AssessmentAttempts != 2 {
		t.Fatalf("after 2 attempts: score=%d attempts=%d", updated.AssessmentScore, updated.AssessmentAttempts)
	}

	failed, err := env.Engine.RecordAssessment(env.Ctx, enr.ID, 99, farmer)
	var capErr engine.MaxRetriesExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected max retries exceeded, got %v", err)
	}
	if failed.Status != domain.EnrollmentFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}

	// A failed enrollment is frozen.
	_, err = env.Engine.RecordProgress(env.Ctx, enr.ID, 80, 80, farmer)
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardState {
		t.Fatalf("expected frozen enrollment, got %v", err)
	}
}

func TestCompleteEnrollmentRequiresAllModules(t *testing.T) {
	env := newTestEnv(t)
	enr := enroll(t, env, "gacp-101")
	if _, err := env.Engine.RecordProgress(env.Ctx, enr.ID, 80, 90, farmer); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.CompleteEnrollment(env.Ctx, enr.ID, farmer)
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardPrecondition {
		t.Fatalf("expected precondition violation, got %v", err)
	}
}

func TestCompleteEnrollmentComputesFinalScore(t *testing.T) {
	env := newTestEnv(t)
	enr := enroll(t, env, "gacp-101")
	if _, err := env.Engine.RecordProgress(env.Ctx, enr.ID, 100, 90, farmer); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordAssessment(env.Ctx, enr.ID, 80, farmer); err != nil {
		t.Fatal(err)
	}

	done, err := env.Engine.CompleteEnrollment(env.Ctx, enr.ID, farmer)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	// 0.4*100 + 0.4*80 + 0.2*90 = 90
	if done.FinalScore == nil || *done.FinalScore != 90 {
		t.Fatalf("final score = %v, want 90", done.FinalScore)
	}
	if done.Status != domain.EnrollmentCompleted {
		t.Fatalf("status = %s", done.Status)
	}
	if !done.CertificateEarned {
		t.Fatalf("expected certificate at score 90")
	}
	if done.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}

	// Completed enrollments are immutable.
	_, err = env.Engine.RecordProgress(env.Ctx, enr.ID, 100, 100, farmer)
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardState {
		t.Fatalf("expected frozen enrollment, got %v", err)
	}
}

func TestFarmerCannotTouchOthersEnrollment(t *testing.T) {
	env := newTestEnv(t)
	enr := enroll(t, env, "gacp-101")
	other := domain.Actor{ID: "farmer-2", Role: domain.RoleFarmer}
	_, err := env.Engine.RecordProgress(env.Ctx, enr.ID, 10, 10, other)
	var gv engine.GuardViolationError
	if !errors.As(err, &gv) || gv.Guard != engine.GuardRole {
		t.Fatalf("expected role guard violation, got %v", err)
	}
}
