package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gacpline/internal/domain"
	"gacpline/internal/events"
	"gacpline/internal/repo"
	"gacpline/internal/scoring"
)

// EnrollOptions are parameters for enrolling a farmer in a training course.
type EnrollOptions struct {
	FarmerID string
	CourseID string
	Actor    domain.Actor
}

// Enroll creates an active enrollment. A farmer may only hold one enrollment
// per course.
func (e Engine) Enroll(ctx context.Context, opts EnrollOptions) (domain.Enrollment, error) {
	if opts.FarmerID == "" || opts.CourseID == "" {
		return domain.Enrollment{}, errors.New("farmer_id and course_id are required")
	}
	if opts.Actor.Role == domain.RoleFarmer && opts.Actor.ID != opts.FarmerID {
		return domain.Enrollment{}, GuardViolationError{
			Guard:  GuardRole,
			Detail: "farmers can only enroll themselves",
		}
	}
	if _, err := e.Repo.GetEnrollmentByCourse(ctx, opts.FarmerID, opts.CourseID); err == nil {
		return domain.Enrollment{}, fmt.Errorf("farmer %s is already enrolled in course %s", opts.FarmerID, opts.CourseID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Enrollment{}, err
	}
	now := e.nowRFC3339()
	enr := domain.Enrollment{
		ID:        uuid.NewString(),
		FarmerID:  opts.FarmerID,
		CourseID:  opts.CourseID,
		Status:    domain.EnrollmentActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Enrollment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEnrollmentTx(ctx, tx, enr); err != nil {
		return domain.Enrollment{}, err
	}
	if err := e.Events.Append(ctx, tx, "enrollment.created", "enrollment", enr.ID, opts.Actor.ID, events.EventPayload{
		"farmer_id": enr.FarmerID,
		"course_id": enr.CourseID,
	}); err != nil {
		return domain.Enrollment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Enrollment{}, err
	}
	return enr, nil
}

// RecordProgress updates module completion and participation for an active
// enrollment.
func (e Engine) RecordProgress(ctx context.Context, id string, moduleCompletion, participation int, actor domain.Actor) (domain.Enrollment, error) {
	if moduleCompletion < 0 || moduleCompletion > 100 || participation < 0 || participation > 100 {
		return domain.Enrollment{}, scoring.InvalidScoreInputError{Field: "progress", Reason: "values must be 0-100"}
	}
	return e.updateEnrollment(ctx, id, actor, "enrollment.progress", func(enr *domain.Enrollment) error {
		// Progress never moves backwards.
		if moduleCompletion > enr.ModuleCompletion {
			enr.ModuleCompletion = moduleCompletion
		}
		if participation > enr.ParticipationScore {
			enr.ParticipationScore = participation
		}
		return nil
	})
}

// RecordAssessment registers one assessment attempt. Attempts are bounded;
// hitting the cap fails the enrollment permanently.
func (e Engine) RecordAssessment(ctx context.Context, id string, score int, actor domain.Actor) (domain.Enrollment, error) {
	if score < 0 || score > 100 {
		return domain.Enrollment{}, scoring.InvalidScoreInputError{Field: "assessment_score_pct", Reason: "value must be 0-100"}
	}
	maxAttempts := e.Config.Courses.MaxAssessmentAttempts
	var capped bool
	enr, err := e.updateEnrollment(ctx, id, actor, "enrollment.assessment", func(enr *domain.Enrollment) error {
		if enr.AssessmentAttempts >= maxAttempts {
			capped = true
			enr.Status = domain.EnrollmentFailed
			at := e.nowRFC3339()
			enr.CompletedAt = &at
			return nil
		}
		enr.AssessmentAttempts++
		if score > enr.AssessmentScore {
			enr.AssessmentScore = score
		}
		return nil
	})
	if err != nil {
		return domain.Enrollment{}, err
	}
	if capped {
		return enr, MaxRetriesExceededError{Op: "assessment attempts", Max: maxAttempts}
	}
	return enr, nil
}

// CompleteEnrollment computes the final score once the required modules are
// done, then freezes the enrollment as completed or failed.
func (e Engine) CompleteEnrollment(ctx context.Context, id string, actor domain.Actor) (domain.Enrollment, error) {
	return e.updateEnrollment(ctx, id, actor, "enrollment.completed", func(enr *domain.Enrollment) error {
		if enr.ModuleCompletion < 100 {
			return GuardViolationError{
				Guard:  GuardPrecondition,
				Detail: fmt.Sprintf("module completion is %d%%; all required modules must be finished", enr.ModuleCompletion),
			}
		}
		result, err := scoring.EvaluateCourse(
			enr.ModuleCompletion, enr.AssessmentScore, enr.ParticipationScore,
			e.Config.Courses.PassingScore, e.Config.Courses.CertificateScore,
		)
		if err != nil {
			return err
		}
		total := result.Total
		enr.FinalScore = &total
		enr.CertificateEarned = result.CertificateEligible
		if result.Passed {
			enr.Status = domain.EnrollmentCompleted
		} else {
			enr.Status = domain.EnrollmentFailed
		}
		at := e.nowRFC3339()
		enr.CompletedAt = &at
		return nil
	})
}

// updateEnrollment loads, mutates and saves an enrollment in one transaction.
// Completed and failed enrollments are immutable.
func (e Engine) updateEnrollment(ctx context.Context, id string, actor domain.Actor, eventType string, mutate func(*domain.Enrollment) error) (domain.Enrollment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Enrollment{}, err
	}
	defer tx.Rollback()

	enr, err := e.Repo.GetEnrollmentTx(ctx, tx, id)
	if err != nil {
		return domain.Enrollment{}, err
	}
	if enr.Status != domain.EnrollmentActive {
		return domain.Enrollment{}, GuardViolationError{
			Guard:  GuardState,
			Detail: fmt.Sprintf("enrollment is %s and can no longer change", enr.Status),
		}
	}
	if actor.Role == domain.RoleFarmer && actor.ID != enr.FarmerID {
		return domain.Enrollment{}, GuardViolationError{
			Guard:  GuardRole,
			Detail: "farmers can only update their own enrollments",
		}
	}
	if err := mutate(&enr); err != nil {
		return domain.Enrollment{}, err
	}
	enr.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateEnrollmentTx(ctx, tx, enr); err != nil {
		return domain.Enrollment{}, err
	}
	if err := appendEnrollmentEvent(ctx, tx, e, eventType, enr, actor); err != nil {
		return domain.Enrollment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Enrollment{}, err
	}
	return enr, nil
}

func appendEnrollmentEvent(ctx context.Context, tx *sql.Tx, e Engine, eventType string, enr domain.Enrollment, actor domain.Actor) error {
	payload := events.EventPayload{
		"farmer_id": enr.FarmerID,
		"course_id": enr.CourseID,
		"status":    enr.Status,
	}
	if enr.FinalScore != nil {
		payload["final_score"] = *enr.FinalScore
	}
	return e.Events.Append(ctx, tx, eventType, "enrollment", enr.ID, actor.ID, payload)
}
