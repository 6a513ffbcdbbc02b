// Package server is a thin HTTP shell over the engine: handlers translate the
// request into an engine call with an explicit actor and map typed engine
// errors onto the error envelope. No workflow rule lives here.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gacpline/internal/domain"
	"gacpline/internal/engine"
	"gacpline/internal/repo"
	"gacpline/internal/reports"
	"gacpline/internal/scoring"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Reports  *reports.Driver
	BasePath string
	Auth     AuthConfig
	Log      zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"transition submitted -> certified refused"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the certification API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("GACP Certification API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerApplications(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerInspections(group, cfg.Engine)
	registerQA(group, cfg.Engine)
	registerEnrollments(group, cfg.Engine)
	registerScoring(group, cfg.Engine)
	registerReports(group, cfg.Reports)
	registerAPIKeys(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's typed errors onto the error envelope. Guard
// violations distinguish who must act next: a role violation is the caller's
// identity, a state violation is the workflow, a precondition violation is
// missing evidence the caller can still supply.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var gv engine.GuardViolationError
	if errors.As(err, &gv) {
		details := map[string]any{"guard": gv.Guard, "from": gv.From, "to": gv.To}
		switch gv.Guard {
		case engine.GuardRole:
			return newAPIError(http.StatusForbidden, "forbidden", err.Error(), details)
		case engine.GuardState:
			return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), details)
		default:
			return newAPIError(http.StatusUnprocessableEntity, "precondition_failed", err.Error(), details)
		}
	}
	var cc engine.ConcurrencyConflictError
	if errors.As(err, &cc) {
		return newAPIError(http.StatusConflict, "concurrency_conflict", err.Error(), map[string]any{"application_id": cc.ApplicationID})
	}
	var mr engine.MaxRetriesExceededError
	if errors.As(err, &mr) {
		return newAPIError(http.StatusUnprocessableEntity, "max_retries_exceeded", err.Error(), map[string]any{"max": mr.Max})
	}
	var si scoring.InvalidScoreInputError
	if errors.As(err, &si) {
		return newAPIError(http.StatusBadRequest, "invalid_score_input", err.Error(), map[string]any{"field": si.Field, "reason": si.Reason})
	}
	var du engine.DependencyUnavailableError
	if errors.As(err, &du) {
		return newAPIError(http.StatusServiceUnavailable, "dependency_unavailable", err.Error(), map[string]any{"dependency": du.Dependency})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must be") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-application",
		Method:        http.MethodPost,
		Path:          "/applications",
		Summary:       "Submit application",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body SubmitApplicationRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		app, err := e.SubmitApplication(ctx, engine.SubmitOptions{
			ID:              input.Body.ID,
			ApplicantID:     input.Body.ApplicantID,
			FarmName:        input.Body.FarmName,
			CropType:        input.Body.CropType,
			FarmAreaRai:     input.Body.FarmAreaRai,
			PriorViolations: input.Body.PriorViolations,
			ReviewMode:      input.Body.ReviewMode,
			Actor:           actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/applications",
		Summary:     "List applications",
	}, func(ctx context.Context, input *struct {
		State       string `query:"state"`
		ApplicantID string `query:"applicant_id"`
		RiskTier    string `query:"risk_tier"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Application `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListApplications(ctx, repo.ApplicationFilters{
			State:       input.State,
			ApplicantID: input.ApplicantID,
			RiskTier:    input.RiskTier,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Application{}
		}
		return &struct {
			Body []domain.Application `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-application",
		Method:      http.MethodGet,
		Path:        "/applications/{id}",
		Summary:     "Get application",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		app, err := e.GetApplication(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "application-history",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/history",
		Summary:     "Application transition history",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.HistoryEntry `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		history, err := e.Repo.ListHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if history == nil {
			history = []domain.HistoryEntry{}
		}
		return &struct {
			Body []domain.HistoryEntry `json:"body"`
		}{Body: history}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-application",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/transition",
		Summary:     "Transition application",
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Target == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "target is required", nil)
		}
		app, err := e.Transition(ctx, engine.TransitionOptions{
			ApplicationID: input.ID,
			Target:        input.Body.Target,
			Actor:         actor,
			Reason:        input.Body.Reason,
			ReviewMode:    input.Body.ReviewMode,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-expirations",
		Method:      http.MethodPost,
		Path:        "/applications/sweep",
		Summary:     "Expire overdue payments and certificates",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body sweepResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins can run sweeps", nil)
		}
		payments, err := e.SweepExpiredPayments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		certs, err := e.SweepExpiredCertificates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if payments == nil {
			payments = []string{}
		}
		if certs == nil {
			certs = []string{}
		}
		return &struct {
			Body sweepResponse `json:"body"`
		}{Body: sweepResponse{ExpiredPayments: payments, ExpiredCertificates: certs}}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "mark-phase-paid",
		Method:      http.MethodPost,
		Path:        "/applications/{id}/payments/{phase}/paid",
		Summary:     "Mark a payment phase paid",
	}, func(ctx context.Context, input *struct {
		ID    string          `path:"id"`
		Phase int             `path:"phase"`
		Body  MarkPaidRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		app, err := e.MarkPaid(ctx, input.ID, input.Phase, input.Body.ReceiptRef, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-payments",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/payments",
		Summary:     "Payment phases for an application",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.PaymentPhase `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetApplication(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		payments, err := e.Repo.ListPayments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if payments == nil {
			payments = []domain.PaymentPhase{}
		}
		return &struct {
			Body []domain.PaymentPhase `json:"body"`
		}{Body: payments}, nil
	})
}

func registerInspections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-inspection",
		Method:        http.MethodPost,
		Path:          "/applications/{id}/inspections",
		Summary:       "Record CCP inspection",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body RecordInspectionRequest `json:"body"`
	}) (*struct {
		Body domain.InspectionRecord `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.RecordInspection(ctx, engine.InspectionOptions{
			ApplicationID: input.ID,
			Actor:         actor,
			Mode:          input.Body.Mode,
			CCPScores:     input.Body.CCPScores,
			ConductedAt:   input.Body.ConductedAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.InspectionRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-inspection",
		Method:      http.MethodGet,
		Path:        "/inspections/{id}",
		Summary:     "Get inspection",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.InspectionRecord `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rec, err := e.Repo.GetInspection(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.InspectionRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-inspections",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/inspections",
		Summary:     "Inspections for an application",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.InspectionRecord `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListInspections(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.InspectionRecord{}
		}
		return &struct {
			Body []domain.InspectionRecord `json:"body"`
		}{Body: items}, nil
	})
}

func registerQA(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-qa",
		Method:        http.MethodPost,
		Path:          "/applications/{id}/qa",
		Summary:       "Record QA verification",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body RecordQARequest `json:"body"`
	}) (*struct {
		Body domain.QAVerification `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		qa, err := e.RecordQA(ctx, engine.QAOptions{
			ApplicationID:   input.ID,
			Actor:           actor,
			ChecklistScores: input.Body.ChecklistScores,
			IssuesFound:     input.Body.IssuesFound,
			Outcome:         input.Body.Outcome,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QAVerification `json:"body"`
		}{Body: qa}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-qa",
		Method:      http.MethodGet,
		Path:        "/qa/{id}",
		Summary:     "Get QA verification",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.QAVerification `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		qa, err := e.Repo.GetQA(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.QAVerification `json:"body"`
		}{Body: qa}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-qa",
		Method:      http.MethodGet,
		Path:        "/applications/{id}/qa",
		Summary:     "QA verifications for an application",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.QAVerification `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListQA(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.QAVerification{}
		}
		return &struct {
			Body []domain.QAVerification `json:"body"`
		}{Body: items}, nil
	})
}

func registerEnrollments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "enroll",
		Method:        http.MethodPost,
		Path:          "/enrollments",
		Summary:       "Enroll in a course",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body EnrollRequest `json:"body"`
	}) (*struct {
		Body domain.Enrollment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		enr, err := e.Enroll(ctx, engine.EnrollOptions{
			FarmerID: input.Body.FarmerID,
			CourseID: input.Body.CourseID,
			Actor:    actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Enrollment `json:"body"`
		}{Body: enr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-enrollments",
		Method:      http.MethodGet,
		Path:        "/enrollments",
		Summary:     "List enrollments",
	}, func(ctx context.Context, input *struct {
		FarmerID string `query:"farmer_id"`
	}) (*struct {
		Body []domain.Enrollment `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListEnrollments(ctx, input.FarmerID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Enrollment{}
		}
		return &struct {
			Body []domain.Enrollment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-enrollment",
		Method:      http.MethodGet,
		Path:        "/enrollments/{id}",
		Summary:     "Get enrollment",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Enrollment `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		enr, err := e.Repo.GetEnrollment(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Enrollment `json:"body"`
		}{Body: enr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-progress",
		Method:      http.MethodPost,
		Path:        "/enrollments/{id}/progress",
		Summary:     "Record course progress",
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ProgressRequest `json:"body"`
	}) (*struct {
		Body domain.Enrollment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		enr, err := e.RecordProgress(ctx, input.ID, input.Body.ModuleCompletionPct, input.Body.ParticipationScorePct, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Enrollment `json:"body"`
		}{Body: enr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-assessment",
		Method:      http.MethodPost,
		Path:        "/enrollments/{id}/assessment",
		Summary:     "Record assessment attempt",
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AssessmentRequest `json:"body"`
	}) (*struct {
		Body domain.Enrollment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		enr, err := e.RecordAssessment(ctx, input.ID, input.Body.ScorePct, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Enrollment `json:"body"`
		}{Body: enr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-enrollment",
		Method:      http.MethodPost,
		Path:        "/enrollments/{id}/complete",
		Summary:     "Complete enrollment",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Enrollment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		enr, err := e.CompleteEnrollment(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Enrollment `json:"body"`
		}{Body: enr}, nil
	})
}

func registerScoring(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "score-ccp",
		Method:      http.MethodPost,
		Path:        "/scoring/ccp",
		Summary:     "Compute CCP inspection score",
	}, func(ctx context.Context, input *struct {
		Body ScoreCCPRequest `json:"body"`
	}) (*struct {
		Body scoring.CCPResult `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		result, err := e.CCP.Compute(input.Body.Scores)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scoring.CCPResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "score-course",
		Method:      http.MethodPost,
		Path:        "/scoring/course",
		Summary:     "Compute course final score",
	}, func(ctx context.Context, input *struct {
		Body ScoreCourseRequest `json:"body"`
	}) (*struct {
		Body scoring.CourseResult `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		result, err := scoring.EvaluateCourse(
			input.Body.ModuleCompletionPct, input.Body.AssessmentScorePct, input.Body.ParticipationScorePct,
			e.Config.Courses.PassingScore, e.Config.Courses.CertificateScore,
		)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scoring.CourseResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "score-standards-gap",
		Method:      http.MethodPost,
		Path:        "/scoring/standards-gap",
		Summary:     "Compute standards gap score",
	}, func(ctx context.Context, input *struct {
		Body ScoreGapRequest `json:"body"`
	}) (*struct {
		Body scoring.GapResult `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		result, err := scoring.ComputeStandardsGap(input.Body.Criteria, e.Config.Scoring.Standards.CertifiedThreshold)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scoring.GapResult `json:"body"`
		}{Body: result}, nil
	})
}

func registerReports(api huma.API, d *reports.Driver) {
	huma.Register(api, huma.Operation{
		OperationID:   "schedule-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Schedule a report",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body ScheduleReportRequest `json:"body"`
	}) (*struct {
		Body domain.ScheduledReport `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rep, err := d.Schedule(ctx, input.Body.Type, input.Body.Schedule, input.Body.FirstRunAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduledReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List scheduled reports",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []domain.ScheduledReport `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := d.Repo.ListReports(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ScheduledReport{}
		}
		return &struct {
			Body []domain.ScheduledReport `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "due-reports",
		Method:      http.MethodGet,
		Path:        "/reports/due",
		Summary:     "List due reports",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ScheduledReport `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := d.FindDue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ScheduledReport{}
		}
		return &struct {
			Body []domain.ScheduledReport `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-reports",
		Method:      http.MethodPost,
		Path:        "/reports/process",
		Summary:     "Run due reports",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body processReportsResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins can process reports", nil)
		}
		ran, err := d.ProcessDue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if ran == nil {
			ran = []string{}
		}
		return &struct {
			Body processReportsResponse `json:"body"`
		}{Body: processReportsResponse{Ran: ran}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-report",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/retry",
		Summary:     "Retry a failed report",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ScheduledReport `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rep, err := d.Retry(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduledReport `json:"body"`
		}{Body: rep}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins can create api keys", nil)
		}
		if input.Body.ActorID == "" || input.Body.Role == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role are required", nil)
		}
		plaintext := uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Role:    input.Body.Role,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(plaintext),
		}
		// The key grants a role; record it in actor_roles too so JWT
		// callers without a role claim resolve to the same role.
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		now := e.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.EnsureActor(ctx, tx, key.ActorID, now); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.AssignRole(ctx, tx, key.ActorID, key.Role); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{
			ID:      key.ID,
			ActorID: key.ActorID,
			Role:    key.Role,
			Name:    key.Name,
			Key:     plaintext,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins can list api keys", nil)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Role: k.Role, Name: k.Name, CreatedAt: k.CreatedAt})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{id}",
		Summary:     "Revoke API key",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only admins can revoke api keys", nil)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest domain events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: p.ActorID, Role: p.Role, Source: p.Source}}, nil
	})
}
