package server

import "gacpline/internal/scoring"

type SubmitApplicationRequest struct {
	ID              string  `json:"id,omitempty"`
	ApplicantID     string  `json:"applicant_id"`
	FarmName        string  `json:"farm_name,omitempty"`
	CropType        string  `json:"crop_type"`
	FarmAreaRai     float64 `json:"farm_area_rai"`
	PriorViolations int     `json:"prior_violations"`
	ReviewMode      string  `json:"review_mode,omitempty" enum:"onsite,video"`
}

type TransitionRequest struct {
	Target     string `json:"target"`
	Reason     string `json:"reason,omitempty"`
	ReviewMode string `json:"review_mode,omitempty" enum:"onsite,video"`
}

type MarkPaidRequest struct {
	ReceiptRef string `json:"receipt_ref,omitempty"`
}

type RecordInspectionRequest struct {
	Mode        string         `json:"mode,omitempty" enum:"onsite,video"`
	CCPScores   map[string]int `json:"ccp_scores"`
	ConductedAt string         `json:"conducted_at,omitempty" format:"date-time"`
}

type RecordQARequest struct {
	ChecklistScores map[string]int `json:"checklist_scores"`
	IssuesFound     []string       `json:"issues_found,omitempty"`
	Outcome         string         `json:"outcome" enum:"approved,needs_correction,rejected"`
}

type EnrollRequest struct {
	FarmerID string `json:"farmer_id"`
	CourseID string `json:"course_id"`
}

type ProgressRequest struct {
	ModuleCompletionPct   int `json:"module_completion_pct"`
	ParticipationScorePct int `json:"participation_score_pct"`
}

type AssessmentRequest struct {
	ScorePct int `json:"score_pct"`
}

type ScoreCCPRequest struct {
	Scores map[string]int `json:"scores"`
}

type ScoreCourseRequest struct {
	ModuleCompletionPct   int `json:"module_completion_pct"`
	AssessmentScorePct    int `json:"assessment_score_pct"`
	ParticipationScorePct int `json:"participation_score_pct"`
}

type ScoreGapRequest struct {
	Criteria []scoring.Criterion `json:"criteria"`
}

type ScheduleReportRequest struct {
	Type       string `json:"type"`
	Schedule   string `json:"schedule" enum:"once,daily,weekly,monthly"`
	FirstRunAt string `json:"first_run_at,omitempty" format:"date-time"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"farmer,document_checker,inspector,approver,admin"`
	Name    string `json:"name,omitempty"`
}

// CreateAPIKeyResponse carries the plaintext key exactly once, at creation.
// Only the hash is stored.
type CreateAPIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MeResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

type sweepResponse struct {
	ExpiredPayments     []string `json:"expired_payments"`
	ExpiredCertificates []string `json:"expired_certificates"`
}

type processReportsResponse struct {
	Ran []string `json:"ran"`
}
