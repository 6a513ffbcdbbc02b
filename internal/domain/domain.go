package domain

// Application states.
const (
	StateSubmitted             = "submitted"
	StateDocumentReview        = "document_review"
	StatePaymentPending1       = "payment_pending_1"
	StateFieldReviewScheduled  = "field_review_scheduled"
	StatePaymentPending2       = "payment_pending_2"
	StateInspectionScheduled   = "inspection_scheduled"
	StateInspectionCompleted   = "inspection_completed"
	StateQASamplingPending     = "qa_sampling_pending"
	StateQAVerified            = "qa_verified"
	StateFinalApprovalPending  = "final_approval_pending"
	StateCertified             = "certified"
	StateReInspectionRequested = "re_inspection_requested"
	StateRejected              = "rejected"
	StateExpired               = "expired"
)

// Actor roles.
const (
	RoleFarmer          = "farmer"
	RoleDocumentChecker = "document_checker"
	RoleInspector       = "inspector"
	RoleApprover        = "approver"
	RoleAdmin           = "admin"
	RoleSystem          = "system"
)

// Risk tiers.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Payment phase statuses.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentExpired = "expired"
)

// QA outcomes.
const (
	QAApproved        = "approved"
	QANeedsCorrection = "needs_correction"
	QARejected        = "rejected"
)

// Enrollment statuses.
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentFailed    = "failed"
)

// Scheduled report statuses.
const (
	ReportPending    = "pending"
	ReportGenerating = "generating"
	ReportCompleted  = "completed"
	ReportFailed     = "failed"
)

// Report schedules.
const (
	ScheduleOnce    = "once"
	ScheduleDaily   = "daily"
	ScheduleWeekly  = "weekly"
	ScheduleMonthly = "monthly"
)

// Actor is the already-authenticated caller of an engine operation.
// Authentication happens outside the engine; the engine only checks the role.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role" enum:"farmer,document_checker,inspector,approver,admin,system"`
}

type Application struct {
	ID                string         `json:"id"`
	ApplicantID       string         `json:"applicant_id"`
	FarmName          string         `json:"farm_name,omitempty"`
	CropType          string         `json:"crop_type"`
	FarmAreaRai       float64        `json:"farm_area_rai"`
	PriorViolations   int            `json:"prior_violations"`
	ReviewMode        string         `json:"review_mode" enum:"onsite,video"`
	CurrentState      string         `json:"current_state"`
	RiskTier          string         `json:"risk_tier,omitempty" enum:"low,medium,high"`
	ReinspectionCount int            `json:"reinspection_count"`
	Version           int64          `json:"version"`
	CreatedAt         string         `json:"created_at" format:"date-time"`
	UpdatedAt         string         `json:"updated_at" format:"date-time"`
	CertifiedAt       *string        `json:"certified_at,omitempty" format:"date-time"`
	Payments          []PaymentPhase `json:"payments,omitempty"`
	History           []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry is one recorded transition. Entries are append-only and only
// written in the same transaction as the state change itself.
type HistoryEntry struct {
	ApplicationID string `json:"application_id"`
	FromState     string `json:"from_state"`
	ToState       string `json:"to_state"`
	ActorID       string `json:"actor_id"`
	ActorRole     string `json:"actor_role"`
	Reason        string `json:"reason,omitempty"`
	At            string `json:"at" format:"date-time"`
}

type PaymentPhase struct {
	ApplicationID string  `json:"application_id"`
	Phase         int     `json:"phase"`
	AmountTHB     int64   `json:"amount_thb"`
	Status        string  `json:"status" enum:"pending,paid,expired"`
	ReceiptRef    string  `json:"receipt_ref,omitempty"`
	DueAt         string  `json:"due_at" format:"date-time"`
	PaidAt        *string `json:"paid_at,omitempty" format:"date-time"`
}

// InspectionRecord is one CCP-based assessment. TotalScore and Passed are
// derived from CCPScores at recording time and never written independently.
type InspectionRecord struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"application_id"`
	InspectorID   string         `json:"inspector_id"`
	Mode          string         `json:"mode" enum:"onsite,video"`
	CCPScores     map[string]int `json:"ccp_scores"`
	TotalScore    float64        `json:"total_score"`
	Passed        bool           `json:"passed"`
	ConductedAt   string         `json:"conducted_at" format:"date-time"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
}

// QAVerification is a sampled second-pass review. A new request supersedes the
// previous record; records are never mutated in place.
type QAVerification struct {
	ID                  string         `json:"id"`
	ApplicationID       string         `json:"application_id"`
	VerifierID          string         `json:"verifier_id"`
	RiskLevelAtSampling string         `json:"risk_level_at_sampling" enum:"low,medium,high"`
	ChecklistScores     map[string]int `json:"checklist_scores"`
	QAScore             float64        `json:"qa_score"`
	IssuesFound         []string       `json:"issues_found,omitempty"`
	Outcome             string         `json:"outcome" enum:"approved,needs_correction,rejected"`
	Superseded          bool           `json:"superseded"`
	VerifiedAt          string         `json:"verified_at" format:"date-time"`
	CreatedAt           string         `json:"created_at" format:"date-time"`
}

type Enrollment struct {
	ID                 string  `json:"id"`
	FarmerID           string  `json:"farmer_id"`
	CourseID           string  `json:"course_id"`
	ModuleCompletion   int     `json:"module_completion_pct"`
	AssessmentScore    int     `json:"assessment_score_pct"`
	ParticipationScore int     `json:"participation_score_pct"`
	AssessmentAttempts int     `json:"assessment_attempts"`
	FinalScore         *int    `json:"final_score,omitempty"`
	CertificateEarned  bool    `json:"certificate_earned"`
	Status             string  `json:"status" enum:"active,completed,failed"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
	CompletedAt        *string `json:"completed_at,omitempty" format:"date-time"`
}

type ScheduledReport struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Schedule   string  `json:"schedule" enum:"once,daily,weekly,monthly"`
	NextRunAt  string  `json:"next_run_at" format:"date-time"`
	Status     string  `json:"status" enum:"pending,generating,completed,failed"`
	RetryCount int     `json:"retry_count"`
	LastError  string  `json:"last_error,omitempty"`
	LastRunAt  *string `json:"last_run_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// States returns the closed set of application states.
func States() []string {
	return []string{
		StateSubmitted,
		StateDocumentReview,
		StatePaymentPending1,
		StateFieldReviewScheduled,
		StatePaymentPending2,
		StateInspectionScheduled,
		StateInspectionCompleted,
		StateQASamplingPending,
		StateQAVerified,
		StateFinalApprovalPending,
		StateCertified,
		StateReInspectionRequested,
		StateRejected,
		StateExpired,
	}
}

// IsTerminal reports whether a state has no outgoing edges. certified is
// terminal for actors but still subject to the certificate-expiry sweep.
func IsTerminal(state string) bool {
	switch state {
	case StateRejected, StateExpired:
		return true
	}
	return false
}
