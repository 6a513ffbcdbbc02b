package gacpsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal GACP certification HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Application represents the API application model (partial).
type Application struct {
	ID           string  `json:"id"`
	ApplicantID  string  `json:"applicant_id"`
	FarmName     string  `json:"farm_name"`
	CropType     string  `json:"crop_type"`
	FarmAreaRai  float64 `json:"farm_area_rai"`
	CurrentState string  `json:"current_state"`
	RiskTier     string  `json:"risk_tier"`
	ReviewMode   string  `json:"review_mode"`
	Version      int64   `json:"version"`
	CertifiedAt  string  `json:"certified_at,omitempty"`
	ExpiresAt    string  `json:"expires_at,omitempty"`
	UpdatedAt    string  `json:"updated_at"`
}

// HistoryEntry is one recorded transition.
type HistoryEntry struct {
	ApplicationID string `json:"application_id"`
	FromState     string `json:"from_state"`
	ToState       string `json:"to_state"`
	ActorID       string `json:"actor_id"`
	ActorRole     string `json:"actor_role"`
	Reason        string `json:"reason,omitempty"`
	At            string `json:"at"`
}

// Inspection represents a recorded CCP inspection.
type Inspection struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"application_id"`
	Mode          string         `json:"mode"`
	CCPScores     map[string]int `json:"ccp_scores"`
	TotalScore    float64        `json:"total_score"`
	Passed        bool           `json:"passed"`
	ConductedAt   string         `json:"conducted_at"`
}

// Enrollment represents a course enrollment.
type Enrollment struct {
	ID                 string `json:"id"`
	FarmerID           string `json:"farmer_id"`
	CourseID           string `json:"course_id"`
	Status             string `json:"status"`
	ModuleCompletion   int    `json:"module_completion_pct"`
	AssessmentScore    int    `json:"assessment_score_pct"`
	ParticipationScore int    `json:"participation_score_pct"`
	AssessmentAttempts int    `json:"assessment_attempts"`
	FinalScore         *int   `json:"final_score,omitempty"`
	CertificateEarned  bool   `json:"certificate_earned"`
}

// Event represents a log entry. Payload is the raw JSON document recorded
// with the event.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitApplication submits a new application.
func (c *Client) SubmitApplication(ctx context.Context, applicantID, farmName, cropType string, farmAreaRai float64, priorViolations int) (Application, error) {
	body := map[string]any{
		"applicant_id":     applicantID,
		"farm_name":        farmName,
		"crop_type":        cropType,
		"farm_area_rai":    farmAreaRai,
		"prior_violations": priorViolations,
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, "v0/applications", body, &resp)
	return resp, err
}

// GetApplication fetches an application by id.
func (c *Client) GetApplication(ctx context.Context, id string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodGet, "v0/applications/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListApplications lists applications, optionally filtered by state.
func (c *Client) ListApplications(ctx context.Context, state string) ([]Application, error) {
	endpoint := "v0/applications"
	if state != "" {
		endpoint += "?state=" + url.QueryEscape(state)
	}
	var resp []Application
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition moves an application to a target state.
func (c *Client) Transition(ctx context.Context, id, target, reason string) (Application, error) {
	body := map[string]any{
		"target": target,
		"reason": reason,
	}
	var resp Application
	endpoint := fmt.Sprintf("v0/applications/%s/transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// History returns the transition history of an application.
func (c *Client) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := fmt.Sprintf("v0/applications/%s/history", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkPaid records a payment for one phase.
func (c *Client) MarkPaid(ctx context.Context, id string, phase int, receiptRef string) (Application, error) {
	body := map[string]any{"receipt_ref": receiptRef}
	var resp Application
	endpoint := fmt.Sprintf("v0/applications/%s/payments/%d/paid", url.PathEscape(id), phase)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RecordInspection records a CCP inspection.
func (c *Client) RecordInspection(ctx context.Context, id string, scores map[string]int, mode string) (Inspection, error) {
	body := map[string]any{
		"ccp_scores": scores,
		"mode":       mode,
	}
	var resp Inspection
	endpoint := fmt.Sprintf("v0/applications/%s/inspections", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Enroll enrolls a farmer in a training course.
func (c *Client) Enroll(ctx context.Context, farmerID, courseID string) (Enrollment, error) {
	body := map[string]any{
		"farmer_id": farmerID,
		"course_id": courseID,
	}
	var resp Enrollment
	err := c.do(ctx, http.MethodPost, "v0/enrollments", body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
