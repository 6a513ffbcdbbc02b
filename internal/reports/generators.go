package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gacpline/internal/domain"
	"gacpline/internal/repo"
)

// Built-in report types.
const (
	TypeStateSummary   = "state_summary"
	TypeCertifications = "certifications"
)

// StateSummaryGenerator writes a JSON count of applications per state into
// the workspace reports directory.
type StateSummaryGenerator struct {
	Repo repo.Repo
	Dir  string
}

func (g StateSummaryGenerator) Generate(ctx context.Context, rep domain.ScheduledReport) error {
	counts := map[string]int{}
	for _, state := range domain.States() {
		apps, err := g.Repo.ListApplications(ctx, repo.ApplicationFilters{State: state})
		if err != nil {
			return err
		}
		if len(apps) > 0 {
			counts[state] = len(apps)
		}
	}
	return writeReportFile(g.Dir, rep, map[string]any{
		"report":          rep.Type,
		"counts_by_state": counts,
	})
}

// CertificationsGenerator writes the currently certified applications with
// their certification timestamps.
type CertificationsGenerator struct {
	Repo repo.Repo
	Dir  string
}

func (g CertificationsGenerator) Generate(ctx context.Context, rep domain.ScheduledReport) error {
	apps, err := g.Repo.ListApplicationsInStates(ctx, domain.StateCertified)
	if err != nil {
		return err
	}
	type entry struct {
		ApplicationID string `json:"application_id"`
		ApplicantID   string `json:"applicant_id"`
		CropType      string `json:"crop_type"`
		RiskTier      string `json:"risk_tier"`
		CertifiedAt   string `json:"certified_at,omitempty"`
	}
	entries := make([]entry, 0, len(apps))
	for _, app := range apps {
		e := entry{
			ApplicationID: app.ID,
			ApplicantID:   app.ApplicantID,
			CropType:      app.CropType,
			RiskTier:      app.RiskTier,
		}
		if app.CertifiedAt != nil {
			e.CertifiedAt = *app.CertifiedAt
		}
		entries = append(entries, e)
	}
	return writeReportFile(g.Dir, rep, map[string]any{
		"report":         rep.Type,
		"certifications": entries,
	})
}

func writeReportFile(dir string, rep domain.ScheduledReport, body map[string]any) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	body["generated_at"] = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s.json", rep.Type, rep.ID)
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
