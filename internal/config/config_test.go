package config_test

import (
	"strings"
	"testing"

	"gacpline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scoring.CCP.PassThreshold != 75 {
		t.Fatalf("pass threshold = %v", cfg.Scoring.CCP.PassThreshold)
	}
	sum := 0
	for _, id := range config.CCPIDs {
		sum += cfg.Scoring.CCP.Weights[id]
	}
	if sum != 100 {
		t.Fatalf("default CCP weights sum to %d", sum)
	}
}

func TestWeightsMustSumToHundred(t *testing.T) {
	yaml := strings.Replace(config.GenerateDefault(), "seed_quality: 15", "seed_quality: 20", 1)
	if _, err := config.FromYAML([]byte(yaml)); err == nil {
		t.Fatalf("expected weight-sum validation to fail")
	}
}

func TestMissingControlPointRejected(t *testing.T) {
	yaml := strings.Replace(config.GenerateDefault(), "      harvesting: 10\n", "", 1)
	if _, err := config.FromYAML([]byte(yaml)); err == nil {
		t.Fatalf("expected missing control point to fail")
	}
}

func TestMalformedYAMLRejected(t *testing.T) {
	if _, err := config.FromYAML([]byte("scoring: [not a map")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCCPMinimumFallsBackToDefault(t *testing.T) {
	yaml := strings.Replace(config.GenerateDefault(), "minimums: {}", "minimums:\n      documentation: 70", 1)
	cfg, err := config.FromYAML([]byte(yaml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if got := cfg.CCPMinimum("documentation"); got != 70 {
		t.Fatalf("documentation minimum = %d, want 70", got)
	}
	if got := cfg.CCPMinimum("harvesting"); got != 50 {
		t.Fatalf("harvesting minimum = %d, want default 50", got)
	}
}

func TestCertificateScoreMustCoverPassingScore(t *testing.T) {
	yaml := strings.Replace(config.GenerateDefault(), "certificate_score: 80", "certificate_score: 60", 1)
	if _, err := config.FromYAML([]byte(yaml)); err == nil {
		t.Fatalf("expected certificate score below passing score to fail")
	}
}
