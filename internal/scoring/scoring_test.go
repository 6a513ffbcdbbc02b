package scoring_test

import (
	"errors"
	"testing"

	"gacpline/internal/config"
	"gacpline/internal/scoring"
)

func defaultCCP() scoring.CCPPolicy {
	return scoring.CCPPolicyFromConfig(config.Default())
}

func fullScores(value int) map[string]int {
	scores := make(map[string]int, len(config.CCPIDs))
	for _, id := range config.CCPIDs {
		scores[id] = value
	}
	return scores
}

func TestCCPWeightedTotal(t *testing.T) {
	result, err := defaultCCP().Compute(map[string]int{
		"seed_quality":       85,
		"soil_management":    78,
		"pest_management":    92,
		"harvesting":         88,
		"post_harvest":       82,
		"storage_packaging":  76,
		"documentation":      94,
		"personnel_training": 89,
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.Total != 85.60 {
		t.Fatalf("total = %.2f, want 85.60", result.Total)
	}
	if !result.Passed {
		t.Fatalf("expected pass at 85.60 against threshold 75")
	}
}

func TestCCPBelowMinimumFailsRegardlessOfTotal(t *testing.T) {
	scores := fullScores(100)
	scores["seed_quality"] = 40 // below default minimum 50

	result, err := defaultCCP().Compute(scores)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// 100 - 60*0.15 = 91, comfortably above the threshold.
	if result.Total != 91.00 {
		t.Fatalf("total = %.2f, want 91.00", result.Total)
	}
	if result.Passed {
		t.Fatalf("expected failure with a control point below its minimum")
	}
	if len(result.BelowMinimum) != 1 || result.BelowMinimum[0] != "seed_quality" {
		t.Fatalf("below minimum = %v", result.BelowMinimum)
	}
}

func TestCCPRejectsIncompleteOrUnknownScores(t *testing.T) {
	p := defaultCCP()

	scores := fullScores(80)
	delete(scores, "harvesting")
	_, err := p.Compute(scores)
	var inv scoring.InvalidScoreInputError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid input for missing point, got %v", err)
	}

	scores = fullScores(80)
	delete(scores, "harvesting")
	scores["made_up"] = 80
	if _, err := p.Compute(scores); !errors.As(err, &inv) {
		t.Fatalf("expected invalid input for unknown point, got %v", err)
	}

	scores = fullScores(80)
	scores["harvesting"] = 101
	if _, err := p.Compute(scores); !errors.As(err, &inv) {
		t.Fatalf("expected invalid input for out-of-range score, got %v", err)
	}
}

func TestCourseFinalScoreWeights(t *testing.T) {
	total, err := scoring.ComputeCourseFinalScore(100, 80, 90)
	if err != nil {
		t.Fatal(err)
	}
	if total != 90 {
		t.Fatalf("total = %d, want 90", total)
	}

	// 0.4*85 + 0.4*75 + 0.2*60 = 76
	total, err = scoring.ComputeCourseFinalScore(85, 75, 60)
	if err != nil {
		t.Fatal(err)
	}
	if total != 76 {
		t.Fatalf("total = %d, want 76", total)
	}

	_, err = scoring.ComputeCourseFinalScore(100, -1, 50)
	var inv scoring.InvalidScoreInputError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestEvaluateCourseThresholds(t *testing.T) {
	result, err := scoring.EvaluateCourse(85, 75, 60, 70, 80)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed {
		t.Fatalf("expected pass at 76 against 70")
	}
	if result.CertificateEligible {
		t.Fatalf("76 must not earn a certificate requiring 80")
	}
}

func TestStandardsGapScoring(t *testing.T) {
	criteria := []scoring.Criterion{
		{ID: "water_source", Weight: 30, Met: true},
		{ID: "record_keeping", Weight: 20, Met: false},
		{ID: "storage", Weight: 40, Met: true},
		{ID: "training", Weight: 10, Met: false},
	}
	result, err := scoring.ComputeStandardsGap(criteria, 80)
	if err != nil {
		t.Fatal(err)
	}
	if result.ScorePercent != 70.00 {
		t.Fatalf("score = %.2f, want 70.00", result.ScorePercent)
	}
	if result.Certified {
		t.Fatalf("70 must not certify against 80")
	}
	// Gaps lead with the heaviest unmet criterion.
	if len(result.Gaps) != 2 || result.Gaps[0].ID != "record_keeping" || result.Gaps[1].ID != "training" {
		t.Fatalf("gaps = %+v", result.Gaps)
	}

	// Meeting the threshold exactly certifies.
	result, err = scoring.ComputeStandardsGap([]scoring.Criterion{
		{ID: "a", Weight: 4, Met: true},
		{ID: "b", Weight: 1, Met: false},
	}, 80)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Certified {
		t.Fatalf("expected certification at exactly 80.00")
	}

	if _, err := scoring.ComputeStandardsGap(nil, 80); err == nil {
		t.Fatalf("expected error for empty criteria")
	}
	if _, err := scoring.ComputeStandardsGap([]scoring.Criterion{{ID: "a", Weight: 0, Met: true}}, 80); err == nil {
		t.Fatalf("expected error for non-positive weight")
	}
}

func TestQAScore(t *testing.T) {
	score, err := scoring.ComputeQAScore(map[string]int{
		"documents":  90,
		"photos":     85,
		"report":     88,
		"compliance": 92,
	})
	if err != nil {
		t.Fatal(err)
	}
	if score != 89.00 {
		t.Fatalf("score = %.2f, want 89.00", score)
	}

	_, err = scoring.ComputeQAScore(map[string]int{"documents": 90})
	var inv scoring.InvalidScoreInputError
	if !errors.As(err, &inv) {
		t.Fatalf("expected invalid input for missing dimensions, got %v", err)
	}
}
