// Package scoring holds the pure score computations behind certification
// decisions: CCP inspection scoring, training-course final scores and
// standards-comparison gap scoring. Nothing here touches storage; callers
// persist the results.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"gacpline/internal/config"
)

// InvalidScoreInputError rejects malformed scoring input before any
// computation happens. It is permanent: the caller must fix the input.
type InvalidScoreInputError struct {
	Field  string
	Reason string
}

func (e InvalidScoreInputError) Error() string {
	return fmt.Sprintf("invalid score input %s: %s", e.Field, e.Reason)
}

// CCPPolicy is the weighted Critical-Control-Point scoring rule. Weights must
// cover exactly the eight fixed control points and sum to 100.
type CCPPolicy struct {
	Weights        map[string]int
	Minimums       map[string]int
	DefaultMinimum int
	PassThreshold  float64
}

// CCPPolicyFromConfig builds the policy from engine configuration.
func CCPPolicyFromConfig(cfg *config.Config) CCPPolicy {
	return CCPPolicy{
		Weights:        cfg.Scoring.CCP.Weights,
		Minimums:       cfg.Scoring.CCP.Minimums,
		DefaultMinimum: cfg.Scoring.CCP.DefaultMinimum,
		PassThreshold:  cfg.Scoring.CCP.PassThreshold,
	}
}

type CCPResult struct {
	Total  float64  `json:"total"`
	Passed bool     `json:"passed"`
	// BelowMinimum lists control points under their individual floor. A single
	// entry fails the inspection no matter how high the total is.
	BelowMinimum []string `json:"below_minimum,omitempty"`
}

func (p CCPPolicy) minimum(id string) int {
	if m, ok := p.Minimums[id]; ok {
		return m
	}
	return p.DefaultMinimum
}

// Compute derives the weighted total and pass flag from the eight CCP scores.
// The total is always recomputed from the raw scores; it is never accepted
// from the caller. Iteration follows the fixed CCP order so the result is
// identical regardless of input map ordering.
func (p CCPPolicy) Compute(scores map[string]int) (CCPResult, error) {
	if len(scores) != len(config.CCPIDs) {
		return CCPResult{}, InvalidScoreInputError{
			Field:  "ccp_scores",
			Reason: fmt.Sprintf("expected exactly %d control points, got %d", len(config.CCPIDs), len(scores)),
		}
	}
	for id := range scores {
		if _, ok := p.Weights[id]; !ok {
			return CCPResult{}, InvalidScoreInputError{Field: id, Reason: "unknown control point"}
		}
	}
	var total float64
	var below []string
	for _, id := range config.CCPIDs {
		score, ok := scores[id]
		if !ok {
			return CCPResult{}, InvalidScoreInputError{Field: id, Reason: "missing control point"}
		}
		if score < 0 || score > 100 {
			return CCPResult{}, InvalidScoreInputError{Field: id, Reason: fmt.Sprintf("score %d outside 0-100", score)}
		}
		total += float64(score) * float64(p.Weights[id]) / 100
		if score < p.minimum(id) {
			below = append(below, id)
		}
	}
	total = math.Round(total*100) / 100
	return CCPResult{
		Total:        total,
		Passed:       total >= p.PassThreshold && len(below) == 0,
		BelowMinimum: below,
	}, nil
}

// Course final score weights: modules 40%, assessment 40%, participation 20%.
const (
	courseModuleWeight        = 0.4
	courseAssessmentWeight    = 0.4
	courseParticipationWeight = 0.2
)

type CourseResult struct {
	Total               int  `json:"total"`
	Passed              bool `json:"passed"`
	CertificateEligible bool `json:"certificate_eligible"`
}

// ComputeCourseFinalScore returns the weighted course total rounded to the
// nearest integer.
func ComputeCourseFinalScore(modulePct, assessmentPct, participationPct int) (int, error) {
	for _, in := range []struct {
		field string
		value int
	}{
		{"module_completion_pct", modulePct},
		{"assessment_score_pct", assessmentPct},
		{"participation_score_pct", participationPct},
	} {
		if in.value < 0 || in.value > 100 {
			return 0, InvalidScoreInputError{Field: in.field, Reason: fmt.Sprintf("value %d outside 0-100", in.value)}
		}
	}
	total := courseModuleWeight*float64(modulePct) +
		courseAssessmentWeight*float64(assessmentPct) +
		courseParticipationWeight*float64(participationPct)
	return int(math.Round(total)), nil
}

// EvaluateCourse computes the final score and checks it against the course
// passing score and the (possibly stricter) certificate-required score.
func EvaluateCourse(modulePct, assessmentPct, participationPct, passingScore, certificateScore int) (CourseResult, error) {
	total, err := ComputeCourseFinalScore(modulePct, assessmentPct, participationPct)
	if err != nil {
		return CourseResult{}, err
	}
	return CourseResult{
		Total:               total,
		Passed:              total >= passingScore,
		CertificateEligible: total >= certificateScore,
	}, nil
}

// Criterion is one weighted requirement in a standards comparison.
type Criterion struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
	Met    bool   `json:"met"`
}

type GapResult struct {
	ScorePercent float64 `json:"score_percent"`
	Certified    bool    `json:"certified"`
	// Gaps lists unmet criteria, heaviest first, so downstream recommendations
	// lead with the critical items.
	Gaps []Criterion `json:"gaps,omitempty"`
}

// ComputeStandardsGap scores how much of the weighted standard is met.
func ComputeStandardsGap(criteria []Criterion, certifiedThreshold float64) (GapResult, error) {
	if len(criteria) == 0 {
		return GapResult{}, InvalidScoreInputError{Field: "criteria", Reason: "at least one criterion required"}
	}
	totalWeight := 0
	metWeight := 0
	var gaps []Criterion
	for _, c := range criteria {
		if c.Weight <= 0 {
			return GapResult{}, InvalidScoreInputError{Field: c.ID, Reason: "weight must be positive"}
		}
		totalWeight += c.Weight
		if c.Met {
			metWeight += c.Weight
		} else {
			gaps = append(gaps, c)
		}
	}
	sort.SliceStable(gaps, func(i, j int) bool { return gaps[i].Weight > gaps[j].Weight })
	score := float64(metWeight) / float64(totalWeight) * 100
	score = math.Round(score*100) / 100
	return GapResult{
		ScorePercent: score,
		Certified:    score >= certifiedThreshold,
		Gaps:         gaps,
	}, nil
}

// QA checklist dimensions and weights. The four dimensions of a verification
// pass contribute a plain weighted average; fixed order keeps the float sum
// deterministic.
var qaChecklist = []struct {
	Dim    string
	Weight int
}{
	{"documents", 30},
	{"photos", 20},
	{"report", 25},
	{"compliance", 25},
}

// ComputeQAScore derives the weighted QA score from the four checklist
// dimensions.
func ComputeQAScore(checklist map[string]int) (float64, error) {
	if len(checklist) != len(qaChecklist) {
		return 0, InvalidScoreInputError{Field: "checklist_scores", Reason: "expected documents, photos, report and compliance scores"}
	}
	var total float64
	for _, entry := range qaChecklist {
		score, ok := checklist[entry.Dim]
		if !ok {
			return 0, InvalidScoreInputError{Field: entry.Dim, Reason: "missing checklist dimension"}
		}
		if score < 0 || score > 100 {
			return 0, InvalidScoreInputError{Field: entry.Dim, Reason: fmt.Sprintf("score %d outside 0-100", score)}
		}
		total += float64(score) * float64(entry.Weight) / 100
	}
	return math.Round(total*100) / 100, nil
}
