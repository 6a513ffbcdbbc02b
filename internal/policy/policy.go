// Package policy holds the risk-tier rule and the QA sampling decision. Both
// are pure: the same inputs always produce the same answer, so sampling
// outcomes can be replayed in tests and audits.
package policy

import (
	"hash/fnv"
	"strings"

	"gacpline/internal/config"
	"gacpline/internal/domain"
)

// Snapshot is the application data the risk rule looks at. It is captured at
// submission; the resulting tier is cached on the application and only
// re-evaluated on an explicit re-submission.
type Snapshot struct {
	CropType        string
	FarmAreaRai     float64
	PriorViolations int
}

// Rules carries the configured thresholds for both decisions.
type Rules struct {
	ControlledCrops        []string
	ViolationHighThreshold int
	LargeFarmRai           float64
	MediumRate             float64
	LowRate                float64
}

// FromConfig builds Rules from engine configuration.
func FromConfig(cfg *config.Config) Rules {
	return Rules{
		ControlledCrops:        cfg.Risk.ControlledCrops,
		ViolationHighThreshold: cfg.Risk.ViolationHighThreshold,
		LargeFarmRai:           cfg.Risk.LargeFarmRai,
		MediumRate:             cfg.Sampling.MediumRate,
		LowRate:                cfg.Sampling.LowRate,
	}
}

// AssignRiskTier classifies an application. Controlled-substance crops and
// repeat violators are always high risk; a single prior violation or a farm
// above the large-farm threshold is medium; everything else is low.
func (r Rules) AssignRiskTier(s Snapshot) string {
	crop := strings.ToLower(strings.TrimSpace(s.CropType))
	for _, controlled := range r.ControlledCrops {
		if crop == strings.ToLower(controlled) {
			return domain.RiskHigh
		}
	}
	if s.PriorViolations >= r.ViolationHighThreshold {
		return domain.RiskHigh
	}
	if s.PriorViolations > 0 || s.FarmAreaRai >= r.LargeFarmRai {
		return domain.RiskMedium
	}
	return domain.RiskLow
}

// RequiresQA decides whether an application must pass QA verification. High
// tier is always sampled; medium and low tiers are sampled at their configured
// rates using a hash of the selection seed, so repeated calls with the same
// (tier, rates, seed) agree.
func (r Rules) RequiresQA(riskTier, seed string) bool {
	var rate float64
	switch riskTier {
	case domain.RiskHigh:
		return true
	case domain.RiskMedium:
		rate = r.MediumRate
	case domain.RiskLow:
		rate = r.LowRate
	default:
		return true
	}
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	return draw(seed) < rate
}

// draw maps a seed to a uniform value in [0,1).
func draw(seed string) float64 {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return float64(h.Sum64()%10000) / 10000
}
