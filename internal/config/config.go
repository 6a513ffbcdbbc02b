package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gacpline.yml. Every numeric policy the engine applies comes
// from here; the engine itself hard-codes nothing but the state graph.
type Config struct {
	Scoring struct {
		CCP struct {
			PassThreshold  float64        `yaml:"pass_threshold"`
			Weights        map[string]int `yaml:"weights"`
			Minimums       map[string]int `yaml:"minimums"`
			DefaultMinimum int            `yaml:"default_minimum"`
		} `yaml:"ccp"`
		Standards struct {
			CertifiedThreshold float64 `yaml:"certified_threshold"`
		} `yaml:"standards"`
	} `yaml:"scoring"`

	Sampling struct {
		MediumRate float64 `yaml:"medium_rate"`
		LowRate    float64 `yaml:"low_rate"`
	} `yaml:"sampling"`

	Risk struct {
		ControlledCrops        []string `yaml:"controlled_crops"`
		ViolationHighThreshold int      `yaml:"violation_high_threshold"`
		LargeFarmRai           float64  `yaml:"large_farm_rai"`
	} `yaml:"risk"`

	Payments struct {
		Phase1 PhaseConfig `yaml:"phase1"`
		Phase2 PhaseConfig `yaml:"phase2"`
	} `yaml:"payments"`

	Workflow struct {
		MaxReinspections        int `yaml:"max_reinspections"`
		CertificateValidityDays int `yaml:"certificate_validity_days"`
	} `yaml:"workflow"`

	Courses struct {
		PassingScore          int `yaml:"passing_score"`
		CertificateScore      int `yaml:"certificate_score"`
		MaxAssessmentAttempts int `yaml:"max_assessment_attempts"`
	} `yaml:"courses"`

	Retry struct {
		BaseMS      int `yaml:"base_ms"`
		CapMS       int `yaml:"cap_ms"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"retry"`

	Reports struct {
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"reports"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type PhaseConfig struct {
	AmountTHB    int64 `yaml:"amount_thb"`
	DeadlineDays int   `yaml:"deadline_days"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// CCPIDs are the eight fixed control points every inspection scores.
var CCPIDs = []string{
	"seed_quality",
	"soil_management",
	"pest_management",
	"harvesting",
	"post_harvest",
	"storage_packaging",
	"documentation",
	"personnel_training",
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with gacp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gacpline.yml")
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	sum := 0
	for _, id := range CCPIDs {
		w, ok := c.Scoring.CCP.Weights[id]
		if !ok {
			return fmt.Errorf("scoring.ccp.weights missing control point %s", id)
		}
		if w <= 0 {
			return fmt.Errorf("scoring.ccp.weights.%s must be positive", id)
		}
		sum += w
	}
	if len(c.Scoring.CCP.Weights) != len(CCPIDs) {
		return fmt.Errorf("scoring.ccp.weights must contain exactly %d control points", len(CCPIDs))
	}
	if sum != 100 {
		return fmt.Errorf("scoring.ccp.weights must sum to 100, got %d", sum)
	}
	for id, m := range c.Scoring.CCP.Minimums {
		if !knownCCP(id) {
			return fmt.Errorf("scoring.ccp.minimums contains unknown control point %s", id)
		}
		if m < 0 || m > 100 {
			return fmt.Errorf("scoring.ccp.minimums.%s must be 0-100", id)
		}
	}
	if c.Scoring.CCP.PassThreshold <= 0 || c.Scoring.CCP.PassThreshold > 100 {
		return fmt.Errorf("scoring.ccp.pass_threshold must be in (0,100]")
	}
	if c.Scoring.CCP.DefaultMinimum < 0 || c.Scoring.CCP.DefaultMinimum > 100 {
		return fmt.Errorf("scoring.ccp.default_minimum must be 0-100")
	}
	if c.Scoring.Standards.CertifiedThreshold <= 0 || c.Scoring.Standards.CertifiedThreshold > 100 {
		return fmt.Errorf("scoring.standards.certified_threshold must be in (0,100]")
	}
	if c.Sampling.MediumRate < 0 || c.Sampling.MediumRate > 1 {
		return fmt.Errorf("sampling.medium_rate must be 0-1")
	}
	if c.Sampling.LowRate < 0 || c.Sampling.LowRate > 1 {
		return fmt.Errorf("sampling.low_rate must be 0-1")
	}
	if c.Risk.ViolationHighThreshold < 1 {
		return fmt.Errorf("risk.violation_high_threshold must be at least 1")
	}
	if c.Payments.Phase1.AmountTHB <= 0 || c.Payments.Phase2.AmountTHB <= 0 {
		return fmt.Errorf("payment phase amounts must be positive")
	}
	if c.Payments.Phase1.DeadlineDays <= 0 || c.Payments.Phase2.DeadlineDays <= 0 {
		return fmt.Errorf("payment phase deadlines must be positive")
	}
	if c.Workflow.MaxReinspections < 0 {
		return fmt.Errorf("workflow.max_reinspections must not be negative")
	}
	if c.Courses.PassingScore <= 0 || c.Courses.PassingScore > 100 {
		return fmt.Errorf("courses.passing_score must be in (0,100]")
	}
	if c.Courses.CertificateScore < c.Courses.PassingScore {
		return fmt.Errorf("courses.certificate_score must not be below passing_score")
	}
	if c.Courses.MaxAssessmentAttempts < 1 {
		return fmt.Errorf("courses.max_assessment_attempts must be at least 1")
	}
	if c.Retry.BaseMS <= 0 || c.Retry.CapMS < c.Retry.BaseMS || c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry policy must have positive base, cap >= base and at least one attempt")
	}
	if c.Reports.MaxRetries < 0 {
		return fmt.Errorf("reports.max_retries must not be negative")
	}
	return nil
}

func knownCCP(id string) bool {
	for _, known := range CCPIDs {
		if id == known {
			return true
		}
	}
	return false
}

// CCPMinimum returns the per-CCP minimum, falling back to the default.
func (c *Config) CCPMinimum(id string) int {
	if m, ok := c.Scoring.CCP.Minimums[id]; ok {
		return m
	}
	return c.Scoring.CCP.DefaultMinimum
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `scoring:
  ccp:
    pass_threshold: 75
    default_minimum: 50
    weights:
      seed_quality: 15
      soil_management: 15
      pest_management: 15
      harvesting: 10
      post_harvest: 10
      storage_packaging: 10
      documentation: 10
      personnel_training: 15
    minimums: {}
  standards:
    certified_threshold: 80

sampling:
  medium_rate: 0.30
  low_rate: 0.10

risk:
  controlled_crops: [cannabis, hemp, kratom]
  violation_high_threshold: 2
  large_farm_rai: 50

payments:
  phase1:
    amount_thb: 5000
    deadline_days: 7
  phase2:
    amount_thb: 25000
    deadline_days: 14

workflow:
  max_reinspections: 3
  certificate_validity_days: 1095

courses:
  passing_score: 70
  certificate_score: 80
  max_assessment_attempts: 3

retry:
  base_ms: 200
  cap_ms: 30000
  max_attempts: 5

reports:
  max_retries: 3
`
