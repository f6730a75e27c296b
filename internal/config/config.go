// Package config loads and validates the runr configuration file,
// following the teacher's single-struct-plus-Validate pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level resolved configuration for a run.
type Config struct {
	Scope        ScopeConfig        `yaml:"scope"`
	Verification VerificationConfig `yaml:"verification"`
	Workflow     WorkflowConfig     `yaml:"workflow"`
	Workers      map[string]Worker  `yaml:"workers"`
	Resilience   ResilienceConfig   `yaml:"resilience"`
}

// ScopeConfig configures the Scope Guard (spec.md §4.4, §6.4).
type ScopeConfig struct {
	Allowlist    []string `yaml:"allowlist,omitempty"`
	Denylist     []string `yaml:"denylist,omitempty"`
	Lockfiles    []string `yaml:"lockfiles,omitempty"`
	Presets      []string `yaml:"presets,omitempty"`
	EnvAllowlist []string `yaml:"env_allowlist,omitempty"`
	AllowDeps    bool     `yaml:"allow_deps,omitempty"`
	OwnedPaths   []string `yaml:"owned_paths,omitempty"`
}

// RiskTrigger maps a set of changed-file glob patterns to the
// verification tier they force (spec.md §4.6).
type RiskTrigger struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
	Tier     string   `yaml:"tier"`
}

// VerificationConfig configures the Verification Engine and Policy
// (spec.md §4.5, §4.6, §6.4).
type VerificationConfig struct {
	Tier0                     []string      `yaml:"tier0,omitempty"`
	Tier1                     []string      `yaml:"tier1,omitempty"`
	Tier2                     []string      `yaml:"tier2,omitempty"`
	RiskTriggers              []RiskTrigger `yaml:"risk_triggers,omitempty"`
	MaxVerifyTimePerMilestone Duration      `yaml:"max_verify_time_per_milestone,omitempty"`
	Cwd                       string        `yaml:"cwd,omitempty"`
}

// WorkflowConfig configures the integration profile (spec.md §6.4).
type WorkflowConfig struct {
	Profile          string `yaml:"profile,omitempty"` // solo|pr|trunk
	MaxReviewRounds  int    `yaml:"max_review_rounds,omitempty"`
	TargetBranch     string `yaml:"target_branch,omitempty"`
	RequireVerify    bool   `yaml:"require_verification,omitempty"`
	RequireCleanTree bool   `yaml:"require_clean_tree,omitempty"`
	SubmitStrategy   string `yaml:"submit_strategy,omitempty"`
}

// Worker configures one worker role (planner, implementer, reviewer).
type Worker struct {
	Bin    string   `yaml:"bin"`
	Args   []string `yaml:"args,omitempty"`
	Output string   `yaml:"output,omitempty"` // text|json|jsonl
}

// ResilienceConfig configures the Auto-Resume Watcher (spec.md §4.11).
type ResilienceConfig struct {
	AutoResume     bool `yaml:"auto_resume,omitempty"`
	MaxAutoResumes int  `yaml:"max_auto_resumes,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like
// "10s", matching the teacher's internal/config.Duration exactly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// workflowProfileDefaults mirrors spec.md §6.4: workflow.profile picks
// the default integration branch, require_verification, require_clean_tree,
// and submit_strategy unless the config overrides them explicitly. For
// require_verification and require_clean_tree only a true value counts as
// an override: an explicit false does not replace a profile default of true.
var workflowProfileDefaults = map[string]WorkflowConfig{
	"solo": {
		TargetBranch:     "main",
		RequireVerify:    false,
		RequireCleanTree: false,
		SubmitStrategy:   "cherry-pick",
	},
	"pr": {
		TargetBranch:     "main",
		RequireVerify:    true,
		RequireCleanTree: true,
		SubmitStrategy:   "cherry-pick",
	},
	"trunk": {
		TargetBranch:     "trunk",
		RequireVerify:    true,
		RequireCleanTree: true,
		SubmitStrategy:   "cherry-pick",
	},
}

// Load reads and parses a config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes into a Config, applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workflow.Profile == "" {
		cfg.Workflow.Profile = "solo"
	}
	if defaults, ok := workflowProfileDefaults[cfg.Workflow.Profile]; ok {
		if cfg.Workflow.TargetBranch == "" {
			cfg.Workflow.TargetBranch = defaults.TargetBranch
		}
		if cfg.Workflow.SubmitStrategy == "" {
			cfg.Workflow.SubmitStrategy = defaults.SubmitStrategy
		}
		if !cfg.Workflow.RequireVerify {
			cfg.Workflow.RequireVerify = defaults.RequireVerify
		}
		if !cfg.Workflow.RequireCleanTree {
			cfg.Workflow.RequireCleanTree = defaults.RequireCleanTree
		}
	}
	if cfg.Workflow.MaxReviewRounds == 0 {
		cfg.Workflow.MaxReviewRounds = 2
	}
	if cfg.Verification.MaxVerifyTimePerMilestone == 0 {
		cfg.Verification.MaxVerifyTimePerMilestone = Duration(10 * time.Minute)
	}
	if cfg.Resilience.MaxAutoResumes == 0 {
		cfg.Resilience.MaxAutoResumes = 3
	}
}

// Validate checks a Config for structural errors, returning every
// problem found rather than stopping at the first (matching the
// teacher's config.Validate convention).
func Validate(cfg *Config) []error {
	var errs []error

	if len(cfg.Workers) == 0 {
		errs = append(errs, fmt.Errorf("at least one worker role is required"))
	}
	for role, w := range cfg.Workers {
		if w.Bin == "" {
			errs = append(errs, fmt.Errorf("workers.%s: bin is required", role))
		}
		switch w.Output {
		case "", "text", "json", "jsonl":
		default:
			errs = append(errs, fmt.Errorf("workers.%s: unknown output protocol %q", role, w.Output))
		}
	}

	switch cfg.Workflow.Profile {
	case "solo", "pr", "trunk":
	default:
		errs = append(errs, fmt.Errorf("workflow.profile: unknown profile %q", cfg.Workflow.Profile))
	}

	names := make(map[string]bool)
	for i, t := range cfg.Verification.RiskTriggers {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("verification.risk_triggers[%d]: name is required", i))
		} else if names[t.Name] {
			errs = append(errs, fmt.Errorf("verification.risk_triggers[%d]: duplicate name %q", i, t.Name))
		} else {
			names[t.Name] = true
		}
		if len(t.Patterns) == 0 {
			errs = append(errs, fmt.Errorf("verification.risk_triggers[%d] (%s): patterns is required", i, t.Name))
		}
		switch t.Tier {
		case "tier1", "tier2":
		default:
			errs = append(errs, fmt.Errorf("verification.risk_triggers[%d] (%s): tier must be tier1 or tier2", i, t.Name))
		}
	}

	return errs
}
