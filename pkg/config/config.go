// Package config provides typed configuration for the coach pipeline,
// loaded from ~/.coach/config.yaml, COACH_* environment variables, and flags.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Indicator is a weighted regex used for scope scoring.
type Indicator struct {
	Pattern string  `mapstructure:"pattern" yaml:"pattern"`
	Weight  float64 `mapstructure:"weight" yaml:"weight"`
}

// PatternsConfig holds the signal detection pattern tables. All patterns are
// case-insensitive regular expressions.
type PatternsConfig struct {
	Correction      []string `mapstructure:"correction" yaml:"correction"`
	Escalation      []string `mapstructure:"escalation" yaml:"escalation"`
	FailureStderr   []string `mapstructure:"failure_stderr" yaml:"failure_stderr"`
	FailureCommands []string `mapstructure:"failure_commands" yaml:"failure_commands"`
	SkillSupplement []string `mapstructure:"skill_supplement" yaml:"skill_supplement"`
	VersionIssue    []string `mapstructure:"version_issue" yaml:"version_issue"`
}

// ScopeConfig holds the project and global indicator vocabularies.
type ScopeConfig struct {
	Project []Indicator `mapstructure:"project" yaml:"project"`
	Global  []Indicator `mapstructure:"global" yaml:"global"`
}

// GeneratorConfig selects the candidate text generator.
type GeneratorConfig struct {
	// Provider is "template" (deterministic, default) or "anthropic".
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// Config is the full coach configuration.
type Config struct {
	BatchIntervalMinutes    int             `mapstructure:"batch_interval_minutes" yaml:"batch_interval_minutes"`
	MinEvidence             map[string]int  `mapstructure:"min_evidence" yaml:"min_evidence"`
	PromotionThresholdRepos int             `mapstructure:"promotion_threshold_repos" yaml:"promotion_threshold_repos"`
	ScopeIndicators         ScopeConfig     `mapstructure:"scope_indicators" yaml:"scope_indicators"`
	ForceProjectPatterns    []string        `mapstructure:"force_project_patterns" yaml:"force_project_patterns"`
	Generator               GeneratorConfig `mapstructure:"generator" yaml:"generator"`
	Patterns                PatternsConfig  `mapstructure:"patterns" yaml:"patterns"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BatchIntervalMinutes: 15,
		MinEvidence: map[string]int{
			"command_failure":  1,
			"user_correction":  2,
			"skill_supplement": 2,
			"repetition":       3,
			"version_issue":    1,
		},
		PromotionThresholdRepos: 2,
		ScopeIndicators: ScopeConfig{
			Project: []Indicator{
				{Pattern: `apps/`, Weight: 3},
				{Pattern: `packages/`, Weight: 2},
				{Pattern: `src/components/`, Weight: 2},
				{Pattern: `docker-compose\.`, Weight: 2},
				{Pattern: `\.env\.`, Weight: 2},
				{Pattern: `makefile`, Weight: 1},
				{Pattern: `\b(client|customer|vendor)\s+name`, Weight: 2},
				{Pattern: `\b(internal|proprietary)\b`, Weight: 2},
				{Pattern: `pnpm\s+-c\s+packages/`, Weight: 3},
				{Pattern: `\bnx\s+`, Weight: 2},
				{Pattern: `\bturbo\b`, Weight: 2},
			},
			Global: []Indicator{
				{Pattern: `\brun\s+tests?\b`, Weight: 3},
				{Pattern: `\bsmall\s+(pr|commit)`, Weight: 2},
				{Pattern: `\bcommit\s+message`, Weight: 2},
				{Pattern: `\bcode\s+review`, Weight: 2},
				{Pattern: `\bverify\s+before`, Weight: 2},
				{Pattern: `\bgit\b`, Weight: 2},
				{Pattern: `\bdocker\b`, Weight: 2},
				{Pattern: `\bnpm\b`, Weight: 1},
				{Pattern: `\byarn\b`, Weight: 1},
				{Pattern: `\bpython\b`, Weight: 1},
				{Pattern: `\bpytest\b`, Weight: 1},
				{Pattern: `\bjest\b`, Weight: 1},
				{Pattern: `\bdon'?t\s+edit\s+generated`, Weight: 3},
				{Pattern: `\bnever\s+commit\s+secrets`, Weight: 3},
				{Pattern: `\balways\s+backup`, Weight: 2},
				{Pattern: `\bcommand\s+not\s+found`, Weight: 2},
			},
		},
		ForceProjectPatterns: []string{
			"/home/**",
			"/users/**",
			"/tmp/**",
			"/var/**",
		},
		Generator: GeneratorConfig{
			Provider:  "template",
			Model:     "claude-3-5-haiku-latest",
			MaxTokens: 300,
		},
		Patterns: PatternsConfig{
			Correction: []string{
				`\bno\b`, `\bstop\b`, `\bdon'?t\b`, `i said`,
				`you didn'?t`, `why did you`, `that's wrong`,
				`not what i`, `i meant`, `should have`,
			},
			Escalation: []string{
				`!{2,}`, `\bagain\b`, `for the last time`,
				`how many times`, `already told you`,
			},
			FailureStderr: []string{
				`ENOENT`, `ECONNREFUSED`, `ETIMEDOUT`, `EPERM`,
				`command not found`, `permission denied`, `no such file`,
				`merge queue`, `not allowed`, `merge strategy`,
				`is not mergeable`, `required status`, `protected branch`,
				`not fast-forward`,
				`unauthorized`, `forbidden`, `rate limit`,
				`failed to`, `error:`, `FAILED`,
				`compilation failed`, `build failed`, `test failed`,
				`npm ERR`, `yarn error`, `pip error`,
				`fatal:`, `panic:`, `exception`, `traceback`,
			},
			FailureCommands: []string{
				`gh pr merge`, `git push`, `git rebase`,
				`npm install`, `docker build`,
			},
			SkillSupplement: []string{
				`also\s+(?:need|remember|make\s+sure)`,
				`but\s+(?:also|don'?t\s+forget)`,
				`(?:the\s+)?skill\s+(?:doesn'?t|does\s+not|didn'?t)`,
				`(?:it|skill)\s+(?:missed|forgot|should\s+also)`,
				`add\s+(?:this\s+)?to\s+(?:the\s+)?skill`,
				`update\s+(?:the\s+)?skill`,
				`skill\s+(?:is\s+)?(?:wrong|outdated|incomplete)`,
			},
			VersionIssue: []string{
				`(?:requires|needs|minimum)\s+(?:version\s+)?\d+\.[\d.]+`,
				`deprecated`, `obsolete`, `outdated`,
				`upgrade\s+(?:to\s+)?(?:version\s+)?\d+\.[\d.]+`,
				`unsupported\s+version`,
			},
		},
	}
}

// Load merges file and environment settings over the built-in defaults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	if cfg.BatchIntervalMinutes < 0 {
		return nil, errors.Errorf("batch_interval_minutes must be non-negative, got %d", cfg.BatchIntervalMinutes)
	}
	if cfg.PromotionThresholdRepos < 1 {
		return nil, errors.Errorf("promotion_threshold_repos must be at least 1, got %d", cfg.PromotionThresholdRepos)
	}
	return cfg, nil
}

// MinEvidenceFor returns the evidence threshold for a signal type key,
// falling back to 1 when the key is not configured.
func (c *Config) MinEvidenceFor(key string) int {
	if n, ok := c.MinEvidence[key]; ok {
		return n
	}
	return 1
}

// WriteDefault writes the default configuration as YAML to the given path.
// Existing files are left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return errors.Wrap(err, "failed to marshal default config")
	}

	header := []byte("# coach configuration\n# Values here override the built-in defaults.\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}
