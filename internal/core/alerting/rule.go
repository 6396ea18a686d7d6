// Package alerting evaluates ingest-time alert rules: numeric payload fields
// compared against configured thresholds, producing alert records for the
// historical store.
package alerting

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
)

// Comparison operators a rule may use.
const (
	OpGreaterThan = "gt"
	OpGreaterOrEq = "gte"
	OpLessThan    = "lt"
	OpLessOrEq    = "lte"
)

// ValidOperator reports whether op is a supported comparison operator.
func ValidOperator(op string) bool {
	switch op {
	case OpGreaterThan, OpGreaterOrEq, OpLessThan, OpLessOrEq:
		return true
	}
	return false
}

// Severities a rule may assign to the alerts it raises.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ValidSeverity reports whether s is a recognized severity.
func ValidSeverity(s string) bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Rule defines one threshold check. Rules are loaded at startup from YAML
// files and fingerprinted for staleness detection.
type Rule struct {
	Name        string          `yaml:"name"`
	Topic       string          `yaml:"topic"`    // which topic's events this rule inspects
	Field       string          `yaml:"field"`    // numeric payload field to compare
	Operator    string          `yaml:"operator"` // gt, gte, lt, lte
	Threshold   decimal.Decimal // exact arithmetic; no float drift at the boundary
	Severity    string          `yaml:"severity"`
	Fingerprint string          // SHA-256 of the raw YAML file; computed at load time
}

// rawRule is the on-disk YAML shape.
type rawRule struct {
	Name      string `yaml:"name"`
	Topic     string `yaml:"topic"`
	Field     string `yaml:"field"`
	Operator  string `yaml:"operator"`
	Threshold string `yaml:"threshold"`
	Severity  string `yaml:"severity"`
}

// FileSystemRuleRepository loads alert rules from *.yaml files in a directory.
// Each file contains exactly one rule at the top level. Rules are loaded once
// at startup and cached in memory; no hot reload.
type FileSystemRuleRepository struct {
	dir   string
	rules map[string]Rule // keyed by Name
}

// NewFileSystemRuleRepository creates a new repository and eagerly loads all
// rules from dir. Returns an error if any rule file is malformed or invalid.
// A missing directory is valid and yields zero rules.
func NewFileSystemRuleRepository(dir string) (*FileSystemRuleRepository, error) {
	repo := &FileSystemRuleRepository{
		dir:   dir,
		rules: make(map[string]Rule),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRuleRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("alert rule dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("alert rule path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading alert rule dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading rule file %s: %w", path, err)
		}

		var raw rawRule
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing rule file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		rule, err := buildRule(raw, data)
		if err != nil {
			return err
		}

		if _, exists := r.rules[rule.Name]; exists {
			return fmt.Errorf("rule %q: duplicate rule name (check multiple YAML files)", rule.Name)
		}
		r.rules[rule.Name] = rule
	}
	return nil
}

func buildRule(raw rawRule, data []byte) (Rule, error) {
	if !v1.ValidTopic(raw.Topic) {
		return Rule{}, fmt.Errorf("rule %q: invalid topic %q", raw.Name, raw.Topic)
	}
	if raw.Field == "" {
		return Rule{}, fmt.Errorf("rule %q: field must not be empty", raw.Name)
	}
	if !ValidOperator(raw.Operator) {
		return Rule{}, fmt.Errorf("rule %q: unsupported operator %q", raw.Name, raw.Operator)
	}
	if !ValidSeverity(raw.Severity) {
		return Rule{}, fmt.Errorf("rule %q: unsupported severity %q", raw.Name, raw.Severity)
	}
	threshold, err := decimal.NewFromString(raw.Threshold)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: invalid threshold %q: %w", raw.Name, raw.Threshold, err)
	}

	return Rule{
		Name:        raw.Name,
		Topic:       raw.Topic,
		Field:       raw.Field,
		Operator:    raw.Operator,
		Threshold:   threshold,
		Severity:    raw.Severity,
		Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
	}, nil
}

// Get returns the rule with the given name, or an error if not found.
func (r *FileSystemRuleRepository) Get(name string) (*Rule, error) {
	rule, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("alert rule %q not found", name)
	}
	return &rule, nil
}

// GetRules returns all loaded rules as a slice.
func (r *FileSystemRuleRepository) GetRules() []Rule {
	rules := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	return rules
}
