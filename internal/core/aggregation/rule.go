package aggregation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineRule defines one join-aggregate pipeline: which fact field to
// measure, how to reduce it, and the tumbling-window size. Rules are loaded
// at startup from YAML files; no hot reload.
type PipelineRule struct {
	Name       string `yaml:"name"`
	Operator   string `yaml:"operator"` // count, sum, min, max
	Field      string `yaml:"field"`    // fact data field to aggregate; empty for count
	WindowSize time.Duration
}

// rawRule is the on-disk YAML shape.
type rawRule struct {
	Name       string `yaml:"name"`
	Operator   string `yaml:"operator"`
	Field      string `yaml:"field"`
	WindowSize string `yaml:"window_size"`
}

// RuleRepository defines the interface for loading pipeline rules.
type RuleRepository interface {
	// Get returns the rule with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*PipelineRule, error)

	// Rules returns all loaded rules.
	Rules() []PipelineRule
}

// FileSystemRuleRepository loads pipeline rules from *.yaml files in a
// directory. Each file contains exactly one rule at the top level. Rules are
// loaded once at startup and cached in memory.
type FileSystemRuleRepository struct {
	dir               string
	defaultWindowSize time.Duration
	rules             map[string]PipelineRule // keyed by Name
}

// NewFileSystemRuleRepository creates a new repository and eagerly loads all
// rules from dir. Rules without an explicit window_size inherit
// defaultWindowSize. Returns an error if any rule file is malformed.
func NewFileSystemRuleRepository(dir string, defaultWindowSize time.Duration) (*FileSystemRuleRepository, error) {
	repo := &FileSystemRuleRepository{
		dir:               dir,
		defaultWindowSize: defaultWindowSize,
		rules:             make(map[string]PipelineRule),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRuleRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no rules directory is valid (zero pipelines configured)
	}
	if err != nil {
		return fmt.Errorf("pipeline rule dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("pipeline rule path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading pipeline rule dir: %w", err)
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

		if !ValidOperator(raw.Operator) {
			return fmt.Errorf("rule %q: unsupported operator %q", raw.Name, raw.Operator)
		}
		if raw.Operator != OpCount && raw.Field == "" {
			return fmt.Errorf("rule %q: field is required for operator %q", raw.Name, raw.Operator)
		}

		windowSize := r.defaultWindowSize
		if raw.WindowSize != "" {
			spec, err := ParseWindowSize(raw.WindowSize)
			if err != nil {
				return fmt.Errorf("rule %q: %w", raw.Name, err)
			}
			windowSize = spec.Size
		}

		if _, exists := r.rules[raw.Name]; exists {
			return fmt.Errorf("rule %q: duplicate rule name (check multiple YAML files)", raw.Name)
		}

		r.rules[raw.Name] = PipelineRule{
			Name:       raw.Name,
			Operator:   raw.Operator,
			Field:      raw.Field,
			WindowSize: windowSize,
		}
	}
	return nil
}

// Get returns the rule with the given name, or an error if not found.
func (r *FileSystemRuleRepository) Get(_ context.Context, name string) (*PipelineRule, error) {
	rule, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("pipeline rule %q not found", name)
	}
	return &rule, nil
}

// Rules returns all loaded rules.
func (r *FileSystemRuleRepository) Rules() []PipelineRule {
	rules := make([]PipelineRule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	return rules
}
