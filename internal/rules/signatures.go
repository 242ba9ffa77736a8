package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Signature is one local alert rule. A line matches when it contains any of Contains
// (case-insensitive) or matches Regex.
type Signature struct {
	ID       string   `yaml:"id"`
	Contains []string `yaml:"contains"`
	Regex    string   `yaml:"regex"`

	compiled *regexp.Regexp
	lowered  []string
}

// SignatureFile is the YAML root structure.
type SignatureFile struct {
	Rules []Signature `yaml:"rules"`
}

// SignaturePack is a RuleEngine evaluated in-process against a YAML rule file.
type SignaturePack struct {
	rules  []Signature
	logger *slog.Logger
}

// LoadSignaturePack loads rules from path. An empty path or a missing file returns a nil pack so
// callers can fall back to Passthrough.
func LoadSignaturePack(path string, logger *slog.Logger) (*SignaturePack, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file SignatureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse signature pack: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return NewSignaturePack(file.Rules, logger)
}

// NewSignaturePack compiles rules.
func NewSignaturePack(rules []Signature, logger *slog.Logger) (*SignaturePack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiled := make([]Signature, 0, len(rules))
	for _, r := range rules {
		if r.Regex != "" {
			re, err := regexp.Compile(r.Regex)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.ID, err)
			}
			r.compiled = re
		}
		for _, c := range r.Contains {
			if c != "" {
				r.lowered = append(r.lowered, strings.ToLower(c))
			}
		}
		if r.compiled == nil && len(r.lowered) == 0 {
			logger.Warn("skipping signature without conditions", slog.String("rule", r.ID))
			continue
		}
		compiled = append(compiled, r)
	}
	return &SignaturePack{rules: compiled, logger: logger}, nil
}

// Confirms reports whether any rule matches line.
func (p *SignaturePack) Confirms(_ context.Context, line string) bool {
	return p.Match(line) != ""
}

// Match returns the id of the first matching rule, or "".
func (p *SignaturePack) Match(line string) string {
	if p == nil {
		return ""
	}
	lower := strings.ToLower(line)
	for _, r := range p.rules {
		for _, c := range r.lowered {
			if strings.Contains(lower, c) {
				return r.ID
			}
		}
		if r.compiled != nil && r.compiled.MatchString(line) {
			return r.ID
		}
	}
	return ""
}

// Enabled reports true.
func (p *SignaturePack) Enabled() bool { return true }

// Name implements RuleEngine.
func (p *SignaturePack) Name() string { return "signatures" }

// Len returns the number of usable rules.
func (p *SignaturePack) Len() int {
	if p == nil {
		return 0
	}
	return len(p.rules)
}
