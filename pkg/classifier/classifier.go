// Package classifier loads the YAML business-rule set that decides whether a
// permit is subject to resource-rent taxation (grunnrente) and exposes it as
// an opaque predicate. The engine receives a Classifier at construction and
// never reads rule configuration from ambient state.
package classifier

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/havbruk/aquahist/pkg/permit"
)

// DefaultFilterName is the rule set consulted by the daily reconciliation.
const DefaultFilterName = "Grunnrenteskatteplikt"

// Classifier decides whether a normalized record is subject to the
// regulatory flag.
type Classifier interface {
	Liable(rec permit.Record) bool
}

// Rule matches when the record's column value contains at least one of the
// tokens.
type Rule struct {
	Col        string   `yaml:"col"`
	IncludeAny []string `yaml:"include_any"`
}

// RuleSet is a named conjunction of rules: every rule must match.
type RuleSet struct {
	Name  string `yaml:"name"`
	Rules []Rule `yaml:"rules"`
}

type filterFile struct {
	Filters []RuleSet `yaml:"filters"`
}

// Load reads a filter file and returns the named rule set.
func Load(path, name string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rules %q: %w", path, err)
	}
	var f filterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %q: %w", path, err)
	}
	for i := range f.Filters {
		if f.Filters[i].Name == name {
			return &f.Filters[i], nil
		}
	}
	return nil, fmt.Errorf("rules %q: no filter named %q", path, name)
}

// Liable reports whether rec matches every rule of the set.
func (rs *RuleSet) Liable(rec permit.Record) bool {
	for _, r := range rs.Rules {
		val := rec.Clean(r.Col)
		if !containsAny(val, r.IncludeAny) {
			return false
		}
	}
	return true
}

func containsAny(val string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(val, tok) {
			return true
		}
	}
	return false
}

// Always returns a classifier with a fixed verdict. Used in tests and when
// no rule file is configured.
func Always(v bool) Classifier { return constClassifier(v) }

type constClassifier bool

func (c constClassifier) Liable(permit.Record) bool { return bool(c) }
