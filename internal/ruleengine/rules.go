// Package ruleengine evaluates an ordered, hot-reloadable set of rules
// against each flow and returns the first matching action: forward,
// block, or a header/body mutation applied before the flow continues.
package ruleengine

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule is one match-and-act entry. Rules are evaluated in order and the
// first match wins, matching the teacher's engine semantics.
type Rule struct {
	Name    string    `yaml:"name" json:"name"`
	Match   RuleMatch `yaml:"match" json:"match"`
	Action  string    `yaml:"action" json:"action"`   // forward | block | replace | add_header | remove_header
	Message string    `yaml:"message" json:"message"`

	// Priority orders evaluation: lower values run first. Rules sharing a
	// priority keep their insertion order (builtin declaration order,
	// then rules.yaml file order).
	Priority int `yaml:"priority" json:"priority"`

	// Enabled gates whether the rule participates in evaluation at all.
	// A nil Enabled (the field absent from rules.yaml) means enabled, so
	// rule files written before this field existed keep working.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// HeaderName/HeaderValue/BodyReplacement parameterize add_header,
	// remove_header, and replace actions.
	HeaderName      string `yaml:"headerName,omitempty" json:"header_name,omitempty"`
	HeaderValue     string `yaml:"headerValue,omitempty" json:"header_value,omitempty"`
	BodyReplacement string `yaml:"bodyReplacement,omitempty" json:"body_replacement,omitempty"`

	Builtin bool `yaml:"-" json:"-"`

	compiled *compiledMatcher
}

// IsEnabled reports whether r currently participates in evaluation.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// SetEnabled sets r's enabled flag explicitly.
func (r *Rule) SetEnabled(enabled bool) {
	r.Enabled = &enabled
}

// RuleMatch describes the conditions a flow must satisfy for a rule to
// apply. Empty fields are not checked. Fields that accept a
// string-or-list allow either `tool: GET` or `tool: [GET, POST]` in
// YAML, same custom unmarshal idiom as the teacher's rule matcher.
type RuleMatch struct {
	Method      stringOrList `yaml:"method" json:"method,omitempty"`
	Host        string       `yaml:"host" json:"host,omitempty"`
	URLRegex    string       `yaml:"urlRegex" json:"url_regex,omitempty"`
	PathGlob    stringOrList `yaml:"pathGlob" json:"path_glob,omitempty"`
	HeaderName  string       `yaml:"headerName" json:"header_name,omitempty"`
	HeaderRegex string       `yaml:"headerRegex" json:"header_regex,omitempty"`
	BodyRegex   string       `yaml:"bodyRegex" json:"body_regex,omitempty"`
	Direction   string       `yaml:"direction" json:"direction,omitempty"` // request | response | "" (either)
}

// stringOrList unmarshals either a scalar string or a YAML sequence into
// a []string, the way the teacher's engine accepts `tool: exec` and
// `tool: [exec, read]` interchangeably.
type stringOrList []string

func (s *stringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		if single == "" {
			*s = nil
			return nil
		}
		*s = []string{single}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected scalar or sequence, got %v", value.Kind)
	}
}

// UnmarshalJSON accepts either a JSON string or a JSON array of strings,
// the same scalar-or-list convenience UnmarshalYAML offers, so the REST
// API's JSON rule bodies can write `"method": "GET"` or `"method":
// ["GET","POST"]` interchangeably.
func (s *stringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected string or array of strings: %w", err)
	}
	*s = list
	return nil
}

// MarshalJSON renders the list form, since that's always valid JSON
// regardless of how many values are present.
func (s stringOrList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(s))
}

// Decision is the result of evaluating a flow against the rule set.
type Decision struct {
	Action  string
	Rule    string
	Message string

	HeaderName      string
	HeaderValue     string
	BodyReplacement string
}

// RuleInfo is the summary view returned by ListRules.
type RuleInfo struct {
	Name     string
	Builtin  bool
	Priority int
	Enabled  bool
	Action   string
	Message  string
}

type rulesFile struct {
	Rules   []Rule          `yaml:"rules"`
	Builtin map[string]bool `yaml:"builtin"`
}

// loadRulesFromFile reads a rules.yaml file. A missing file is not an
// error — it means "no custom rules yet", matching the teacher.
func loadRulesFromFile(path string) ([]Rule, map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	return rf.Rules, rf.Builtin, nil
}

// saveRulesToFile persists the custom rule set and builtin toggles.
func saveRulesToFile(path string, customRules []Rule, builtinToggles map[string]bool) error {
	rf := rulesFile{Rules: customRules, Builtin: builtinToggles}
	data, err := yaml.Marshal(&rf)
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}
	header := "# proxycore rule file\n# rules are evaluated top-to-bottom; the first match wins.\n\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

// WriteDefaultRules seeds a fresh rules.yaml with no custom rules and
// all builtins at their default toggle state.
func WriteDefaultRules(path string) error {
	return saveRulesToFile(path, nil, nil)
}

// parseRuleYAML decodes a single rule document, as accepted by
// `proxycore rules add` and Engine.AddRule.
func parseRuleYAML(yamlStr string, r *Rule) error {
	if err := yaml.Unmarshal([]byte(yamlStr), r); err != nil {
		return fmt.Errorf("parsing rule YAML: %w", err)
	}
	return nil
}
