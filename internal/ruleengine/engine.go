package ruleengine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/webintercept/proxycore/internal/flow"
	"github.com/webintercept/proxycore/internal/metrics"
)

// Engine holds the combined builtin+custom rule set and evaluates flows
// against it. Readers take the RWMutex for the fast path (Evaluate);
// writers (AddRule, RemoveRule, Reload) take it exclusively and rebuild
// the combined, ordered rule slice atomically so Evaluate never observes
// a partially-updated set.
type Engine struct {
	mu sync.RWMutex

	rulesPath string

	rules          []Rule // combined, ordered, ready to evaluate
	customRules    []Rule
	builtinToggles map[string]bool

	builtinCount int
	customCount  int
}

// New loads rulesPath (if present) and returns a ready Engine.
func New(rulesPath string) (*Engine, error) {
	e := &Engine{rulesPath: rulesPath}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadUnlocked()
}

func (e *Engine) loadUnlocked() error {
	customRules, fileToggles, err := loadRulesFromFile(e.rulesPath)
	if err != nil {
		return err
	}

	toggles := defaultBuiltinToggles()
	for name, enabled := range fileToggles {
		toggles[name] = enabled
	}

	for i := range customRules {
		if err := compileMatcher(&customRules[i]); err != nil {
			return err
		}
	}

	e.customRules = customRules
	e.builtinToggles = toggles
	e.rebuild()
	return nil
}

// rebuild recomputes the combined, ordered rule slice: enabled builtins
// (fixed declaration order) followed by enabled custom rules (file
// order), then a stable sort by ascending Priority so equal-priority
// rules keep that insertion order. Caller must hold the write lock.
func (e *Engine) rebuild() {
	var combined []Rule

	for _, name := range builtinOrder() {
		if !e.builtinToggles[name] {
			continue
		}
		r := builtinRules()[name]
		r.Builtin = true
		if err := compileMatcher(&r); err != nil {
			slog.Error("skipping unparseable builtin rule", "name", name, "error", err)
			continue
		}
		combined = append(combined, r)
	}
	e.builtinCount = len(combined)
	e.customCount = len(e.customRules)

	for _, r := range e.customRules {
		if r.IsEnabled() {
			combined = append(combined, r)
		}
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Priority < combined[j].Priority
	})

	e.rules = combined
}

// Evaluate runs in against every rule in order and returns the first
// match. A flow that matches nothing is forwarded unchanged.
func (e *Engine) Evaluate(in matchInput) Decision {
	start := time.Now()
	defer func() { metrics.ObserveRuleEval(time.Since(start)) }()

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if matchesRule(&r, in) {
			return Decision{
				Action:          r.Action,
				Rule:            r.Name,
				Message:         r.Message,
				HeaderName:      r.HeaderName,
				HeaderValue:     r.HeaderValue,
				BodyReplacement: r.BodyReplacement,
			}
		}
	}
	return Decision{Action: "forward"}
}

// EvaluateFlow is a convenience wrapper building a matchInput from a
// flow.Flow for the given direction.
func (e *Engine) EvaluateFlow(f *flow.Flow, dir Direction) Decision {
	var headers *flow.Header
	var body []byte
	switch dir {
	case DirectionRequest:
		headers = f.RequestHeaders
		body = f.RequestBody
	case DirectionResponse:
		headers = f.ResponseHeaders
		body = f.ResponseBody
	}
	return e.Evaluate(matchInput{
		Method:  f.Method,
		Host:    f.Host,
		Path:    f.Path,
		URL:     f.URL(),
		Headers: headers,
		Body:    body,
		Dir:     dir,
	})
}

// TotalRules returns the number of rules currently in effect.
func (e *Engine) TotalRules() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// BuiltinCount returns how many builtin rules are currently enabled.
func (e *Engine) BuiltinCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.builtinCount
}

// CustomCount returns the number of user-defined rules.
func (e *Engine) CustomCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.customCount
}

// ListRules returns a summary of every rule currently in effect, in
// evaluation order.
func (e *Engine) ListRules() []RuleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RuleInfo, 0, len(e.rules))
	for _, r := range e.rules {
		r := r
		out = append(out, RuleInfo{
			Name:     r.Name,
			Builtin:  r.Builtin,
			Priority: r.Priority,
			Enabled:  r.IsEnabled(),
			Action:   r.Action,
			Message:  r.Message,
		})
	}
	return out
}

// AddRule parses a single YAML rule document and appends it to the
// custom rule set. Used by the CLI's file-based `rules add --file`
// flow, which speaks YAML like the rest of rules.yaml.
func (e *Engine) AddRule(yamlStr string) error {
	var r Rule
	if err := parseRuleYAML(yamlStr, &r); err != nil {
		return err
	}
	return e.AddRuleValue(r)
}

// AddRuleValue appends an already-decoded rule to the custom rule set.
// The REST API uses this directly against a JSON-decoded Rule so it
// never has to speak YAML on the wire.
func (e *Engine) AddRuleValue(r Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Action == "" {
		r.Action = "block"
	}
	if err := compileMatcher(&r); err != nil {
		return err
	}

	e.customRules = append(e.customRules, r)
	e.rebuild()
	return e.saveLocked()
}

// RemoveRule deletes a custom rule by name. Builtin rules cannot be
// removed this way — disable them via their toggle instead.
func (e *Engine) RemoveRule(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := -1
	for i, r := range e.customRules {
		if r.Name == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		if _, ok := builtinRules()[name]; ok {
			return fmt.Errorf("rule %q is a builtin rule and cannot be removed; disable its toggle instead", name)
		}
		return fmt.Errorf("rule %q not found", name)
	}

	e.customRules = append(e.customRules[:idx], e.customRules[idx+1:]...)
	e.rebuild()
	return e.saveLocked()
}

// SetBuiltinToggle enables or disables a builtin rule by name.
func (e *Engine) SetBuiltinToggle(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := builtinRules()[name]; !ok {
		return fmt.Errorf("unknown builtin rule %q", name)
	}
	e.builtinToggles[name] = enabled
	e.rebuild()
	return e.saveLocked()
}

// SetRuleEnabled toggles any rule by name, builtin or custom. Every
// rule in the Rule model carries an enabled flag; this is the single
// entry point the REST API's generic toggle endpoint uses so a custom
// rule isn't stuck on once added.
func (e *Engine) SetRuleEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := builtinRules()[name]; ok {
		e.builtinToggles[name] = enabled
		e.rebuild()
		return e.saveLocked()
	}

	for i := range e.customRules {
		if e.customRules[i].Name == name {
			e.customRules[i].SetEnabled(enabled)
			e.rebuild()
			return e.saveLocked()
		}
	}

	return fmt.Errorf("unknown rule %q", name)
}

func (e *Engine) saveLocked() error {
	return saveRulesToFile(e.rulesPath, e.customRules, e.builtinToggles)
}

// Reload re-reads the rules file from disk, used by the fsnotify
// watcher when rules.yaml changes externally.
func (e *Engine) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadUnlocked()
}

// builtinOrder returns builtin rule names in a fixed declaration order,
// used as the insertion-order tie-break under equal Priority. This must
// not be derived from map iteration (unordered) or alphabetical sort
// (unrelated to declaration intent).
func builtinOrder() []string {
	return []string{
		"block_internal_metadata_host",
		"block_private_key_response",
		"block_aws_credentials_response",
		"block_basic_auth_over_plain_http",
		"strip_server_header",
		"strip_via_header",
		"tag_large_upload",
	}
}
