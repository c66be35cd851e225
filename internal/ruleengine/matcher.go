package ruleengine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"github.com/webintercept/proxycore/internal/flow"
)

// compiledMatcher holds the compiled form of a RuleMatch, built once at
// rule-load time so Evaluate never compiles a regex or glob per flow.
type compiledMatcher struct {
	urlRegex    *regexp.Regexp
	pathGlobs   []glob.Glob
	headerRegex *regexp.Regexp
	bodyRegex   *regexp.Regexp
}

func compileMatcher(r *Rule) error {
	cm := &compiledMatcher{}

	if r.Match.URLRegex != "" {
		re, err := regexp.Compile(r.Match.URLRegex)
		if err != nil {
			return fmt.Errorf("rule %q: compiling urlRegex: %w", r.Name, err)
		}
		cm.urlRegex = re
	}

	for _, pattern := range r.Match.PathGlob {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return fmt.Errorf("rule %q: compiling pathGlob %q: %w", r.Name, pattern, err)
		}
		cm.pathGlobs = append(cm.pathGlobs, g)
	}

	if r.Match.HeaderRegex != "" {
		re, err := regexp.Compile(r.Match.HeaderRegex)
		if err != nil {
			return fmt.Errorf("rule %q: compiling headerRegex: %w", r.Name, err)
		}
		cm.headerRegex = re
	}

	if r.Match.BodyRegex != "" {
		re, err := regexp.Compile(r.Match.BodyRegex)
		if err != nil {
			return fmt.Errorf("rule %q: compiling bodyRegex: %w", r.Name, err)
		}
		cm.bodyRegex = re
	}

	r.compiled = cm
	return nil
}

// Direction identifies which side of a flow is being evaluated.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// matchInput is the read-only view of a flow a rule matches against.
type matchInput struct {
	Method  string
	Host    string
	Path    string
	URL     string
	Headers *flow.Header
	Body    []byte
	Dir     Direction
}

// matchesRule reports whether in satisfies r's match conditions. All
// non-empty fields are AND-ed together, same as the teacher's matcher.
func matchesRule(r *Rule, in matchInput) bool {
	if r.Match.Direction != "" && string(in.Dir) != r.Match.Direction {
		return false
	}

	if len(r.Match.Method) > 0 && !containsFold(r.Match.Method, in.Method) {
		return false
	}

	if r.Match.Host != "" && !strings.EqualFold(r.Match.Host, in.Host) {
		return false
	}

	if r.compiled != nil && r.compiled.urlRegex != nil && !r.compiled.urlRegex.MatchString(in.URL) {
		return false
	}

	if r.compiled != nil && len(r.compiled.pathGlobs) > 0 && !matchesAnyGlob(r.compiled.pathGlobs, in.Path) {
		return false
	}

	if r.Match.HeaderName != "" {
		values := in.Headers.Values(r.Match.HeaderName)
		if len(values) == 0 {
			return false
		}
		if r.compiled != nil && r.compiled.headerRegex != nil {
			if !matchesAny(r.compiled.headerRegex, values) {
				return false
			}
		}
	}

	if r.compiled != nil && r.compiled.bodyRegex != nil {
		if !r.compiled.bodyRegex.Match(in.Body) {
			return false
		}
	}

	return true
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func matchesAnyGlob(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func matchesAny(re *regexp.Regexp, values []string) bool {
	for _, v := range values {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}
