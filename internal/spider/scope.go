package spider

import (
	"fmt"
	"net/url"
	"regexp"
)

// Scope decides whether a discovered URL is admitted into the
// frontier, per spec.md §4.8's five scope conditions.
type Scope struct {
	SeedHost             string
	MaxDepth             int
	FollowExternalLinks  bool
	IncludePatterns      []*regexp.Regexp
	ExcludePatterns      []*regexp.Regexp
	RespectRobotsTxt     bool
	Robots               *RobotsCache
}

// NewScope compiles include/exclude regex lists and builds a Scope.
func NewScope(seedHost string, maxDepth int, followExternal bool, include, exclude []string, respectRobots bool, robots *RobotsCache) (*Scope, error) {
	inc, err := compileAll(include)
	if err != nil {
		return nil, fmt.Errorf("spider: invalid include pattern: %w", err)
	}
	exc, err := compileAll(exclude)
	if err != nil {
		return nil, fmt.Errorf("spider: invalid exclude pattern: %w", err)
	}
	return &Scope{
		SeedHost:            seedHost,
		MaxDepth:            maxDepth,
		FollowExternalLinks: followExternal,
		IncludePatterns:     inc,
		ExcludePatterns:     exc,
		RespectRobotsTxt:    respectRobots,
		Robots:              robots,
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// Admit reports whether rawURL at depth should be crawled, evaluating
// every condition in spec.md §4.8 order: depth, host scope, include,
// exclude, robots.txt.
func (s *Scope) Admit(rawURL string, depth int, userAgent string) (bool, string) {
	if depth > s.MaxDepth {
		return false, "max_depth_exceeded"
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false, "unparseable_url"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, "unsupported_scheme"
	}

	if u.Hostname() != s.SeedHost && !s.FollowExternalLinks {
		return false, "out_of_scope_host"
	}

	if len(s.IncludePatterns) > 0 {
		matched := false
		for _, re := range s.IncludePatterns {
			if re.MatchString(rawURL) {
				matched = true
				break
			}
		}
		if !matched {
			return false, "no_include_match"
		}
	}

	for _, re := range s.ExcludePatterns {
		if re.MatchString(rawURL) {
			return false, "exclude_match"
		}
	}

	if s.RespectRobotsTxt && s.Robots != nil {
		allowed, err := s.Robots.Allowed(rawURL, userAgent)
		if err == nil && !allowed {
			return false, "robots_disallow"
		}
	}

	return true, ""
}
