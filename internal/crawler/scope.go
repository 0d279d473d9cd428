package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Scope keeps the crawl below its root: same scheme and host, a path under
// the root path, and the optional include/exclude patterns.
type Scope struct {
	scheme     string
	host       string
	pathPrefix string
	include    []*regexp.Regexp
	exclude    []*regexp.Regexp
}

// NewScope builds the scope of rootURL.
func NewScope(rootURL string, include, exclude []string) (*Scope, error) {
	u, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("invalid root URL: %w", err)
	}

	prefix := u.Path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	s := &Scope{
		scheme:     strings.ToLower(u.Scheme),
		host:       strings.ToLower(u.Host),
		pathPrefix: prefix,
	}
	if s.include, err = compileAll(include); err != nil {
		return nil, err
	}
	if s.exclude, err = compileAll(exclude); err != nil {
		return nil, err
	}
	return s, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid URL pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Allows reports whether a directory URL may be crawled.
func (s *Scope) Allows(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if strings.ToLower(u.Scheme) != s.scheme || strings.ToLower(u.Host) != s.host {
		return false
	}

	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	if !strings.HasPrefix(p, s.pathPrefix) {
		return false
	}

	// If include patterns are specified, URL must match at least one
	if len(s.include) > 0 {
		matched := false
		for _, re := range s.include {
			if re.MatchString(rawURL) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, re := range s.exclude {
		if re.MatchString(rawURL) {
			return false
		}
	}
	return true
}
