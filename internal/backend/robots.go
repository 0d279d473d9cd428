package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RobotsParser fetches robots.txt once per host and answers whether a
// directory may be crawled.
type RobotsParser struct {
	httpClient *HTTPClient
	agent      string // lower-cased product token matched against User-agent lines
	rules      map[string]*RobotRules
	mu         sync.RWMutex
}

// RobotRules is the group of a robots.txt that applies to our agent.
type RobotRules struct {
	Rules      []RobotRule
	CrawlDelay time.Duration
}

// RobotRule is a single Allow or Disallow line.
type RobotRule struct {
	Pattern string
	Allow   bool
}

// NewRobotsParser creates a new robots.txt parser. The product token is the
// User-Agent up to the first slash ("opendir/1.0" -> "opendir").
func NewRobotsParser(httpClient *HTTPClient, userAgent string) *RobotsParser {
	agent, _, _ := strings.Cut(strings.ToLower(userAgent), "/")
	return &RobotsParser{
		httpClient: httpClient,
		agent:      strings.TrimSpace(agent),
		rules:      make(map[string]*RobotRules),
	}
}

// IsAllowed reports whether rawURL may be crawled. Hosts whose robots.txt
// cannot be fetched are treated as allowing everything.
func (r *RobotsParser) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("invalid URL: %w", err)
	}

	rules, err := r.getRules(ctx, u.Scheme, u.Host)
	if err != nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return rules.Allows(path), nil
}

// Allows applies longest-match precedence; on a tie Allow wins.
func (rr *RobotRules) Allows(path string) bool {
	best, allowed := -1, true
	for _, rule := range rr.Rules {
		if !matchesPattern(path, rule.Pattern) {
			continue
		}
		n := len(rule.Pattern)
		if n > best || (n == best && rule.Allow) {
			best, allowed = n, rule.Allow
		}
	}
	return allowed
}

// CrawlDelay returns the Crawl-delay of a host already looked up.
func (r *RobotsParser) CrawlDelay(host string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rules, ok := r.rules[host]; ok {
		return rules.CrawlDelay
	}
	return 0
}

func (r *RobotsParser) getRules(ctx context.Context, scheme, host string) (*RobotRules, error) {
	r.mu.RLock()
	rules, exists := r.rules[host]
	r.mu.RUnlock()

	if exists {
		return rules, nil
	}

	resp, err := r.httpClient.Get(ctx, fmt.Sprintf("%s://%s/robots.txt", scheme, host))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		rules = parseRobots(resp.Body, r.agent)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		rules = &RobotRules{}
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	r.mu.Lock()
	r.rules[host] = rules
	r.mu.Unlock()

	return rules, nil
}

// parseRobots returns the rules of the group naming agent, or of the "*"
// group when no group names it.
func parseRobots(content []byte, agent string) *RobotRules {
	var specific, wildcard RobotRules
	var matchedSpecific bool

	// current holds the targets of the group being read; consecutive
	// User-agent lines extend the same group.
	var current []*RobotRules
	inAgents := false

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "user-agent" {
			if !inAgents {
				current = current[:0]
				inAgents = true
			}
			ua := strings.ToLower(value)
			switch {
			case ua == "*":
				current = append(current, &wildcard)
			case agent != "" && strings.Contains(ua, agent):
				current = append(current, &specific)
				matchedSpecific = true
			}
			continue
		}
		inAgents = false

		for _, target := range current {
			switch key {
			case "disallow":
				if value != "" {
					target.Rules = append(target.Rules, RobotRule{Pattern: value})
				}
			case "allow":
				if value != "" {
					target.Rules = append(target.Rules, RobotRule{Pattern: value, Allow: true})
				}
			case "crawl-delay":
				if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
					target.CrawlDelay = time.Duration(secs * float64(time.Second))
				}
			}
		}
	}

	if matchedSpecific {
		return &specific
	}
	return &wildcard
}

// matchesPattern checks if a path matches a robots.txt pattern. "*" matches
// any run of characters and a trailing "$" anchors the end.
func matchesPattern(path, pattern string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	rest := path[len(parts[0]):]
	if len(parts) == 1 {
		return !anchored || rest == ""
	}

	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(rest, part)
		if idx == -1 {
			return false
		}
		rest = rest[idx+len(part):]
	}

	last := parts[len(parts)-1]
	if anchored {
		return strings.HasSuffix(rest, last)
	}
	return strings.Contains(rest, last)
}
