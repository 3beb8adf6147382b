package crawler

import (
	"net/url"
	"strings"
)

// Scope decides which discovered URLs are eligible for the frontier.
type Scope struct {
	domain            string
	includeSubdomains bool
	allowWWW          bool
	deny              *hostPatternList
}

// ScopeConfig configures a Scope.
type ScopeConfig struct {
	Domain            string
	IncludeSubdomains bool
	AllowWWW          bool
	// DenyHosts accepts exact hosts and "*.suffix" or ".suffix" wildcards.
	DenyHosts []string
}

// NewScope builds a Scope restricted to cfg.Domain.
func NewScope(cfg ScopeConfig) *Scope {
	return &Scope{
		domain:            canonicalHost(cfg.Domain),
		includeSubdomains: cfg.IncludeSubdomains,
		allowWWW:          cfg.AllowWWW,
		deny:              newHostPatternList(cfg.DenyHosts),
	}
}

// Domain returns the canonical allowed domain.
func (s *Scope) Domain() string {
	return s.domain
}

// Allows reports whether rawURL is an http(s) URL on the allowed domain.
func (s *Scope) Allows(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}
	host := canonicalHost(u.Hostname())
	if host == "" || s.deny.matches(host) {
		return false
	}
	switch {
	case host == s.domain:
		return true
	case s.allowWWW && (host == "www."+s.domain || "www."+host == s.domain):
		return true
	case s.includeSubdomains && strings.HasSuffix(host, "."+s.domain):
		return true
	default:
		return false
	}
}

func canonicalHost(raw string) string {
	host := strings.TrimSpace(strings.ToLower(raw))
	host = strings.TrimSuffix(host, ".")
	if strings.Count(host, ":") == 1 {
		host, _, _ = strings.Cut(host, ":")
	}
	return host
}

// hostPatternList stores exact hosts and suffix wildcards derived from configuration.
type hostPatternList struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostPatternList(patterns []string) *hostPatternList {
	list := &hostPatternList{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := canonicalHost(raw)
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			list.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			list.addSuffix(strings.TrimPrefix(value, "."))
		default:
			list.exact[value] = struct{}{}
		}
	}
	if len(list.exact) == 0 && len(list.suffixes) == 0 {
		return nil
	}
	return list
}

func (l *hostPatternList) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range l.suffixes {
		if existing == suffix {
			return
		}
	}
	l.suffixes = append(l.suffixes, suffix)
}

func (l *hostPatternList) matches(host string) bool {
	if l == nil || host == "" {
		return false
	}
	if _, ok := l.exact[host]; ok {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
