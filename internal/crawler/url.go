package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports and the fragment,
// and gives an empty path the root "/".
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// ResolveLink resolves href against base and strips the fragment.
// Only http and https results are accepted.
func ResolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if base == nil || href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	switch strings.ToLower(resolved.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	normalized, err := NormalizeURL(resolved.String())
	if err != nil {
		return "", false
	}
	return normalized, true
}

// HasPathSuffix reports whether the URL path ends with one of the suffixes, case-insensitively.
func HasPathSuffix(rawURL string, suffixes ...string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	for _, s := range suffixes {
		if strings.HasSuffix(p, s) {
			return true
		}
	}
	return false
}
