// Package redirect decides whether a client-supplied post-login destination is
// safe to redirect to. The check is pure and total: any input yields either
// the input itself or the default destination, never an error, so a hostile
// value silently downgrades instead of failing the whole login.
package redirect

import (
	"net"
	"net/url"
	"strings"
)

// DefaultDestination is returned for every value that fails validation.
const DefaultDestination = "/"

// Validator holds the origin allow-list. The zero value rejects every
// absolute URL; relative same-origin paths are always allowed.
type Validator struct {
	allowedDomains []string
	devMode        bool
}

// New constructs a Validator. allowedDomains entries match the exact domain
// and all of its subdomains. devMode additionally admits loopback hosts on
// any port for local development.
func New(allowedDomains []string, devMode bool) *Validator {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return &Validator{allowedDomains: domains, devMode: devMode}
}

// Sanitize returns raw if it is a safe redirect destination, and
// DefaultDestination otherwise.
//
// Safe means one of:
//   - a same-origin path (single leading slash),
//   - an absolute http/https URL whose host is an allowed domain or a
//     subdomain of one,
//   - in dev mode only, an absolute http/https URL with a loopback host.
//
// Dangerous schemes (javascript:, data:, vbscript:) and protocol-relative
// values (//host) are rejected before any parsing.
func (v *Validator) Sanitize(raw string) string {
	if raw == "" {
		return DefaultDestination
	}

	lowered := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"javascript:", "data:", "vbscript:"} {
		if strings.HasPrefix(lowered, prefix) {
			return DefaultDestination
		}
	}
	if strings.HasPrefix(lowered, "//") {
		return DefaultDestination
	}

	// Single leading slash is same-origin.
	if strings.HasPrefix(raw, "/") {
		return raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return DefaultDestination
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return DefaultDestination
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return DefaultDestination
	}

	for _, domain := range v.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return raw
		}
	}

	if v.devMode && isLoopback(host) {
		return raw
	}

	return DefaultDestination
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
