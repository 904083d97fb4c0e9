package utils

import "strings"

// CanonicalHost returns a host name in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot, so "example.com." and "example.com" key identically.
func CanonicalHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.ToLower(host)
	for strings.HasSuffix(host, ".") {
		host = strings.TrimSuffix(host, ".")
	}
	return host
}

// WalkSuffixes visits every suffix of host produced by repeatedly dropping
// the left-most label, starting with host itself and ending with the bare
// top label ("a.b.c" → "a.b.c", "b.c", "c"). Iteration stops early when
// visit returns false.
func WalkSuffixes(host string, visit func(suffix string) bool) {
	for host != "" {
		if !visit(host) {
			return
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			return
		}
		host = host[i+1:]
	}
}

// IsSubdomainOf reports whether host equals domain or is a subdomain of it,
// requiring a clean label boundary ("ample.com" is not under "example.com").
// Both arguments are expected in canonical form.
func IsSubdomainOf(host, domain string) bool {
	if domain == "" {
		return false
	}
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
