package utils

import "golang.org/x/net/publicsuffix"

// RegistrableDomain returns the registrable (eTLD+1) portion of a host,
// used for ad-landing-site comparison. Falls back to the canonical host
// when the public suffix list cannot place it.
func RegistrableDomain(host string) string {
	host = CanonicalHost(host)
	reg, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		reg = host // Fallback to the original name if parsing fails
	}
	return reg
}
