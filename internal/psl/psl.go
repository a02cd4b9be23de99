// Package psl splits hostnames against the public-suffix list. The list
// snapshot is the one embedded in golang.org/x/net/publicsuffix at build
// time; rebuilding against a newer x/net refreshes it.
package psl

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Registrable returns the eTLD+1 of domain, or the domain itself when no
// registrable parent can be derived (e.g. the domain is a bare suffix).
func Registrable(domain string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimSuffix(domain, "."))
	if err != nil {
		return domain
	}
	return etld1
}

// Split divides host into its registrable domain and the subdomain labels
// in front of it. The subdomain part is empty when host is itself the
// registrable domain.
func Split(host string) (registrable, sub string) {
	registrable = Registrable(host)
	if host == registrable {
		return registrable, ""
	}
	return registrable, strings.TrimSuffix(host, "."+registrable)
}

// SuffixKnown reports whether the domain ends in a suffix present on the
// public-suffix list. Unlisted suffixes indicate bare hostnames or
// garbage TLDs that can never receive public mail.
func SuffixKnown(domain string) bool {
	suffix, icann := publicsuffix.PublicSuffix(strings.TrimSuffix(domain, "."))
	if suffix == "" {
		return false
	}
	// Privately managed suffixes (e.g. github.io) are multi-label
	// entries flagged non-ICANN; a single unlisted label is not a TLD.
	return icann || strings.IndexByte(suffix, '.') >= 0
}
