package validator

import (
	"regexp"
	"strings"

	"mailprobe/internal/psl"
)

// emailRe accepts a dot-atom or quoted local part, and a domain that is
// either a bracketed IPv4 literal or dotted labels ending in a TLD of
// two or more letters.
var emailRe = regexp.MustCompile("^(?:[A-Za-z0-9!#$%&'*+/=?^_\x60{|}~-]+(?:\\.[A-Za-z0-9!#$%&'*+/=?^_\x60{|}~-]+)*|\"(?:[^\"\\\\]|\\\\.)*\")@(?:\\[(?:[0-9]{1,3}\\.){3}[0-9]{1,3}\\]|(?:[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?\\.)+[A-Za-z]{2,})$")

// ParseAddress checks the lexical shape of an address and returns the
// normalized (local, domain) split. Beyond the pattern, the domain's
// suffix must be on the public-suffix list, which weeds out bare
// hostnames and garbage TLDs. This check is deterministic and never
// touches the network.
func ParseAddress(raw string) (local, domain string, ok bool) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if !emailRe.MatchString(addr) {
		return "", "", false
	}

	at := strings.LastIndex(addr, "@")
	local, domain = addr[:at], addr[at+1:]

	// Address literals like [192.0.2.1] have no suffix to validate.
	if !strings.HasPrefix(domain, "[") && !psl.SuffixKnown(domain) {
		return "", "", false
	}
	return local, domain, true
}
