// Package privacy holds helpers that keep raw identifiers out of logs and
// derived artifacts. Log aggregation must never be able to reconstruct a full
// user identifier or IP address from what this package emits.
package privacy

import (
	"net"
	"strings"
)

// RedactIdentifier reduces an identifier (user ID, email, token ID) to a
// short prefix+suffix form for logging. "bf3a91c2-..." becomes "bf3a…91c2".
// Short values are fully masked rather than partially revealed.
func RedactIdentifier(s string) string {
	const keep = 4
	if len(s) <= keep*2 {
		return strings.Repeat("*", len(s))
	}
	return s[:keep] + "…" + s[len(s)-keep:]
}

// AnonymizeIP zeroes the host portion of an IP for logging: the last octet of
// an IPv4 address, the last 80 bits of an IPv6 address. Unparseable input is
// replaced wholesale.
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}
	if v4 := parsed.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}
	masked := make(net.IP, len(parsed))
	copy(masked, parsed)
	for i := 6; i < len(masked); i++ {
		masked[i] = 0
	}
	return masked.String()
}

// IPBucket coarsens an IP to its routing neighbourhood (/24 for IPv4, /48 for
// IPv6). Device fingerprints hash the bucket rather than the exact address so
// a laptop moving within one network keeps its fingerprint while the
// fingerprint still cannot be reversed to an address.
func IPBucket(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "unknown"
	}
	if v4 := parsed.To4(); v4 != nil {
		return (&net.IPNet{IP: v4.Mask(net.CIDRMask(24, 32)), Mask: net.CIDRMask(24, 32)}).String()
	}
	return (&net.IPNet{IP: parsed.Mask(net.CIDRMask(48, 128)), Mask: net.CIDRMask(48, 128)}).String()
}
