package device

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/mssola/useragent"

	"grove/pkg/platform/privacy"
)

// Service derives stable device fingerprints and human-readable device names
// from request metadata. Fingerprints are keyed with a server-side secret so
// they cannot be precomputed or correlated across deployments.
type Service struct {
	secret string
}

// NewService constructs a device service. secret must be non-empty in
// production; an empty secret still produces deterministic fingerprints but
// offers no correlation resistance.
func NewService(secret string) *Service {
	return &Service{secret: secret}
}

// minorVersion matches the patch-and-below portion of a browser version so
// that routine auto-updates do not change a device's fingerprint.
var minorVersion = regexp.MustCompile(`^(\d+)(?:\..*)?$`)

// Fingerprint computes a stable identifier for the device behind a request.
// The user agent is normalized to its major browser version and the client IP
// is coarsened to its network bucket, so minor browser updates and DHCP churn
// within the same network do not move the fingerprint. Returns a 64-char hex
// HMAC-SHA256 digest keyed with the server secret.
func (s *Service) Fingerprint(userAgentRaw, ip string) string {
	normalized := normalizeUserAgent(userAgentRaw)
	bucket := privacy.IPBucket(ip)

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(normalized))
	mac.Write([]byte{0})
	mac.Write([]byte(bucket))
	return hex.EncodeToString(mac.Sum(nil))
}

// CompareFingerprints reports whether two fingerprints match and, when they
// do not, flags the drift for the caller to audit.
func (s *Service) CompareFingerprints(expected, actual string) (matched bool, drift bool) {
	if expected == actual {
		return true, false
	}
	return false, true
}

// normalizeUserAgent reduces a raw user-agent string to browser family, major
// version, OS, and platform.
func normalizeUserAgent(raw string) string {
	if raw == "" {
		return "unknown"
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	major := version
	if m := minorVersion.FindStringSubmatch(version); m != nil {
		major = m[1]
	}
	return strings.ToLower(strings.Join([]string{name, major, ua.OS(), ua.Platform()}, "|"))
}

// ParseUserAgent renders a user-agent string as a short display name for the
// session list, e.g. "Chrome on macOS" or "Safari on iPhone".
func ParseUserAgent(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "Unknown Device"
	}

	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	osInfo := ua.OSInfo()

	platform := osInfo.Name
	if platform == "" {
		platform = ua.Platform()
	}
	if platform == "" {
		platform = "Unknown"
	}
	if browser == "" {
		browser = "Unknown Browser"
	}

	// iPhones report a generic OS name; prefer the device model there.
	if strings.Contains(ua.Platform(), "iPhone") {
		platform = "iPhone"
	} else if strings.Contains(ua.Platform(), "iPad") {
		platform = "iPad"
	}

	return strings.TrimSpace(fmt.Sprintf("%s on %s", browser, friendlyOS(platform)))
}

func friendlyOS(name string) string {
	switch {
	case strings.HasPrefix(name, "Intel Mac"), strings.HasPrefix(name, "Mac OS"), name == "Macintosh":
		return "macOS"
	case strings.HasPrefix(name, "Windows NT"):
		return "Windows"
	default:
		return name
	}
}
