package ledger

import (
	"time"

	id "grove/pkg/domain"
)

// Session is one authenticated device for one user: the durable record
// behind the "active devices" UI. Its identity is independent of whatever
// transient session object the credential-verification library keeps; the
// library's session id is never stored here.
type Session struct {
	ID                id.SessionID `json:"id"`
	UserID            id.UserID    `json:"user_id"`
	DeviceFingerprint string       `json:"device_fingerprint"`
	DeviceName        string       `json:"device_name"`
	IP                string       `json:"ip"`
	UserAgent         string       `json:"user_agent"`
	CreatedAt         time.Time    `json:"created_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
}

// Expired reports whether the session has passed its TTL. Expiry is enforced
// lazily at read time; no background sweep is required for correctness.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CreateParams carries the multi-device metadata captured at login.
type CreateParams struct {
	DeviceFingerprint string
	DeviceName        string
	IP                string
	UserAgent         string
	TTL               time.Duration
}
