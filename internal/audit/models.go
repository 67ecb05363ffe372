package audit

import (
	"context"
	"time"

	id "grove/pkg/domain"
)

// EventType names an auditable action. The set is closed so downstream
// consumers can alert on specific types.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventSessionRevoked   EventType = "session_revoked"
	EventTokenIssued      EventType = "token_issued"
	EventTokenRefreshed   EventType = "token_refreshed"
	EventRefreshReuse     EventType = "refresh_reuse_detected"
	EventAuthFailed       EventType = "auth_failed"
	EventDeviceStarted    EventType = "device_flow_started"
	EventDeviceAuthorized EventType = "device_flow_authorized"
	EventDeviceDenied     EventType = "device_flow_denied"
	EventMagicRequested   EventType = "magic_link_requested"
	EventMagicVerified    EventType = "magic_link_verified"
	EventDeviceDrift      EventType = "device_fingerprint_drift"
	EventLogout           EventType = "logout"
)

// Event is emitted from domain logic to capture key actions. Identifier
// fields are stored redacted; an audit trail must support incident review
// without itself becoming a PII store.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	GrantType string    `json:"grant_type,omitempty"`
	IP        string    `json:"ip,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink receives finalized events. Append is called from the recorder's
// worker goroutine, never from a request path.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Store is a Sink that also supports review queries.
type Store interface {
	Sink
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
