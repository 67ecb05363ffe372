// Package domain holds typed identifiers shared across services. Wrapping
// uuid.UUID in distinct named types makes cross-assignment a compile error:
// a SessionID can never be passed where a UserID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "grove/pkg/domain-errors"
)

type (
	// UserID identifies a platform user.
	UserID uuid.UUID
	// SessionID identifies one entry in the durable session ledger.
	SessionID uuid.UUID
	// ClientID identifies a registered first-party client application.
	ClientID uuid.UUID
)

// NewUserID generates a random user ID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewSessionID generates a random session ID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewClientID generates a random client ID.
func NewClientID() ClientID { return ClientID(uuid.New()) }

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id ClientID) String() string  { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ClientID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// parseUUID enforces the shared invariant: IDs must be valid, non-nil UUIDs.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

// ParseUserID constructs a UserID from external input. Call at trust
// boundaries; direct casting bypasses validation.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return UserID(uuid.Nil), err
	}
	return UserID(u), nil
}

// ParseSessionID constructs a SessionID from external input.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return SessionID(uuid.Nil), err
	}
	return SessionID(u), nil
}

// ParseClientID constructs a ClientID from external input.
func ParseClientID(s string) (ClientID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ClientID(uuid.Nil), err
	}
	return ClientID(u), nil
}
