package models

import (
	"time"

	id "grove/pkg/domain"
)

// User is the primary identity tracked by the platform. Password and passkey
// material live entirely inside the credential-verification library; this
// record carries only what the auth service itself needs.
type User struct {
	ID        id.UserID
	Email     string // normalized
	FirstName string
	LastName  string
	Picture   string
	// Provider records how the identity was established: "password",
	// "passkey", or "magic_link".
	Provider  string
	Verified  bool
	CreatedAt time.Time
}

// Name joins the display name parts, tolerating absent fields.
func (u *User) Name() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}
