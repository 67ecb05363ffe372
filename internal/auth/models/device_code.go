package models

import (
	"errors"
	"fmt"
	"time"

	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

// DeviceCodeStatus is the state of a pending device-flow grant.
//
// State machine: pending → authorized | denied | expired. An authorized code
// becomes consumed when tokens are issued for it, exactly once. denied and
// expired stay distinct terminal states; they carry different audit meaning
// (user declined vs. code went stale).
type DeviceCodeStatus string

const (
	DeviceStatusPending    DeviceCodeStatus = "pending"
	DeviceStatusAuthorized DeviceCodeStatus = "authorized"
	DeviceStatusDenied     DeviceCodeStatus = "denied"
	DeviceStatusExpired    DeviceCodeStatus = "expired"
	DeviceStatusConsumed   DeviceCodeStatus = "consumed"
)

// DeviceCode is a pending RFC 8628 device authorization grant. The device
// code secret itself is stored only as a hash; UserCode is the short
// human-typeable code shown on the companion device.
type DeviceCode struct {
	ID             string
	DeviceCodeHash string
	UserCode       string
	ClientID       string
	Status         DeviceCodeStatus
	UserID         id.UserID // bound when the user authorizes
	SessionID      id.SessionID

	// Interval is the advertised minimum poll interval in seconds.
	// EffectiveInterval starts equal and is escalated server-side each time
	// the client polls too fast; the client is never trusted to self-throttle.
	Interval          int
	EffectiveInterval int
	PollCount         int
	LastPolledAt      time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the code is past its absolute expiry.
func (d *DeviceCode) IsExpired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// RegisterPoll records a poll attempt and reports whether the client polled
// faster than the effective interval allows. On a violation the effective
// interval is increased by five seconds (RFC 8628 §3.5 slow_down semantics).
// Issuance starts the interval clock: the first poll is measured against
// CreatedAt, so polling the moment the flow starts is already too fast.
// Call under the store lock.
func (d *DeviceCode) RegisterPoll(now time.Time) (tooFast bool) {
	defer func() {
		d.PollCount++
		d.LastPolledAt = now
	}()

	last := d.LastPolledAt
	if last.IsZero() {
		last = d.CreatedAt
	}
	if now.Sub(last) < time.Duration(d.EffectiveInterval)*time.Second {
		d.EffectiveInterval += 5
		return true
	}
	return false
}

// Authorize binds the user and transitions pending → authorized. A code past
// expiry can never be authorized, even if the user confirms moments later.
func (d *DeviceCode) Authorize(userID id.UserID, now time.Time) error {
	if d.IsExpired(now) {
		d.Status = DeviceStatusExpired
		return fmt.Errorf("device code %w", sentinel.ErrExpired)
	}
	if d.Status != DeviceStatusPending {
		return errors.New("device code not pending")
	}
	d.Status = DeviceStatusAuthorized
	d.UserID = userID
	return nil
}

// Deny transitions pending → denied.
func (d *DeviceCode) Deny(now time.Time) error {
	if d.IsExpired(now) {
		d.Status = DeviceStatusExpired
		return fmt.Errorf("device code %w", sentinel.ErrExpired)
	}
	if d.Status != DeviceStatusPending {
		return errors.New("device code not pending")
	}
	d.Status = DeviceStatusDenied
	return nil
}

// MarkConsumed finalizes an authorized code after tokens were issued for it.
func (d *DeviceCode) MarkConsumed() {
	d.Status = DeviceStatusConsumed
}
