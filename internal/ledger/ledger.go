// Package ledger is the authoritative multi-device session store. All
// operations for one user are serialized through a per-user actor goroutine,
// so concurrent logins from two devices for the same user can never
// interleave in a way that corrupts the device list, while different users
// proceed fully in parallel.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "grove/pkg/domain"
	dErrors "grove/pkg/domain-errors"
	"grove/pkg/platform/privacy"
	"grove/pkg/platform/sentinel"
)

// Store is the persistence the actors write through. Implementations only
// need cross-user safety; per-user serialization is the ledger's job.
type Store interface {
	Save(ctx context.Context, session *Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*Session, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]*Session, error)
	Delete(ctx context.Context, sessionID id.SessionID) error
}

// actorIdleTimeout is how long a user's actor lingers without work before
// retiring. Lifecycle only; correctness never depends on it.
const actorIdleTimeout = time.Minute

type task struct {
	ctx  context.Context
	run  func(ctx context.Context)
	done chan struct{}
}

type actor struct {
	inbox chan task
}

// Ledger routes session operations to per-user actors.
type Ledger struct {
	store   Store
	logger  *slog.Logger
	done    chan struct{}
	drained chan struct{}

	mu     sync.Mutex
	actors map[id.UserID]*actor
	closed bool
	wg     sync.WaitGroup
}

// New constructs a Ledger over the given store.
func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		logger:  logger,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
		actors:  make(map[id.UserID]*actor),
	}
}

// Close stops accepting work and waits for in-flight operations to finish.
// drained closes only after every actor has exited, so waiters can tell a
// task that ran during shutdown from one stranded in a dead inbox.
func (l *Ledger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.done)
	l.mu.Unlock()
	l.wg.Wait()
	close(l.drained)
}

// dispatch runs fn on the user's actor goroutine and waits for completion or
// context cancellation. fn observes per-user serialization: no two fns for
// the same user ever run concurrently.
//
// Enqueueing happens under l.mu so an actor can never retire with work in
// its inbox: retirement checks the inbox is empty under the same lock.
func (l *Ledger) dispatch(ctx context.Context, userID id.UserID, fn func(ctx context.Context)) error {
	t := task{ctx: ctx, run: fn, done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return dErrors.New(dErrors.CodeUnavailable, "session ledger is shut down")
	}
	a, ok := l.actors[userID]
	if !ok {
		a = &actor{inbox: make(chan task, 16)}
		l.actors[userID] = a
		l.wg.Add(1)
		go l.runActor(userID, a)
	}
	enqueued := false
	select {
	case a.inbox <- t:
		enqueued = true
	default:
	}
	l.mu.Unlock()

	if !enqueued {
		// Inbox full: the actor is alive and draining (a non-empty inbox
		// blocks retirement), so a blocking send outside the lock is safe.
		select {
		case a.inbox <- t:
		case <-l.done:
			return dErrors.New(dErrors.CodeUnavailable, "session ledger is shut down")
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeUnavailable, "session ledger enqueue cancelled")
		}
	}

	select {
	case <-t.done:
		return nil
	case <-l.drained:
		// Every actor has exited. A buffered send can land in the same
		// instant the drain loop observes an empty inbox, leaving the task
		// enqueued but never run; without this branch the wait would hang.
		select {
		case <-t.done:
			return nil
		default:
			return dErrors.New(dErrors.CodeUnavailable, "session ledger is shut down")
		}
	case <-ctx.Done():
		// The task may still run; the caller just stops waiting.
		return dErrors.Wrap(ctx.Err(), dErrors.CodeUnavailable, "session ledger wait cancelled")
	}
}

func (l *Ledger) runActor(userID id.UserID, a *actor) {
	defer l.wg.Done()
	idle := time.NewTimer(actorIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case t := <-a.inbox:
			t.run(t.ctx)
			close(t.done)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(actorIdleTimeout)

		case <-l.done:
			// Drain whatever raced in, then exit.
			for {
				select {
				case t := <-a.inbox:
					t.run(t.ctx)
					close(t.done)
				default:
					return
				}
			}

		case <-idle.C:
			l.mu.Lock()
			if len(a.inbox) > 0 {
				// Work raced in; keep living.
				l.mu.Unlock()
				idle.Reset(actorIdleTimeout)
				continue
			}
			delete(l.actors, userID)
			l.mu.Unlock()
			return
		}
	}
}

// CreateSession records a new authenticated device for the user and returns
// the durable session id.
func (l *Ledger) CreateSession(ctx context.Context, userID id.UserID, params CreateParams, now time.Time) (id.SessionID, error) {
	if userID.IsNil() {
		return id.SessionID{}, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	if params.TTL <= 0 {
		return id.SessionID{}, dErrors.New(dErrors.CodeBadRequest, "session TTL must be positive")
	}

	session := &Session{
		ID:                id.NewSessionID(),
		UserID:            userID,
		DeviceFingerprint: params.DeviceFingerprint,
		DeviceName:        params.DeviceName,
		IP:                params.IP,
		UserAgent:         params.UserAgent,
		CreatedAt:         now,
		ExpiresAt:         now.Add(params.TTL),
	}

	var saveErr error
	if err := l.dispatch(ctx, userID, func(ctx context.Context) {
		saveErr = l.store.Save(ctx, session)
	}); err != nil {
		return id.SessionID{}, err
	}
	if saveErr != nil {
		return id.SessionID{}, dErrors.Wrap(saveErr, dErrors.CodeInternal, "failed to save session")
	}

	l.logger.InfoContext(ctx, "session created",
		"session_id", session.ID.String(),
		"user_id", privacy.RedactIdentifier(userID.String()),
		"device", session.DeviceName,
	)
	return session.ID, nil
}

// GetSession returns a live session by id, enforcing expiry lazily.
func (l *Ledger) GetSession(ctx context.Context, userID id.UserID, sessionID id.SessionID, now time.Time) (*Session, error) {
	var (
		session *Session
		opErr   error
	)
	if err := l.dispatch(ctx, userID, func(ctx context.Context) {
		session, opErr = l.store.FindByID(ctx, sessionID)
	}); err != nil {
		return nil, err
	}
	if opErr != nil {
		if errors.Is(opErr, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(opErr, dErrors.CodeInternal, "failed to load session")
	}
	if session.UserID != userID {
		return nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}
	if session.Expired(now) {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	return session, nil
}

// ListSessions returns the user's live sessions. Expired entries are dropped
// from the result and reaped opportunistically.
func (l *Ledger) ListSessions(ctx context.Context, userID id.UserID, now time.Time) ([]*Session, error) {
	var (
		live  []*Session
		opErr error
	)
	if err := l.dispatch(ctx, userID, func(ctx context.Context) {
		var all []*Session
		all, opErr = l.store.ListByUser(ctx, userID)
		if opErr != nil {
			return
		}
		for _, session := range all {
			if session.Expired(now) {
				if err := l.store.Delete(ctx, session.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
					l.logger.WarnContext(ctx, "failed to reap expired session",
						"session_id", session.ID.String(), "error", err.Error())
				}
				continue
			}
			live = append(live, session)
		}
	}); err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, dErrors.Wrap(opErr, dErrors.CodeInternal, "failed to list sessions")
	}
	return live, nil
}

// RevokeSession removes one session. Ownership is validated inside the actor
// so a racing revoke cannot cross user boundaries. Revoking an
// already-missing session is not an error.
func (l *Ledger) RevokeSession(ctx context.Context, userID id.UserID, sessionID id.SessionID) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}
	if sessionID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "session ID required")
	}

	var opErr error
	if err := l.dispatch(ctx, userID, func(ctx context.Context) {
		session, err := l.store.FindByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return // already gone; revoke is idempotent
			}
			opErr = err
			return
		}
		if session.UserID != userID {
			opErr = dErrors.New(dErrors.CodeForbidden, "forbidden")
			return
		}
		opErr = l.store.Delete(ctx, sessionID)
	}); err != nil {
		return err
	}
	if opErr != nil {
		if dErrors.HasCode(opErr, dErrors.CodeForbidden) {
			return opErr
		}
		return dErrors.Wrap(opErr, dErrors.CodeInternal, "failed to revoke session")
	}
	return nil
}

// RevokeAll removes every session for the user (e.g. on password change),
// optionally keeping the current one. Returns how many were revoked.
func (l *Ledger) RevokeAll(ctx context.Context, userID id.UserID, keep id.SessionID) (int, error) {
	if userID.IsNil() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}

	revoked := 0
	var opErr error
	if err := l.dispatch(ctx, userID, func(ctx context.Context) {
		sessions, err := l.store.ListByUser(ctx, userID)
		if err != nil {
			opErr = err
			return
		}
		for _, session := range sessions {
			if session.ID == keep {
				continue
			}
			if err := l.store.Delete(ctx, session.ID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				// Partial revocation beats none; keep going.
				l.logger.ErrorContext(ctx, "failed to revoke session during revoke-all",
					"session_id", session.ID.String(), "error", err.Error())
				continue
			}
			revoked++
		}
	}); err != nil {
		return 0, err
	}
	if opErr != nil {
		return revoked, dErrors.Wrap(opErr, dErrors.CodeInternal, "failed to list sessions")
	}
	return revoked, nil
}
