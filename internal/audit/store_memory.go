package audit

import (
	"context"
	"sync"

	id "grove/pkg/domain"
	"grove/pkg/platform/privacy"
)

// InMemoryStore keeps audit events in memory, append-only. Primary store for
// dev mode and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore constructs an empty in-memory audit store.
func NewMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListByUser returns events for the user in append order. Events store the
// redacted user ID, so the query key is redacted the same way.
func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]Event, error) {
	redacted := privacy.RedactIdentifier(userID.String())

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, event := range s.events {
		if event.UserID == redacted {
			out = append(out, event)
		}
	}
	return out, nil
}

// All returns every stored event in append order, for tests.
func (s *InMemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
