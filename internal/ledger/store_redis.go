package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

// RedisStore persists ledger sessions in Redis so every instance behind the
// load balancer sees the same device list. Layout:
//
//	session:{sessionID}   → JSON session document, TTL = session expiry
//	user_sessions:{userID} → set of session IDs (membership may outlive the
//	                         document; reads treat a missing document as an
//	                         expired session and clean the set lazily)
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(sessionID id.SessionID) string { return "session:" + sessionID.String() }
func userSetKey(userID id.UserID) string       { return "user_sessions:" + userID.String() }

func (s *RedisStore) Save(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired: %w", sentinel.ErrInvalidState)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), payload, ttl)
	pipe.SAdd(ctx, userSetKey(session.UserID), session.ID.String())
	// Keep the index alive a little past the longest session so it cleans
	// itself up for users who never come back.
	pipe.Expire(ctx, userSetKey(session.UserID), ttl+24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, sessionID id.SessionID) (*Session, error) {
	payload, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID id.UserID) ([]*Session, error) {
	members, err := s.client.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(members))
	for _, member := range members {
		sessionID, err := id.ParseSessionID(member)
		if err != nil {
			continue
		}
		session, err := s.FindByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				// Document expired out from under the index.
				s.client.SRem(ctx, userSetKey(userID), member)
				continue
			}
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID id.SessionID) error {
	session, err := s.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, userSetKey(session.UserID), sessionID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
