package authorizationcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"grove/internal/auth/models"
	"grove/pkg/platform/sentinel"
)

// usedRetention keeps consumed and expired codes readable past their TTL so
// a replayed code is reported as already used, not unknown. Replay is a
// theft indicator; the distinction matters server-side.
const usedRetention = time.Hour

// consumeRetries bounds the optimistic-transaction retry loop. A retry only
// happens when another instance touched the code between read and write, and
// the re-read then observes the used flag.
const consumeRetries = 3

// RedisStore persists authorization codes in Redis so any instance behind
// the load balancer can consume a code minted by another. Consume runs as a
// WATCH transaction: the validate-and-mark-used step either commits against
// an unchanged key or re-reads, so a code presented twice succeeds for at
// most one caller.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed authorization code store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func codeKey(code string) string { return "auth_code:" + code }

func (s *RedisStore) Create(ctx context.Context, code *models.AuthorizationCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal authorization code: %w", err)
	}

	ttl := time.Until(code.ExpiresAt) + usedRetention
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired: %w", sentinel.ErrInvalidState)
	}

	ok, err := s.client.SetNX(ctx, codeKey(code.Code), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("save authorization code: %w", err)
	}
	if !ok {
		return fmt.Errorf("authorization code collision: %w", sentinel.ErrConflict)
	}
	return nil
}

// Consume marks the code used if it is valid for the presented redirect URI.
// Validation failures that do not burn the code (redirect mismatch) leave
// the stored record untouched, mirroring the in-memory store.
func (s *RedisStore) Consume(ctx context.Context, code, redirectURI string, now time.Time) (*models.AuthorizationCode, error) {
	key := codeKey(code)

	for attempt := 0; attempt < consumeRetries; attempt++ {
		var (
			record     *models.AuthorizationCode
			consumeErr error
		)

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			payload, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				consumeErr = fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
				return nil
			}
			if err != nil {
				return fmt.Errorf("get authorization code: %w", err)
			}

			var rec models.AuthorizationCode
			if err := json.Unmarshal(payload, &rec); err != nil {
				return fmt.Errorf("unmarshal authorization code: %w", err)
			}
			record = &rec

			if err := rec.ValidateForConsume(redirectURI, now); err != nil {
				consumeErr = translateAuthCodeError(err)
				return nil
			}

			rec.MarkUsed(now)
			updated, err := json.Marshal(&rec)
			if err != nil {
				return fmt.Errorf("marshal authorization code: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			// Lost the race; the re-read sees the winner's used flag.
			continue
		}
		if err != nil {
			return nil, err
		}
		return record, consumeErr
	}
	return nil, fmt.Errorf("authorization code contention: %w", sentinel.ErrConflict)
}
