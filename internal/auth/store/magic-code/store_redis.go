package magiccode

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

const (
	// usedRetention keeps consumed codes readable past expiry so a replay
	// is observed as already used server-side.
	usedRetention = time.Hour

	consumeRetries = 3
)

// RedisStore persists magic codes in Redis. Keys embed both the address and
// the code; there is no lookup by code alone, so a code guessed for one
// account can never redeem against another.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed magic code store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func magicKey(email, code string) string {
	return "magic_code:" + key(email, code)
}

func (s *RedisStore) Create(ctx context.Context, code *models.MagicCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal magic code: %w", err)
	}

	ttl := time.Until(code.ExpiresAt) + usedRetention
	if ttl <= 0 {
		return fmt.Errorf("magic code already expired: %w", sentinel.ErrInvalidState)
	}

	if err := s.client.Set(ctx, magicKey(code.Email, code.Code), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save magic code: %w", err)
	}
	return nil
}

// Consume atomically fetches and marks the (email, code) pair used. Runs as
// a WATCH transaction so concurrent redemptions succeed for at most one
// caller; the loser re-reads and sees the used flag.
func (s *RedisStore) Consume(ctx context.Context, email, code string, now time.Time) (*models.MagicCode, error) {
	redisKey := magicKey(email, code)

	for attempt := 0; attempt < consumeRetries; attempt++ {
		var (
			record     *models.MagicCode
			consumeErr error
		)

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			payload, err := tx.Get(ctx, redisKey).Bytes()
			if errors.Is(err, redis.Nil) {
				consumeErr = fmt.Errorf("magic code not found: %w", sentinel.ErrNotFound)
				return nil
			}
			if err != nil {
				return fmt.Errorf("get magic code: %w", err)
			}

			var rec models.MagicCode
			if err := json.Unmarshal(payload, &rec); err != nil {
				return fmt.Errorf("unmarshal magic code: %w", err)
			}
			record = &rec

			if err := rec.ValidateForConsume(email, code, now); err != nil {
				consumeErr = translateMagicCodeError(err)
				return nil
			}

			rec.MarkUsed(now)
			updated, err := json.Marshal(&rec)
			if err != nil {
				return fmt.Errorf("marshal magic code: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, redisKey, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, redisKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return record, consumeErr
	}
	return nil, fmt.Errorf("magic code contention: %w", sentinel.ErrConflict)
}
