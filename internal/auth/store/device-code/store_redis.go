package devicecode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"grove/internal/auth/models"
	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

const (
	// terminalRetention keeps consumed, denied and expired records readable
	// past the code's TTL so late polls still get their terminal answer
	// instead of an unknown-code rejection.
	terminalRetention = 24 * time.Hour

	// Every poll writes (it stamps LastPolledAt), so contended codes need
	// more optimistic retries than the consume-style stores.
	pollRetries = 8
)

// RedisStore persists device-flow grants in Redis: the JSON record under the
// device-code hash, plus a small index from user code to hash for the
// verification page. Poll and the user-code transitions run as WATCH
// transactions on the record key, so the authorized state is consumed by
// exactly one poll even across instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed device code store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func hashKey(deviceCodeHash string) string { return "device_code:" + deviceCodeHash }
func userCodeKey(userCode string) string   { return "device_user_code:" + userCode }

func (s *RedisStore) Create(ctx context.Context, code *models.DeviceCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal device code: %w", err)
	}

	ttl := time.Until(code.ExpiresAt) + terminalRetention
	if ttl <= 0 {
		return fmt.Errorf("device code already expired: %w", sentinel.ErrInvalidState)
	}

	// The user-code index is claimed first; a collision with a live flow
	// must fail before anything else is written.
	ok, err := s.client.SetNX(ctx, userCodeKey(code.UserCode), code.DeviceCodeHash, ttl).Result()
	if err != nil {
		return fmt.Errorf("claim user code: %w", err)
	}
	if !ok {
		return fmt.Errorf("user code collision: %w", sentinel.ErrConflict)
	}

	if err := s.client.Set(ctx, hashKey(code.DeviceCodeHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save device code: %w", err)
	}
	return nil
}

// Poll atomically records a poll attempt and evaluates the state machine,
// mirroring the in-memory store: throttle is checked before state, expiry
// beats a pending authorize, and authorized transitions to consumed in the
// same write.
func (s *RedisStore) Poll(ctx context.Context, deviceCodeHash string, now time.Time) (*models.DeviceCode, PollOutcome, error) {
	var (
		record  *models.DeviceCode
		outcome PollOutcome
	)

	err := s.updateRecord(ctx, hashKey(deviceCodeHash), func(rec *models.DeviceCode) bool {
		tooFast := rec.RegisterPoll(now)

		if rec.Status == models.DeviceStatusPending && rec.IsExpired(now) {
			rec.Status = models.DeviceStatusExpired
		}

		switch {
		case rec.Status == models.DeviceStatusExpired:
			outcome = OutcomeExpired
		case rec.Status == models.DeviceStatusDenied:
			outcome = OutcomeDenied
		case rec.Status == models.DeviceStatusConsumed:
			outcome = OutcomeConsumed
		case tooFast:
			outcome = OutcomeSlowDown
		case rec.Status == models.DeviceStatusAuthorized:
			rec.MarkConsumed()
			outcome = OutcomeAuthorized
		default:
			outcome = OutcomePending
		}

		copied := *rec
		record = &copied
		return true
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, "", fmt.Errorf("device code not found: %w", sentinel.ErrNotFound)
		}
		return nil, "", err
	}
	return record, outcome, nil
}

// AuthorizeByUserCode binds the user and transitions pending → authorized.
func (s *RedisStore) AuthorizeByUserCode(ctx context.Context, userCode string, userID id.UserID, now time.Time) (*models.DeviceCode, error) {
	return s.transitionByUserCode(ctx, userCode, func(rec *models.DeviceCode) error {
		return rec.Authorize(userID, now)
	})
}

// DenyByUserCode transitions pending → denied.
func (s *RedisStore) DenyByUserCode(ctx context.Context, userCode string, now time.Time) (*models.DeviceCode, error) {
	return s.transitionByUserCode(ctx, userCode, func(rec *models.DeviceCode) error {
		return rec.Deny(now)
	})
}

// FindByUserCode returns the record for the verification page, without
// mutating state.
func (s *RedisStore) FindByUserCode(ctx context.Context, userCode string) (*models.DeviceCode, error) {
	deviceCodeHash, err := s.client.Get(ctx, userCodeKey(userCode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("user code not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user code: %w", err)
	}

	payload, err := s.client.Get(ctx, hashKey(deviceCodeHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("device code not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get device code: %w", err)
	}

	var record models.DeviceCode
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal device code: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) transitionByUserCode(ctx context.Context, userCode string, transition func(*models.DeviceCode) error) (*models.DeviceCode, error) {
	deviceCodeHash, err := s.client.Get(ctx, userCodeKey(userCode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("user code not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user code: %w", err)
	}

	var (
		record        *models.DeviceCode
		transitionErr error
	)
	err = s.updateRecord(ctx, hashKey(deviceCodeHash), func(rec *models.DeviceCode) bool {
		copied := *rec
		record = &copied
		if err := transition(rec); err != nil {
			transitionErr = fmt.Errorf("%w: %w", err, sentinel.ErrInvalidState)
			return false
		}
		copied = *rec
		record = &copied
		return true
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("user code not found: %w", sentinel.ErrNotFound)
		}
		return nil, err
	}
	if transitionErr != nil {
		return record, transitionErr
	}
	return record, nil
}

// updateRecord runs fn against the stored record inside a WATCH transaction.
// fn returns false to skip the write; the read state is still returned to
// the caller. Contention retries re-read, so state transitions observe the
// winner's write.
func (s *RedisStore) updateRecord(ctx context.Context, key string, fn func(*models.DeviceCode) bool) error {
	for attempt := 0; attempt < pollRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			payload, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return sentinel.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("get device code: %w", err)
			}

			var rec models.DeviceCode
			if err := json.Unmarshal(payload, &rec); err != nil {
				return fmt.Errorf("unmarshal device code: %w", err)
			}

			if !fn(&rec) {
				return nil
			}

			updated, err := json.Marshal(&rec)
			if err != nil {
				return fmt.Errorf("marshal device code: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("device code contention: %w", sentinel.ErrConflict)
}
