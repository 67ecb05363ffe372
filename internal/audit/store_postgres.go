package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	id "grove/pkg/domain"
	"grove/pkg/platform/privacy"
)

// PostgresStore persists audit events append-only. Rows are never updated or
// deleted by the service; retention is an operational concern handled with
// partition drops.
//
// Schema:
//
//	CREATE TABLE audit_events (
//	    id         UUID PRIMARY KEY,
//	    ts         TIMESTAMPTZ NOT NULL,
//	    event_type TEXT NOT NULL,
//	    user_id    TEXT,
//	    client_id  TEXT,
//	    session_id TEXT,
//	    grant_type TEXT,
//	    ip         TEXT,
//	    request_id TEXT,
//	    detail     TEXT
//	);
//	CREATE INDEX audit_events_user_ts_idx ON audit_events (user_id, ts DESC);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed audit store.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events
			(id, ts, event_type, user_id, client_id, session_id, grant_type, ip, request_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.Timestamp, string(event.Type), event.UserID, event.ClientID,
		event.SessionID, event.GrantType, event.IP, event.RequestID, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByUser returns the user's events, newest first. The query key is the
// redacted identifier because that is all the table stores.
func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts, event_type, user_id, client_id, session_id, grant_type, ip, request_id, detail
		FROM audit_events
		WHERE user_id = $1
		ORDER BY ts DESC`,
		privacy.RedactIdentifier(userID.String()),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &e.UserID, &e.ClientID,
			&e.SessionID, &e.GrantType, &e.IP, &e.RequestID, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = EventType(eventType)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
