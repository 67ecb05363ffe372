package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"grove/internal/auth/models"
	id "grove/pkg/domain"
	"grove/pkg/platform/sentinel"
)

// PostgresStore persists registered clients.
//
// Schema:
//
//	CREATE TABLE oauth_clients (
//	    id               UUID PRIMARY KEY,
//	    name             TEXT NOT NULL,
//	    oauth_client_id  TEXT NOT NULL UNIQUE,
//	    secret_hash      TEXT NOT NULL,
//	    redirect_uris    TEXT[] NOT NULL,
//	    allowed_origins  TEXT[] NOT NULL DEFAULT '{}',
//	    internal_service BOOLEAN NOT NULL DEFAULT FALSE,
//	    created_at       TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed client store.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Client) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_clients
			(id, name, oauth_client_id, secret_hash, redirect_uris, allowed_origins, internal_service, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID.String(), c.Name, c.OAuthClientID, c.ClientSecretHash,
		c.RedirectURIs, c.AllowedOrigins, c.InternalService, c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("client_id already registered: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByOAuthClientID(ctx context.Context, oauthClientID string) (*models.Client, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, oauth_client_id, secret_hash, redirect_uris, allowed_origins, internal_service, created_at
		FROM oauth_clients
		WHERE oauth_client_id = $1`, oauthClientID)

	var (
		c     models.Client
		rawID string
	)
	err := row.Scan(&rawID, &c.Name, &c.OAuthClientID, &c.ClientSecretHash,
		&c.RedirectURIs, &c.AllowedOrigins, &c.InternalService, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("client not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query client: %w", err)
	}

	c.ID, err = id.ParseClientID(rawID)
	if err != nil {
		return nil, fmt.Errorf("corrupt client id in storage: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) UpdateSecretHash(ctx context.Context, oauthClientID, secretHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE oauth_clients SET secret_hash = $2 WHERE oauth_client_id = $1`,
		oauthClientID, secretHash)
	if err != nil {
		return fmt.Errorf("update client secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("client not found: %w", sentinel.ErrNotFound)
	}
	return nil
}
