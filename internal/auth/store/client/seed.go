package client

import (
	"context"
	"errors"
	"time"

	"grove/internal/auth/models"
	"grove/pkg/platform/sentinel"
)

// Store is the subset of client persistence seeding needs.
type Store interface {
	Create(ctx context.Context, c *models.Client) error
}

// SeedSpec describes one client to provision at startup.
type SeedSpec struct {
	Name            string
	OAuthClientID   string
	Secret          string
	RedirectURIs    []string
	AllowedOrigins  []string
	InternalService bool
}

// Seed provisions first-party clients. Already-registered clients are
// skipped so restarts are idempotent.
func Seed(ctx context.Context, store Store, specs []SeedSpec, now time.Time) error {
	for _, spec := range specs {
		c, err := models.NewClient(spec.Name, spec.OAuthClientID, spec.Secret,
			spec.RedirectURIs, spec.AllowedOrigins, spec.InternalService, now)
		if err != nil {
			return err
		}
		if err := store.Create(ctx, c); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return err
		}
	}
	return nil
}
