// Package bootstrap provides startup-time initialization routines
// such as seeding the admin publisher.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/auth"
	"github.com/sungwon/newsletter-relay/internal/storage"
)

// UserStore is the subset of *storage.Queries the seeder needs.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
	CreateUserIfMissing(ctx context.Context, id uuid.UUID, username, passwordHash string) (bool, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// SeedAdmin ensures the configured admin publisher exists. It is safe to run
// on every start: an existing user keeps its id, and its password is rotated
// only when the configured one no longer matches.
func SeedAdmin(ctx context.Context, users UserStore, log zerolog.Logger, username, password string) error {
	if username == "" || password == "" {
		log.Warn().Msg("admin credentials not configured, skipping seed")
		return nil
	}

	existing, err := users.GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if existing != nil {
		ok, err := auth.CheckPassword(existing.PasswordHash, password)
		if err != nil {
			return err
		}
		if ok {
			log.Info().Str("username", username).Msg("admin user already exists, skipping seed")
			return nil
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		if err := users.UpdateUserPassword(ctx, existing.ID, hash); err != nil {
			return fmt.Errorf("rotate admin password: %w", err)
		}
		log.Info().Str("username", username).Msg("admin password updated from configuration")
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	id := uuid.New()
	created, err := users.CreateUserIfMissing(ctx, id, username, hash)
	if err != nil {
		return err
	}
	if !created {
		// Another process seeded it between the lookup and the insert.
		log.Info().Str("username", username).Msg("admin user created concurrently, reusing")
		return nil
	}

	log.Info().
		Str("user_id", id.String()).
		Str("username", username).
		Msg("admin user seeded successfully")
	return nil
}
