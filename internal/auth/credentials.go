package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/newsletter-relay/internal/storage"
)

// ErrInvalidCredentials is returned for an unknown username or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// UserStore looks up publishers by username.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*storage.User, error)
}

// Authenticator verifies publisher credentials for both the HTTP login and
// SMTP AUTH.
type Authenticator struct {
	users   UserStore
	limiter *LoginLimiter
	log     zerolog.Logger
}

// NewAuthenticator creates an Authenticator. limiter may be nil.
func NewAuthenticator(users UserStore, limiter *LoginLimiter, log zerolog.Logger) *Authenticator {
	return &Authenticator{users: users, limiter: limiter, log: log}
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// compareDummy spends a bcrypt comparison on unknown usernames so they take
// as long as a wrong password.
func compareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("dummy-password-for-timing")
	})
	_, _ = CheckPassword(dummyHash, password)
}

// Authenticate returns the user id for valid credentials. It returns
// ErrLockedOut, ErrInvalidCredentials or a wrapped storage error.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*storage.User, error) {
	if err := a.limiter.Check(ctx, username); err != nil {
		if errors.Is(err, ErrLockedOut) {
			return nil, err
		}
		// Redis trouble must not block publishers.
		a.log.Warn().Err(err).Msg("login rate limit check failed")
	}

	user, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		compareDummy(password)
		a.recordFailure(ctx, username)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	ok, err := CheckPassword(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		a.recordFailure(ctx, username)
		return nil, ErrInvalidCredentials
	}

	if err := a.limiter.Clear(ctx, username); err != nil {
		a.log.Warn().Err(err).Msg("clear failed logins")
	}
	return user, nil
}

// UserID is a convenience for callers that only need the id.
func (a *Authenticator) UserID(ctx context.Context, username, password string) (uuid.UUID, error) {
	user, err := a.Authenticate(ctx, username, password)
	if err != nil {
		return uuid.Nil, err
	}
	return user.ID, nil
}

func (a *Authenticator) recordFailure(ctx context.Context, username string) {
	if err := a.limiter.RecordFailure(ctx, username); err != nil {
		a.log.Warn().Err(err).Msg("record failed login")
	}
}
