package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockedOut is returned while a username has too many recent failed logins.
var ErrLockedOut = errors.New("account temporarily locked due to too many failed login attempts")

// LoginLimitConfig holds the lockout policy.
type LoginLimitConfig struct {
	// AttemptsLimit is the number of failed logins that triggers a lockout.
	AttemptsLimit int
	// LockoutDuration is how long the failure counter lives after the last failure.
	LockoutDuration time.Duration
}

// LoginLimiter counts failed logins per username in Redis. A nil client
// disables it.
type LoginLimiter struct {
	client *redis.Client
	config LoginLimitConfig
}

// NewLoginLimiter creates a LoginLimiter. client may be nil.
func NewLoginLimiter(client *redis.Client, config LoginLimitConfig) *LoginLimiter {
	return &LoginLimiter{
		client: client,
		config: config,
	}
}

func loginKey(username string) string {
	return fmt.Sprintf("ratelimit:login:%s", strings.ToLower(username))
}

// Check returns ErrLockedOut when the username has reached the attempts limit.
func (l *LoginLimiter) Check(ctx context.Context, username string) error {
	if l == nil || l.client == nil || l.config.AttemptsLimit <= 0 {
		return nil
	}

	count, err := l.client.Get(ctx, loginKey(username)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("check login rate limit: %w", err)
	}

	if int(count) >= l.config.AttemptsLimit {
		return ErrLockedOut
	}
	return nil
}

// RecordFailure increments the failure counter and refreshes its expiry.
func (l *LoginLimiter) RecordFailure(ctx context.Context, username string) error {
	if l == nil || l.client == nil {
		return nil
	}

	key := loginKey(username)
	pipe := l.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.config.LockoutDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}
	return nil
}

// Clear resets the failure counter after a successful login.
func (l *LoginLimiter) Clear(ctx context.Context, username string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, loginKey(username)).Err()
}
