package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// User is a publisher allowed to log in and publish issues.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

const getUserByUsername = `SELECT user_id, username, password_hash, created_at
FROM users WHERE username = $1`

// GetUserByUsername returns ErrNotFound when no user has that username.
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := q.db.QueryRow(ctx, getUserByUsername, username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Wrap("get user by username", err)
	}
	return &u, nil
}

const getUserByID = `SELECT user_id, username, password_hash, created_at
FROM users WHERE user_id = $1`

// GetUserByID returns ErrNotFound when the id is unknown.
func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := q.db.QueryRow(ctx, getUserByID, id).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Wrap("get user by id", err)
	}
	return &u, nil
}

const createUserIfMissing = `INSERT INTO users (user_id, username, password_hash)
VALUES ($1, $2, $3)
ON CONFLICT (username) DO NOTHING`

// CreateUserIfMissing inserts the user unless the username is taken. It
// reports whether a row was inserted.
func (q *Queries) CreateUserIfMissing(ctx context.Context, id uuid.UUID, username, passwordHash string) (bool, error) {
	tag, err := q.db.Exec(ctx, createUserIfMissing, id, username, passwordHash)
	if err != nil {
		return false, Wrap("create user", err)
	}
	return tag.RowsAffected() == 1, nil
}

const updateUserPassword = `UPDATE users SET password_hash = $2 WHERE user_id = $1`

// UpdateUserPassword replaces the stored bcrypt hash.
func (q *Queries) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := q.db.Exec(ctx, updateUserPassword, id, passwordHash)
	if err != nil {
		return Wrap("update user password", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
