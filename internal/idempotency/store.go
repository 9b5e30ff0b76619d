package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sungwon/newsletter-relay/internal/storage"
)

// ErrResponseNotReady means the key is claimed by a request that has not
// saved its response yet. Callers may retry after a short delay.
var ErrResponseNotReady = errors.New("idempotency: saved response not ready")

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NextAction is the result of BeginOrReplay. Exactly one field is set: Tx
// when the caller won the key and must do the work, Saved when the work was
// already done.
type NextAction struct {
	Tx    pgx.Tx
	Saved *Response
}

// Store persists claims and saved responses in the idempotency table.
type Store struct {
	db DB
}

// NewStore creates a Store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const claimKey = `INSERT INTO idempotency (user_id, idempotency_key, created_at)
VALUES ($1, $2, now())
ON CONFLICT DO NOTHING`

// BeginOrReplay opens a transaction and tries to claim (userID, key). If the
// insert wins, the transaction is returned open and holds the row lock until
// CaptureResponse commits it; a concurrent claimant blocks on that lock. If
// the key was already claimed, the transaction is rolled back and the saved
// response is returned.
func (s *Store) BeginOrReplay(ctx context.Context, userID uuid.UUID, key Key) (NextAction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return NextAction{}, storage.Wrap("begin idempotency transaction", err)
	}

	tag, err := tx.Exec(ctx, claimKey, userID, key.String())
	if err != nil {
		_ = tx.Rollback(ctx)
		return NextAction{}, storage.Wrap("claim idempotency key", err)
	}
	if tag.RowsAffected() > 0 {
		return NextAction{Tx: tx}, nil
	}

	if err := tx.Rollback(ctx); err != nil {
		return NextAction{}, storage.Wrap("rollback idempotency transaction", err)
	}

	saved, err := s.SavedResponse(ctx, userID, key)
	if err != nil {
		return NextAction{}, err
	}
	return NextAction{Saved: saved}, nil
}

const selectSaved = `SELECT response_status_code, response_headers, response_body
FROM idempotency
WHERE user_id = $1 AND idempotency_key = $2`

// SavedResponse loads the response stored for (userID, key). A row without a
// response, or no row at all, yields ErrResponseNotReady.
func (s *Store) SavedResponse(ctx context.Context, userID uuid.UUID, key Key) (*Response, error) {
	var (
		status  *int16
		headers []byte
		body    []byte
	)
	err := s.db.QueryRow(ctx, selectSaved, userID, key.String()).Scan(&status, &headers, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResponseNotReady
	}
	if err != nil {
		return nil, storage.Wrap("get saved response", err)
	}
	if status == nil {
		return nil, ErrResponseNotReady
	}

	resp := &Response{StatusCode: int(*status), Body: body}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &resp.Headers); err != nil {
			return nil, storage.Wrap("decode saved headers", err)
		}
	}
	return resp, nil
}

const saveResponse = `UPDATE idempotency
SET response_status_code = $3,
    response_headers = $4,
    response_body = $5
WHERE user_id = $1 AND idempotency_key = $2`

// CaptureResponse stores resp on the claimed row and commits tx, making the
// business writes done inside tx and the saved response visible together.
// On failure tx is rolled back.
func (s *Store) CaptureResponse(ctx context.Context, tx pgx.Tx, userID uuid.UUID, key Key, resp *Response) (*Response, error) {
	headers := resp.Headers
	if headers == nil {
		headers = []HeaderPair{}
	}
	encoded, err := json.Marshal(headers)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("encode response headers: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	if _, err := tx.Exec(ctx, saveResponse, userID, key.String(), int16(resp.StatusCode), encoded, body); err != nil {
		_ = tx.Rollback(ctx)
		return nil, storage.Wrap("save response", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storage.Wrap("commit idempotency transaction", err)
	}
	return resp, nil
}
