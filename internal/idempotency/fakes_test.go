package idempotency

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeTx struct {
	pgx.Tx
	execTag    pgconn.CommandTag
	execErr    error
	commitErr  error
	execSQL    []string
	execArgs   [][]any
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return f.execTag, f.execErr
}

func (f *fakeTx) Commit(context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.committed {
		return pgx.ErrTxClosed
	}
	f.rolledBack = true
	return nil
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeDB struct {
	tx       *fakeTx
	beginErr error
	row      fakeRow
	queried  bool
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	f.queried = true
	return f.row
}

// savedRow scans a stored response into the three destinations used by
// SavedResponse.
func savedRow(status *int16, headers, body []byte) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		if len(dest) != 3 {
			return errors.New("unexpected scan arity")
		}
		*dest[0].(**int16) = status
		*dest[1].(*[]byte) = headers
		*dest[2].(*[]byte) = body
		return nil
	}}
}

func errRow(err error) fakeRow {
	return fakeRow{scan: func(...any) error { return err }}
}
