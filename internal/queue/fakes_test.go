package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func jobRow(issueID uuid.UUID, email string) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*uuid.UUID) = issueID
		*dest[1].(*string) = email
		return nil
	}}
}

func countRow(n int64) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*int64) = n
		return nil
	}}
}

func errRow(err error) fakeRow {
	return fakeRow{scan: func(...any) error { return err }}
}

type fakeTx struct {
	pgx.Tx
	row        fakeRow
	execErr    error
	commitErr  error
	execArgs   [][]any
	committed  bool
	rolledBack bool
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return f.row }

func (f *fakeTx) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("DELETE 1"), nil
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

type fakeDB struct {
	tx       *fakeTx
	beginErr error
	row      fakeRow
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.tx, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return f.row }

// fakeDequeuer hands out the queued jobs in order, then reports an empty
// queue. Completed and released jobs are tracked through their fake txs.
type fakeDequeuer struct {
	mu    sync.Mutex
	jobs  []*Job
	err   error
	calls int
}

func (f *fakeDequeuer) DequeueOne(context.Context) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.jobs) == 0 {
		return nil, nil
	}
	j := f.jobs[0]
	f.jobs = f.jobs[1:]
	return j, nil
}

func (f *fakeDequeuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHandler struct {
	mu          sync.Mutex
	disposition Disposition
	err         error
	handled     []string
}

func (f *fakeHandler) HandleJob(_ context.Context, job *Job) (Disposition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, job.SubscriberEmail)
	return f.disposition, f.err
}

func (f *fakeHandler) handledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handled)
}

func newFakeJob(email string) (*Job, *fakeTx) {
	tx := &fakeTx{}
	return &Job{IssueID: uuid.New(), SubscriberEmail: email, tx: tx}, tx
}

var errBoom = errors.New("boom")
