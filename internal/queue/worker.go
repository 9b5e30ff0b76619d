package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Outcome reports what a single TryExecuteTask call did.
type Outcome int

const (
	// EmptyQueue means no unlocked job was available.
	EmptyQueue Outcome = iota
	// TaskCompleted means a job was dequeued and then removed or released.
	TaskCompleted
)

func (o Outcome) String() string {
	switch o {
	case EmptyQueue:
		return "empty_queue"
	case TaskCompleted:
		return "task_completed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Disposition is a handler's verdict on a job.
type Disposition int

const (
	// Remove deletes the job: it was delivered or can never be delivered.
	Remove Disposition = iota
	// Retain leaves the job pending so it is retried on a later poll.
	Retain
)

// JobHandler processes one delivery job. A returned error releases the job.
type JobHandler interface {
	HandleJob(ctx context.Context, job *Job) (Disposition, error)
}

// Dequeuer is satisfied by *Queue.
type Dequeuer interface {
	DequeueOne(ctx context.Context) (*Job, error)
}

// Worker runs the dequeue, handle, complete-or-release cycle.
type Worker struct {
	name    string
	queue   Dequeuer
	handler JobHandler
	config  Config
	wake    <-chan struct{}
	log     zerolog.Logger
}

// NewWorker creates a Worker. wake may be nil; a receive on it cuts an idle
// poll interval short.
func NewWorker(name string, q Dequeuer, handler JobHandler, cfg Config, wake <-chan struct{}, log zerolog.Logger) *Worker {
	return &Worker{
		name:    name,
		queue:   q,
		handler: handler,
		config:  cfg,
		wake:    wake,
		log:     log.With().Str("worker", name).Logger(),
	}
}

// TryExecuteTask processes at most one job.
func (w *Worker) TryExecuteTask(ctx context.Context) (Outcome, error) {
	job, err := w.queue.DequeueOne(ctx)
	if err != nil {
		return EmptyQueue, err
	}
	if job == nil {
		return EmptyQueue, nil
	}

	disposition, err := w.handler.HandleJob(ctx, job)

	// Finish the job even if ctx was cancelled during the send.
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		if relErr := job.Release(finishCtx); relErr != nil {
			w.log.Error().Err(relErr).
				Str("newsletter_issue_id", job.IssueID.String()).
				Str("subscriber_email", job.SubscriberEmail).
				Msg("failed to release delivery task")
		}
		return TaskCompleted, fmt.Errorf("handle delivery task: %w", err)
	}

	switch disposition {
	case Retain:
		if err := job.Release(finishCtx); err != nil {
			return TaskCompleted, err
		}
	default:
		if err := job.Complete(finishCtx); err != nil {
			return TaskCompleted, err
		}
	}
	return TaskCompleted, nil
}

// Run loops until ctx is cancelled. An empty queue sleeps PollInterval, an
// error sleeps ErrorBackoff, a completed task loops immediately.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Msg("worker started")

	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("worker stopping")
			return
		}

		outcome, err := w.TryExecuteTask(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("delivery task failed")
			}
			w.sleep(ctx, w.config.ErrorBackoff, nil)
		case outcome == EmptyQueue:
			w.sleep(ctx, w.config.PollInterval, w.wake)
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration, wake <-chan struct{}) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}

// Pool runs a fixed number of Workers.
type Pool struct {
	queue   Dequeuer
	handler JobHandler
	config  Config
	wake    <-chan struct{}
	log     zerolog.Logger
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewPool creates a Pool. wake may be nil.
func NewPool(q Dequeuer, handler JobHandler, cfg Config, wake <-chan struct{}, log zerolog.Logger) *Pool {
	return &Pool{
		queue:   q,
		handler: handler,
		config:  cfg,
		wake:    wake,
		log:     log,
	}
}

// Start launches the configured number of worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	wakes := make([]chan struct{}, p.config.WorkerCount)
	for i := range p.config.WorkerCount {
		wakes[i] = make(chan struct{}, 1)
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.queue, p.handler, p.config, wakes[i], p.log)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			worker.Run(ctx)
		}()
	}

	if p.wake != nil {
		go fanOut(ctx, p.wake, wakes)
	}

	p.log.Info().
		Int("worker_count", p.config.WorkerCount).
		Dur("poll_interval", p.config.PollInterval).
		Msg("worker pool started")
}

// Stop signals all workers to stop and waits up to the configured shutdown
// timeout for in-flight jobs to finish.
func (p *Pool) Stop(ctx context.Context) {
	if p.cancel == nil {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("worker pool stopped gracefully")
	case <-time.After(p.config.ShutdownTimeout):
		p.log.Warn().Msg("worker pool shutdown timed out")
	case <-ctx.Done():
		p.log.Warn().Msg("worker pool shutdown cancelled")
	}
}

// fanOut forwards each wake-up to every worker without blocking.
func fanOut(ctx context.Context, src <-chan struct{}, dst []chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-src:
			if !ok {
				return
			}
			for _, ch := range dst {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}
}
