package reconciliation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/roomshare/internal/core/datamodel/payment"
)

// Reconciler is the part of the payment service the pool drives.
type Reconciler interface {
	StaleAttempts(ctx context.Context, olderThan time.Duration, limit int) ([]*payment.Attempt, error)
	ReconcileAttempt(ctx context.Context, attempt *payment.Attempt) (skipped bool, err error)
}

type Job struct {
	Attempt *payment.Attempt
	done    func(Result)
}

type Result struct {
	AttemptID string
	Skipped   bool
	Err       error
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("reconcile worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker reconciling attempt", "worker_id", w.ID, "attempt_id", job.Attempt.ID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("reconcile worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Workers    int
	BatchSize  int
	// JobTimeout bounds a single gateway verification plus update.
	JobTimeout time.Duration
}

// Pool periodically re-verifies initiated attempts whose callback and webhook
// never arrived.
type Pool struct {
	reconciler Reconciler
	config     Config
	logger     *slog.Logger

	jobQueue   chan Job
	workerPool chan chan Job
	wg         sync.WaitGroup
	once       sync.Once
}

func NewPool(reconciler Reconciler, config Config, logger *slog.Logger) *Pool {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 15 * time.Minute
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 45 * time.Second
	}

	return &Pool{
		reconciler: reconciler,
		config:     config,
		logger:     logger,
		jobQueue:   make(chan Job, config.BatchSize),
		workerPool: make(chan chan Job, config.Workers),
	}
}

// Start launches the workers and the dispatcher. They stop when ctx is done;
// Wait blocks until they have.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		for i := 0; i < p.config.Workers; i++ {
			NewWorker(i, p.workerPool, p.logger).Start(ctx, &p.wg, p.process)
		}

		p.wg.Add(1)
		go p.dispatch(ctx)

		p.logger.Info("reconcile worker pool started",
			"workers", p.config.Workers,
			"batch_size", p.config.BatchSize)
	})
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

// Run starts the pool and sweeps every Interval until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	p.Start(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("reconcile sweep failed", "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			p.Wait()
			p.logger.Info("reconcile worker pool stopped")
			return
		}
	}
}

// Summary counts what one sweep did.
type Summary struct {
	Found      int
	Reconciled int
	Skipped    int
	Failed     int
}

// Sweep lists stale attempts once and blocks until the pool has handled all of
// them. Start must have been called.
func (p *Pool) Sweep(ctx context.Context) (Summary, error) {
	attempts, err := p.reconciler.StaleAttempts(ctx, p.config.StaleAfter, p.config.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Found: len(attempts)}
	if len(attempts) == 0 {
		return summary, nil
	}

	var (
		mu    sync.Mutex
		batch sync.WaitGroup
	)
	record := func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Err != nil:
			summary.Failed++
		case r.Skipped:
			summary.Skipped++
		default:
			summary.Reconciled++
		}
		batch.Done()
	}

	snapshot := func() Summary {
		mu.Lock()
		defer mu.Unlock()
		return summary
	}

	for _, a := range attempts {
		if ctx.Err() != nil {
			return snapshot(), ctx.Err()
		}
		batch.Add(1)
		select {
		case p.jobQueue <- Job{Attempt: a, done: record}:
		case <-ctx.Done():
			batch.Done()
			return snapshot(), ctx.Err()
		}
	}

	finished := make(chan struct{})
	go func() {
		batch.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return snapshot(), ctx.Err()
	}
	summary = snapshot()

	p.logger.Info("reconcile sweep finished",
		"found", summary.Found,
		"reconciled", summary.Reconciled,
		"skipped", summary.Skipped,
		"failed", summary.Failed)

	return summary, nil
}

func (p *Pool) dispatch(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- job:
				case <-ctx.Done():
					p.drop(job, ctx.Err())
					return
				}
			case <-ctx.Done():
				p.drop(job, ctx.Err())
				return
			}
		case <-ctx.Done():
			p.logger.Info("reconcile dispatcher shutting down")
			p.drain(ctx.Err())
			return
		}
	}
}

func (p *Pool) drain(err error) {
	for {
		select {
		case job := <-p.jobQueue:
			p.drop(job, err)
		default:
			return
		}
	}
}

func (p *Pool) drop(job Job, err error) {
	if job.done != nil {
		job.done(Result{AttemptID: job.Attempt.ID, Err: err})
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	skipped, err := p.reconciler.ReconcileAttempt(jobCtx, job.Attempt)
	if err != nil {
		p.logger.Error("failed to reconcile attempt",
			"attempt_id", job.Attempt.ID,
			"error", err)
	}

	if job.done != nil {
		job.done(Result{AttemptID: job.Attempt.ID, Skipped: skipped, Err: err})
	}
}
