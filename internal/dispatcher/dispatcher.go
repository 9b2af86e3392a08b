package dispatcher

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"marketintel/internal/browser"
	"marketintel/internal/models"
	"marketintel/internal/scraper"
	"marketintel/internal/validation"
)

var (
	// ErrShuttingDown is returned by Submit after Shutdown has started
	ErrShuttingDown = errors.New("dispatcher is shutting down")

	errCancelled = errors.New("cancelled by request")
	errShutdown  = errors.New("interrupted by service shutdown")
)

const restartInterruptedMessage = "interrupted by service restart"

// Store is the persistence the dispatcher needs
type Store interface {
	CreateJob(ctx context.Context, params models.JobParams) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	Transition(ctx context.Context, id string, to models.JobStatus, opts models.TransitionOptions) (*models.Job, error)
	AppendResult(ctx context.Context, jobID string, rec *models.ProductRecord) error
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
}

// ContextPool hands out isolated browser contexts
type ContextPool interface {
	Acquire(ctx context.Context) (*browser.Context, error)
	Release(c *browser.Context)
	Reinitialize(ctx context.Context) error
}

// StrategyRegistry resolves a marketplace to its strategy
type StrategyRegistry interface {
	Lookup(m models.Marketplace) (scraper.Strategy, error)
}

// Runner executes the extraction loop for one job
type Runner interface {
	Run(ctx context.Context, s scraper.Strategy, bctx *browser.Context, job *models.Job, sink scraper.Sink) (int, error)
}

// Config tunes admission and recovery
type Config struct {
	MaxConcurrent      int
	AcquireTimeout     time.Duration
	RecoveryMinBackoff time.Duration
	RecoveryMaxBackoff time.Duration
	StoreTimeout       time.Duration
	Logger             *log.Logger

	// OnCompleted is called after a job is recorded as completed
	OnCompleted func(job *models.Job)
}

// Stats is a snapshot of dispatcher activity
type Stats struct {
	Running     int  `json:"running"`
	Queued      int  `json:"queued"`
	Ceiling     int  `json:"ceiling"`
	PeakRunning int  `json:"peak_running"`
	Completed   int  `json:"completed"`
	Failed      int  `json:"failed"`
	Recovering  bool `json:"recovering"`
}

// Dispatcher admits jobs, runs at most MaxConcurrent at once, and drives
// each through its lifecycle in the store.
type Dispatcher struct {
	store    Store
	pool     ContextPool
	registry StrategyRegistry
	runner   Runner
	cfg      Config
	logger   *log.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	queue      jobQueue
	tracked    map[string]*queuedJob
	seq        uint64
	running    int
	peak       int
	completed  int
	failed     int
	closed     bool
	recovering bool
}

// New creates a dispatcher. Zero config values get defaults.
func New(store Store, pool ContextPool, registry StrategyRegistry, runner Runner, cfg Config) *Dispatcher {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 3
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 60 * time.Second
	}
	if cfg.RecoveryMinBackoff <= 0 {
		cfg.RecoveryMinBackoff = time.Second
	}
	if cfg.RecoveryMaxBackoff < cfg.RecoveryMinBackoff {
		cfg.RecoveryMaxBackoff = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:      store,
		pool:       pool,
		registry:   registry,
		runner:     runner,
		cfg:        cfg,
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		tracked:    make(map[string]*queuedJob),
	}
}

// Submit validates params, persists a pending job and queues it. Invalid
// params return *models.ValidationError and create nothing.
func (d *Dispatcher) Submit(ctx context.Context, params models.JobParams) (*models.Job, error) {
	if err := validation.ValidateJobParams(&params); err != nil {
		return nil, err
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	job, err := d.store.CreateJob(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	d.logger.Printf("📥 Job %s queued (%s, %q, %d pages, priority %d)",
		job.ID, job.Marketplace, job.SearchQuery, job.MaxPages, job.Priority)

	snapshot := *job
	d.enqueue(&snapshot)
	return job, nil
}

// GetStatus returns the stored job
func (d *Dispatcher) GetStatus(ctx context.Context, id string) (*models.Job, error) {
	return d.store.GetJob(ctx, id)
}

// Cancel requests that a queued or running job stop at its next safe point.
// The job then ends failed.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	d.mu.Lock()
	item, ok := d.tracked[id]
	if ok {
		item.cancel(errCancelled)
		if item.index >= 0 {
			d.queue.markCancelled(item)
		}
	}
	d.mu.Unlock()

	if ok {
		d.logger.Printf("🛑 Cancellation requested for job %s", id)
		return nil
	}

	job, err := d.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", models.ErrInvalidTransition, id, job.Status)
}

// Resume recovers jobs left behind by a previous process: running jobs are
// failed, pending jobs are queued again in creation order.
func (d *Dispatcher) Resume(ctx context.Context) error {
	stale, err := d.store.ListJobs(ctx, models.JobFilter{Status: models.StatusRunning, Limit: -1})
	if err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}
	for _, job := range stale {
		_, err := d.store.Transition(ctx, job.ID, models.StatusFailed, models.TransitionOptions{Error: restartInterruptedMessage})
		if err != nil {
			d.logger.Printf("⚠️  Could not fail interrupted job %s: %v", job.ID, err)
			continue
		}
		d.logger.Printf("♻️  Job %s marked failed after restart", job.ID)
	}

	pending, err := d.store.ListJobs(ctx, models.JobFilter{Status: models.StatusPending, OldestFirst: true, Limit: -1})
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for _, job := range pending {
		d.enqueue(job)
	}
	if len(stale) > 0 || len(pending) > 0 {
		d.logger.Printf("♻️  Resume: %d interrupted, %d re-queued", len(stale), len(pending))
	}
	return nil
}

// Stats returns a snapshot of dispatcher activity
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Running:     d.running,
		Queued:      d.queue.Len(),
		Ceiling:     d.cfg.MaxConcurrent,
		PeakRunning: d.peak,
		Completed:   d.completed,
		Failed:      d.failed,
		Recovering:  d.recovering,
	}
}

// Shutdown stops admission, cancels running jobs and waits for them to
// finish or for ctx to end. Queued jobs stay pending for the next Resume.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for d.queue.Len() > 0 {
			item := heap.Pop(&d.queue).(*queuedJob)
			item.cancel(errShutdown)
			delete(d.tracked, item.job.ID)
		}
		for _, item := range d.tracked {
			item.cancel(errShutdown)
		}
		d.baseCancel()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Println("✅ Dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) enqueue(job *models.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if _, exists := d.tracked[job.ID]; exists {
		return
	}

	ctx, cancel := context.WithCancelCause(d.baseCtx)
	d.seq++
	item := &queuedJob{job: job, seq: d.seq, ctx: ctx, cancel: cancel}
	heap.Push(&d.queue, item)
	d.tracked[job.ID] = item
	d.dispatchLocked()
}

// dispatchLocked starts queued jobs while running slots are free
func (d *Dispatcher) dispatchLocked() {
	for !d.closed && d.running < d.cfg.MaxConcurrent && d.queue.Len() > 0 {
		item := heap.Pop(&d.queue).(*queuedJob)
		d.running++
		if d.running > d.peak {
			d.peak = d.running
		}
		d.wg.Add(1)
		go d.execute(item)
	}
}

func (d *Dispatcher) finish(item *queuedJob, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item.cancel(nil)
	delete(d.tracked, item.job.ID)
	d.running--
	if ok {
		d.completed++
	} else {
		d.failed++
	}
	d.dispatchLocked()
	d.wg.Done()
}

// execute drives one job from pending to a terminal status
func (d *Dispatcher) execute(item *queuedJob) {
	ok := false
	defer func() { d.finish(item, ok) }()

	ctx := item.ctx
	id := item.job.ID

	job, err := d.transition(id, models.StatusRunning, models.TransitionOptions{})
	if err != nil {
		d.logger.Printf("⚠️  Job %s could not start: %v", id, err)
		return
	}
	d.logger.Printf("🚀 Job %s running", id)

	if ctx.Err() != nil {
		d.fail(id, cancelReason(ctx, 0))
		return
	}

	strategy, err := d.registry.Lookup(job.Marketplace)
	if err != nil {
		d.fail(id, err.Error())
		return
	}

	if ctx.Err() != nil {
		d.fail(id, cancelReason(ctx, 0))
		return
	}

	acquireCtx, cancelAcquire := context.WithTimeout(ctx, d.cfg.AcquireTimeout)
	bctx, err := d.pool.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			d.fail(id, cancelReason(ctx, 0))
		case errors.Is(err, context.DeadlineExceeded):
			d.fail(id, fmt.Sprintf("timed out after %s waiting for a browser context", d.cfg.AcquireTimeout))
		case errors.Is(err, browser.ErrPoolExhausted):
			d.startRecovery()
			d.fail(id, err.Error())
		default:
			d.fail(id, fmt.Sprintf("failed to acquire browser context: %v", err))
		}
		return
	}
	defer d.pool.Release(bctx)

	count, err := d.run(ctx, strategy, bctx, job)
	if err != nil {
		if ctx.Err() != nil {
			d.fail(id, cancelReason(ctx, count))
		} else {
			d.fail(id, err.Error())
		}
		return
	}

	done, err := d.transition(id, models.StatusCompleted, models.TransitionOptions{ResultsCount: count})
	if err != nil {
		d.logger.Printf("❌ Job %s could not be completed: %v", id, err)
		d.fail(id, fmt.Sprintf("failed to record completion: %v", err))
		return
	}
	ok = true
	d.logger.Printf("🎉 Job %s completed with %d products", id, count)
	if d.cfg.OnCompleted != nil {
		d.cfg.OnCompleted(done)
	}
}

// run executes the loop, turning a panic into a job failure
func (d *Dispatcher) run(ctx context.Context, strategy scraper.Strategy, bctx *browser.Context, job *models.Job) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scraper panic: %v", r)
		}
	}()
	return d.runner.Run(ctx, strategy, bctx, job, d.store)
}

// transition writes a status change with its own deadline so terminal
// states land even after the job's context is cancelled
func (d *Dispatcher) transition(id string, to models.JobStatus, opts models.TransitionOptions) (*models.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.StoreTimeout)
	defer cancel()
	return d.store.Transition(ctx, id, to, opts)
}

func (d *Dispatcher) fail(id, reason string) {
	if _, err := d.transition(id, models.StatusFailed, models.TransitionOptions{Error: reason}); err != nil {
		d.logger.Printf("❌ Job %s could not be marked failed: %v", id, err)
		return
	}
	d.logger.Printf("❌ Job %s failed: %s", id, reason)
}

func cancelReason(ctx context.Context, persisted int) string {
	reason := context.Cause(ctx).Error()
	if persisted > 0 {
		return fmt.Sprintf("%s after %d products", reason, persisted)
	}
	return reason
}

// startRecovery restarts the browser in the background with exponential
// backoff. Only one recovery runs at a time.
func (d *Dispatcher) startRecovery() {
	d.mu.Lock()
	if d.recovering || d.closed {
		d.mu.Unlock()
		return
	}
	d.recovering = true
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			d.recovering = false
			d.mu.Unlock()
			d.wg.Done()
		}()

		backoff := d.cfg.RecoveryMinBackoff
		for attempt := 1; ; attempt++ {
			err := d.pool.Reinitialize(d.baseCtx)
			if err == nil {
				d.logger.Printf("✅ Browser pool recovered after %d attempt(s)", attempt)
				return
			}
			d.logger.Printf("⚠️  Browser pool recovery attempt %d failed: %v (retrying in %s)", attempt, err, backoff)

			timer := time.NewTimer(backoff)
			select {
			case <-d.baseCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			backoff *= 2
			if backoff > d.cfg.RecoveryMaxBackoff {
				backoff = d.cfg.RecoveryMaxBackoff
			}
		}
	}()
}
