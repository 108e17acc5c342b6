package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/catherinevee/endpointmgr/internal/logger"
)

// StepType identifies the unit of work a job carries
type StepType string

// Status represents the lifecycle of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one stateless unit of work. The payload is the job's entire state;
// handlers share nothing in memory with their predecessors.
type Job struct {
	ID         string          `json:"id"`
	Type       StepType        `json:"type"`
	Status     Status          `json:"status"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
}

// Handler processes one job type. Handlers must be idempotent: delivery is
// at least once, and a retried job re-runs with the identical payload.
type Handler func(ctx context.Context, job *Job) error

// Queue executes jobs asynchronously on a bounded worker pool
type Queue struct {
	mu          sync.RWMutex
	handlers    map[StepType]Handler
	jobs        map[string]*Job
	pending     chan *Job
	workers     int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	log         logger.Logger
	draining    sync.WaitGroup
	stepTimeout time.Duration
}

// NewQueue creates a queue with the given worker count
func NewQueue(workers int, log logger.Logger) *Queue {
	if workers < 1 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		handlers:    make(map[StepType]Handler),
		jobs:        make(map[string]*Job),
		pending:     make(chan *Job, 256),
		workers:     workers,
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
		stepTimeout: 5 * time.Minute,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// RegisterHandler registers a handler for a step type
func (q *Queue) RegisterHandler(step StepType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[step] = handler
}

// Enqueue marshals the payload and schedules a job
func (q *Queue) Enqueue(step StepType, payload interface{}) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", step, err)
	}

	job := &Job{
		ID:         uuid.NewString(),
		Type:       step,
		Status:     StatusPending,
		Payload:    data,
		CreatedAt:  time.Now(),
		MaxRetries: 2,
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	q.draining.Add(1)
	select {
	case q.pending <- job:
		return job, nil
	case <-q.ctx.Done():
		q.draining.Done()
		return nil, fmt.Errorf("queue is shut down")
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pending:
			q.execute(job)
		}
	}
}

func (q *Queue) execute(job *Job) {
	defer q.draining.Done()

	now := time.Now()
	q.mu.Lock()
	job.Status = StatusRunning
	job.StartedAt = &now
	handler, ok := q.handlers[job.Type]
	q.mu.Unlock()

	if !ok {
		q.finish(job, fmt.Errorf("no handler registered for step %s", job.Type))
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.stepTimeout)
	defer cancel()

	err := handler(ctx, job)
	if err != nil && job.RetryCount < job.MaxRetries {
		q.mu.Lock()
		job.RetryCount++
		job.Status = StatusPending
		q.mu.Unlock()
		q.log.Warn("step failed, retrying",
			logger.String("step", string(job.Type)),
			logger.Int("attempt", job.RetryCount),
			logger.Err(err))

		q.draining.Add(1)
		select {
		case q.pending <- job:
		case <-q.ctx.Done():
			q.draining.Done()
			q.finish(job, err)
		}
		return
	}

	q.finish(job, err)
}

func (q *Queue) finish(job *Job, err error) {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	job.FinishedAt = &now
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		q.log.Error("step failed permanently",
			logger.String("step", string(job.Type)),
			logger.String("job_id", job.ID),
			logger.Err(err))
	} else {
		job.Status = StatusCompleted
	}
}

// Job returns a job by ID
func (q *Queue) Job(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	return job, ok
}

// Drain blocks until every enqueued job (including jobs enqueued by running
// handlers) has finished. Used by the one-shot CLI mode.
func (q *Queue) Drain() {
	q.draining.Wait()
}

// Shutdown stops the workers after in-flight jobs complete or the context
// expires
func (q *Queue) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.draining.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		q.cancel()
		q.wg.Wait()
		return fmt.Errorf("shutdown timed out with jobs still running")
	}

	q.cancel()
	q.wg.Wait()
	return nil
}
