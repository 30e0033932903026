// Package workerpool provides a bounded worker pool for controlled concurrency.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned when submitting to a stopped pool
var ErrStopped = errors.New("pool is shutting down")

// Task represents a unit of work to be processed
type Task[T any] struct {
	ID      string
	Index   int
	Payload T
	Context context.Context
}

// Result represents the outcome of task processing
type Result[R any] struct {
	TaskID   string
	Index    int
	Value    R
	Err      error
	Attempts int
}

// WorkerFunc processes one task
type WorkerFunc[T, R any] func(ctx context.Context, task *Task[T]) (R, error)

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task and result queues
	QueueSize int
	// MaxRetries is the number of extra attempts for a failed task
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between retries
	RetryDelay time.Duration
}

// DefaultConfig returns defaults sized for interactive CLI batches
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		QueueSize:  64,
		MaxRetries: 0,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Pool manages a pool of workers for concurrent task processing
type Pool[T, R any] struct {
	config     Config
	workerFunc WorkerFunc[T, R]
	logger     *zap.Logger

	taskChan   chan *Task[T]
	resultChan chan *Result[R]
	wg         sync.WaitGroup

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	submitMu sync.RWMutex

	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
	activeWorkers  int64
}

// New creates a new worker pool
func New[T, R any](cfg Config, fn WorkerFunc[T, R], logger *zap.Logger) (*Pool[T, R], error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool[T, R]{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan *Task[T], cfg.QueueSize),
		resultChan: make(chan *Result[R], cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers
func (p *Pool[T, R]) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Debug("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// SubmitContext adds a task, waiting for queue room until ctx ends
func (p *Pool[T, R]) SubmitContext(ctx context.Context, task *Task[T]) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.ctx.Err() != nil {
		return ErrStopped
	}

	select {
	case p.taskChan <- task:
		atomic.AddInt64(&p.tasksSubmitted, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrStopped
	}
}

// Results returns the result channel. It is closed by Stop once every
// worker has exited, so it must be drained concurrently with submission.
func (p *Pool[T, R]) Results() <-chan *Result[R] {
	return p.resultChan
}

// Stop stops accepting tasks, lets queued tasks finish and closes Results
func (p *Pool[T, R]) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()

		// wait for in-flight Submit calls before closing the queue
		p.submitMu.Lock()
		close(p.taskChan)
		p.submitMu.Unlock()

		p.wg.Wait()
		close(p.resultChan)
		p.logger.Debug("worker pool stopped")
	})
}

func (p *Pool[T, R]) worker(id int) {
	defer p.wg.Done()

	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for task := range p.taskChan {
		p.resultChan <- p.processTask(id, task)
	}
}

// processTask handles a single task with retries
func (p *Pool[T, R]) processTask(workerID int, task *Task[T]) *Result[R] {
	ctx := task.Context
	if ctx == nil {
		ctx = context.Background()
	}

	result := &Result[R]{TaskID: task.ID, Index: task.Index}
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = err
			break
		}

		result.Attempts = attempt + 1
		result.Value, result.Err = p.workerFunc(ctx, task)
		if result.Err == nil || attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.tasksRetried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(result.Err))

		select {
		case <-ctx.Done():
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}

	if result.Err == nil {
		atomic.AddInt64(&p.tasksCompleted, 1)
	} else {
		atomic.AddInt64(&p.tasksFailed, 1)
		p.logger.Debug("task failed",
			zap.String("task_id", task.ID),
			zap.Int("worker_id", workerID),
			zap.Error(result.Err))
	}
	return result
}

// Run processes every payload and returns results in input order.
// id names each task for logging.
func Run[T, R any](ctx context.Context, cfg Config, payloads []T, id func(T) string, fn WorkerFunc[T, R], logger *zap.Logger) ([]Result[R], error) {
	pool, err := New(cfg, fn, logger)
	if err != nil {
		return nil, err
	}
	pool.Start()

	submitErr := make(chan error, 1)
	go func() {
		defer pool.Stop()
		for i, payload := range payloads {
			task := &Task[T]{ID: id(payload), Index: i, Payload: payload, Context: ctx}
			if err := pool.SubmitContext(ctx, task); err != nil {
				submitErr <- err
				return
			}
		}
		submitErr <- nil
	}()

	results := make([]Result[R], len(payloads))
	done := make([]bool, len(payloads))
	for r := range pool.Results() {
		results[r.Index] = *r
		done[r.Index] = true
	}

	stats := pool.Stats()
	pool.logger.Debug("worker pool drained",
		zap.Int64("submitted", stats.TasksSubmitted),
		zap.Int64("completed", stats.TasksCompleted),
		zap.Int64("failed", stats.TasksFailed),
		zap.Int64("retried", stats.TasksRetried))

	if err := <-submitErr; err != nil {
		for i := range results {
			if !done[i] {
				results[i] = Result[R]{TaskID: id(payloads[i]), Index: i, Err: err}
			}
		}
		return results, err
	}
	return results, nil
}

// Stats holds pool statistics
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	ActiveWorkers  int64
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool[T, R]) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		Workers:        p.config.Workers,
	}
}
