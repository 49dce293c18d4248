package workerpool

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kverrors "github.com/devrev/framekv/internal/errors"
	"go.uber.org/zap"
)

// Task represents a unit of work to be executed
type Task struct {
	ID string
	Fn func(context.Context) error
}

// Pool runs tasks on a fixed set of goroutines.
type Pool struct {
	name     string
	workers  int
	tasks    chan job
	logger   *zap.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}

	active    int32
	submitted uint64
	completed uint64
	failed    uint64
	panicked  uint64
}

type job struct {
	ctx  context.Context
	task Task
	done chan<- error
}

// Config holds worker pool configuration
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// New starts a pool. Zero values pick one worker and a queue as deep as the
// worker count.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	p := &Pool{
		name:     cfg.Name,
		workers:  cfg.Workers,
		tasks:    make(chan job, cfg.QueueSize),
		logger:   cfg.Logger,
		stopChan: make(chan struct{}),
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Debug("Worker pool started",
		zap.String("name", p.name),
		zap.Int("workers", p.workers))
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case j := <-p.tasks:
			j.done <- p.execute(id, j)
		}
	}
}

func (p *Pool) execute(workerID int, j job) error {
	atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)

	start := time.Now()
	err := p.safeExecute(j)
	if err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", j.task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	atomic.AddUint64(&p.completed, 1)
	return nil
}

// safeExecute turns a panic into an error. A panic carrying a storage error
// keeps its code so callers can still match on it.
func (p *Pool) safeExecute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&p.panicked, 1)
			if se, ok := r.(*kverrors.StorageError); ok {
				err = se
				return
			}
			err = kverrors.InternalError(fmt.Sprintf("task %s panicked: %v", j.task.ID, r), nil)
		}
	}()

	return j.task.Fn(j.ctx)
}

func (p *Pool) submit(ctx context.Context, task Task, done chan<- error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.stopChan:
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	default:
	}

	select {
	case <-p.stopChan:
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- job{ctx: ctx, task: task, done: done}:
		atomic.AddUint64(&p.submitted, 1)
		return nil
	}
}

// Run executes every task and waits for all that were accepted. It returns
// the errors of failed tasks joined together, or the submission error that
// stopped it early.
func (p *Pool) Run(ctx context.Context, tasks ...Task) error {
	done := make(chan error, len(tasks))

	accepted := 0
	var submitErr error
	for _, t := range tasks {
		if err := p.submit(ctx, t, done); err != nil {
			submitErr = err
			break
		}
		accepted++
	}

	var errs []error
	for i := 0; i < accepted; i++ {
		if err := <-done; err != nil {
			errs = append(errs, err)
		}
	}
	if submitErr != nil {
		errs = append([]error{submitErr}, errs...)
	}
	return stderrors.Join(errs...)
}

// Stop stops the workers after their current task and waits for them. Call it
// only once no Run is in flight; queued tasks are not drained.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.wg.Wait()
		p.logger.Debug("Worker pool stopped", zap.String("name", p.name))
	})
}

// Stats returns current worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.workers,
		Active:    int(atomic.LoadInt32(&p.active)),
		Queued:    len(p.tasks),
		Submitted: atomic.LoadUint64(&p.submitted),
		Completed: atomic.LoadUint64(&p.completed),
		Failed:    atomic.LoadUint64(&p.failed),
		Panicked:  atomic.LoadUint64(&p.panicked),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name      string
	Workers   int
	Active    int
	Queued    int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Panicked  uint64
}

// SuccessRate returns the task success rate as a percentage
func (s Stats) SuccessRate() float64 {
	if s.Submitted == 0 {
		return 100.0
	}
	return (float64(s.Completed) / float64(s.Submitted)) * 100.0
}
