// Package worker runs pipeline stages in the background so that triggering a
// stage never blocks the caller on the batch itself.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/cache/redis"
	"github.com/newsprism/backend/internal/metrics"
	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/pkg/logger"
)

var (
	ErrQueueFull = errors.New("run queue is full")
	ErrStopped   = errors.New("runner is stopped")
)

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// Task is one unit of background work. Key deduplicates submissions: while a
// run with the same key is queued or running, submitting again returns it.
// An empty Key defaults to the stage name.
type Task struct {
	Stage pipeline.Stage
	Key   string
	Run   func(ctx context.Context) (*pipeline.Summary, error)
}

type Run struct {
	ID         string            `json:"id"`
	Stage      pipeline.Stage    `json:"stage"`
	Key        string            `json:"key"`
	Status     RunStatus         `json:"status"`
	Summary    *pipeline.Summary `json:"summary,omitempty"`
	Error      string            `json:"error,omitempty"`
	QueuedAt   time.Time         `json:"queued_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

type Event struct {
	Type string `json:"type"`
	Run  Run    `json:"run"`
}

// Locker provides a cross-process lock per stage.
type Locker interface {
	AcquireStageLock(ctx context.Context, stage, owner string, ttl time.Duration) (func(context.Context) error, error)
}

// Counter records finished runs across processes.
type Counter interface {
	IncrementRunCounter(ctx context.Context, stage, outcome string) error
}

type Options struct {
	QueueSize int
	Workers   int
	LockTTL   time.Duration
	History   int
}

type queued struct {
	id   string
	task Task
}

type Runner struct {
	tasks   chan queued
	locker  Locker
	counter Counter
	lockTTL time.Duration
	workers int
	history int
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	runs     map[string]*Run
	finished []string
	active   map[string]string
	subs     map[int]chan Event
	nextSub  int
	stopped  bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewRunner builds a runner. locker and counter may be nil.
func NewRunner(opts Options, locker Locker, counter Counter, log *zap.Logger) *Runner {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if opts.History <= 0 {
		opts.History = 200
	}
	return &Runner{
		tasks:   make(chan queued, opts.QueueSize),
		locker:  locker,
		counter: counter,
		lockTTL: opts.LockTTL,
		workers: opts.Workers,
		history: opts.History,
		logger:  logger.OrNop(log).Named("runner"),
		now:     time.Now,
		runs:    make(map[string]*Run),
		active:  make(map[string]string),
		subs:    make(map[int]chan Event),
	}
}

// Start launches the worker goroutines. They stop when ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case q := <-r.tasks:
					r.execute(ctx, q)
				}
			}
		}()
	}
	r.logger.Info("Runner started", zap.Int("workers", r.workers))
}

// Stop cancels in-flight runs and waits for the workers to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.mu.Unlock()
	r.logger.Info("Runner stopped")
}

// Submit queues task and returns its run id. created is false when a run with
// the same key was already queued or running.
func (r *Runner) Submit(task Task) (id string, created bool, err error) {
	if task.Key == "" {
		task.Key = string(task.Stage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return "", false, ErrStopped
	}
	if existing, ok := r.active[task.Key]; ok {
		return existing, false, nil
	}

	run := &Run{
		ID:       uuid.New().String(),
		Stage:    task.Stage,
		Key:      task.Key,
		Status:   RunQueued,
		QueuedAt: r.now(),
	}

	select {
	case r.tasks <- queued{id: run.ID, task: task}:
	default:
		return "", false, ErrQueueFull
	}

	r.runs[run.ID] = run
	r.active[task.Key] = run.ID
	r.publishLocked("run.queued", run)
	return run.ID, true, nil
}

// Get returns a copy of a run.
func (r *Runner) Get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Subscribe returns a channel of run events and a func that unsubscribes.
// Slow subscribers miss events rather than block runs.
func (r *Runner) Subscribe() (<-chan Event, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Event, 16)
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			close(c)
			delete(r.subs, id)
		}
	}
}

func (r *Runner) publishLocked(eventType string, run *Run) {
	ev := Event{Type: eventType, Run: *run}
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Runner) update(id string, fn func(run *Run), eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return
	}
	fn(run)
	r.publishLocked(eventType, run)
}

func (r *Runner) execute(ctx context.Context, q queued) {
	stage := string(q.task.Stage)
	log := r.logger.With(zap.String("run_id", q.id), zap.String("stage", stage))

	started := r.now()
	r.update(q.id, func(run *Run) {
		run.Status = RunRunning
		run.StartedAt = &started
	}, "run.started")

	var (
		summary *pipeline.Summary
		err     error
		status  = RunSucceeded
	)

	release, lockErr := r.acquire(ctx, q.task.Key, q.id)
	switch {
	case errors.Is(lockErr, redis.ErrLocked):
		status = RunSkipped
		err = lockErr
		log.Info("Stage is running in another process")
	case lockErr != nil:
		status = RunFailed
		err = lockErr
	default:
		summary, err = r.runTask(ctx, q.task)
		if release != nil {
			if rerr := release(context.Background()); rerr != nil {
				log.Warn("Failed to release stage lock", zap.Error(rerr))
			}
		}
		if err != nil {
			status = RunFailed
		}
	}

	finished := r.now()
	metrics.StageDuration.WithLabelValues(stage).Observe(finished.Sub(started).Seconds())
	metrics.StageRuns.WithLabelValues(stage, string(status)).Inc()
	if r.counter != nil {
		if cerr := r.counter.IncrementRunCounter(context.Background(), stage, string(status)); cerr != nil {
			log.Warn("Failed to count run", zap.Error(cerr))
		}
	}

	if err != nil && status == RunFailed {
		log.Error("Run failed", zap.Error(err))
	} else {
		log.Info("Run finished", zap.String("status", string(status)), zap.Duration("took", finished.Sub(started)))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[q.id]
	if !ok {
		return
	}
	run.Status = status
	run.Summary = summary
	run.FinishedAt = &finished
	if err != nil {
		run.Error = err.Error()
	}
	delete(r.active, run.Key)
	r.finished = append(r.finished, run.ID)
	for len(r.finished) > r.history {
		delete(r.runs, r.finished[0])
		r.finished = r.finished[1:]
	}
	r.publishLocked("run.finished", run)
}

func (r *Runner) acquire(ctx context.Context, key, owner string) (func(context.Context) error, error) {
	if r.locker == nil {
		return nil, nil
	}
	return r.locker.AcquireStageLock(ctx, key, owner, r.lockTTL)
}

// runTask converts a panic inside a stage into a failed run.
func (r *Runner) runTask(ctx context.Context, task Task) (summary *pipeline.Summary, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.New("stage panicked")
			r.logger.Error("Stage panicked", zap.String("stage", string(task.Stage)), zap.Any("panic", p))
		}
	}()
	return task.Run(ctx)
}
