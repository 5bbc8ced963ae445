// Package scheduler submits pipeline stages to the runner on fixed intervals.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newsprism/backend/internal/pipeline"
	"github.com/newsprism/backend/internal/worker"
	"github.com/newsprism/backend/pkg/logger"
)

type Submitter interface {
	Submit(task worker.Task) (string, bool, error)
}

// TaskFactory builds the task for a stage.
type TaskFactory func(stage pipeline.Stage) worker.Task

type Scheduler struct {
	submitter Submitter
	factory   TaskFactory
	intervals map[pipeline.Stage]time.Duration
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// New builds a scheduler. Stages with a non-positive interval are not scheduled.
func New(submitter Submitter, factory TaskFactory, intervals map[pipeline.Stage]time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		submitter: submitter,
		factory:   factory,
		intervals: intervals,
		logger:    logger.OrNop(log).Named("scheduler"),
	}
}

// Start launches one ticker per scheduled stage until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for stage, every := range s.intervals {
		if every <= 0 {
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, stage, every)
		s.logger.Info("Stage scheduled", zap.String("stage", string(stage)), zap.Duration("every", every))
	}
}

// Wait blocks until every ticker goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, stage pipeline.Stage, every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(stage)
		}
	}
}

func (s *Scheduler) fire(stage pipeline.Stage) {
	id, created, err := s.submitter.Submit(s.factory(stage))
	if err != nil {
		s.logger.Warn("Scheduled submit failed", zap.String("stage", string(stage)), zap.Error(err))
		return
	}
	if !created {
		s.logger.Debug("Stage still running, tick skipped", zap.String("stage", string(stage)), zap.String("run_id", id))
	}
}
