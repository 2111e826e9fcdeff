package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type Scheduler interface {
	RegisterTasks() error
	Run()
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	interval       time.Duration
	log            *slog.Logger
}

// NewScheduler creates a periodic enqueuer for the schedule tick. Every instance may run
// one; Unique keeps a single tick per interval.
func NewScheduler(redisOpt asynq.RedisConnOpt, interval time.Duration, loc *time.Location, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: loc}),
		interval:       interval,
		log:            log,
	}
}

func (s *scheduler) RegisterTasks() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	unique := s.interval - time.Second
	if unique < time.Second {
		unique = time.Second
	}

	if _, err := s.asynqScheduler.Register(spec, NewScheduleTickTask(), asynq.Unique(unique)); err != nil {
		return fmt.Errorf("register tick task: %w", err)
	}

	s.log.InfoContext(context.Background(), "scheduler: registered tick task", slog.String("spec", spec))

	return nil
}

func (s *scheduler) Run() {
	s.log.InfoContext(context.Background(), "scheduler: starting")

	go func() {
		if err := s.asynqScheduler.Run(); err != nil {
			s.log.ErrorContext(context.Background(), "scheduler: run failed", "error", err)
		}
	}()
}

func (s *scheduler) Shutdown() {
	s.log.InfoContext(context.Background(), "scheduler: shutting down")

	s.asynqScheduler.Shutdown()
}
