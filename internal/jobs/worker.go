package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

// Worker processes delivery and tick tasks.
type Worker interface {
	RegisterHandler(taskType string, handler asynq.Handler)
	Run() error
	Shutdown()
}

type worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger

	stopOnce sync.Once
	stopped  chan struct{}
}

var _ Worker = (*worker)(nil)

// NewWorker builds an asynq server. Empty queues fall back to DefaultQueues and a
// non-positive concurrency to 10.
func NewWorker(redisOpt asynq.RedisConnOpt, queues map[string]int, concurrency int, log *slog.Logger) Worker {
	if log == nil {
		log = slog.Default()
	}
	if len(queues) == 0 {
		queues = DefaultQueues
	}
	if concurrency <= 0 {
		concurrency = 10
	}

	w := &worker{
		mux:     asynq.NewServeMux(),
		log:     log.With(slog.String("component", "jobs")),
		stopped: make(chan struct{}),
	}
	w.mux.Use(w.logTask)
	w.server = asynq.NewServer(redisOpt, asynq.Config{
		Queues:       queues,
		Concurrency:  concurrency,
		Logger:       asynqLogger{log: w.log},
		ErrorHandler: asynq.ErrorHandlerFunc(w.taskFailed),
	})

	return w
}

func (w *worker) RegisterHandler(taskType string, handler asynq.Handler) {
	w.mux.Handle(taskType, handler)
}

// Run starts processing and blocks until Shutdown has drained the server.
func (w *worker) Run() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start jobs worker: %w", err)
	}
	w.log.Info("worker started")

	<-w.stopped
	return nil
}

func (w *worker) Shutdown() {
	w.stopOnce.Do(func() {
		w.log.Info("worker stopping")
		w.server.Shutdown()
		close(w.stopped)
	})
}

func (w *worker) logTask(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, task)
		w.log.DebugContext(ctx, "task processed",
			slog.String("type", task.Type()),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("failed", err != nil),
		)
		return err
	})
}

func (w *worker) taskFailed(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	w.log.ErrorContext(ctx, "task failed",
		slog.String("type", task.Type()),
		slog.Int("retried", retried),
		slog.Int("max_retry", maxRetry),
		slog.Any("error", err),
	)
}

// asynqLogger routes asynq's own logging through slog.
type asynqLogger struct {
	log *slog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(sprint(args)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(sprint(args)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(sprint(args)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(sprint(args)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Error(sprint(args)) }

func sprint(args []interface{}) string {
	return strings.TrimSpace(fmt.Sprintln(args...))
}
