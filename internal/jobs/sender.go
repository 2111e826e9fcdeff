package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/pkg/metrics"
)

// QueuedSender hands prompts to the delivery queue instead of sending them inline.
type QueuedSender struct {
	manager Manager
	log     *slog.Logger
}

// NewQueuedSender creates a sender that enqueues prompt:deliver tasks.
func NewQueuedSender(manager Manager, log *slog.Logger) *QueuedSender {
	if log == nil {
		log = slog.Default()
	}
	return &QueuedSender{manager: manager, log: log}
}

// SendPrompt enqueues a delivery task.
func (s *QueuedSender) SendPrompt(ctx context.Context, userID string, prompt domain.PendingPrompt) error {
	task, err := NewDeliverPromptTask(userID, prompt)
	if err != nil {
		metrics.RecordDelivery("enqueue_failed")
		return fmt.Errorf("build deliver task: %w", err)
	}

	info, err := s.manager.Enqueue(ctx, task)
	if err != nil {
		metrics.RecordDelivery("enqueue_failed")
		return fmt.Errorf("enqueue deliver task: %w", err)
	}

	metrics.RecordDelivery("queued")
	if info != nil {
		s.log.DebugContext(ctx, "prompt delivery queued", slog.String("user_id", userID), slog.String("task_id", info.ID))
	}
	return nil
}
