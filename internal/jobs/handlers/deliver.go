// Package handlers contains asynq task handlers for prompt delivery and scheduling.
package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/jobs"
)

// PromptSender delivers a prompt to the chat transport.
type PromptSender interface {
	SendPrompt(ctx context.Context, userID string, prompt domain.PendingPrompt) error
}

// DeliverHandler sends queued prompts.
type DeliverHandler struct {
	sender PromptSender
	log    *slog.Logger
}

// NewDeliverHandler builds a DeliverHandler.
func NewDeliverHandler(sender PromptSender, log *slog.Logger) *DeliverHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DeliverHandler{sender: sender, log: log}
}

// ProcessTask decodes the payload and sends the prompt. A failed send is logged and the
// task completes: the slot is already consumed and the user waits for the next one.
func (h *DeliverHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := jobs.ParseDeliverPromptPayload(task.Payload())
	if err != nil {
		h.log.ErrorContext(ctx, "deliver task: invalid payload", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	if err := h.sender.SendPrompt(ctx, payload.UserID, payload.Prompt()); err != nil {
		h.log.WarnContext(ctx, "deliver task: send failed",
			slog.String("user_id", payload.UserID),
			slog.Any("error", err),
		)
		return nil
	}

	h.log.DebugContext(ctx, "deliver task: prompt sent", slog.String("user_id", payload.UserID))
	return nil
}
