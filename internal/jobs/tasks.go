package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/reflect-bot/internal/domain"
)

const (
	TaskTypeDeliverPrompt = "prompt:deliver"
	TaskTypeScheduleTick  = "schedule:tick"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// DefaultQueues weights the queues when none are configured.
var DefaultQueues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

type DeliverPromptPayload struct {
	UserID   string          `json:"user_id"`
	Text     string          `json:"text"`
	Category domain.Category `json:"category"`
	IssuedAt time.Time       `json:"issued_at"`
}

// Prompt returns the pending prompt carried by the payload.
func (p DeliverPromptPayload) Prompt() domain.PendingPrompt {
	return domain.PendingPrompt{Text: p.Text, Category: p.Category, IssuedAt: p.IssuedAt}
}

// NewDeliverPromptTask builds a delivery task. Deliveries are never retried; a failed
// send waits for the user's next slot.
func NewDeliverPromptTask(userID string, prompt domain.PendingPrompt) (*asynq.Task, error) {
	payload, err := json.Marshal(DeliverPromptPayload{
		UserID:   userID,
		Text:     prompt.Text,
		Category: prompt.Category,
		IssuedAt: prompt.IssuedAt,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeDeliverPrompt, payload, asynq.Queue(QueueCritical), asynq.MaxRetry(0)), nil
}

// ParseDeliverPromptPayload decodes a delivery task payload.
func ParseDeliverPromptPayload(data []byte) (DeliverPromptPayload, error) {
	var payload DeliverPromptPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return DeliverPromptPayload{}, fmt.Errorf("decode deliver payload: %w", err)
	}
	if payload.UserID == "" {
		return DeliverPromptPayload{}, fmt.Errorf("decode deliver payload: empty user id")
	}
	return payload, nil
}

// NewScheduleTickTask builds the periodic tick task.
func NewScheduleTickTask() *asynq.Task {
	return asynq.NewTask(TaskTypeScheduleTick, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(0))
}
