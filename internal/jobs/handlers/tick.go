package handlers

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Ticker runs one scheduling pass.
type Ticker interface {
	TickNow(ctx context.Context)
}

// TickHandler runs the scheduling engine when the periodic tick task fires.
type TickHandler struct {
	ticker Ticker
	log    *slog.Logger
}

// NewTickHandler builds a TickHandler.
func NewTickHandler(ticker Ticker, log *slog.Logger) *TickHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TickHandler{ticker: ticker, log: log}
}

func (h *TickHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	h.log.DebugContext(ctx, "tick task received")
	h.ticker.TickNow(ctx)
	return nil
}
