package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/domain"
	apperrors "github.com/Proton-105/reflect-bot/internal/errors"
	"github.com/Proton-105/reflect-bot/pkg/metrics"
)

// MessageSender is the part of *telebot.Bot used for delivery.
type MessageSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelegramSender delivers prompts as Telegram messages behind a circuit breaker.
type TelegramSender struct {
	bot     MessageSender
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
}

// NewTelegramSender creates a sender. A nil breaker uses NewTelegramBreaker.
func NewTelegramSender(bot MessageSender, breaker *apperrors.CircuitBreaker, log *slog.Logger) *TelegramSender {
	if log == nil {
		log = slog.Default()
	}
	if breaker == nil {
		breaker = NewTelegramBreaker(log)
	}

	return &TelegramSender{bot: bot, breaker: breaker, log: log}
}

// SendPrompt sends the prompt to the user's private chat. Failures are counted and returned;
// they are never retried.
func (s *TelegramSender) SendPrompt(ctx context.Context, userID string, prompt domain.PendingPrompt) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		metrics.RecordDelivery("failed")
		return apperrors.NewTransportError("telegram", fmt.Errorf("parse chat id %q: %w", userID, err))
	}

	err = s.breaker.Call(func() error {
		_, sendErr := s.bot.Send(telebot.ChatID(chatID), FormatPrompt(prompt))
		return sendErr
	})
	if err != nil {
		metrics.RecordDelivery("failed")
		s.log.WarnContext(ctx, "prompt delivery failed",
			slog.String("user_id", userID),
			slog.String("breaker", s.breaker.State().String()),
			slog.Any("error", err),
		)
		return apperrors.NewTransportError("telegram", err)
	}

	metrics.RecordDelivery("sent")
	return nil
}

// NewTelegramBreaker returns a breaker for the Bot API. Errors caused by a single
// recipient, such as a user who blocked the bot, do not count as outages.
func NewTelegramBreaker(log *slog.Logger) *apperrors.CircuitBreaker {
	if log == nil {
		log = slog.Default()
	}

	return apperrors.NewCircuitBreakerWithSettings(apperrors.BreakerSettings{
		Name:      "telegram",
		IsFailure: isTransportFailure,
		OnStateChange: func(name string, from, to apperrors.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

func isTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	for _, recipientErr := range []error{
		telebot.ErrBlockedByUser,
		telebot.ErrUserIsDeactivated,
		telebot.ErrNotStartedByUser,
		telebot.ErrChatNotFound,
	} {
		if errors.Is(err, recipientErr) {
			return false
		}
	}
	return true
}

// FormatPrompt renders a prompt message.
func FormatPrompt(p domain.PendingPrompt) string {
	return p.Text + "\n\nReply to this message and I'll save your answer to your journal."
}
