package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/i18n"
	"github.com/Proton-105/reflect-bot/internal/journal"
)

// Handler processes bot commands.
type Handler func(c telebot.Context) error

// CallbackHandler processes inline callback events.
type CallbackHandler func(c telebot.Context) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

// Context keys shared between middlewares and handlers.
const (
	KeyContext    = "request_ctx"
	KeyRecord     = "user_record"
	KeyCreated    = "user_created"
	KeyTranslator = "translator"
)

// Users is the record lifecycle used by command handlers.
type Users interface {
	GetOrCreate(ctx context.Context, id string) (*domain.UserRecord, bool, error)
	Get(ctx context.Context, id string) (*domain.UserRecord, error)
	SetDay(ctx context.Context, id string, day int) (*domain.UserRecord, error)
	SetHour(ctx context.Context, id string, hour int) (*domain.UserRecord, error)
	SetTimezone(ctx context.Context, id, name string) (*domain.UserRecord, error)
	SetSubscribed(ctx context.Context, id string, subscribed bool) (*domain.UserRecord, error)
}

// Prompter issues prompts on demand.
type Prompter interface {
	IssueNow(ctx context.Context, userID string) (*domain.PendingPrompt, error)
}

// Journal captures replies and reads history.
type Journal interface {
	CaptureResult(ctx context.Context, userID, text string, receivedAt time.Time) (journal.Result, error)
	History(ctx context.Context, userID string, limit int) ([]domain.JournalEntry, error)
}

// Stats reads per-category journal counts.
type Stats interface {
	CategoryCounts(ctx context.Context, userID string) (map[domain.Category]int, error)
}

// Locator resolves a record's effective location.
type Locator interface {
	LocationFor(rec *domain.UserRecord) *time.Location
}

// RequestContext returns the context attached to the update, or Background.
func RequestContext(c telebot.Context) context.Context {
	if c != nil {
		if ctx, ok := c.Get(KeyContext).(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// Translator returns the translator attached by the locale middleware, or the default
// language when none is attached.
func Translator(c telebot.Context) i18n.Translator {
	if c != nil {
		if t, ok := c.Get(KeyTranslator).(i18n.Translator); ok && t != nil {
			return t
		}
	}
	return i18n.Default().Translator("")
}

func text(c telebot.Context, key string) string {
	return Translator(c).T(key)
}

func textf(c telebot.Context, key string, vars i18n.Vars) string {
	return i18n.Format(Translator(c), key, vars)
}

// UserID returns the sender's ID as a record key.
func UserID(c telebot.Context) (string, bool) {
	if c == nil || c.Sender() == nil {
		return "", false
	}
	return strconv.FormatInt(c.Sender().ID, 10), true
}

// loadRecord returns the record attached by the auth middleware or creates it.
func loadRecord(c telebot.Context, users Users) (*domain.UserRecord, bool, error) {
	if rec, ok := c.Get(KeyRecord).(*domain.UserRecord); ok && rec != nil {
		created, _ := c.Get(KeyCreated).(bool)
		return rec, created, nil
	}

	id, ok := UserID(c)
	if !ok {
		return nil, false, errNoSender
	}
	return users.GetOrCreate(RequestContext(c), id)
}

func respondCallback(c telebot.Context, text string, alert bool) error {
	if c == nil {
		return nil
	}
	return c.Respond(&telebot.CallbackResponse{
		Text:      text,
		ShowAlert: alert,
	})
}

func boolLabel(value bool, trueLabel, falseLabel string) string {
	if value {
		return trueLabel
	}
	return falseLabel
}

func hourLabel(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

// scheduleLabel renders "Mondays at 09:00" with the zone appended when the user set one.
func scheduleLabel(t i18n.Translator, rec *domain.UserRecord) string {
	vars := i18n.Vars{
		"Days": i18n.Weekday(t, "weekday_plural", rec.PreferredDay),
		"Time": hourLabel(rec.PreferredHour),
		"Zone": rec.Timezone,
	}
	if rec.Timezone == "" {
		return i18n.Format(t, "schedule.at", vars)
	}
	return i18n.Format(t, "schedule.at_zone", vars)
}
