package handlers

import (
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/domain"
	apperrors "github.com/Proton-105/reflect-bot/internal/errors"
	"github.com/Proton-105/reflect-bot/internal/i18n"
)

// NewSetDayHandler handles /setday <0-6|weekday>.
func NewSetDayHandler(users Users) Handler {
	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return nil
		}

		day, ok := domain.ParseWeekday(strings.Join(c.Args(), " "))
		if !ok {
			return apperrors.NewValidationError(text(c, "preferences.setday_usage"))
		}

		rec, err := users.SetDay(RequestContext(c), id, day)
		if err != nil {
			return err
		}
		return c.Send(textf(c, "preferences.updated", scheduleVars(c, rec)))
	}
}

// NewSetHourHandler handles /sethour <0-23>.
func NewSetHourHandler(users Users) Handler {
	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return nil
		}

		args := c.Args()
		if len(args) != 1 {
			return apperrors.NewValidationError(text(c, "preferences.sethour_usage"))
		}
		hour, err := strconv.Atoi(strings.TrimSuffix(args[0], ":00"))
		if err != nil {
			return apperrors.NewValidationError(text(c, "preferences.sethour_usage"))
		}

		rec, err := users.SetHour(RequestContext(c), id, hour)
		if err != nil {
			return err
		}
		return c.Send(textf(c, "preferences.updated", scheduleVars(c, rec)))
	}
}

// NewTimezoneHandler handles /timezone [Area/City]. Without an argument the override is removed.
func NewTimezoneHandler(users Users) Handler {
	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return nil
		}

		name := strings.TrimSpace(strings.Join(c.Args(), " "))
		rec, err := users.SetTimezone(RequestContext(c), id, name)
		if err != nil {
			return err
		}
		if rec.Timezone == "" {
			return c.Send(textf(c, "preferences.timezone_reset", scheduleVars(c, rec)))
		}
		return c.Send(textf(c, "preferences.timezone_set", scheduleVars(c, rec)))
	}
}

// NewSubscriptionHandler handles /stop (subscribed=false) and /resume (subscribed=true).
func NewSubscriptionHandler(users Users, subscribed bool) Handler {
	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return nil
		}

		rec, err := users.SetSubscribed(RequestContext(c), id, subscribed)
		if err != nil {
			return err
		}
		if !subscribed {
			return c.Send(text(c, "preferences.paused"))
		}
		return c.Send(textf(c, "preferences.resumed", scheduleVars(c, rec)))
	}
}

func scheduleVars(c telebot.Context, rec *domain.UserRecord) i18n.Vars {
	return i18n.Vars{"Schedule": scheduleLabel(Translator(c), rec)}
}
