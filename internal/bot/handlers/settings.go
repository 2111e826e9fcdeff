package handlers

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/bot/keyboard"
	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/i18n"
	"github.com/Proton-105/reflect-bot/internal/scheduler"
	"github.com/Proton-105/reflect-bot/internal/state"
)

// Settings serves /settings and the picker callbacks.
type Settings struct {
	users   Users
	locator Locator
	kb      *keyboard.Builder
	now     func() time.Time
	log     *slog.Logger
}

// NewSettings builds the settings handlers. now defaults to time.Now.
func NewSettings(users Users, locator Locator, kb *keyboard.Builder, now func() time.Time, log *slog.Logger) *Settings {
	if log == nil {
		log = slog.Default()
	}
	if kb == nil {
		kb = keyboard.NewBuilder(log)
	}
	if now == nil {
		now = time.Now
	}

	return &Settings{
		users:   users,
		locator: locator,
		kb:      kb,
		now:     now,
		log:     log,
	}
}

// Command shows the user's schedule with the settings menu.
func (s *Settings) Command() Handler {
	return func(c telebot.Context) error {
		rec, _, err := loadRecord(c, s.users)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		t := Translator(c)
		return c.Send(s.Describe(t, rec), s.kb.SettingsMenu(t, rec))
	}
}

// Menu handles settings:<action> callbacks.
func (s *Settings) Menu() CallbackHandler {
	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return respondCallback(c, text(c, "settings.user_not_found"), true)
		}

		cb, _ := keyboard.ParseCallback(callbackData(c))
		action := cb.Data
		ctx := RequestContext(c)
		t := Translator(c)

		rec, err := s.users.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		switch action {
		case keyboard.SettingsDay:
			if err := c.Edit(t.T("settings.pick_day"), s.kb.DayPicker(t, rec.PreferredDay)); err != nil {
				return err
			}
		case keyboard.SettingsHour:
			if err := c.Edit(t.T("settings.pick_hour"), s.kb.HourPicker(t, rec.PreferredHour)); err != nil {
				return err
			}
		case keyboard.SettingsToggle:
			rec, err = s.users.SetSubscribed(ctx, id, !rec.Subscribed)
			if err != nil {
				return err
			}
			if err := s.refresh(c, rec); err != nil {
				return err
			}
			return respondCallback(c, t.T(boolLabel(rec.Subscribed, "settings.resumed", "settings.paused")), false)
		default:
			if err := s.refresh(c, rec); err != nil {
				return err
			}
		}

		return respondCallback(c, "", false)
	}
}

// PickDay handles day:<n> callbacks.
func (s *Settings) PickDay() CallbackHandler {
	return s.pick(func(c telebot.Context, id string, n int) (*domain.UserRecord, error) {
		return s.users.SetDay(RequestContext(c), id, n)
	}, func(t i18n.Translator, rec *domain.UserRecord) string {
		return i18n.Format(t, "settings.day_set", i18n.Vars{"Day": i18n.Weekday(t, "weekday", rec.PreferredDay)})
	})
}

// PickHour handles hour:<n> callbacks.
func (s *Settings) PickHour() CallbackHandler {
	return s.pick(func(c telebot.Context, id string, n int) (*domain.UserRecord, error) {
		return s.users.SetHour(RequestContext(c), id, n)
	}, func(t i18n.Translator, rec *domain.UserRecord) string {
		return i18n.Format(t, "settings.hour_set", i18n.Vars{"Time": hourLabel(rec.PreferredHour)})
	})
}

func (s *Settings) pick(
	apply func(c telebot.Context, id string, n int) (*domain.UserRecord, error),
	confirm func(t i18n.Translator, rec *domain.UserRecord) string,
) CallbackHandler {
	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return respondCallback(c, text(c, "settings.user_not_found"), true)
		}

		cb, err := keyboard.ParseCallback(callbackData(c))
		if err != nil {
			return respondCallback(c, text(c, "settings.unknown_option"), true)
		}
		n, err := cb.Int()
		if err != nil {
			return respondCallback(c, text(c, "settings.unknown_option"), true)
		}

		rec, err := apply(c, id, n)
		if err != nil {
			return err
		}

		if err := s.refresh(c, rec); err != nil {
			return err
		}
		return respondCallback(c, confirm(Translator(c), rec), false)
	}
}

// Describe renders the user's current settings.
func (s *Settings) Describe(t i18n.Translator, rec *domain.UserRecord) string {
	loc := s.locator.LocationFor(rec)
	zone := rec.Timezone
	if zone == "" {
		zone = i18n.Format(t, "settings.timezone_default", i18n.Vars{"Zone": loc.String()})
	}

	lines := []string{
		i18n.Format(t, "settings.day", i18n.Vars{"Day": i18n.Weekday(t, "weekday", rec.PreferredDay)}),
		i18n.Format(t, "settings.hour", i18n.Vars{"Time": hourLabel(rec.PreferredHour)}),
		i18n.Format(t, "settings.timezone", i18n.Vars{"Zone": zone}),
		i18n.Format(t, "settings.status", i18n.Vars{"Status": t.T(boolLabel(rec.Subscribed, "settings.status_on", "settings.status_paused"))}),
	}

	if state.Of(rec) == state.StateAwaitingResponse {
		lines = append(lines, t.T("settings.waiting"), rec.PendingPrompt.Text)
	}

	if rec.Subscribed {
		next := scheduler.NextOccurrence(s.now(), loc, rec.PreferredDay, rec.PreferredHour)
		lines = append(lines, i18n.Format(t, "settings.next", i18n.Vars{"When": next.In(loc).Format("Mon, 02 Jan 15:04 MST")}))
	}

	return strings.Join(lines, "\n")
}

func (s *Settings) refresh(c telebot.Context, rec *domain.UserRecord) error {
	t := Translator(c)
	return c.Edit(s.Describe(t, rec), s.kb.SettingsMenu(t, rec))
}

func callbackData(c telebot.Context) string {
	if cb := c.Callback(); cb != nil {
		return strings.TrimSpace(cb.Data)
	}
	return ""
}
