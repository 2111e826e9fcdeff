package keyboard

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/i18n"
)

// Callback uniques.
const (
	UniqueSettings = "settings"
	UniqueDay      = "day"
	UniqueHour     = "hour"
)

// Settings menu actions carried in the data part of UniqueSettings callbacks.
const (
	SettingsDay    = "day"
	SettingsHour   = "hour"
	SettingsToggle = "toggle"
	SettingsBack   = "back"
)

// Builder creates the inline keyboards used by the settings flow.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a new Builder instance.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{log: log}
}

// SettingsMenu offers the day and hour pickers and the subscription toggle.
func (b *Builder) SettingsMenu(t i18n.Translator, rec *domain.UserRecord) *telebot.ReplyMarkup {
	toggle := translated(t, "settings.pause", "Pause prompts")
	if !rec.Subscribed {
		toggle = translated(t, "settings.resume", "Resume prompts")
	}

	return b.build(NewInlineKeyboard().
		AddRow(
			InlineButton{Text: translated(t, "settings.change_day", "Change day"), Unique: UniqueSettings, Data: SettingsDay},
			InlineButton{Text: translated(t, "settings.change_hour", "Change hour"), Unique: UniqueSettings, Data: SettingsHour},
		).
		AddRow(InlineButton{Text: toggle, Unique: UniqueSettings, Data: SettingsToggle}))
}

// DayPicker lists the weekdays, marking the current one.
func (b *Builder) DayPicker(t i18n.Translator, current int) *telebot.ReplyMarkup {
	kb := NewInlineKeyboard()
	row := make([]InlineButton, 0, 4)
	for day := 0; day < 7; day++ {
		label := translated(t, "weekday_short."+strings.ToLower(domain.WeekdayName(day)), domain.WeekdayName(day)[:3])
		if day == current {
			label = "• " + label
		}
		row = append(row, InlineButton{Text: label, Unique: UniqueDay, Data: strconv.Itoa(day)})
		if len(row) == 4 {
			kb.AddRow(row...)
			row = row[:0]
		}
	}
	kb.AddRow(row...)
	kb.AddRow(backButton(t))

	return b.build(kb)
}

// HourPicker lists the 24 hours in rows of six, marking the current one.
func (b *Builder) HourPicker(t i18n.Translator, current int) *telebot.ReplyMarkup {
	kb := NewInlineKeyboard()
	row := make([]InlineButton, 0, 6)
	for hour := 0; hour < 24; hour++ {
		label := fmt.Sprintf("%02d", hour)
		if hour == current {
			label = "•" + label
		}
		row = append(row, InlineButton{Text: label, Unique: UniqueHour, Data: strconv.Itoa(hour)})
		if len(row) == 6 {
			kb.AddRow(row...)
			row = row[:0]
		}
	}
	kb.AddRow(backButton(t))

	return b.build(kb)
}

func (b *Builder) build(kb *InlineKeyboardBuilder) *telebot.ReplyMarkup {
	markup, err := kb.Build()
	if err != nil {
		b.log.Error("failed to build keyboard", slog.Any("error", err))
		return &telebot.ReplyMarkup{}
	}
	return markup
}

func backButton(t i18n.Translator) InlineButton {
	return InlineButton{Text: translated(t, "settings.back", "« Back"), Unique: UniqueSettings, Data: SettingsBack}
}

func translated(t i18n.Translator, key, fallback string) string {
	if t == nil {
		return fallback
	}

	text := strings.TrimSpace(t.T(key))
	if text == "" || text == key {
		return fallback
	}

	return text
}
