package keyboard

import (
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/i18n"
)

// Main menu button keys. Each label opens the command of the same name.
const (
	MenuPrompt   = "menu.prompt"
	MenuHistory  = "menu.history"
	MenuStats    = "menu.stats"
	MenuSettings = "menu.settings"
	MenuHelp     = "menu.help"
)

// MenuKeys lists the main menu buttons in display order.
var MenuKeys = []string{MenuPrompt, MenuHistory, MenuStats, MenuSettings, MenuHelp}

// MainMenu builds a localized reply keyboard with the everyday commands.
func MainMenu(t i18n.Translator) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{
		ResizeKeyboard:  true,
		OneTimeKeyboard: false,
	}

	lookup := func(key string) string {
		if t == nil {
			return key
		}
		return t.T(key)
	}

	promptBtn := markup.Text(lookup(MenuPrompt))
	historyBtn := markup.Text(lookup(MenuHistory))
	statsBtn := markup.Text(lookup(MenuStats))
	settingsBtn := markup.Text(lookup(MenuSettings))
	helpBtn := markup.Text(lookup(MenuHelp))

	markup.Reply(
		markup.Row(promptBtn, historyBtn),
		markup.Row(statsBtn, settingsBtn),
		markup.Row(helpBtn),
	)

	return markup
}
