package bot

// Command constants for Telegram bot commands.
const (
	CommandStart    = "/start"
	CommandPrompt   = "/prompt"
	CommandHistory  = "/history"
	CommandStats    = "/stats"
	CommandSettings = "/settings"
	CommandSetDay   = "/setday"
	CommandSetHour  = "/sethour"
	CommandTimezone = "/timezone"
	CommandStop     = "/stop"
	CommandResume   = "/resume"
	CommandHelp     = "/help"
)

// Callback prefixes for inline button interactions.
const (
	CallbackSettings = "settings"
	CallbackDay      = "day:"
	CallbackHour     = "hour:"
)
