package handlers

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf16"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/i18n"
)

// MessageLimit is Telegram's maximum message length in UTF-16 code units.
const MessageLimit = 4096

// NewHistoryHandler sends the user's most recent journal entries, newest first.
func NewHistoryHandler(journal Journal, limit int, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}
	if limit <= 0 {
		limit = 5
	}

	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return nil
		}

		entries, err := journal.History(RequestContext(c), id, limit)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		if len(entries) == 0 {
			return c.Send(text(c, "history.empty"))
		}

		t := Translator(c)
		blocks := make([]string, 0, len(entries))
		for _, entry := range entries {
			blocks = append(blocks, FormatEntry(t, entry))
		}

		for _, msg := range ChunkMessages(blocks, MessageLimit) {
			if err := c.Send(msg); err != nil {
				return err
			}
		}

		log.Debug("history sent", slog.String("user_id", id), slog.Int("entries", len(entries)))
		return nil
	}
}

// FormatEntry renders one journal entry.
func FormatEntry(t i18n.Translator, e domain.JournalEntry) string {
	return fmt.Sprintf("%s · %s\n%s: %s\n%s: %s",
		e.CreatedAt.Format("Mon, 02 Jan 2006"),
		categoryLabel(t, e.Category),
		t.T("history.question"), e.PromptText,
		t.T("history.answer"), e.ResponseText,
	)
}

// ChunkMessages joins blocks with blank lines into messages of at most limit UTF-16 code
// units, which is how Telegram measures message length. A block longer than limit is split
// on rune boundaries. A non-positive limit returns the blocks joined into one message.
func ChunkMessages(blocks []string, limit int) []string {
	const sep = "\n\n"

	if limit <= 0 {
		if len(blocks) == 0 {
			return nil
		}
		return []string{strings.Join(blocks, sep)}
	}

	var (
		out     []string
		current strings.Builder
		size    int
	)

	flush := func() {
		if size > 0 {
			out = append(out, current.String())
			current.Reset()
			size = 0
		}
	}

	for _, block := range blocks {
		for _, part := range splitUnits(block, limit) {
			n := TextLength(part)
			if size > 0 && size+len(sep)+n > limit {
				flush()
			}
			if size > 0 {
				current.WriteString(sep)
				size += len(sep)
			}
			current.WriteString(part)
			size += n
		}
	}
	flush()

	return out
}

// TextLength returns the length of s in UTF-16 code units.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

func runeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// splitUnits cuts s into parts of at most limit code units without splitting a rune. limit
// must be positive.
func splitUnits(s string, limit int) []string {
	if TextLength(s) <= limit {
		return []string{s}
	}

	var (
		parts []string
		start int
		size  int
	)
	for i, r := range s {
		n := runeUnits(r)
		if size+n > limit && i > start {
			parts = append(parts, s[start:i])
			start, size = i, 0
		}
		size += n
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// categoryLabel translates known categories and shows custom catalog names as they are.
func categoryLabel(t i18n.Translator, c domain.Category) string {
	key := "category." + string(c)
	if label := t.T(key); label != key {
		return label
	}
	return string(c)
}
