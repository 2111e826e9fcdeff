package handlers

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/i18n"
)

func TestChunkMessages(t *testing.T) {
	testCases := []struct {
		name   string
		blocks []string
		limit  int
		want   []string
	}{
		{name: "fits in one", blocks: []string{"aa", "bb"}, limit: 10, want: []string{"aa\n\nbb"}},
		{name: "splits between blocks", blocks: []string{"aaaa", "bbbb"}, limit: 8, want: []string{"aaaa", "bbbb"}},
		{name: "splits long block", blocks: []string{"abcdefgh"}, limit: 3, want: []string{"abc", "def", "gh"}},
		{name: "empty", blocks: nil, limit: 10, want: nil},
		{name: "astral runes count twice", blocks: []string{"😀😀😀"}, limit: 4, want: []string{"😀😀", "😀"}},
		{name: "zero limit does not split", blocks: []string{"ab", "cd"}, limit: 0, want: []string{"ab\n\ncd"}},
		{name: "negative limit", blocks: []string{"ab"}, limit: -1, want: []string{"ab"}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ChunkMessages(tc.blocks, tc.limit))
		})
	}
}

func TestChunkMessages_RespectsTelegramLimit(t *testing.T) {
	entry := FormatEntry(i18n.Default().Translator("en"), domain.JournalEntry{
		PromptText:   "What drained your energy this week?",
		ResponseText: strings.Repeat("ж", 3000),
		Category:     domain.CategorySelfAwareness,
		CreatedAt:    time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	})

	msgs := ChunkMessages([]string{entry, entry, entry}, MessageLimit)
	require.Len(t, msgs, 3)
	for _, msg := range msgs {
		assert.LessOrEqual(t, TextLength(msg), MessageLimit)
	}
}

func TestChunkMessages_EmojiRepliesFitTelegramLimit(t *testing.T) {
	reply := strings.Repeat("🙂", 3000)
	require.Equal(t, 3000, utf8.RuneCountInString(reply))
	require.Equal(t, 6000, TextLength(reply))

	msgs := ChunkMessages([]string{reply}, MessageLimit)
	require.Len(t, msgs, 2)
	for _, msg := range msgs {
		assert.LessOrEqual(t, TextLength(msg), MessageLimit)
		assert.True(t, utf8.ValidString(msg))
	}
	assert.Equal(t, reply, msgs[0]+msgs[1])
}

func TestFormatEntry(t *testing.T) {
	entry := domain.JournalEntry{
		PromptText:   "Who made you smile?",
		ResponseText: "My sister",
		Category:     domain.CategoryConnections,
		CreatedAt:    time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}

	got := FormatEntry(i18n.Default().Translator("en"), entry)
	assert.Equal(t, "Mon, 04 Mar 2024 · Connections\nQ: Who made you smile?\nA: My sister", got)

	got = FormatEntry(i18n.Default().Translator("ru"), entry)
	assert.Equal(t, "Mon, 04 Mar 2024 · Отношения\nВ: Who made you smile?\nО: My sister", got)

	entry.Category = "gratitude"
	got = FormatEntry(i18n.Default().Translator("en"), entry)
	assert.Contains(t, got, "· gratitude\n")
}
