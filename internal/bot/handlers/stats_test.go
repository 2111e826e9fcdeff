package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/i18n"
)

func TestFormatStats(t *testing.T) {
	testCases := []struct {
		name   string
		lang   string
		counts map[domain.Category]int
		want   string
	}{
		{
			name:   "both categories",
			lang:   "en",
			counts: map[domain.Category]int{domain.CategorySelfAwareness: 3, domain.CategoryConnections: 2},
			want:   "Your reflections\nTotal entries: 5\nSelf-awareness: 3\nConnections: 2",
		},
		{
			name:   "missing category shows zero",
			lang:   "en",
			counts: map[domain.Category]int{domain.CategoryConnections: 1},
			want:   "Your reflections\nTotal entries: 1\nSelf-awareness: 0\nConnections: 1",
		},
		{
			name:   "custom categories follow by name",
			lang:   "en",
			counts: map[domain.Category]int{"values": 1, "gratitude": 2, domain.CategorySelfAwareness: 1},
			want:   "Your reflections\nTotal entries: 4\nSelf-awareness: 1\nConnections: 0\ngratitude: 2\nvalues: 1",
		},
		{
			name:   "russian",
			lang:   "ru",
			counts: map[domain.Category]int{domain.CategorySelfAwareness: 1},
			want:   "Ваши размышления\nВсего записей: 1\nСамопознание: 1\nОтношения: 0",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatStats(i18n.Default().Translator(tc.lang), tc.counts))
		})
	}
}
