package handlers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/reflect-bot/internal/domain"
	"github.com/Proton-105/reflect-bot/internal/i18n"
)

// NewStatsHandler reports the user's total journal entries and the count per category. The
// two rotation categories are always listed first, custom ones follow by name.
func NewStatsHandler(stats Stats) Handler {
	return func(c telebot.Context) error {
		id, ok := UserID(c)
		if !ok {
			return nil
		}

		counts, err := stats.CategoryCounts(RequestContext(c), id)
		if err != nil {
			return fmt.Errorf("load stats: %w", err)
		}

		total := 0
		for _, n := range counts {
			total += n
		}
		if total == 0 {
			return c.Send(text(c, "stats.empty"))
		}

		return c.Send(FormatStats(Translator(c), counts))
	}
}

// FormatStats renders the stats message for counts.
func FormatStats(t i18n.Translator, counts map[domain.Category]int) string {
	total := 0
	for _, n := range counts {
		total += n
	}

	lines := []string{
		t.T("stats.title"),
		i18n.Format(t, "stats.total", i18n.Vars{"Total": strconv.Itoa(total)}),
	}
	for _, category := range statsOrder(counts) {
		lines = append(lines, i18n.Format(t, "stats.line", i18n.Vars{
			"Category": categoryLabel(t, category),
			"Count":    strconv.Itoa(counts[category]),
		}))
	}

	return strings.Join(lines, "\n")
}

func statsOrder(counts map[domain.Category]int) []domain.Category {
	order := []domain.Category{domain.CategorySelfAwareness, domain.CategoryConnections}

	var extra []domain.Category
	for category := range counts {
		if category != domain.CategorySelfAwareness && category != domain.CategoryConnections {
			extra = append(extra, category)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })

	return append(order, extra...)
}
