package scheduler

import (
	"time"

	"github.com/Proton-105/reflect-bot/internal/domain"
)

const slotLayout = "2006-01-02T15"

// SlotStart truncates t to the start of its hour in loc.
func SlotStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
}

// SlotKey identifies the hour containing t in loc, e.g. "2024-03-04T09".
func SlotKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(slotLayout)
}

// IsDue reports whether t falls on the Monday-based day and hour in loc.
func IsDue(t time.Time, loc *time.Location, day, hour int) bool {
	local := t.In(loc)
	return domain.MondayIndex(local.Weekday()) == day && local.Hour() == hour
}

// NextOccurrence returns the first start of the (day, hour) slot strictly after now.
func NextOccurrence(now time.Time, loc *time.Location, day, hour int) time.Time {
	local := now.In(loc)
	offset := (day - domain.MondayIndex(local.Weekday()) + 7) % 7

	for i := 0; i < 3; i++ {
		d := local.AddDate(0, 0, offset+7*i)
		candidate := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
		if candidate.After(now) {
			return candidate
		}
	}

	// unreachable for valid day and hour
	return local.Add(7 * 24 * time.Hour)
}
