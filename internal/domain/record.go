// Package domain holds the records shared by the scheduling, journaling and storage layers.
package domain

import (
	"strings"
	"time"
)

const (
	// DefaultPreferredDay is Monday.
	DefaultPreferredDay = 0
	// DefaultPreferredHour is the local hour used until the user picks one.
	DefaultPreferredHour = 9
)

// Category names a group of prompts.
type Category string

const (
	// CategorySelfAwareness is issued on odd prompt counts.
	CategorySelfAwareness Category = "self_awareness"
	// CategoryConnections is issued on even prompt counts.
	CategoryConnections Category = "connections"
)

// PendingPrompt is a prompt that has been issued and awaits a reply.
type PendingPrompt struct {
	Text     string    `json:"text"`
	Category Category  `json:"category"`
	IssuedAt time.Time `json:"issued_at"`
}

// Age reports how long the prompt has been outstanding at t.
func (p *PendingPrompt) Age(t time.Time) time.Duration {
	if p == nil {
		return 0
	}
	return t.Sub(p.IssuedAt)
}

// JournalEntry pairs an issued prompt with the reply captured for it.
type JournalEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	PromptText   string    `json:"prompt_text"`
	ResponseText string    `json:"response_text"`
	Category     Category  `json:"category"`
	CreatedAt    time.Time `json:"created_at"`
}

// Preferences are the user-editable scheduling fields of a record.
type Preferences struct {
	Day        int    `json:"preferred_day" validate:"min=0,max=6"`
	Hour       int    `json:"preferred_hour" validate:"min=0,max=23"`
	Timezone   string `json:"timezone"`
	Subscribed bool   `json:"subscribed"`
}

// UserRecord is the durable state kept per user.
type UserRecord struct {
	ID            string         `json:"id"`
	Timezone      string         `json:"timezone,omitempty"`
	PreferredDay  int            `json:"preferred_day"`
	PreferredHour int            `json:"preferred_hour"`
	Subscribed    bool           `json:"subscribed"`
	PendingPrompt *PendingPrompt `json:"pending_prompt,omitempty"`
	PromptCount   int            `json:"prompt_count"`
	LastSentSlot  string         `json:"last_sent_slot,omitempty"`
	History       []JournalEntry `json:"history,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewUserRecord returns a subscribed record with the given default slot.
func NewUserRecord(id string, day, hour int, now time.Time) *UserRecord {
	return &UserRecord{
		ID:            id,
		PreferredDay:  day,
		PreferredHour: hour,
		Subscribed:    true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Preferences extracts the editable scheduling fields.
func (r *UserRecord) Preferences() Preferences {
	return Preferences{
		Day:        r.PreferredDay,
		Hour:       r.PreferredHour,
		Timezone:   r.Timezone,
		Subscribed: r.Subscribed,
	}
}

// ApplyPreferences overwrites the editable scheduling fields.
func (r *UserRecord) ApplyPreferences(p Preferences) {
	r.PreferredDay = p.Day
	r.PreferredHour = p.Hour
	r.Timezone = p.Timezone
	r.Subscribed = p.Subscribed
}

// Clone returns a deep copy of the record.
func (r *UserRecord) Clone() *UserRecord {
	if r == nil {
		return nil
	}

	cp := *r
	if r.PendingPrompt != nil {
		pending := *r.PendingPrompt
		cp.PendingPrompt = &pending
	}
	if r.History != nil {
		cp.History = make([]JournalEntry, len(r.History))
		copy(cp.History, r.History)
	}
	return &cp
}

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// WeekdayName returns the English name for a Monday-based day index.
func WeekdayName(day int) string {
	if day < 0 || day > 6 {
		return ""
	}
	return weekdayNames[day]
}

// ParseWeekday accepts a day index or an English name (three letters or more).
func ParseWeekday(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 && s[0] >= '0' && s[0] <= '6' {
		return int(s[0] - '0'), true
	}
	if len(s) < 3 {
		return 0, false
	}
	for i, name := range weekdayNames {
		if strings.HasPrefix(strings.ToLower(name), s) {
			return i, true
		}
	}
	return 0, false
}

// MondayIndex converts a time.Weekday to a Monday=0 index.
func MondayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}
