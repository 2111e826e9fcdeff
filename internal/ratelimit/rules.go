package ratelimit

import (
	"fmt"
	"time"

	"github.com/Proton-105/reflect-bot/pkg/config"
)

// CommandPrompt names the on-demand prompt command in limit lookups.
const CommandPrompt = "prompt"

// Rule allows Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Rules resolves configured limits.
type Rules struct {
	config config.RateLimitConfig
}

func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// Enabled reports whether limits are enforced at all.
func (r *Rules) Enabled() bool {
	return r.config.Enabled
}

// Exempt reports whether userID is on the whitelist.
func (r *Rules) Exempt(userID int64) bool {
	for _, id := range r.config.Whitelist {
		if id == userID {
			return true
		}
	}
	return false
}

// Command returns the limit for a rate-limited command.
func (r *Rules) Command(name string) (Rule, error) {
	switch name {
	case CommandPrompt:
		return parseRule("commands."+name, r.config.Commands.Prompt)
	default:
		return Rule{}, fmt.Errorf("no rate limit for command %q", name)
	}
}

// PerUser returns the limit applied to every update from a user.
func (r *Rules) PerUser() (Rule, error) {
	return parseRule("per_user", r.config.PerUser)
}

func parseRule(name string, raw config.RateLimitRule) (Rule, error) {
	if raw.Window == "" {
		return Rule{}, fmt.Errorf("rate limit %s: window is not set", name)
	}
	window, err := time.ParseDuration(raw.Window)
	if err != nil {
		return Rule{}, fmt.Errorf("rate limit %s: %w", name, err)
	}
	if raw.Limit <= 0 || window <= 0 {
		return Rule{}, fmt.Errorf("rate limit %s: limit and window must be positive", name)
	}
	return Rule{Limit: raw.Limit, Window: window}, nil
}
