// Package state models the per-user journaling state machine and serializes work per user.
package state

import "github.com/Proton-105/reflect-bot/internal/domain"

// State represents a finite-state machine state.
type State string

const (
	// StateIdle indicates that no prompt is awaiting a reply.
	StateIdle State = "idle"
	// StateAwaitingResponse indicates that a prompt was issued and the next reply will be journaled.
	StateAwaitingResponse State = "awaiting_response"
)

// Of derives the state of a record from its pending prompt.
func Of(rec *domain.UserRecord) State {
	if rec == nil || rec.PendingPrompt == nil {
		return StateIdle
	}
	return StateAwaitingResponse
}
