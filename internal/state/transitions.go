package state

// validTransitions contains the permitted transitions besides resets to idle.
var validTransitions = map[State][]State{
	StateIdle: {
		StateAwaitingResponse,
	},
	StateAwaitingResponse: {
		StateAwaitingResponse,
	},
}

// IsTransitionAllowed reports whether moving from one state to another is valid.
// Returning to idle is always allowed.
func IsTransitionAllowed(from, to State) bool {
	if to == StateIdle {
		return true
	}

	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == to {
			return true
		}
	}

	return false
}
