package errors

import (
	"errors"
	"sync"
	"time"
)

// Breaker defaults.
const (
	ErrorThreshold      = 0.5
	MinRequests         = 10
	TimeoutDuration     = 30 * time.Second
	HalfOpenMaxRequests = 3
	CountInterval       = time.Minute
)

// State is the position of a CircuitBreaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

var (
	// ErrCircuitOpen is returned without calling through while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when half-open probes are exhausted.
	ErrTooManyProbes = errors.New("circuit breaker is probing")
)

// BreakerSettings tunes a CircuitBreaker. Zero fields fall back to the package defaults.
type BreakerSettings struct {
	Name                string
	ErrorThreshold      float64
	MinRequests         int
	Timeout             time.Duration
	HalfOpenMaxRequests int
	// Interval is how long closed-state counts accumulate before they reset.
	Interval time.Duration
	// IsFailure decides whether an error counts against the breaker. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called with the breaker lock held; it must not call back into it.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker stops calling a failing dependency for Timeout after the failure rate
// over at least MinRequests calls reaches ErrorThreshold. It then lets up to
// HalfOpenMaxRequests probes through; they must all succeed to close it again.
type CircuitBreaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	now      func() time.Time

	state       State
	openedAt    time.Time
	windowStart time.Time
	requests    int
	failures    int
	probes      int
	probesOK    int
}

// NewCircuitBreaker returns a breaker with default settings.
func NewCircuitBreaker() *CircuitBreaker {
	return NewCircuitBreakerWithSettings(BreakerSettings{})
}

// NewCircuitBreakerWithSettings returns a closed breaker.
func NewCircuitBreakerWithSettings(s BreakerSettings) *CircuitBreaker {
	if s.ErrorThreshold <= 0 {
		s.ErrorThreshold = ErrorThreshold
	}
	if s.MinRequests <= 0 {
		s.MinRequests = MinRequests
	}
	if s.Timeout <= 0 {
		s.Timeout = TimeoutDuration
	}
	if s.HalfOpenMaxRequests <= 0 {
		s.HalfOpenMaxRequests = HalfOpenMaxRequests
	}
	if s.Interval <= 0 {
		s.Interval = CountInterval
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{settings: s, now: time.Now}
}

// Call runs fn unless the breaker rejects it. fn's error is returned unchanged.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}

	state, err := cb.admit()
	if err != nil {
		return err
	}

	callErr := fn()
	cb.record(state, cb.settings.IsFailure(callErr))
	return callErr
}

// State reports the current state, moving an expired open breaker to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked(cb.now())
	return cb.state
}

func (cb *CircuitBreaker) admit() (State, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refreshLocked(cb.now())

	switch cb.state {
	case StateOpen:
		return cb.state, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.settings.HalfOpenMaxRequests {
			return cb.state, ErrTooManyProbes
		}
		cb.probes++
	}
	return cb.state, nil
}

// record applies an outcome. Outcomes of calls admitted under an earlier state are
// dropped so a slow call cannot close a breaker that reopened meanwhile.
func (cb *CircuitBreaker) record(admittedIn State, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.refreshLocked(now)
	if cb.state != admittedIn {
		return
	}

	switch cb.state {
	case StateHalfOpen:
		if failed {
			cb.setStateLocked(StateOpen, now)
			return
		}
		cb.probesOK++
		if cb.probesOK >= cb.settings.HalfOpenMaxRequests {
			cb.setStateLocked(StateClosed, now)
		}
	case StateClosed:
		cb.requests++
		if failed {
			cb.failures++
		}
		if cb.requests >= cb.settings.MinRequests &&
			float64(cb.failures)/float64(cb.requests) >= cb.settings.ErrorThreshold {
			cb.setStateLocked(StateOpen, now)
		}
	}
}

func (cb *CircuitBreaker) refreshLocked(now time.Time) {
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.settings.Timeout {
			cb.setStateLocked(StateHalfOpen, now)
		}
	case StateClosed:
		if cb.windowStart.IsZero() || now.Sub(cb.windowStart) >= cb.settings.Interval {
			cb.windowStart = now
			cb.requests, cb.failures = 0, 0
		}
	}
}

func (cb *CircuitBreaker) setStateLocked(to State, now time.Time) {
	from := cb.state
	cb.state = to
	cb.requests, cb.failures, cb.probes, cb.probesOK = 0, 0, 0, 0
	cb.windowStart = now
	if to == StateOpen {
		cb.openedAt = now
	}

	if from != to && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}
