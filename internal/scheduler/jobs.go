package scheduler

import (
	"sync"
	"time"
)

type job struct {
	timer *time.Timer
	at    time.Time
	gen   uint64
}

// JobRegistry owns one pending one-shot job per user. Replacing a job invalidates the old
// one; a callback that is already running is not interrupted.
type JobRegistry struct {
	mu      sync.Mutex
	jobs    map[string]*job
	gen     uint64
	stopped bool
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]*job)}
}

// Replace cancels the user's current job and schedules fn to run after delay. at is the
// wall time the job stands for.
func (r *JobRegistry) Replace(userID string, at time.Time, delay time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	if existing, ok := r.jobs[userID]; ok {
		existing.timer.Stop()
	}

	r.gen++
	gen := r.gen
	if delay < 0 {
		delay = 0
	}

	r.jobs[userID] = &job{
		at:  at,
		gen: gen,
		timer: time.AfterFunc(delay, func() {
			if !r.claim(userID, gen) {
				return
			}
			fn()
		}),
	}
}

// claim removes the job if it is still the current one for userID.
func (r *JobRegistry) claim(userID string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.jobs[userID]
	if !ok || current.gen != gen || r.stopped {
		return false
	}
	delete(r.jobs, userID)
	return true
}

// Cancel stops and removes the user's job.
func (r *JobRegistry) Cancel(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[userID]; ok {
		existing.timer.Stop()
		delete(r.jobs, userID)
	}
}

// Next returns when the user's job fires.
func (r *JobRegistry) Next(userID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[userID]
	if !ok {
		return time.Time{}, false
	}
	return j.at, true
}

// Len returns the number of scheduled jobs.
func (r *JobRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Stop cancels every job and rejects new ones.
func (r *JobRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for id, j := range r.jobs {
		j.timer.Stop()
		delete(r.jobs, id)
	}
}
