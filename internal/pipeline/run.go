package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRunFinished is returned when cancelling a run that already ended.
	ErrRunFinished = errors.New("run already finished")
	// ErrRunNotFound is returned for unknown or expired run IDs.
	ErrRunNotFound = errors.New("run not found")
)

// Run tracks one submitted job. It is the Observer of its own execution and
// is safe for concurrent use.
type Run struct {
	mu sync.Mutex

	ID  string
	Job Job

	status    Status
	message   string
	progress  int
	result    *Result
	createdAt time.Time
	updatedAt time.Time

	cancel          context.CancelFunc
	cancelRequested bool

	events *EventBus
}

func NewRun(id string, job Job) *Run {
	now := time.Now()
	return &Run{
		ID:        id,
		Job:       job,
		status:    StatusIdle,
		createdAt: now,
		updatedAt: now,
		events:    NewEventBus(500),
	}
}

// Status records one status line.
func (r *Run) Status(msg string) {
	r.mu.Lock()
	r.message = msg
	r.updatedAt = time.Now()
	r.mu.Unlock()
	r.events.Publish(Event{RunID: r.ID, Type: EventTypeStatus, Message: msg})
}

// Progress records a completion percentage. Lower values than the current
// one are ignored.
func (r *Run) Progress(percent int) {
	percent = max(0, min(percent, 100))
	r.mu.Lock()
	if percent <= r.progress {
		r.mu.Unlock()
		return
	}
	r.progress = percent
	r.updatedAt = time.Now()
	r.mu.Unlock()
	r.events.Publish(Event{RunID: r.ID, Type: EventTypeProgress, Progress: percent})
}

// transition validates and applies a state change.
func (r *Run) transition(to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(to)
}

func (r *Run) transitionLocked(to Status) error {
	if !isValidTransition(r.status, to) {
		return fmt.Errorf("invalid transition: %s -> %s", r.status, to)
	}
	r.status = to
	r.updatedAt = time.Now()
	r.events.Publish(Event{RunID: r.ID, Type: EventTypeState, Status: to})
	return nil
}

// begin moves the run to running and installs its cancel function. A cancel
// requested while queued fires immediately.
func (r *Run) begin(cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(StatusRunning); err != nil {
		return err
	}
	r.cancel = cancel
	if r.cancelRequested {
		cancel()
	}
	return nil
}

// finish stores the result and applies its terminal status.
func (r *Run) finish(res Result) {
	r.mu.Lock()
	r.result = &res
	err := r.transitionLocked(res.Status)
	r.mu.Unlock()
	if err == nil {
		r.events.Publish(Event{RunID: r.ID, Type: EventTypeResult, Status: res.Status, Result: &res})
	}
}

// fail marks a run that never started as failed.
func (r *Run) fail(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.message = reason
	if err := r.transitionLocked(StatusFailed); err == nil {
		r.result = &Result{Status: StatusFailed, Failures: []string{reason}, Err: errors.New(reason)}
	}
}

// Cancel requests cooperative cancellation. It is observed at the next file
// or page boundary.
func (r *Run) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return ErrRunFinished
	}
	r.cancelRequested = true
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Events returns the events published after seq.
func (r *Run) Events(since int64) []Event {
	return r.events.Since(since)
}

// RunSnapshot is a read-only, JSON-safe copy of run state.
type RunSnapshot struct {
	ID              string    `json:"run_id"`
	Status          Status    `json:"status"`
	Message         string    `json:"message"`
	Progress        int       `json:"progress"`
	Files           int       `json:"files"`
	CancelRequested bool      `json:"cancel_requested"`
	Result          *Result   `json:"result,omitempty"`
	Error           string    `json:"error,omitempty"`
	LastEvent       int64     `json:"last_event"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := RunSnapshot{
		ID:              r.ID,
		Status:          r.status,
		Message:         r.message,
		Progress:        r.progress,
		Files:           len(r.Job.Files),
		CancelRequested: r.cancelRequested,
		LastEvent:       r.events.LastSeq(),
		CreatedAt:       r.createdAt,
		UpdatedAt:       r.updatedAt,
	}
	if r.result != nil {
		res := *r.result
		res.Transcripts = append([]string(nil), res.Transcripts...)
		res.Failures = append([]string{}, res.Failures...)
		snap.Result = &res
		if res.Err != nil {
			snap.Error = res.Err.Error()
		}
	}
	return snap
}

// RunStore is a thread-safe in-memory run registry with TTL eviction.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
	ttl  time.Duration
}

func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{
		runs: make(map[string]*Run),
		ttl:  ttl,
	}
}

func (s *RunStore) Put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *RunStore) Get(id string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Cleanup removes finished runs that have not changed for longer than the TTL.
func (s *RunStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, run := range s.runs {
		snap := run.Snapshot()
		if snap.Status.Terminal() && now.Sub(snap.UpdatedAt) > s.ttl {
			delete(s.runs, id)
		}
	}
}
