// Package store keeps the render job registry. It is process-local: jobs
// live exactly as long as the server does.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wavecast/api/internal/model"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrClosed   = errors.New("job store closed")

	// ErrInvalidTransition is matched by every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// InvalidTransitionError reports a state change that would move a job
// backwards or out of a terminal state, or a terminal state missing its
// required field.
type InvalidTransitionError struct {
	JobID  string
	From   model.JobStatus
	To     model.JobStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("job %s: cannot transition from %s to %s: %s", e.JobID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("job %s: cannot transition from %s to %s", e.JobID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NewJob describes a job to register. The store assigns ID, CreatedAt and
// the initial queued state.
type NewJob struct {
	InputPath string
	CoverPath string
	Params    model.RenderParams
}

// Store is the job registry used by the service and the workers.
type Store interface {
	Create(ctx context.Context, nj NewJob) (model.Job, error)
	Get(ctx context.Context, id string) (model.Job, error)
	Transition(ctx context.Context, id string, next model.JobState) (model.Job, error)
	Len() int
	Close() error
}

// MemoryStore is a Store backed by a map under a RWMutex. Every job returned
// is a copy; callers never share memory with the registry.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*model.Job
	closed bool

	now   func() time.Time
	newID func() string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*model.Job),
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Create registers a queued job under a fresh unique id.
func (s *MemoryStore) Create(ctx context.Context, nj NewJob) (model.Job, error) {
	if err := ctx.Err(); err != nil {
		return model.Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.Job{}, ErrClosed
	}

	id := s.newID()
	for attempts := 1; s.jobs[id] != nil; attempts++ {
		if attempts >= 8 {
			return model.Job{}, fmt.Errorf("allocate job id: %d collisions", attempts)
		}
		id = s.newID()
	}

	job := &model.Job{
		ID:        id,
		CreatedAt: s.now().UTC(),
		InputPath: nj.InputPath,
		CoverPath: nj.CoverPath,
		Params:    nj.Params.Clone(),
		State:     model.Queued{},
	}
	s.jobs[id] = job

	return copyJob(job), nil
}

// Get returns a snapshot of the job.
func (s *MemoryStore) Get(ctx context.Context, id string) (model.Job, error) {
	if err := ctx.Err(); err != nil {
		return model.Job{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}
	return copyJob(job), nil
}

// Transition moves a job to next. Allowed moves are queued to running,
// queued to error, and running to done or error; everything else is an
// *InvalidTransitionError and leaves the job untouched.
func (s *MemoryStore) Transition(ctx context.Context, id string, next model.JobState) (model.Job, error) {
	if next == nil {
		return model.Job{}, errors.New("transition: nil state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return model.Job{}, ErrClosed
	}

	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, ErrNotFound
	}

	from, to := job.Status(), next.Status()
	if !allowed(from, to) {
		return model.Job{}, &InvalidTransitionError{JobID: id, From: from, To: to}
	}
	if reason := incomplete(next); reason != "" {
		return model.Job{}, &InvalidTransitionError{JobID: id, From: from, To: to, Reason: reason}
	}

	job.State = next
	return copyJob(job), nil
}

// incomplete reports why a terminal state lacks the field its status requires.
func incomplete(state model.JobState) string {
	switch st := state.(type) {
	case model.Done:
		if st.OutputPath == "" {
			return "done state without output path"
		}
	case model.Failed:
		if st.Message == "" {
			return "error state without message"
		}
	}
	return ""
}

// Len reports how many jobs are registered.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Close rejects further writes. Reads keep working so in-flight status
// polls are still answered during shutdown.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func allowed(from, to model.JobStatus) bool {
	switch from {
	case model.JobStatusQueued:
		return to == model.JobStatusRunning || to == model.JobStatusError
	case model.JobStatusRunning:
		return to == model.JobStatusDone || to == model.JobStatusError
	}
	return false
}

func copyJob(j *model.Job) model.Job {
	out := *j
	out.Params = j.Params.Clone()
	return out
}
