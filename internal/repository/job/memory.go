package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artmorph/photo-transformer/internal/model"
)

// Memory is a mutex-guarded in-process job store. Every state change goes
// through a compare-and-set transition, so a worker that loses a claim race
// or misses a concurrent cancellation gets ErrStateConflict instead of
// silently overwriting state.
type Memory struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*model.Job
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[uuid.UUID]*model.Job)}
}

// Create persists a new job record. The job must be in the queued state.
func (m *Memory) Create(_ context.Context, j *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return model.ErrStateConflict
	}

	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

// Get returns a copy of the job record.
func (m *Memory) Get(_ context.Context, id uuid.UUID) (model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, model.ErrNotFound
	}

	return *j, nil
}

// Claim transitions queued -> processing exclusively. The attempt counter
// is incremented here: a claim is the start of one provider call attempt.
func (m *Memory) Claim(_ context.Context, id uuid.UUID) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.locked(id, model.StatusQueued)
	if err != nil {
		return model.Job{}, err
	}

	now := time.Now()
	j.Status = model.StatusProcessing
	j.Attempts++
	if j.StartedAt == nil {
		j.StartedAt = &now
	}

	return *j, nil
}

// Requeue transitions processing -> queued after a transient provider
// failure. Progress is kept, never reset below its last observed value.
func (m *Memory) Requeue(_ context.Context, id uuid.UUID) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.locked(id, model.StatusProcessing)
	if err != nil {
		return model.Job{}, err
	}

	j.Status = model.StatusQueued
	return *j, nil
}

// Complete transitions processing -> completed and records the result in
// the same step, so a result is never visible on a non-completed job.
func (m *Memory) Complete(_ context.Context, id uuid.UUID, res model.Result) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.locked(id, model.StatusProcessing)
	if err != nil {
		return model.Job{}, err
	}

	now := time.Now()
	j.Status = model.StatusCompleted
	j.Result = &res
	j.Progress = 100
	j.CompletedAt = &now

	return *j, nil
}

// Fail transitions processing -> failed and records the reason. The reason
// is set exactly once and never overwritten.
func (m *Memory) Fail(_ context.Context, id uuid.UUID, code, message string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.locked(id, model.StatusProcessing)
	if err != nil {
		return model.Job{}, err
	}

	now := time.Now()
	j.Status = model.StatusFailed
	j.Failure = &model.Failure{Code: code, Message: message}
	j.CompletedAt = &now

	return *j, nil
}

// Cancel transitions queued or processing -> cancelled.
func (m *Memory) Cancel(_ context.Context, id uuid.UUID) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return model.Job{}, model.ErrNotFound
	}
	if !model.CanTransition(j.Status, model.StatusCancelled) {
		return model.Job{}, model.ErrStateConflict
	}

	now := time.Now()
	j.Status = model.StatusCancelled
	j.CompletedAt = &now

	return *j, nil
}

// SetProgress raises the progress of a processing job. Progress is
// monotone: a lower value than the current one is ignored.
func (m *Memory) SetProgress(_ context.Context, id uuid.UUID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return model.ErrNotFound
	}
	if j.Status != model.StatusProcessing {
		return model.ErrStateConflict
	}

	if progress > j.Progress {
		j.Progress = progress
	}
	return nil
}

// ListByStatus returns copies of all jobs in the given state, oldest first.
func (m *Memory) ListByStatus(_ context.Context, status model.Status) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Job
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

// ListByUser returns copies of the user's jobs, newest first.
func (m *Memory) ListByUser(_ context.Context, userID string) ([]model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Job
	for _, j := range m.jobs {
		if j.UserID == userID {
			out = append(out, *j)
		}
	}

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// locked fetches a job and checks its current state. Callers must hold the
// write lock.
func (m *Memory) locked(id uuid.UUID, want model.Status) (*model.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if j.Status != want {
		return nil, model.ErrStateConflict
	}
	return j, nil
}
