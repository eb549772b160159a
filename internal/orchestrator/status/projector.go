// Package status computes the externally visible status payload for a job
// from job store and queue state. It is a pure read path: polling clients
// never touch scheduling internals.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artmorph/photo-transformer/internal/model"
)

// jobReader is the slice of the job store the projector needs.
type jobReader interface {
	Get(ctx context.Context, id uuid.UUID) (model.Job, error)
}

// positioner reports how many jobs are ahead of a queued job.
type positioner interface {
	Position(jobID uuid.UUID) (int, bool)
}

// Payload is the status representation served to polling clients.
// EstimatedSeconds is advisory: a heuristic over quality tier, queue
// position, and recent durations, never a guarantee.
type Payload struct {
	JobID            string       `json:"job_id"`
	Status           model.Status `json:"status"`
	Progress         int          `json:"progress"`
	QueuePosition    *int         `json:"queue_position,omitempty"`
	EstimatedSeconds *int64       `json:"estimated_time_remaining_seconds,omitempty"`
}

// Projector derives Payloads. Terminal jobs always project the same
// payload, so repeated polls are idempotent.
type Projector struct {
	jobs      jobReader
	queue     positioner
	durations *Tracker
	workers   int
}

// NewProjector creates a Projector. workers is the pool size, used to
// estimate how quickly the queue drains.
func NewProjector(jobs jobReader, queue positioner, durations *Tracker, workers int) *Projector {
	if workers <= 0 {
		workers = 1
	}
	return &Projector{jobs: jobs, queue: queue, durations: durations, workers: workers}
}

// Project builds the status payload for a job.
func (p *Projector) Project(ctx context.Context, id uuid.UUID) (Payload, error) {
	j, err := p.jobs.Get(ctx, id)
	if err != nil {
		return Payload{}, err
	}

	payload := Payload{
		JobID:    j.ID.String(),
		Status:   j.Status,
		Progress: j.Progress,
	}

	switch j.Status {
	case model.StatusQueued:
		avg := p.durations.Average(j.Quality)
		if pos, ok := p.queue.Position(j.ID); ok {
			payload.QueuePosition = &pos
			// Jobs ahead drain across the whole pool; this job then runs.
			eta := avg * time.Duration(pos/p.workers+1)
			payload.EstimatedSeconds = seconds(eta)
		} else {
			// Between queue removal and the processing transition.
			payload.EstimatedSeconds = seconds(avg)
		}
	case model.StatusProcessing:
		avg := p.durations.Average(j.Quality)
		remaining := avg * time.Duration(100-j.Progress) / 100
		payload.EstimatedSeconds = seconds(remaining)
	}

	return payload, nil
}

func seconds(d time.Duration) *int64 {
	s := int64(d / time.Second)
	if s < 1 {
		s = 1
	}
	return &s
}

// defaultDurations seed the estimate before any job of a tier completed.
var defaultDurations = map[model.Quality]time.Duration{
	model.QualityStandard: 30 * time.Second,
	model.QualityHigh:     60 * time.Second,
	model.QualityUltra:    120 * time.Second,
}

// Tracker keeps a rolling window of recent job durations per quality tier.
type Tracker struct {
	mu      sync.Mutex
	window  int
	samples map[model.Quality][]time.Duration
}

// NewTracker creates a Tracker keeping up to window samples per tier.
func NewTracker(window int) *Tracker {
	if window <= 0 {
		window = 20
	}
	return &Tracker{
		window:  window,
		samples: make(map[model.Quality][]time.Duration),
	}
}

// Observe records the duration of a finished job.
func (t *Tracker) Observe(q model.Quality, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := append(t.samples[q], d)
	if len(s) > t.window {
		s = s[len(s)-t.window:]
	}
	t.samples[q] = s
}

// Average returns the rolling average duration for a tier, falling back to
// a per-tier default when no samples exist yet.
func (t *Tracker) Average(q model.Quality) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.samples[q]
	if len(s) == 0 {
		if d, ok := defaultDurations[q]; ok {
			return d
		}
		return defaultDurations[model.QualityStandard]
	}

	var total time.Duration
	for _, d := range s {
		total += d
	}
	return total / time.Duration(len(s))
}
