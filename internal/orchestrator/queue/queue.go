// Package queue implements the two-lane in-memory scheduling queue.
// Dequeue always prefers the high lane; within a lane ordering is strict
// FIFO by enqueue time. The queue holds only lightweight tickets, never job
// state: the job store remains the single source of truth.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artmorph/photo-transformer/internal/model"
)

// Ticket is the scheduling token held per queued job.
type Ticket struct {
	JobID      uuid.UUID
	Priority   model.Priority
	EnqueuedAt time.Time
}

// Queue is safe for concurrent use by many submitters and many workers.
type Queue struct {
	mu     sync.Mutex
	high   []Ticket
	normal []Ticket
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends a ticket at the tail of the job's priority lane.
// Retried jobs re-enter here too, so a flaky job cannot starve others.
func (q *Queue) Enqueue(jobID uuid.UUID, priority model.Priority) Ticket {
	t := Ticket{
		JobID:      jobID,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if priority == model.PriorityHigh {
		q.high = append(q.high, t)
	} else {
		q.normal = append(q.normal, t)
	}

	return t
}

// TryDequeue pops the next ticket under the lane preference order.
// It never blocks; workers poll it.
func (q *Queue) TryDequeue() (Ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.high) > 0 {
		t := q.high[0]
		q.high = q.high[1:]
		return t, true
	}
	if len(q.normal) > 0 {
		t := q.normal[0]
		q.normal = q.normal[1:]
		return t, true
	}

	return Ticket{}, false
}

// Remove drops the ticket for the given job, if still queued. Used on
// cancellation so workers never see the job again.
func (q *Queue) Remove(jobID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if removed := removeFrom(&q.high, jobID); removed {
		return true
	}
	return removeFrom(&q.normal, jobID)
}

// Position returns the number of jobs ahead of the given job across both
// lanes under the dequeue preference order. The count is recomputed from
// the queue's own ordering on every read, so it cannot drift.
func (q *Queue) Position(jobID uuid.UUID) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.high {
		if t.JobID == jobID {
			return i, true
		}
	}
	for i, t := range q.normal {
		if t.JobID == jobID {
			return len(q.high) + i, true
		}
	}

	return 0, false
}

// Len reports the total number of queued tickets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.high) + len(q.normal)
}

func removeFrom(lane *[]Ticket, jobID uuid.UUID) bool {
	for i, t := range *lane {
		if t.JobID == jobID {
			*lane = append((*lane)[:i], (*lane)[i+1:]...)
			return true
		}
	}
	return false
}
