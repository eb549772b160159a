// Package worker runs the fixed-size executor pool. Each executor claims
// queued jobs exclusively, drives one provider call per attempt, and
// resolves the outcome into the job state machine. The pool size bounds the
// number of simultaneous in-flight provider calls: jobs beyond capacity
// wait in the queue instead of being rejected.
package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/artmorph/photo-transformer/internal/events"
	"github.com/artmorph/photo-transformer/internal/model"
	"github.com/artmorph/photo-transformer/internal/orchestrator/queue"
	"github.com/artmorph/photo-transformer/internal/provider/ai"
)

// initialProgress is the value progress is raised to when a job enters
// processing. Retried jobs keep their previous progress if higher.
const initialProgress = 5

// jobStore is the slice of the job store the pool mutates.
type jobStore interface {
	Get(ctx context.Context, id uuid.UUID) (model.Job, error)
	Claim(ctx context.Context, id uuid.UUID) (model.Job, error)
	Requeue(ctx context.Context, id uuid.UUID) (model.Job, error)
	Complete(ctx context.Context, id uuid.UUID, res model.Result) (model.Job, error)
	Fail(ctx context.Context, id uuid.UUID, code, message string) (model.Job, error)
	SetProgress(ctx context.Context, id uuid.UUID, progress int) error
}

// taskQueue is the scheduling queue the pool polls and re-enqueues on.
type taskQueue interface {
	TryDequeue() (queue.Ticket, bool)
	Enqueue(jobID uuid.UUID, priority model.Priority) queue.Ticket
}

// transformer is the AI transformation capability.
type transformer interface {
	Transform(ctx context.Context, req ai.TransformRequest) (*ai.TransformResult, error)
}

// finalizer persists result artifacts and builds the result reference.
type finalizer interface {
	Finalize(ctx context.Context, job model.Job, out *ai.TransformResult) (model.Result, error)
}

// photoSource loads the job's source image from storage.
type photoSource interface {
	Load(ctx context.Context, path string) (io.ReadCloser, error)
}

// publisher emits lifecycle events. May be nil when notifications are off.
type publisher interface {
	Publish(ctx context.Context, ev events.JobEvent) error
}

// durationTracker feeds the status projector's ETA heuristic.
type durationTracker interface {
	Observe(q model.Quality, d time.Duration)
	Average(q model.Quality) time.Duration
}

// Config holds the pool's deployment parameters.
type Config struct {
	Size            int
	PollInterval    time.Duration
	CallTimeout     time.Duration
	MaxAttempts     int
	ProgressCeiling int
}

// Pool is the bounded set of concurrent executors.
type Pool struct {
	cfg       Config
	store     jobStore
	queue     taskQueue
	provider  transformer
	finalizer finalizer
	photos    photoSource
	events    publisher
	durations durationTracker
}

// New creates a Pool. events may be nil.
func New(cfg Config, store jobStore, q taskQueue, provider transformer, fin finalizer, photos photoSource, ev publisher, durations durationTracker) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ProgressCeiling <= 0 || cfg.ProgressCeiling > 99 {
		cfg.ProgressCeiling = 90
	}

	return &Pool{
		cfg:       cfg,
		store:     store,
		queue:     q,
		provider:  provider,
		finalizer: fin,
		photos:    photos,
		events:    ev,
		durations: durations,
	}
}

// Run starts the executors and blocks until the context is cancelled and
// all executors have drained. It stops gracefully on context cancellation.
func (p *Pool) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().Int("workers", p.cfg.Size).Msg("starting worker pool")

	var inner sync.WaitGroup
	inner.Add(p.cfg.Size)
	for i := 0; i < p.cfg.Size; i++ {
		go p.runWorker(ctx, &inner)
	}
	inner.Wait()

	zlog.Logger.Info().Msg("worker pool stopped")
}

// runWorker is one executor: poll, claim, execute, repeat.
func (p *Pool) runWorker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		ticket, ok := p.queue.TryDequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.execute(ctx, ticket)
	}
}

// execute drives one attempt for the job behind the ticket.
func (p *Pool) execute(ctx context.Context, ticket queue.Ticket) {
	job, err := p.store.Claim(ctx, ticket.JobID)
	if err != nil {
		// The job was cancelled while queued, or another worker won the
		// claim. Either way this ticket is dead.
		if !errors.Is(err, model.ErrStateConflict) && !errors.Is(err, model.ErrNotFound) {
			zlog.Logger.Err(err).Str("job_id", ticket.JobID.String()).Msg("failed to claim job")
		}
		return
	}

	start := time.Now()
	zlog.Logger.Info().
		Str("job_id", job.ID.String()).
		Str("priority", string(job.Priority)).
		Int("attempt", job.Attempts).
		Msg("claimed job")

	if err := p.store.SetProgress(ctx, job.ID, initialProgress); err != nil && !errors.Is(err, model.ErrStateConflict) {
		zlog.Logger.Err(err).Str("job_id", job.ID.String()).Msg("failed to set initial progress")
	}

	source, contentType, err := p.loadSource(ctx, job)
	if err != nil {
		p.resolveFailure(ctx, job, ai.Transient(err))
		return
	}

	// Advance progress while the provider call is in flight.
	heartbeatDone := make(chan struct{})
	var heartbeat sync.WaitGroup
	heartbeat.Add(1)
	go p.advanceProgress(ctx, job, heartbeatDone, &heartbeat)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	out, err := p.provider.Transform(callCtx, ai.TransformRequest{
		Image:             source,
		ContentType:       contentType,
		StyleID:           job.Style.StyleID,
		CustomDescription: job.Style.CustomDescription,
		Quality:           job.Quality,
		PreserveMetadata:  job.Options.PreserveMetadata,
	})
	cancel()
	close(heartbeatDone)
	heartbeat.Wait()

	// Cancellation checkpoint: a cancel that landed during the provider
	// call means the outcome is discarded, whatever it was.
	if p.discardIfCancelled(ctx, job.ID) {
		return
	}

	if err != nil {
		p.resolveFailure(ctx, job, err)
		return
	}

	result, err := p.finalizer.Finalize(ctx, job, out)
	if err != nil {
		// Retrying post-processing would re-invoke the provider for work
		// already done, so a persistence failure is terminal.
		p.failJob(ctx, job, model.FailureCodePostProcess, err.Error())
		return
	}

	done, err := p.store.Complete(ctx, job.ID, result)
	if err != nil {
		if errors.Is(err, model.ErrStateConflict) {
			zlog.Logger.Info().Str("job_id", job.ID.String()).Msg("discarding result of cancelled job")
			return
		}
		zlog.Logger.Err(err).Str("job_id", job.ID.String()).Msg("failed to complete job")
		return
	}

	p.durations.Observe(done.Quality, time.Since(start))
	p.publish(ctx, done, events.TypeJobCompleted)

	zlog.Logger.Info().
		Str("job_id", done.ID.String()).
		Dur("duration", time.Since(start)).
		Msg("job completed")
}

// loadSource fetches the job's source photo bytes from storage.
func (p *Pool) loadSource(ctx context.Context, job model.Job) ([]byte, string, error) {
	rc, err := p.photos.Load(ctx, job.PhotoPath)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", err
	}

	return data, http.DetectContentType(data), nil
}

// resolveFailure applies the retry rule: transient failures re-enter the
// queue at the tail of their original lane while attempts remain; anything
// else is terminal.
func (p *Pool) resolveFailure(ctx context.Context, job model.Job, cause error) {
	if ai.IsTransient(cause) && job.Attempts < p.cfg.MaxAttempts {
		requeued, err := p.store.Requeue(ctx, job.ID)
		if err == nil {
			p.queue.Enqueue(requeued.ID, requeued.Priority)
			zlog.Logger.Warn().
				Str("job_id", job.ID.String()).
				Int("attempt", job.Attempts).
				Err(cause).
				Msg("transient provider failure, job re-queued")
			return
		}
		if errors.Is(err, model.ErrStateConflict) {
			// Cancelled while we were deciding.
			return
		}
		zlog.Logger.Err(err).Str("job_id", job.ID.String()).Msg("failed to re-queue job")
	}

	code := model.FailureCodeProvider
	if ai.IsTransient(cause) {
		code = model.FailureCodeRetryExhausted
	}
	p.failJob(ctx, job, code, cause.Error())
}

// failJob records a terminal failure.
func (p *Pool) failJob(ctx context.Context, job model.Job, code, message string) {
	failed, err := p.store.Fail(ctx, job.ID, code, message)
	if err != nil {
		if errors.Is(err, model.ErrStateConflict) {
			return
		}
		zlog.Logger.Err(err).Str("job_id", job.ID.String()).Msg("failed to record job failure")
		return
	}

	p.publish(ctx, failed, events.TypeJobFailed)

	zlog.Logger.Warn().
		Str("job_id", failed.ID.String()).
		Str("code", code).
		Msg("job failed")
}

// discardIfCancelled reports whether the job was cancelled while its
// provider call was in flight.
func (p *Pool) discardIfCancelled(ctx context.Context, id uuid.UUID) bool {
	current, err := p.store.Get(ctx, id)
	if err != nil {
		return false
	}
	if current.Status == model.StatusCancelled {
		zlog.Logger.Info().Str("job_id", id.String()).Msg("discarding result of cancelled job")
		return true
	}
	return false
}

// advanceProgress nudges progress from its current value toward the
// ceiling while the provider call runs, scaled by the tier's expected
// duration. Progress only ever increases.
func (p *Pool) advanceProgress(ctx context.Context, job model.Job, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	expected := p.durations.Average(job.Quality)
	if expected <= 0 {
		expected = 30 * time.Second
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			progress := initialProgress + int(float64(p.cfg.ProgressCeiling-initialProgress)*float64(elapsed)/float64(expected))
			if progress > p.cfg.ProgressCeiling {
				progress = p.cfg.ProgressCeiling
			}
			if err := p.store.SetProgress(ctx, job.ID, progress); err != nil {
				return
			}
		}
	}
}

// publish emits a lifecycle event when the job asked for notifications.
func (p *Pool) publish(ctx context.Context, job model.Job, eventType string) {
	if p.events == nil || !job.Options.Notify {
		return
	}

	ev := events.JobEvent{
		Type:       eventType,
		JobID:      job.ID.String(),
		UserID:     job.UserID,
		Status:     job.Status,
		OccurredAt: time.Now(),
	}
	if job.Failure != nil {
		ev.FailureCode = job.Failure.Code
	}

	if err := p.events.Publish(ctx, ev); err != nil {
		zlog.Logger.Err(err).Str("job_id", job.ID.String()).Msg("failed to publish job event")
	}
}
