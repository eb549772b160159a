// Package orchestrator composes the quota ledger, job store, priority
// queue, worker pool and status projector behind the single facade other
// subsystems call.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/artmorph/photo-transformer/internal/events"
	"github.com/artmorph/photo-transformer/internal/model"
	"github.com/artmorph/photo-transformer/internal/orchestrator/queue"
	"github.com/artmorph/photo-transformer/internal/orchestrator/quota"
	"github.com/artmorph/photo-transformer/internal/orchestrator/status"
	"github.com/artmorph/photo-transformer/internal/repository/photo"
)

// JobStore is the canonical job record store the facade depends on.
type JobStore interface {
	Create(ctx context.Context, j *model.Job) error
	Get(ctx context.Context, id uuid.UUID) (model.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (model.Job, error)
	Requeue(ctx context.Context, id uuid.UUID) (model.Job, error)
	ListByStatus(ctx context.Context, s model.Status) ([]model.Job, error)
	ListByUser(ctx context.Context, userID string) ([]model.Job, error)
}

// photoCatalog resolves the delegated photo ownership/existence check.
type photoCatalog interface {
	Get(ctx context.Context, userID, photoID string) (model.Photo, error)
}

// styleValidator checks free-text style descriptions with the provider.
type styleValidator interface {
	ValidateCustomStyle(ctx context.Context, description string) error
}

// urlSigner resolves stored artifacts into client-facing signed URLs.
type urlSigner interface {
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// publisher emits lifecycle events. May be nil.
type publisher interface {
	Publish(ctx context.Context, ev events.JobEvent) error
}

// SubmitRequest is a validated-at-the-edge transformation request.
type SubmitRequest struct {
	UserID   string
	PhotoID  string
	Style    model.StyleSelector
	Quality  model.Quality
	Priority model.Priority
	Options  model.Options
}

// ResultPayload is the terminal-state read served by GetResult.
type ResultPayload struct {
	JobID        string          `json:"job_id"`
	Status       model.Status    `json:"status"`
	ResultURL    string          `json:"result_url,omitempty"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty"`
	PublicURL    string          `json:"public_url,omitempty"`
	Analysis     json.RawMessage `json:"analysis,omitempty"`
	Failure      *model.Failure  `json:"failure,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Orchestrator is the facade. Submission returns as soon as the job is
// queued; callers learn of terminal outcomes by polling.
type Orchestrator struct {
	store     JobStore
	queue     *queue.Queue
	quota     *quota.Ledger
	photos    photoCatalog
	validator styleValidator
	signer    urlSigner
	projector *status.Projector
	events    publisher
	urlTTL    time.Duration
}

// New creates an Orchestrator. events may be nil.
func New(
	store JobStore,
	q *queue.Queue,
	ledger *quota.Ledger,
	photos photoCatalog,
	validator styleValidator,
	signer urlSigner,
	projector *status.Projector,
	ev publisher,
	urlTTL time.Duration,
) *Orchestrator {
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}
	return &Orchestrator{
		store:     store,
		queue:     q,
		quota:     ledger,
		photos:    photos,
		validator: validator,
		signer:    signer,
		projector: projector,
		events:    ev,
		urlTTL:    urlTTL,
	}
}

// Submit validates the request, reserves quota, creates the job record and
// enqueues it. It fails fast before any mutation on validation errors and
// surfaces quota exhaustion before a job record exists.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (model.Job, error) {
	if req.UserID == "" {
		return model.Job{}, fmt.Errorf("%w: user id is required", model.ErrValidation)
	}
	if req.PhotoID == "" {
		return model.Job{}, fmt.Errorf("%w: photo_id is required", model.ErrValidation)
	}
	if err := req.Style.Validate(); err != nil {
		return model.Job{}, err
	}

	if req.Quality == "" {
		req.Quality = model.QualityStandard
	}
	if !model.ValidQuality(req.Quality) {
		return model.Job{}, fmt.Errorf("%w: unknown quality %q", model.ErrValidation, req.Quality)
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	if !model.ValidPriority(req.Priority) {
		return model.Job{}, fmt.Errorf("%w: unknown priority %q", model.ErrValidation, req.Priority)
	}

	src, err := o.photos.Get(ctx, req.UserID, req.PhotoID)
	if err != nil {
		if errors.Is(err, photo.ErrPhotoNotFound) {
			return model.Job{}, fmt.Errorf("%w: photo not found or not owned", model.ErrValidation)
		}
		return model.Job{}, fmt.Errorf("submit: failed to resolve photo: %w", err)
	}

	if req.Style.IsCustom() {
		if err := o.validator.ValidateCustomStyle(ctx, req.Style.CustomDescription); err != nil {
			if errors.Is(err, model.ErrValidation) {
				return model.Job{}, err
			}
			return model.Job{}, fmt.Errorf("submit: failed to validate custom style: %w", err)
		}
	}

	ok, remaining := o.quota.Reserve(req.UserID)
	if !ok {
		return model.Job{}, model.ErrQuotaExhausted
	}

	job := model.Job{
		ID:        uuid.New(),
		UserID:    req.UserID,
		PhotoID:   req.PhotoID,
		PhotoPath: src.Path,
		Style:     req.Style,
		Quality:   req.Quality,
		Priority:  req.Priority,
		Options:   req.Options,
		Status:    model.StatusQueued,
		CreatedAt: time.Now(),
	}

	if err := o.store.Create(ctx, &job); err != nil {
		// The reservation was taken but no job exists: refund it.
		o.quota.Release(req.UserID)
		return model.Job{}, fmt.Errorf("submit: failed to create job: %w", err)
	}

	o.queue.Enqueue(job.ID, job.Priority)

	zlog.Logger.Info().
		Str("job_id", job.ID.String()).
		Str("user_id", job.UserID).
		Str("priority", string(job.Priority)).
		Int("quota_remaining", remaining).
		Msg("job submitted")

	return job, nil
}

// GetStatus returns the polling payload for the caller's job. Unknown ids
// and ownership mismatches are indistinguishable.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID uuid.UUID, callerID string) (status.Payload, error) {
	if _, err := o.ownedJob(ctx, jobID, callerID); err != nil {
		return status.Payload{}, err
	}

	return o.projector.Project(ctx, jobID)
}

// GetResult returns the terminal outcome of the caller's job: signed
// artifact URLs and analysis for completed jobs, the recorded failure
// reason for failed ones.
func (o *Orchestrator) GetResult(ctx context.Context, jobID uuid.UUID, callerID string) (ResultPayload, error) {
	job, err := o.ownedJob(ctx, jobID, callerID)
	if err != nil {
		return ResultPayload{}, err
	}

	if !job.Status.Terminal() {
		return ResultPayload{}, model.ErrNotReady
	}

	payload := ResultPayload{
		JobID:       job.ID.String(),
		Status:      job.Status,
		CompletedAt: job.CompletedAt,
	}

	switch job.Status {
	case model.StatusCompleted:
		if payload.ResultURL, err = o.signer.SignedURL(ctx, job.Result.ObjectPath, o.urlTTL); err != nil {
			return ResultPayload{}, fmt.Errorf("result: failed to sign url: %w", err)
		}
		if payload.ThumbnailURL, err = o.signer.SignedURL(ctx, job.Result.ThumbnailPath, o.urlTTL); err != nil {
			return ResultPayload{}, fmt.Errorf("result: failed to sign thumbnail url: %w", err)
		}
		if job.Result.PublicPath != "" {
			if payload.PublicURL, err = o.signer.SignedURL(ctx, job.Result.PublicPath, o.urlTTL); err != nil {
				return ResultPayload{}, fmt.Errorf("result: failed to sign public url: %w", err)
			}
		}
		payload.Analysis = job.Result.Analysis
	case model.StatusFailed:
		payload.Failure = job.Failure
	}

	return payload, nil
}

// Cancel cancels the caller's job. Already failed or cancelled jobs are a
// no-op success; completed jobs cannot be cancelled. Quota is refunded only
// if the job never entered processing.
func (o *Orchestrator) Cancel(ctx context.Context, jobID uuid.UUID, callerID string) error {
	job, err := o.ownedJob(ctx, jobID, callerID)
	if err != nil {
		return err
	}

	if job.Status.Terminal() {
		if job.Status == model.StatusCompleted {
			return model.ErrAlreadyCompleted
		}
		return nil
	}

	cancelled, err := o.store.Cancel(ctx, jobID)
	if err != nil {
		if errors.Is(err, model.ErrStateConflict) {
			// The job reached a terminal state concurrently.
			current, getErr := o.store.Get(ctx, jobID)
			if getErr == nil && current.Status == model.StatusCompleted {
				return model.ErrAlreadyCompleted
			}
			return nil
		}
		return fmt.Errorf("cancel: failed to cancel job: %w", err)
	}

	o.queue.Remove(jobID)

	// Cancellation before execution starts is the sole quota refund path.
	if cancelled.StartedAt == nil {
		o.quota.Release(cancelled.UserID)
	}

	if o.events != nil && cancelled.Options.Notify {
		ev := events.JobEvent{
			Type:       events.TypeJobCancelled,
			JobID:      cancelled.ID.String(),
			UserID:     cancelled.UserID,
			Status:     cancelled.Status,
			OccurredAt: time.Now(),
		}
		if err := o.events.Publish(ctx, ev); err != nil {
			zlog.Logger.Err(err).Str("job_id", jobID.String()).Msg("failed to publish cancel event")
		}
	}

	zlog.Logger.Info().Str("job_id", jobID.String()).Msg("job cancelled")

	return nil
}

// ListJobs returns the caller's jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, callerID string) ([]model.Job, error) {
	return o.store.ListByUser(ctx, callerID)
}

// Recover rebuilds queue state from the durable store after a restart:
// jobs a crashed worker left in processing are re-queued, then everything
// queued is enqueued in creation order.
func (o *Orchestrator) Recover(ctx context.Context) error {
	orphaned, err := o.store.ListByStatus(ctx, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("recover: failed to list processing jobs: %w", err)
	}
	for _, j := range orphaned {
		if _, err := o.store.Requeue(ctx, j.ID); err != nil {
			zlog.Logger.Err(err).Str("job_id", j.ID.String()).Msg("failed to re-queue orphaned job")
		}
	}

	queued, err := o.store.ListByStatus(ctx, model.StatusQueued)
	if err != nil {
		return fmt.Errorf("recover: failed to list queued jobs: %w", err)
	}
	for _, j := range queued {
		o.queue.Enqueue(j.ID, j.Priority)
	}

	if len(orphaned) > 0 || len(queued) > 0 {
		zlog.Logger.Info().
			Int("requeued", len(orphaned)).
			Int("restored", len(queued)).
			Msg("queue state recovered")
	}

	return nil
}

// ownedJob loads a job and verifies ownership, folding both failure modes
// into ErrNotFound.
func (o *Orchestrator) ownedJob(ctx context.Context, jobID uuid.UUID, callerID string) (model.Job, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	if job.UserID != callerID {
		return model.Job{}, model.ErrNotFound
	}

	return job, nil
}
