// Package job persists transformation job records. Repository is the
// Postgres-backed store; Memory backs tests and single-node deployments.
// Both enforce state transitions with compare-and-set semantics.
package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/artmorph/photo-transformer/internal/model"
)

// Repository is the durable job store. State transitions are conditional
// updates keyed on the current status, so concurrent workers cannot apply
// conflicting transitions to the same job.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a Repository on the given database handle.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

const jobColumns = `
	id, user_id, photo_id, photo_path, style_id, custom_description,
	quality, priority, notify, save_to_gallery, public, preserve_metadata,
	status, progress, attempts, result, failure_code, failure_message,
	created_at, started_at, completed_at
`

// Create inserts a new job record.
func (r *Repository) Create(ctx context.Context, j *model.Job) error {
	query := `
		INSERT INTO transformation_jobs (
			id, user_id, photo_id, photo_path, style_id, custom_description,
			quality, priority, notify, save_to_gallery, public, preserve_metadata,
			status, progress, attempts, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.db.ExecContext(ctx, query,
		j.ID, j.UserID, j.PhotoID, j.PhotoPath,
		nullable(j.Style.StyleID), nullable(j.Style.CustomDescription),
		j.Quality, j.Priority,
		j.Options.Notify, j.Options.SaveToGallery, j.Options.Public, j.Options.PreserveMetadata,
		j.Status, j.Progress, j.Attempts, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create: failed to save job: %w", err)
	}

	return nil
}

// Get returns the job record by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transformation_jobs WHERE id = $1`

	j, err := scanJob(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, model.ErrNotFound
		}
		return model.Job{}, fmt.Errorf("get: failed to get job: %w", err)
	}

	return j, nil
}

// Claim transitions queued -> processing exclusively and increments the
// attempt counter.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID) (model.Job, error) {
	query := `
		UPDATE transformation_jobs
		SET status = 'processing', attempts = attempts + 1,
		    started_at = COALESCE(started_at, now())
		WHERE id = $1 AND status = 'queued'
		RETURNING ` + jobColumns

	return r.transition(ctx, id, query)
}

// Requeue transitions processing -> queued after a transient failure,
// keeping progress at its last observed value.
func (r *Repository) Requeue(ctx context.Context, id uuid.UUID) (model.Job, error) {
	query := `
		UPDATE transformation_jobs
		SET status = 'queued'
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + jobColumns

	return r.transition(ctx, id, query)
}

// Complete transitions processing -> completed, recording the result in
// the same statement so it is never visible on a non-completed job.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, res model.Result) (model.Job, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return model.Job{}, fmt.Errorf("complete: failed to marshal result: %w", err)
	}

	query := `
		UPDATE transformation_jobs
		SET status = 'completed', result = $2, progress = 100, completed_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + jobColumns

	return r.transition(ctx, id, query, payload)
}

// Fail transitions processing -> failed and records the failure reason.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, code, message string) (model.Job, error) {
	query := `
		UPDATE transformation_jobs
		SET status = 'failed', failure_code = $2, failure_message = $3, completed_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + jobColumns

	return r.transition(ctx, id, query, code, message)
}

// Cancel transitions queued or processing -> cancelled.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) (model.Job, error) {
	query := `
		UPDATE transformation_jobs
		SET status = 'cancelled', completed_at = now()
		WHERE id = $1 AND status IN ('queued', 'processing')
		RETURNING ` + jobColumns

	return r.transition(ctx, id, query)
}

// SetProgress raises the progress of a processing job, monotonically.
func (r *Repository) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `
		UPDATE transformation_jobs
		SET progress = GREATEST(progress, $2)
		WHERE id = $1 AND status = 'processing'
	`

	res, err := r.db.ExecContext(ctx, query, id, progress)
	if err != nil {
		return fmt.Errorf("progress: failed to update job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("progress: failed to get number of rows affected: %w", err)
	}
	if n == 0 {
		return r.missingOrConflict(ctx, id)
	}

	return nil
}

// ListByStatus returns all jobs in the given state, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status model.Status) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transformation_jobs WHERE status = $1 ORDER BY created_at ASC`

	return r.list(ctx, query, status)
}

// ListByUser returns the user's jobs, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transformation_jobs WHERE user_id = $1 ORDER BY created_at DESC`

	return r.list(ctx, query, userID)
}

func (r *Repository) list(ctx context.Context, query string, arg any) ([]model.Job, error) {
	rows, err := r.db.Master.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list: failed to query jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list: failed to scan job: %w", err)
		}
		out = append(out, j)
	}

	return out, rows.Err()
}

// transition runs a conditional update and resolves the empty-result case
// into ErrNotFound or ErrStateConflict.
func (r *Repository) transition(ctx context.Context, id uuid.UUID, query string, args ...any) (model.Job, error) {
	queryArgs := append([]any{id}, args...)

	j, err := scanJob(r.db.Master.QueryRowContext(ctx, query, queryArgs...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, r.missingOrConflict(ctx, id)
		}
		return model.Job{}, fmt.Errorf("transition: failed to update job: %w", err)
	}

	return j, nil
}

// missingOrConflict distinguishes an unknown id from a job whose current
// state rejected the transition.
func (r *Repository) missingOrConflict(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.db.Master.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transformation_jobs WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("transition: failed to check job: %w", err)
	}
	if !exists {
		return model.ErrNotFound
	}

	return model.ErrStateConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.Job, error) {
	var (
		j              model.Job
		styleID        sql.NullString
		custom         sql.NullString
		result         []byte
		failureCode    sql.NullString
		failureMessage sql.NullString
		startedAt      sql.NullTime
		completedAt    sql.NullTime
	)

	err := row.Scan(
		&j.ID, &j.UserID, &j.PhotoID, &j.PhotoPath, &styleID, &custom,
		&j.Quality, &j.Priority,
		&j.Options.Notify, &j.Options.SaveToGallery, &j.Options.Public, &j.Options.PreserveMetadata,
		&j.Status, &j.Progress, &j.Attempts, &result, &failureCode, &failureMessage,
		&j.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return model.Job{}, err
	}

	j.Style.StyleID = styleID.String
	j.Style.CustomDescription = custom.String
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if len(result) > 0 {
		var res model.Result
		if err := json.Unmarshal(result, &res); err != nil {
			return model.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
		j.Result = &res
	}
	if failureCode.Valid {
		j.Failure = &model.Failure{Code: failureCode.String, Message: failureMessage.String}
	}

	return j, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
