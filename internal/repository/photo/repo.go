// Package photo resolves uploaded photo records for the ownership check at
// submission time. Uploads themselves are handled by another subsystem;
// this repository only reads.
package photo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/artmorph/photo-transformer/internal/model"
)

// ErrPhotoNotFound covers an unknown photo id, a deleted photo, and an
// ownership mismatch alike.
var ErrPhotoNotFound = errors.New("photo not found")

// Repository reads photo records from Postgres.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a Repository on the given database handle.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the photo if it exists, is not deleted, and belongs to the
// given user.
func (r *Repository) Get(ctx context.Context, userID, photoID string) (model.Photo, error) {
	query := `
		SELECT id, user_id, path, content_type, uploaded_at
		FROM photos
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
	`

	var p model.Photo
	err := r.db.Master.QueryRowContext(ctx, query, photoID, userID).Scan(
		&p.ID, &p.UserID, &p.Path, &p.ContentType, &p.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Photo{}, ErrPhotoNotFound
		}
		return model.Photo{}, fmt.Errorf("get: failed to get photo: %w", err)
	}

	return p, nil
}
