package model

import "time"

// Photo is the read-only view of an uploaded photo this subsystem needs:
// enough to check ownership and to locate the source object in storage.
type Photo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
