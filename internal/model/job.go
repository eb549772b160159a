package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxCustomDescriptionLength bounds the free-text style description.
const MaxCustomDescriptionLength = 500

// Status represents the lifecycle state of a transformation job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Quality is the requested output quality tier. It affects estimated
// processing time and resource cost, not correctness.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualityUltra    Quality = "ultra"
)

// Priority selects the queue lane a job is scheduled on.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// StyleSelector picks the transformation style: either a catalog style id
// or a free-text custom description, never both and never neither.
type StyleSelector struct {
	StyleID           string `json:"style_id,omitempty"`
	CustomDescription string `json:"custom_description,omitempty"`
}

// Validate enforces the mutual exclusivity of the two selector forms
// and the length bound on custom descriptions.
func (s StyleSelector) Validate() error {
	if s.StyleID != "" && s.CustomDescription != "" {
		return fmt.Errorf("%w: style_id and custom_description are mutually exclusive", ErrValidation)
	}
	if s.StyleID == "" && s.CustomDescription == "" {
		return fmt.Errorf("%w: either style_id or custom_description is required", ErrValidation)
	}
	if len(s.CustomDescription) > MaxCustomDescriptionLength {
		return fmt.Errorf("%w: custom_description exceeds %d characters", ErrValidation, MaxCustomDescriptionLength)
	}
	return nil
}

// IsCustom reports whether the selector carries a free-text description.
func (s StyleSelector) IsCustom() bool {
	return s.CustomDescription != ""
}

// Options are independent post-processing flags. They are stored verbatim
// and interpreted by collaborators, never by scheduling logic.
type Options struct {
	Notify           bool `json:"notify"`
	SaveToGallery    bool `json:"save_to_gallery"`
	Public           bool `json:"public"`
	PreserveMetadata bool `json:"preserve_metadata"`
}

// Result holds the references to the stored transformation artifacts.
// It is set only on terminal success.
type Result struct {
	ObjectPath    string          `json:"object_path"`
	ThumbnailPath string          `json:"thumbnail_path"`
	PublicPath    string          `json:"public_path,omitempty"`
	GalleryPath   string          `json:"gallery_path,omitempty"`
	ContentType   string          `json:"content_type"`
	Analysis      json.RawMessage `json:"analysis,omitempty"`
}

// Failure is the structured reason recorded on terminal failure.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Failure codes recorded on terminally failed jobs.
const (
	FailureCodeProvider       = "provider_error"
	FailureCodeRetryExhausted = "retry_exhausted"
	FailureCodePostProcess    = "post_process_error"
)

// Job is the canonical record of one transformation request. The job store
// exclusively owns it; the queue holds only a scheduling ticket referencing
// its id.
type Job struct {
	ID          uuid.UUID     `json:"id"`
	UserID      string        `json:"user_id"`
	PhotoID     string        `json:"photo_id"`
	PhotoPath   string        `json:"photo_path"`
	Style       StyleSelector `json:"style"`
	Quality     Quality       `json:"quality"`
	Priority    Priority      `json:"priority"`
	Options     Options       `json:"options"`
	Status      Status        `json:"status"`
	Progress    int           `json:"progress"`
	Attempts    int           `json:"attempts"`
	Result      *Result       `json:"result,omitempty"`
	Failure     *Failure      `json:"failure,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// transitions is the closed state machine graph. processing -> queued is
// the bounded re-queue on transient provider failure.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled, StatusQueued},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ValidQuality reports whether q is a known quality tier.
func ValidQuality(q Quality) bool {
	switch q {
	case QualityStandard, QualityHigh, QualityUltra:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority lane.
func ValidPriority(p Priority) bool {
	return p == PriorityNormal || p == PriorityHigh
}
