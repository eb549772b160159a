package transform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/artmorph/photo-transformer/internal/api/respond"
	"github.com/artmorph/photo-transformer/internal/middleware"
	"github.com/artmorph/photo-transformer/internal/model"
	"github.com/artmorph/photo-transformer/internal/orchestrator"
	"github.com/artmorph/photo-transformer/internal/orchestrator/status"
)

// service defines the interface for transformation job operations.
type service interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (model.Job, error)
	GetStatus(ctx context.Context, jobID uuid.UUID, callerID string) (status.Payload, error)
	GetResult(ctx context.Context, jobID uuid.UUID, callerID string) (orchestrator.ResultPayload, error)
	Cancel(ctx context.Context, jobID uuid.UUID, callerID string) error
	ListJobs(ctx context.Context, callerID string) ([]model.Job, error)
}

// Handler provides HTTP handlers for the transformation endpoints.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// SubmitRequest is the JSON body of POST /transform.
type SubmitRequest struct {
	PhotoID           string        `json:"photo_id"`
	StyleID           string        `json:"style_id"`
	CustomDescription string        `json:"custom_description"`
	Quality           string        `json:"quality"`
	Priority          string        `json:"priority"`
	Options           model.Options `json:"options"`
}

// Submit accepts a transformation request and responds 202 as soon as the
// job is queued. The caller polls for the outcome.
func (h *Handler) Submit(c *ginext.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("malformed submit request")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	job, err := h.service.Submit(c.Request.Context(), orchestrator.SubmitRequest{
		UserID:  middleware.UserID(c),
		PhotoID: req.PhotoID,
		Style: model.StyleSelector{
			StyleID:           req.StyleID,
			CustomDescription: req.CustomDescription,
		},
		Quality:  model.Quality(req.Quality),
		Priority: model.Priority(req.Priority),
		Options:  req.Options,
	})
	if err != nil {
		h.fail(c, err, "failed to submit job")
		return
	}

	respond.Accepted(c, job)
}

// Status serves the polling payload for a job.
func (h *Handler) Status(c *ginext.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	payload, err := h.service.GetStatus(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		h.fail(c, err, "failed to get job status")
		return
	}

	respond.OK(c, payload)
}

// Result serves the terminal outcome of a job.
func (h *Handler) Result(c *ginext.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	payload, err := h.service.GetResult(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		h.fail(c, err, "failed to get job result")
		return
	}

	respond.OK(c, payload)
}

// Cancel cancels a queued or processing job.
func (h *Handler) Cancel(c *ginext.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.service.Cancel(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		h.fail(c, err, "failed to cancel job")
		return
	}

	respond.OK(c, map[string]interface{}{"id": id, "cancelled": true})
}

// List returns the caller's jobs, newest first.
func (h *Handler) List(c *ginext.Context) {
	jobs, err := h.service.ListJobs(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.fail(c, err, "failed to list jobs")
		return
	}

	respond.OK(c, jobs)
}

// jobID parses the id path parameter.
func (h *Handler) jobID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		respond.Fail(c, http.StatusNotFound, errors.New("job not found"))
		return uuid.Nil, false
	}

	return id, true
}

// fail maps the error taxonomy onto HTTP status codes.
func (h *Handler) fail(c *ginext.Context, err error, msg string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		respond.Fail(c, http.StatusBadRequest, err)
	case errors.Is(err, model.ErrQuotaExhausted):
		respond.Fail(c, http.StatusPaymentRequired, err)
	case errors.Is(err, model.ErrNotFound):
		respond.Fail(c, http.StatusNotFound, errors.New("job not found"))
	case errors.Is(err, model.ErrNotReady):
		respond.Fail(c, http.StatusConflict, err)
	case errors.Is(err, model.ErrAlreadyCompleted):
		respond.Fail(c, http.StatusConflict, err)
	default:
		zlog.Logger.Err(err).Msg(msg)
		respond.Fail(c, http.StatusInternalServerError, errors.New("internal error"))
	}
}
