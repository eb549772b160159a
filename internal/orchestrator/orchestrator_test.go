package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artmorph/photo-transformer/internal/model"
	"github.com/artmorph/photo-transformer/internal/orchestrator"
	"github.com/artmorph/photo-transformer/internal/orchestrator/queue"
	"github.com/artmorph/photo-transformer/internal/orchestrator/quota"
	"github.com/artmorph/photo-transformer/internal/orchestrator/status"
	"github.com/artmorph/photo-transformer/internal/repository/job"
	"github.com/artmorph/photo-transformer/internal/repository/photo"
)

type fakeCatalog struct {
	photos map[string]model.Photo // keyed by userID+"/"+photoID
}

func (f *fakeCatalog) Get(_ context.Context, userID, photoID string) (model.Photo, error) {
	p, ok := f.photos[userID+"/"+photoID]
	if !ok {
		return model.Photo{}, photo.ErrPhotoNotFound
	}
	return p, nil
}

type fakeValidator struct {
	rejected bool
	calls    int
}

func (f *fakeValidator) ValidateCustomStyle(_ context.Context, description string) error {
	f.calls++
	if f.rejected {
		return fmt.Errorf("%w: description rejected by provider", model.ErrValidation)
	}
	return nil
}

type fakeSigner struct{}

func (fakeSigner) SignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return "https://storage.local/" + path, nil
}

type env struct {
	svc   *orchestrator.Orchestrator
	store *job.Memory
	queue *queue.Queue
	quota *quota.Ledger
}

func newEnv(t *testing.T, quotaLimit int) *env {
	t.Helper()

	store := job.NewMemory()
	q := queue.New()
	ledger := quota.New(quotaLimit, 24*time.Hour)
	catalog := &fakeCatalog{photos: map[string]model.Photo{
		"user-1/photo-1": {ID: "photo-1", UserID: "user-1", Path: "photos/user-1/photo-1.jpg"},
	}}
	projector := status.NewProjector(store, q, status.NewTracker(10), 2)

	svc := orchestrator.New(store, q, ledger, catalog, &fakeValidator{}, fakeSigner{}, projector, nil, time.Hour)
	return &env{svc: svc, store: store, queue: q, quota: ledger}
}

func submitReq() orchestrator.SubmitRequest {
	return orchestrator.SubmitRequest{
		UserID:  "user-1",
		PhotoID: "photo-1",
		Style:   model.StyleSelector{StyleID: "noir"},
	}
}

func TestSubmit_QueuesJobWithDefaults(t *testing.T) {
	e := newEnv(t, 10)

	j, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	assert.Equal(t, model.StatusQueued, j.Status)
	assert.Equal(t, model.QualityStandard, j.Quality)
	assert.Equal(t, model.PriorityNormal, j.Priority)
	assert.Equal(t, "photos/user-1/photo-1.jpg", j.PhotoPath)
	assert.Equal(t, 0, j.Attempts)

	pos, ok := e.queue.Position(j.ID)
	require.True(t, ok)
	assert.Equal(t, 0, pos)

	stored, err := e.store.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, stored.Status)
}

func TestSubmit_ValidationFailsFast(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*orchestrator.SubmitRequest)
	}{
		{"missing photo id", func(r *orchestrator.SubmitRequest) { r.PhotoID = "" }},
		{"both style fields", func(r *orchestrator.SubmitRequest) { r.Style.CustomDescription = "also custom" }},
		{"neither style field", func(r *orchestrator.SubmitRequest) { r.Style = model.StyleSelector{} }},
		{"unknown quality", func(r *orchestrator.SubmitRequest) { r.Quality = "8k" }},
		{"unknown priority", func(r *orchestrator.SubmitRequest) { r.Priority = "urgent" }},
		{"photo not owned", func(r *orchestrator.SubmitRequest) { r.PhotoID = "photo-9" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, 10)

			req := submitReq()
			tt.mutate(&req)

			_, err := e.svc.Submit(context.Background(), req)
			assert.ErrorIs(t, err, model.ErrValidation)

			// Fail-fast: nothing was created and no quota consumed.
			assert.Equal(t, 0, e.queue.Len())
			assert.Equal(t, 10, e.quota.Remaining("user-1"))
		})
	}
}

func TestSubmit_CustomStyleCheckedWithProvider(t *testing.T) {
	store := job.NewMemory()
	q := queue.New()
	ledger := quota.New(10, 24*time.Hour)
	catalog := &fakeCatalog{photos: map[string]model.Photo{
		"user-1/photo-1": {ID: "photo-1", UserID: "user-1", Path: "photos/user-1/photo-1.jpg"},
	}}
	validator := &fakeValidator{rejected: true}
	projector := status.NewProjector(store, q, status.NewTracker(10), 2)
	svc := orchestrator.New(store, q, ledger, catalog, validator, fakeSigner{}, projector, nil, time.Hour)

	req := submitReq()
	req.Style = model.StyleSelector{CustomDescription: "melting clocks"}

	_, err := svc.Submit(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 1, validator.calls)
	assert.Equal(t, 10, ledger.Remaining("user-1"), "rejected submissions must not consume quota")

	// Catalog styles skip the provider round-trip.
	validator.rejected = false
	_, err = svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	assert.Equal(t, 1, validator.calls)
}

func TestSubmit_QuotaExhausted(t *testing.T) {
	e := newEnv(t, 2)

	for i := 0; i < 2; i++ {
		_, err := e.svc.Submit(context.Background(), submitReq())
		require.NoError(t, err)
	}

	_, err := e.svc.Submit(context.Background(), submitReq())
	assert.ErrorIs(t, err, model.ErrQuotaExhausted)
	assert.Equal(t, 2, e.queue.Len())
}

// Ten concurrent submissions against a quota of five: exactly five jobs.
func TestSubmit_ConcurrentQuotaBoundary(t *testing.T) {
	e := newEnv(t, 5)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)

	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			_, err := e.svc.Submit(context.Background(), submitReq())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
			} else if errors.Is(err, model.ErrQuotaExhausted) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.Equal(t, 5, rejected)
	assert.Equal(t, 5, e.queue.Len())
}

func TestGetStatus_OwnershipFoldsIntoNotFound(t *testing.T) {
	e := newEnv(t, 10)

	j, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	_, err = e.svc.GetStatus(context.Background(), j.ID, "someone-else")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = e.svc.GetStatus(context.Background(), uuid.New(), "user-1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	payload, err := e.svc.GetStatus(context.Background(), j.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, payload.Status)
	require.NotNil(t, payload.QueuePosition)
	assert.Equal(t, 0, *payload.QueuePosition)
}

func TestGetResult_NotReadyWhileRunning(t *testing.T) {
	e := newEnv(t, 10)

	j, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	_, err = e.svc.GetResult(context.Background(), j.ID, "user-1")
	assert.ErrorIs(t, err, model.ErrNotReady)

	_, err = e.store.Claim(context.Background(), j.ID)
	require.NoError(t, err)

	_, err = e.svc.GetResult(context.Background(), j.ID, "user-1")
	assert.ErrorIs(t, err, model.ErrNotReady)
}

func TestGetResult_CompletedJobSignsArtifacts(t *testing.T) {
	e := newEnv(t, 10)

	j, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	_, err = e.store.Claim(context.Background(), j.ID)
	require.NoError(t, err)
	_, err = e.store.Complete(context.Background(), j.ID, model.Result{
		ObjectPath:    "results/" + j.ID.String() + ".jpg",
		ThumbnailPath: "thumbnails/" + j.ID.String() + ".jpg",
		ContentType:   "image/jpeg",
		Analysis:      json.RawMessage(`{"dominant_color":"teal"}`),
	})
	require.NoError(t, err)

	payload, err := e.svc.GetResult(context.Background(), j.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, payload.Status)
	assert.Equal(t, "https://storage.local/results/"+j.ID.String()+".jpg", payload.ResultURL)
	assert.Equal(t, "https://storage.local/thumbnails/"+j.ID.String()+".jpg", payload.ThumbnailURL)
	assert.Empty(t, payload.PublicURL)
	assert.JSONEq(t, `{"dominant_color":"teal"}`, string(payload.Analysis))
	assert.NotNil(t, payload.CompletedAt)
	assert.Nil(t, payload.Failure)
}

func TestGetResult_FailedJobCarriesReason(t *testing.T) {
	e := newEnv(t, 10)

	j, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	_, err = e.store.Claim(context.Background(), j.ID)
	require.NoError(t, err)
	_, err = e.store.Fail(context.Background(), j.ID, model.FailureCodeProvider, "style not supported")
	require.NoError(t, err)

	payload, err := e.svc.GetResult(context.Background(), j.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, payload.Status)
	require.NotNil(t, payload.Failure)
	assert.Equal(t, model.FailureCodeProvider, payload.Failure.Code)
	assert.Empty(t, payload.ResultURL)
}

func TestCancel_QueuedJobRefundsQuota(t *testing.T) {
	e := newEnv(t, 3)

	j, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	require.Equal(t, 2, e.quota.Remaining("user-1"))

	require.NoError(t, e.svc.Cancel(context.Background(), j.ID, "user-1"))

	cancelled, err := e.store.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)

	_, ok := e.queue.Position(j.ID)
	assert.False(t, ok, "cancelled job must leave the queue")
	assert.Equal(t, 3, e.quota.Remaining("user-1"), "pre-processing cancel refunds the reservation")
}

func TestCancel_ProcessingJobKeepsQuotaSpent(t *testing.T) {
	e := newEnv(t, 3)

	j, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	_, err = e.store.Claim(context.Background(), j.ID)
	require.NoError(t, err)

	require.NoError(t, e.svc.Cancel(context.Background(), j.ID, "user-1"))

	cancelled, err := e.store.Get(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Equal(t, 2, e.quota.Remaining("user-1"), "work already started: the reservation stands")
}

func TestCancel_TerminalStates(t *testing.T) {
	e := newEnv(t, 10)

	completed, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	_, err = e.store.Claim(context.Background(), completed.ID)
	require.NoError(t, err)
	_, err = e.store.Complete(context.Background(), completed.ID, model.Result{ObjectPath: "results/x.jpg"})
	require.NoError(t, err)

	err = e.svc.Cancel(context.Background(), completed.ID, "user-1")
	assert.ErrorIs(t, err, model.ErrAlreadyCompleted)

	failed, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	_, err = e.store.Claim(context.Background(), failed.ID)
	require.NoError(t, err)
	_, err = e.store.Fail(context.Background(), failed.ID, model.FailureCodeProvider, "boom")
	require.NoError(t, err)

	// Cancelling an already failed or cancelled job is a no-op success.
	assert.NoError(t, e.svc.Cancel(context.Background(), failed.ID, "user-1"))

	queued, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	require.NoError(t, e.svc.Cancel(context.Background(), queued.ID, "user-1"))
	assert.NoError(t, e.svc.Cancel(context.Background(), queued.ID, "user-1"))
}

func TestCancel_OwnershipFoldsIntoNotFound(t *testing.T) {
	e := newEnv(t, 10)

	j, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	err = e.svc.Cancel(context.Background(), j.ID, "someone-else")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRecover_RestoresQueueFromStore(t *testing.T) {
	e := newEnv(t, 10)

	first, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	second, err := e.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	// A worker claimed second and then the process died.
	_, err = e.store.Claim(context.Background(), second.ID)
	require.NoError(t, err)

	// Fresh queue, as after a restart.
	restarted := queue.New()
	projector := status.NewProjector(e.store, restarted, status.NewTracker(10), 2)
	catalog := &fakeCatalog{photos: map[string]model.Photo{}}
	svc := orchestrator.New(e.store, restarted, quota.New(10, 24*time.Hour), catalog, &fakeValidator{}, fakeSigner{}, projector, nil, time.Hour)

	require.NoError(t, svc.Recover(context.Background()))

	assert.Equal(t, 2, restarted.Len())

	recovered, err := e.store.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, recovered.Status)
	assert.Equal(t, 1, recovered.Attempts, "the interrupted attempt stays counted")

	_, ok := restarted.Position(first.ID)
	assert.True(t, ok)
}

func TestListJobs_NewestFirstPerUser(t *testing.T) {
	e := newEnv(t, 10)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		j, err := e.svc.Submit(context.Background(), submitReq())
		require.NoError(t, err)
		ids = append(ids, j.ID)
		time.Sleep(time.Millisecond)
	}

	jobs, err := e.svc.ListJobs(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[0], jobs[2].ID)

	other, err := e.svc.ListJobs(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}
