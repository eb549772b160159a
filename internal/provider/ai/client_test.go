package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artmorph/photo-transformer/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}

func TestTransform_Success(t *testing.T) {
	styled := []byte("styled-image-bytes")

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transform", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload struct {
			Image    string `json:"image"`
			StyleID  string `json:"style_id"`
			Quality  string `json:"quality"`
			Preserve bool   `json:"preserve_metadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("source")), payload.Image)
		assert.Equal(t, "noir", payload.StyleID)
		assert.Equal(t, "high", payload.Quality)

		json.NewEncoder(w).Encode(map[string]any{
			"image":        base64.StdEncoding.EncodeToString(styled),
			"content_type": "image/png",
			"analysis":     map[string]string{"mood": "dramatic"},
			"metrics":      map[string]any{"model_version": "st-2", "duration_ms": 4200},
		})
	})

	out, err := c.Transform(context.Background(), TransformRequest{
		Image:       []byte("source"),
		ContentType: "image/jpeg",
		StyleID:     "noir",
		Quality:     model.QualityHigh,
	})
	require.NoError(t, err)

	assert.Equal(t, styled, out.Image)
	assert.Equal(t, "image/png", out.ContentType)
	assert.JSONEq(t, `{"mood":"dramatic"}`, string(out.Analysis))
	assert.Equal(t, "st-2", out.Metrics.ModelVersion)
	assert.Equal(t, int64(4200), out.Metrics.DurationMS)
}

func TestTransform_ServerErrorIsTransient(t *testing.T) {
	for _, code := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		})

		_, err := c.Transform(context.Background(), TransformRequest{Image: []byte("x")})
		require.Error(t, err)
		assert.True(t, IsTransient(err), "http %d should be retryable", code)
	}
}

func TestTransform_ClientErrorIsTerminal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "style not supported"})
	})

	_, err := c.Transform(context.Background(), TransformRequest{Image: []byte("x")})
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	var terminal *TerminalError
	require.True(t, errors.As(err, &terminal))
	assert.Contains(t, terminal.Error(), "style not supported")
}

func TestTransform_TimeoutIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Transform(ctx, TransformRequest{Image: []byte("x")})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestTransform_EmptyImageIsTerminal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"image": ""})
	})

	_, err := c.Transform(context.Background(), TransformRequest{Image: []byte("x")})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestValidateCustomStyle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/styles/validate", r.URL.Path)

		var payload struct {
			Description string `json:"custom_description"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if payload.Description == "like a watercolor" {
			json.NewEncoder(w).Encode(map[string]any{"valid": true})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"valid": false, "reason": "description too vague"})
	})

	assert.NoError(t, c.ValidateCustomStyle(context.Background(), "like a watercolor"))

	err := c.ValidateCustomStyle(context.Background(), "idk something cool")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, err.Error(), "description too vague")
}

func TestAnalyze(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analyze", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"analysis": map[string]string{"subject": "mountain"},
		})
	})

	analysis, err := c.Analyze(context.Background(), []byte("source"), "image/jpeg")
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"mountain"}`, string(analysis))
}

func TestErrorWrappersUnwrap(t *testing.T) {
	cause := errors.New("root cause")

	assert.ErrorIs(t, Transient(cause), cause)
	assert.ErrorIs(t, Terminal(cause), cause)
	assert.True(t, IsTransient(Transient(cause)))
	assert.False(t, IsTransient(Terminal(cause)))
	assert.False(t, IsTransient(cause), "unclassified errors are not retryable")
}
