package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgectl/forge3d/internal/core/domain"
	"github.com/forgectl/forge3d/internal/core/services"
)

func newTestRegistry(snapshots func(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error)) *services.Registry {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return services.NewRegistry(logger, snapshots)
}

func TestSSEHandler_ServeHTTP_StreamsTaskInitThenClosesOnContextCancel(t *testing.T) {
	registry := newTestRegistry(func(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error) {
		return domain.RequestSnapshot{Request: domain.Request{ID: id}}, nil
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewSSEHandler(registry, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest("GET", "/v1/requests/req-1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domain.EventTaskInit))
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestSSEHandler_ServeHTTP_RejectsMissingRequestID(t *testing.T) {
	registry := newTestRegistry(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewSSEHandler(registry, logger)

	req := httptest.NewRequest("GET", "/v1/requests//events", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestSSEHandler_ServeHTTP_WritesErrorEventWhenSnapshotNotFound(t *testing.T) {
	registry := newTestRegistry(func(ctx context.Context, id domain.RequestID) (domain.RequestSnapshot, error) {
		return domain.RequestSnapshot{}, domain.Classify(domain.KindNotFound, "get snapshot", domain.ErrRequestNotFound)
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewSSEHandler(registry, logger)

	req := httptest.NewRequest("GET", "/v1/requests/req-1/events", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "request not found")
}
