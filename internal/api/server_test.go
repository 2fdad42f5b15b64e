package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Impactstory/oadoi/internal/queue"
)

type stubLeaseStore struct {
	queue.LeaseStore

	status    queue.Status
	statusErr error
}

func (s *stubLeaseStore) Status(context.Context) (queue.Status, error) {
	return s.status, s.statusErr
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(&stubLeaseStore{}, zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusReportsQueueDepth(t *testing.T) {
	t.Parallel()

	srv := NewServer(&stubLeaseStore{
		status: queue.Status{Total: 10, Unclaimed: 6, InFlight: 1, Finished: 3, PublisherPool: 2},
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var st queue.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, int64(10), st.Total)
	assert.Equal(t, int64(1), st.InFlight)
}

func TestStatusStoreError(t *testing.T) {
	t.Parallel()

	srv := NewServer(&stubLeaseStore{statusErr: errors.New("connection refused")}, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
