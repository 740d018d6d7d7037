package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartkit/chartsync/internal/config"
	"github.com/chartkit/chartsync/internal/events"
	"github.com/chartkit/chartsync/internal/models"
)

func testLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, io.Discard)
}

func TestErrorRetryable(t *testing.T) {
	assert.True(t, (&Error{Kind: KindTransient}).Retryable())
	assert.True(t, (&Error{Kind: KindNetwork}).Retryable())
	assert.False(t, (&Error{Kind: KindPermission}).Retryable())
	assert.False(t, (&Error{Kind: KindQuota}).Retryable())
	assert.False(t, (&Error{Kind: KindFatal}).Retryable())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindQuota, KindOf(&Error{Kind: KindQuota}))
	assert.Equal(t, KindQuota, KindOf(fmt.Errorf("wrapped: %w", &Error{Kind: KindQuota})))
	assert.Equal(t, KindTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindFatal, KindOf(context.Canceled))
	assert.Equal(t, KindTransient, KindOf(errors.New("mystery")), "unknown errors default to retryable")
}

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewHTTPClient(&config.RemoteConfig{
		BaseURL:   server.URL,
		Token:     "test-token",
		Timeout:   5 * time.Second,
		UserAgent: "chartsync-test",
	}, testLogger())
}

func TestHTTPClientPush(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/push", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"acks":[{"operation_id":"op-1","entity_id":"e1","version":"v1"}]}`)
	}))
	defer client.Close()

	acks, err := client.Push(context.Background(), []*models.PendingOperation{{
		ID: "op-1", EntityType: "chart", EntityID: "e1",
		Kind: models.OpCreate, Payload: models.Fields{"title": "x"},
	}})
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.Equal(t, "v1", acks[0].Version)
}

func TestHTTPClientStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusUnauthorized, KindPermission},
		{http.StatusForbidden, KindPermission},
		{http.StatusConflict, KindConflict},
		{http.StatusTooManyRequests, KindQuota},
		{http.StatusInsufficientStorage, KindQuota},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadRequest, KindFatal},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("status %d", tc.status), func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer client.Close()

			_, err := client.Pull(context.Background(), "")
			var re *Error
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tc.kind, re.Kind)
			assert.Equal(t, tc.status, re.StatusCode)
		})
	}
}

func TestHTTPClientMetadata(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/metadata", r.URL.Path)
		fmt.Fprint(w, `{"schema_version":3,"quota_used":10,"quota_limit":100}`)
	}))
	defer client.Close()

	meta, err := client.Metadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, meta.SchemaVersion)
	assert.False(t, meta.QuotaExhausted())
	assert.False(t, meta.FetchedAt.IsZero())
}

func TestHTTPClientNetworkErrorClassified(t *testing.T) {
	client := NewHTTPClient(&config.RemoteConfig{
		BaseURL: "http://127.0.0.1:1", // nothing listens here
		Timeout: 500 * time.Millisecond,
	}, testLogger())
	defer client.Close()

	_, err := client.Pull(context.Background(), "")
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Kind == KindNetwork || re.Kind == KindTransient)
}

func TestMockClientIdempotentRepush(t *testing.T) {
	mock := NewMockClient()
	op := &models.PendingOperation{
		ID: "op-1", EntityType: "chart", EntityID: "e1",
		Kind: models.OpCreate, Payload: models.Fields{"title": "x"},
	}

	first, err := mock.Push(context.Background(), []*models.PendingOperation{op})
	require.NoError(t, err)
	again, err := mock.Push(context.Background(), []*models.PendingOperation{op})
	require.NoError(t, err)

	assert.Equal(t, first[0].Version, again[0].Version, "re-push of an acked operation is a no-op")
}
