package planning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartplanning/internal/snapshot"
)

type fakeService struct {
	tokenCalls    atomic.Int32
	validateCalls atomic.Int32
	failValidate  int32
	validateCode  int
	lastPut       map[string]string
}

func (f *fakeService) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/keycloak/realms/Esarom/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "apiClient-test", r.Form.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/esarom-be/api/v1/snapshots", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "true", r.URL.Query().Get("runCrawler"))
			_, _ = io.WriteString(w, `{"id":"11111111-1111-1111-1111-111111111111","name":"nightly"}`)
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"content":[{"id":"11111111-1111-1111-1111-111111111111","name":"nightly"}]}`)
		}
	})
	mux.HandleFunc("/esarom-be/api/v1/snapshots/11111111-1111-1111-1111-111111111111", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"id":"11111111-1111-1111-1111-111111111111","name":"nightly","dataJson":"{\"demands\":[{\"demandId\":\"D1\"}]}"}`)
		case http.MethodPut:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.lastPut = body
			_, _ = io.WriteString(w, `{"id":"11111111-1111-1111-1111-111111111111","name":"`+body["name"]+`","isSuccessfullyValidated":true}`)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/esarom-be/api/v1/snapshots/11111111-1111-1111-1111-111111111111/validation-messages", func(w http.ResponseWriter, r *http.Request) {
		n := f.validateCalls.Add(1)
		if n <= f.failValidate {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if f.validateCode != 0 {
			w.WriteHeader(f.validateCode)
		}
		_, _ = io.WriteString(w, `{"elements":[{"level":"ERROR","message":"[validate_unique_ids] Duplicates found: D1"},{"level":"WARNING","message":"w"}]}`)
	})
	mux.HandleFunc("/esarom-be/api/v1/snapshots/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeService) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, ClientSecret: "secret", Backoff: time.Millisecond}, nil)
	require.NoError(t, err)
	return c
}

func TestSnapshotLifecycle(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f)
	ctx := context.Background()

	info, err := c.CreateSnapshot(ctx, CreateOptions{Name: "nightly"})
	require.NoError(t, err)
	assert.Equal(t, "nightly", info.Name)

	list, err := c.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	snap, err := c.FindSnapshot(ctx, "nightly")
	require.NoError(t, err)
	id, err := snap.Document.Get(snapshot.MustPath("demands[0].demandId"))
	require.NoError(t, err)
	assert.Equal(t, "D1", id)

	updated, err := c.RenameSnapshot(ctx, snap.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	require.NotNil(t, updated.IsSuccessfullyValidated)
	assert.JSONEq(t, `{"demands":[{"demandId":"D1"}]}`, f.lastPut["dataJson"])

	require.NoError(t, c.DeleteSnapshot(ctx, snap.ID))
	assert.Equal(t, int32(1), f.tokenCalls.Load(), "token is cached by the transport")
}

func TestValidateRetriesTransientFailures(t *testing.T) {
	f := &fakeService{failValidate: 2}
	c := newTestClient(t, f)

	v, err := c.Validate(context.Background(), "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.Equal(t, StatusBusinessValidationError, v.Status)
	assert.Equal(t, 1, v.Messages.Count(snapshot.LevelError))
	assert.Equal(t, int32(3), f.validateCalls.Load())
}

func TestValidateGivesUpAfterBudget(t *testing.T) {
	f := &fakeService{failValidate: 10}
	c := newTestClient(t, f)

	_, err := c.Validate(context.Background(), "11111111-1111-1111-1111-111111111111")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, int32(3), f.validateCalls.Load())
}

func TestValidateBusinessErrorStatusCarriesMessages(t *testing.T) {
	f := &fakeService{validateCode: http.StatusUnprocessableEntity}
	c := newTestClient(t, f)

	v, err := c.Validate(context.Background(), "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.Equal(t, StatusBusinessValidationError, v.Status)
	assert.Len(t, v.Messages, 2)
}

func TestNotFoundIsNotRetried(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f)

	_, err := c.GetSnapshot(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, strings.Contains(err.Error(), "404"))
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x"}, nil)
	require.Error(t, err)
}
