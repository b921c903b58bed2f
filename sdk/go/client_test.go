package doerlinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message, "details": details},
	})
}

func TestLoginStoresBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/login":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "sup-1", body["actor_id"])
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token": "tok-123",
				"actor": map[string]any{"id": "sup-1", "role": "supervisor"},
			})
		case "/v1/projects/p-1/claim":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "p-1", "status": "analyzing", "supervisor_id": "sup-1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/v1")
	actor, err := c.Login(context.Background(), "sup-1", "pw")
	require.NoError(t, err)
	assert.Equal(t, "supervisor", actor.Role)
	assert.Equal(t, "tok-123", c.BearerToken)

	p, err := c.Claim(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "analyzing", p.Status)
	require.NotNil(t, p.SupervisorID)
	assert.Equal(t, "sup-1", *p.SupervisorID)
}

func TestRejectionDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusForbidden, "forbidden_for_role", "doer may not move submitted to analyzing",
			map[string]any{"from": "submitted", "to": "analyzing", "role": "doer"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "k"
	_, err := c.Claim(context.Background(), "p-1")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "forbidden_for_role", apiErr.Code)
	assert.Equal(t, "doer", apiErr.Details["role"])
	assert.True(t, IsCode(err, "forbidden_for_role"))
	assert.False(t, IsCode(err, "conflict"))
}

func TestRetriesServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeError(w, http.StatusServiceUnavailable, "backend_unavailable", "try again", nil)
			return
		}
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		_ = json.NewEncoder(w).Encode(map[string]any{"suggested_quote": 750, "doer_payout": 488})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.APIKey = "k"
	c.RetryWait = time.Millisecond
	words := 1000
	q, err := c.PreviewQuote(context.Background(), &words, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(750), q.SuggestedQuote)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryConflicts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeError(w, http.StatusConflict, "conflict", "project changed", nil)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.RetryWait = time.Millisecond
	_, err := c.Complete(context.Background(), "p-1")
	assert.True(t, IsCode(err, "conflict"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusServiceUnavailable, "backend_unavailable", "down", nil)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Attempts = 10
	c.RetryWait = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Me(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListProjectsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects", r.URL.Path)
		assert.Equal(t, "unclaimed", r.URL.Query().Get("view"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "", r.URL.Query().Get("status"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":       []map[string]any{{"id": "p-1", "status": "submitted"}},
			"next_cursor": "c-1",
		})
	}))
	defer srv.Close()

	page, err := New(srv.URL).ListProjects(context.Background(), "unclaimed", "", 5, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c-1", page.NextCursor)
}
