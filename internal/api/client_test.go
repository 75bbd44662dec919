package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventra/notify/internal/api"
	"github.com/eventra/notify/internal/domain"
)

func writeEnvelope(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": status < 300,
		"data":    data,
	})
}

func TestFetchFeed(t *testing.T) {
	var gotPath, gotAuth, gotUser, gotLimit, gotBefore string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.URL.Query().Get("user_id")
		gotLimit = r.URL.Query().Get("limit")
		gotBefore = r.URL.Query().Get("before")
		writeEnvelope(w, 200, []map[string]interface{}{
			{"id": "n1", "type": "new-task-assigned", "created_at": "2024-01-02T00:00:00Z"},
			{"id": "n2", "type": "generic", "created_at": "2024-01-01T00:00:00Z", "opened_at": "2024-01-01T01:00:00Z"},
		})
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second, api.StaticTokenSource("tok-123"), zap.NewNop())
	items, err := c.FetchFeed(context.Background(), "user-1", 20, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/notifications", gotPath)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "user-1", gotUser)
	assert.Equal(t, "20", gotLimit)
	assert.Empty(t, gotBefore, "no cursor on the first page")

	require.Len(t, items, 2)
	assert.Equal(t, "n1", items[0].ID)
	assert.True(t, items[0].Unread())
	assert.False(t, items[1].Unread())
}

func TestFetchFeedSendsCursor(t *testing.T) {
	var gotBefore string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBefore = r.URL.Query().Get("before")
		writeEnvelope(w, 200, []map[string]interface{}{})
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second, nil, zap.NewNop())
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := c.FetchFeed(context.Background(), "user-1", 10, before)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", gotBefore)
}

func TestFetchUnreadCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/notifications/unread-count", r.URL.Path)
		writeEnvelope(w, 200, map[string]int{"count": 7})
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second, nil, zap.NewNop())
	n, err := c.FetchUnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestMarkOpened(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/notifications/opened", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeEnvelope(w, 200, map[string]int{"updated": 2})
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second, nil, zap.NewNop())
	updated, err := c.MarkOpened(context.Background(), "user-1", []string{"n1", "n2"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
	assert.Equal(t, "user-1", gotBody["user_id"])
	assert.Equal(t, []interface{}{"n1", "n2"}, gotBody["ids"])
}

func TestRegisterDevice(t *testing.T) {
	var got domain.DeviceRegistration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/devices", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(w, 200, map[string]string{"status": "registered"})
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second, nil, zap.NewNop())
	err := c.RegisterDevice(context.Background(), domain.DeviceRegistration{
		Token:    "tok",
		DeviceID: "dev-1",
		Platform: "web",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok", got.Token)
	assert.Equal(t, "dev-1", got.DeviceID)
	assert.Equal(t, "web", got.Platform)
}

func TestErrorEnvelopeSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   map[string]string{"code": "FORBIDDEN", "message": "not your feed"},
		})
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second, nil, zap.NewNop())
	_, err := c.FetchUnreadCount(context.Background(), "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FORBIDDEN")
	assert.Contains(t, err.Error(), "not your feed")
}
