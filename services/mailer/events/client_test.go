package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapCache is an in-memory Cache stand-in
type mapCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string]string)}
}

func (c *mapCache) GetString(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *mapCache) SetString(ctx context.Context, key, value string, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func testEvent() models.Event {
	return models.Event{
		Name:      "Festival do Verão",
		StartDate: "2026-01-02",
		EndDate:   "2026-01-04",
		City:      "Recife",
		Coupon:    "VERAO10",
		Link:      "https://tickets.example.com/festival",
	}
}

func TestFetchEventFromAPI(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/events/ev-123", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(testEvent()))
	}))
	defer server.Close()

	client := NewClient(server.URL, "api-token", nil, time.Hour, logger.Discard())

	event, err := client.FetchEvent(context.Background(), "ev-123")
	require.NoError(t, err)

	assert.Equal(t, "Bearer api-token", gotAuth)
	assert.Equal(t, "Festival do Verão", event.Name)
	assert.Equal(t, "VERAO10", event.Coupon)
}

func TestFetchEventUsesCache(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		require.NoError(t, json.NewEncoder(w).Encode(testEvent()))
	}))
	defer server.Close()

	cache := newMapCache()
	client := NewClient(server.URL, "", cache, time.Hour, logger.Discard())

	first, err := client.FetchEvent(context.Background(), "ev-123")
	require.NoError(t, err)
	second, err := client.FetchEvent(context.Background(), "ev-123")
	require.NoError(t, err)

	assert.Equal(t, 1, hits)
	assert.Equal(t, first.Name, second.Name)
}

func TestFetchEventAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", nil, time.Hour, logger.Discard())

	_, err := client.FetchEvent(context.Background(), "ev-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
