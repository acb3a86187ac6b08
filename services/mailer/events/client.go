package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"pulsar-mailer/services/mailer/models"
	"pulsar-mailer/shared/logger"
)

// Cache is the subset of the redis client the events client needs.
// A nil cache disables caching entirely.
type Cache interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string, expiration time.Duration) error
}

// Client pulls event metadata from the ticketing API to feed template
// placeholders. Lookups go through the cache first so repeated runs for
// the same event don't re-hit the API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cache      Cache
	cacheTTL   time.Duration
	log        *logger.Logger
}

// NewClient creates a ticketing API client. cache may be nil.
func NewClient(baseURL, token string, cache Cache, cacheTTL time.Duration, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		token:      token,
		cache:      cache,
		cacheTTL:   cacheTTL,
		log:        log,
	}
}

// FetchEvent returns the event metadata for the given event id
func (c *Client) FetchEvent(ctx context.Context, eventID string) (*models.Event, error) {
	cacheKey := "events:" + eventID

	if c.cache != nil {
		cached, err := c.cache.GetString(ctx, cacheKey)
		if err != nil {
			c.log.WithError(err).Warn("Event cache read failed")
		} else if cached != "" {
			var event models.Event
			if err := json.Unmarshal([]byte(cached), &event); err == nil {
				return &event, nil
			}
		}
	}

	event, err := c.fetchFromAPI(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, err := json.Marshal(event); err == nil {
			if err := c.cache.SetString(ctx, cacheKey, string(data), c.cacheTTL); err != nil {
				c.log.WithError(err).Warn("Event cache write failed")
			}
		}
	}

	return event, nil
}

func (c *Client) fetchFromAPI(ctx context.Context, eventID string) (*models.Event, error) {
	url := fmt.Sprintf("%s/events/%s", c.baseURL, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build event request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event %s: %w", eventID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticketing API returned status %d for event %s", resp.StatusCode, eventID)
	}

	var event models.Event
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", eventID, err)
	}

	return &event, nil
}
