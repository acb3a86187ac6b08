package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps redis client with additional methods
type Client struct {
	*redis.Client
}

// Config holds Redis configuration options
type Config struct {
	URL          string
	MaxRetries   int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default Redis configuration
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		MaxRetries:   3,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ConnectRedis establishes connection to Redis
func ConnectRedis(config *Config) (*Client, error) {
	opt, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.MaxRetries = config.MaxRetries
	opt.PoolSize = config.PoolSize
	opt.DialTimeout = config.DialTimeout
	opt.ReadTimeout = config.ReadTimeout
	opt.WriteTimeout = config.WriteTimeout

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{Client: rdb}, nil
}

// GetString retrieves a string value by key. A missing key returns
// an empty string and no error.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	result, err := c.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return result, err
}

// SetString stores a string value with an expiration
func (c *Client) SetString(ctx context.Context, key, value string, expiration time.Duration) error {
	return c.Client.Set(ctx, key, value, expiration).Err()
}
