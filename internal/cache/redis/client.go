package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/birth-rectifier/backend/internal/storage/models"
	"github.com/birth-rectifier/backend/pkg/logger"
)

// Client caches hot session state and geocode lookups, and arbitrates
// finalize idempotency across racing callers. The service degrades to
// SQLite-only operation when Redis is unavailable.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetSession(ctx context.Context, s *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("session:%s", s.ID), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}

	logger.Debug("Session cached", zap.String("session_id", s.ID))
	return nil
}

// GetSession returns (nil, nil) on a miss. A cached value that fails to
// unmarshal is dropped and reported as a miss, mirroring the storage
// adapter's treat-malformed-as-absent policy.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("session:%s", sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached session: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Warn("Dropping unparsable cached session", zap.String("session_id", sessionID), zap.Error(err))
		c.client.Del(ctx, fmt.Sprintf("session:%s", sessionID))
		return nil, nil
	}

	logger.Debug("Session cache hit", zap.String("session_id", sessionID))
	return &s, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, fmt.Sprintf("session:%s", sessionID)).Err()
}

// AcquireFinalize takes the finalize lock for a session. Returns false when
// another caller already holds it; the loser should re-read the persisted
// result instead of submitting again.
func (c *Client) AcquireFinalize(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, fmt.Sprintf("finalize:%s", sessionID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire finalize lock: %w", err)
	}
	return ok, nil
}

func (c *Client) ReleaseFinalize(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, fmt.Sprintf("finalize:%s", sessionID)).Err()
}

func (c *Client) SetGeocode(ctx context.Context, place string, loc *models.Location, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("geocode:%s", place), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache geocode entry: %w", err)
	}
	return nil
}

func (c *Client) GetGeocode(ctx context.Context, place string) (*models.Location, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("geocode:%s", place)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached geocode entry: %w", err)
	}

	var loc models.Location
	if err := json.Unmarshal(data, &loc); err != nil {
		c.client.Del(ctx, fmt.Sprintf("geocode:%s", place))
		return nil, nil
	}

	return &loc, nil
}
