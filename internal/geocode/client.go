// Package geocode resolves free-text birth places into coordinates and an
// IANA timezone. Lookups go to the external geocoding endpoint with a short
// bounded timeout; on failure a static table covers a few well-known cities
// as a last-resort default. Fallback hits are flagged and never cached: the
// table is a degraded-mode policy, not a correctness guarantee.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/birth-rectifier/backend/internal/errs"
	"github.com/birth-rectifier/backend/internal/metrics"
	"github.com/birth-rectifier/backend/internal/storage/models"
	"github.com/birth-rectifier/backend/pkg/logger"
	"github.com/birth-rectifier/backend/pkg/utils"
)

// Store is the durable geocode cache (SQLite).
type Store interface {
	GetGeocode(place string) (*models.Location, error)
	SaveGeocode(loc *models.Location) error
}

// HotCache is the short-lived geocode cache (Redis).
type HotCache interface {
	GetGeocode(ctx context.Context, place string) (*models.Location, error)
	SetGeocode(ctx context.Context, place string, loc *models.Location, ttl time.Duration) error
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	store      Store
	cache      HotCache
	cacheTTL   time.Duration
}

type fallbackEntry struct {
	match     string
	latitude  float64
	longitude float64
	timezone  string
}

var fallbackTable = []fallbackEntry{
	{match: "pune", latitude: 18.5204, longitude: 73.8567, timezone: "Asia/Kolkata"},
	{match: "new york", latitude: 40.7128, longitude: -74.0060, timezone: "America/New_York"},
	{match: "london", latitude: 51.5074, longitude: -0.1278, timezone: "Europe/London"},
}

// NewClient builds a geocoding client. store and cache may be nil; lookups
// then always go to the network.
func NewClient(baseURL string, timeoutSec int, cacheTTL time.Duration, store Store, cache HotCache) *Client {
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		cache:      cache,
		cacheTTL:   cacheTTL,
	}
}

func (c *Client) Resolve(ctx context.Context, place string) (*models.Location, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return nil, errs.Validation("birth_location", "birth location is required")
	}

	key := utils.NormalizePlace(place)

	if loc := c.cached(ctx, key); loc != nil {
		metrics.GeocodeLookups.WithLabelValues(string(models.LocationCache)).Inc()
		return loc, nil
	}

	loc, err := c.lookup(ctx, place)
	if err == nil {
		c.remember(ctx, key, loc)
		metrics.GeocodeLookups.WithLabelValues(string(models.LocationEngine)).Inc()
		return loc, nil
	}

	logger.Warn("Geocoding failed, consulting fallback table",
		zap.String("place", place), zap.Error(err))

	if fb := fallbackLookup(key, place); fb != nil {
		metrics.GeocodeLookups.WithLabelValues(string(models.LocationFallback)).Inc()
		return fb, nil
	}

	return nil, errs.Validation("birth_location",
		fmt.Sprintf("could not resolve %q: %v", place, err))
}

// Hot-cache keys are hashed: free-text places can carry spaces and unicode,
// and the hash keeps redis keys fixed-width. The durable store keeps the
// readable normalized place.
func (c *Client) cached(ctx context.Context, key string) *models.Location {
	if c.cache != nil {
		if loc, err := c.cache.GetGeocode(ctx, utils.HashString(key)); err == nil && loc != nil {
			return loc
		}
	}
	if c.store != nil {
		loc, err := c.store.GetGeocode(key)
		if err != nil {
			logger.Warn("Geocode cache read failed", zap.String("place", key), zap.Error(err))
			return nil
		}
		return loc
	}
	return nil
}

func (c *Client) remember(ctx context.Context, key string, loc *models.Location) {
	stored := *loc
	stored.Place = key

	if c.store != nil {
		if err := c.store.SaveGeocode(&stored); err != nil {
			logger.Warn("Failed to persist geocode entry", zap.String("place", key), zap.Error(err))
		}
	}
	if c.cache != nil {
		if err := c.cache.SetGeocode(ctx, utils.HashString(key), &stored, c.cacheTTL); err != nil {
			logger.Warn("Failed to cache geocode entry", zap.String("place", key), zap.Error(err))
		}
	}
}

func (c *Client) lookup(ctx context.Context, place string) (*models.Location, error) {
	params := url.Values{}
	params.Set("place", place)

	endpoint := fmt.Sprintf("%s/api/geocode?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Network("geocode", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, errs.Server("geocode", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var loc models.Location
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return nil, fmt.Errorf("failed to parse geocode response: %w", err)
	}

	if loc.Timezone == "" {
		loc.Timezone = "UTC"
	}
	loc.Place = place
	loc.Source = models.LocationEngine

	logger.Info("Place geocoded",
		zap.String("place", place),
		zap.Float64("latitude", loc.Latitude),
		zap.Float64("longitude", loc.Longitude),
		zap.String("timezone", loc.Timezone),
	)
	return &loc, nil
}

func fallbackLookup(key, original string) *models.Location {
	for _, entry := range fallbackTable {
		if strings.Contains(key, entry.match) {
			logger.Info("Geocode resolved from fallback table",
				zap.String("place", original), zap.String("match", entry.match))
			return &models.Location{
				Place:     original,
				Latitude:  entry.latitude,
				Longitude: entry.longitude,
				Timezone:  entry.timezone,
				Source:    models.LocationFallback,
			}
		}
	}
	return nil
}
