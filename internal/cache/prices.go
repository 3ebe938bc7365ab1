// Package cache keeps the latest fuel prices per station in Redis so the API
// can serve them without touching Postgres. The collector warms it at the end
// of each successful run.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sworrl/wandermage/internal/models"
)

// PriceCache stores per-station price hashes keyed by fuel type.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a cache with the given entry TTL.
func New(client *redis.Client, ttl time.Duration) *PriceCache {
	if ttl == 0 {
		ttl = 2 * time.Hour
	}
	return &PriceCache{client: client, ttl: ttl}
}

func priceKey(stationID string) string {
	return "prices:station:" + stationID
}

// Warm writes the latest prices for each station, replacing any previous
// entry so stale fuel types do not linger.
func (c *PriceCache) Warm(ctx context.Context, prices []models.StationPrice) error {
	byStation := make(map[string][]models.StationPrice)
	for _, p := range prices {
		byStation[p.StationID] = append(byStation[p.StationID], p)
	}

	pipe := c.client.TxPipeline()
	for stationID, stationPrices := range byStation {
		key := priceKey(stationID)
		pipe.Del(ctx, key)
		for _, p := range stationPrices {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal price %s/%s: %w", p.StationID, p.FuelType, err)
			}
			pipe.HSet(ctx, key, p.FuelType, data)
		}
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("warm price cache: %w", err)
	}
	return nil
}

// Latest returns the cached prices for a station. A miss returns (nil, false)
// so callers can fall back to Postgres.
func (c *PriceCache) Latest(ctx context.Context, stationID string) ([]models.StationPrice, bool, error) {
	fields, err := c.client.HGetAll(ctx, priceKey(stationID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("read price cache: %w", err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	prices := make([]models.StationPrice, 0, len(fields))
	for _, raw := range fields {
		var p models.StationPrice
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, false, fmt.Errorf("decode cached price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, true, nil
}
