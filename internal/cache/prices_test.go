package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sworrl/wandermage/internal/models"
)

func newTestCache(t *testing.T) (*PriceCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, time.Hour), mr
}

func price(station, fuel string, value float64) models.StationPrice {
	return models.StationPrice{
		StationID:  station,
		FuelType:   fuel,
		Price:      value,
		Currency:   "EUR",
		RecordedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestWarmAndLatest(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Warm(ctx, []models.StationPrice{
		price("st-1", "e5", 1.799),
		price("st-1", "diesel", 1.659),
		price("st-2", "e5", 1.819),
	}))

	prices, hit, err := c.Latest(ctx, "st-1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Len(t, prices, 2)

	prices, hit, err = c.Latest(ctx, "st-2")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Len(t, prices, 1)
	assert.Equal(t, 1.819, prices[0].Price)
}

func TestLatestMissFallsThrough(t *testing.T) {
	c, _ := newTestCache(t)

	prices, hit, err := c.Latest(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, prices)
}

func TestWarmReplacesStaleFuelTypes(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Warm(ctx, []models.StationPrice{
		price("st-1", "e5", 1.799),
		price("st-1", "lpg", 0.899),
	}))
	// The station dropped LPG: the replacement set must not keep it.
	require.NoError(t, c.Warm(ctx, []models.StationPrice{
		price("st-1", "e5", 1.789),
	}))

	prices, hit, err := c.Latest(ctx, "st-1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, prices, 1)
	assert.Equal(t, "e5", prices[0].FuelType)
	assert.Equal(t, 1.789, prices[0].Price)
}

func TestWarmSetsTTL(t *testing.T) {
	c, mr := newTestCache(t)

	require.NoError(t, c.Warm(context.Background(), []models.StationPrice{price("st-1", "e5", 1.799)}))

	mr.FastForward(2 * time.Hour)
	_, hit, err := c.Latest(context.Background(), "st-1")
	require.NoError(t, err)
	assert.False(t, hit, "entries must expire")
}
