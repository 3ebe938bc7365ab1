// Package fuelprice implements the fuel-price collection job: fetch the
// upstream pricing feed, persist usable prices, warm the Redis price cache,
// and optionally archive the raw payload.
package fuelprice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sworrl/wandermage/internal/config"
	"github.com/sworrl/wandermage/internal/models"
	"github.com/sworrl/wandermage/internal/runner"
)

// JobType identifies this job in the status store.
const JobType = "fuel_prices"

const maxBodyBytes = 10 * 1024 * 1024

// PriceStore is the slice of the store this job writes to.
type PriceStore interface {
	UpsertPrices(ctx context.Context, prices []models.StationPrice) (int, error)
}

// PriceWarmer pushes the latest prices into the read cache.
type PriceWarmer interface {
	Warm(ctx context.Context, prices []models.StationPrice) error
}

// Archiver saves the raw upstream payload for later inspection.
type Archiver interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Collector fetches fuel prices from the configured upstream feed.
type Collector struct {
	cfg        config.Config
	store      PriceStore
	cache      PriceWarmer // optional
	archive    Archiver    // optional
	httpClient *http.Client
	log        *zap.SugaredLogger
	now        func() time.Time
}

// New builds a collector. cache and archive may be nil.
func New(cfg config.Config, store PriceStore, cache PriceWarmer, archive Archiver, log *zap.SugaredLogger) *Collector {
	timeout := cfg.FuelPriceTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Collector{
		cfg:        cfg,
		store:      store,
		cache:      cache,
		archive:    archive,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		now:        time.Now,
	}
}

// feedResponse is the upstream document shape.
type feedResponse struct {
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Stations []feedStation `json:"stations"`
}

type feedStation struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Lat    float64            `json:"lat"`
	Lon    float64            `json:"lon"`
	Prices map[string]float64 `json:"prices"`
}

// Work is the runner work function. Upstream refusals (error status codes,
// error-bearing bodies, empty feeds) are soft failures; transport faults,
// malformed documents, and storage errors are hard faults.
func (c *Collector) Work(ctx context.Context, rep runner.Reporter) (runner.Result, error) {
	if c.cfg.FuelPriceURL == "" {
		return runner.Result{}, fmt.Errorf("FUEL_PRICE_URL is not configured")
	}

	activity := "fetching fuel prices"
	_ = rep.UpdateStatus(ctx, runner.StatusUpdate{Activity: &activity, Detail: &c.cfg.FuelPriceURL})

	body, status, err := c.fetch(ctx)
	if err != nil {
		return runner.Result{}, err
	}
	if status != http.StatusOK {
		return runner.Fail(fmt.Sprintf("upstream %d", status)), nil
	}

	if c.archive != nil {
		key := fmt.Sprintf("fuel/raw/%s.json", c.now().UTC().Format("20060102T150405Z"))
		if loc, err := c.archive.Upload(ctx, key, body, "application/json"); err != nil {
			c.log.Warnw("raw payload archive failed", "error", err)
		} else {
			c.log.Infow("raw payload archived", "location", loc)
		}
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return runner.Result{}, fmt.Errorf("decode feed: %w", err)
	}
	if !feed.OK && feed.Error != "" {
		return runner.Fail("upstream error: " + feed.Error), nil
	}

	prices := c.usablePrices(feed.Stations)
	found := len(prices)
	activity = "saving prices"
	_ = rep.UpdateStatus(ctx, runner.StatusUpdate{Activity: &activity, ItemsFound: &found})
	if found == 0 {
		return runner.Fail("feed contained no usable prices"), nil
	}

	saved, err := c.store.UpsertPrices(ctx, prices)
	if err != nil {
		return runner.Result{}, fmt.Errorf("save prices: %w", err)
	}
	_ = rep.UpdateStatus(ctx, runner.StatusUpdate{ItemsSaved: &saved})

	if c.cache != nil {
		if err := c.cache.Warm(ctx, prices); err != nil {
			// The cache is a read accelerator, not the system of record.
			c.log.Warnw("price cache warm failed", "error", err)
		}
	}

	return runner.Succeed(saved, fmt.Sprintf("%d stations in feed", len(feed.Stations))), nil
}

func (c *Collector) fetch(ctx context.Context) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.FuelPriceURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read feed: %w", err)
	}
	return body, resp.StatusCode, nil
}

// usablePrices flattens the feed into price rows, dropping stations without
// an id and prices that are not positive.
func (c *Collector) usablePrices(stations []feedStation) []models.StationPrice {
	recorded := c.now().UTC()
	var prices []models.StationPrice
	for _, st := range stations {
		if st.ID == "" {
			continue
		}
		for fuelType, price := range st.Prices {
			if price <= 0 {
				continue
			}
			prices = append(prices, models.StationPrice{
				StationID:  st.ID,
				Name:       st.Name,
				Lat:        st.Lat,
				Lon:        st.Lon,
				FuelType:   fuelType,
				Price:      price,
				Currency:   c.cfg.FuelPriceCurrency,
				RecordedAt: recorded,
			})
		}
	}
	return prices
}
