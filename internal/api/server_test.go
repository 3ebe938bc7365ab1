package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sworrl/wandermage/internal/config"
	"github.com/sworrl/wandermage/internal/models"
	"github.com/sworrl/wandermage/internal/store"
)

type fakeReader struct {
	latest     map[string]models.JobRun
	runs       []models.JobRun
	categories []models.Category
	prices     []models.StationPrice
}

func (f *fakeReader) LatestRun(_ context.Context, jobType string) (models.JobRun, error) {
	run, ok := f.latest[jobType]
	if !ok {
		return models.JobRun{}, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeReader) ListRuns(context.Context, string, int) ([]models.JobRun, error) {
	return f.runs, nil
}

func (f *fakeReader) ListCategories(context.Context) ([]models.Category, error) {
	return f.categories, nil
}

func (f *fakeReader) LatestPrices(context.Context, string) ([]models.StationPrice, error) {
	return f.prices, nil
}

func newTestServer(t *testing.T, reader RunReader) http.Handler {
	cfg := config.Config{StaleRunThreshold: 2 * time.Hour}
	return New(cfg, reader, nil, nil, zaptest.NewLogger(t).Sugar()).Router()
}

func TestLatestRunEndpoint(t *testing.T) {
	started := time.Now().UTC().Add(-time.Minute)
	finished := started.Add(30 * time.Second)
	count := 42
	reader := &fakeReader{latest: map[string]models.JobRun{
		"fuel_prices": {
			RunID:       "run-1",
			JobType:     "fuel_prices",
			State:       models.RunCompleted,
			StartedAt:   &started,
			FinishedAt:  &finished,
			ResultCount: &count,
		},
	}}

	rec := httptest.NewRecorder()
	newTestServer(t, reader).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/fuel_prices/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp latestRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.Run.RunID)
	assert.Equal(t, models.RunCompleted, resp.Run.State)
	require.NotNil(t, resp.Run.ResultCount)
	assert.Equal(t, 42, *resp.Run.ResultCount)
	assert.False(t, resp.Stale)
}

func TestLatestRunUnknownJobTypeIs404(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t, &fakeReader{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/nope/runs/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestRunFlagsAbandonedRuns(t *testing.T) {
	started := time.Now().UTC().Add(-3 * time.Hour)
	reader := &fakeReader{latest: map[string]models.JobRun{
		"fuel_prices": {
			RunID:     "run-2",
			JobType:   "fuel_prices",
			State:     models.RunRunning,
			StartedAt: &started,
		},
	}}

	rec := httptest.NewRecorder()
	newTestServer(t, reader).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/fuel_prices/runs/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp latestRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Stale, "a running row older than the threshold is abandoned")
}

func TestCategoriesEndpoint(t *testing.T) {
	reader := &fakeReader{categories: []models.Category{
		{ID: 1, Name: "Fuel", Icon: "fuel"},
		{ID: 2, Name: "Food", Icon: "food"},
	}}

	rec := httptest.NewRecorder()
	newTestServer(t, reader).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/categories", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Categories []models.Category `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Categories, 2)
	assert.Equal(t, "Fuel", resp.Categories[0].Name)
}

func TestLatestPricesFallsBackToStore(t *testing.T) {
	reader := &fakeReader{prices: []models.StationPrice{
		{StationID: "st-1", FuelType: "e5", Price: 1.799, Currency: "EUR"},
	}}

	rec := httptest.NewRecorder()
	newTestServer(t, reader).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prices/latest?station_id=st-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Prices []models.StationPrice `json:"prices"`
		Source string                `json:"source"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "db", resp.Source)
	require.Len(t, resp.Prices, 1)
}

func TestLatestPricesRequiresStationID(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t, &fakeReader{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/prices/latest", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
