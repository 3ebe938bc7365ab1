// Package api serves the read side: job run status for operators, category
// lookups, and latest fuel prices.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sworrl/wandermage/internal/cache"
	"github.com/sworrl/wandermage/internal/config"
	"github.com/sworrl/wandermage/internal/models"
	"github.com/sworrl/wandermage/internal/ratelimit"
	"github.com/sworrl/wandermage/internal/store"
	"github.com/sworrl/wandermage/internal/telemetry"
)

// RunReader exposes the status-store queries the API needs.
type RunReader interface {
	LatestRun(ctx context.Context, jobType string) (models.JobRun, error)
	ListRuns(ctx context.Context, jobType string, limit int) ([]models.JobRun, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	LatestPrices(ctx context.Context, stationID string) ([]models.StationPrice, error)
}

// Server wires HTTP handlers for the read API.
type Server struct {
	cfg     config.Config
	store   RunReader
	cache   *cache.PriceCache
	limiter *ratelimit.TokenBucket
	log     *zap.SugaredLogger
}

// New constructs the API server. cache and limiter may be nil.
func New(cfg config.Config, st RunReader, pc *cache.PriceCache, limiter *ratelimit.TokenBucket, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		cache:   pc,
		limiter: limiter,
		log:     log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/jobs/{type}/runs/latest", s.handleLatestRun)
		r.Get("/jobs/{type}/runs", s.handleListRuns)
		r.Get("/categories", s.handleCategories)
		r.Get("/prices/latest", s.handleLatestPrices)
	})
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			allowed, _, err := s.limiter.Allow(r.Context(), clientID(r))
			if err != nil {
				http.Error(w, "rate limit error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				http.Error(w, "rate limited", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type latestRunResponse struct {
	Run models.JobRun `json:"run"`
	// Stale flags a running row whose started_at exceeds the configured
	// threshold: almost certainly an abandoned run from a killed process.
	Stale bool `json:"stale"`
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "type")
	run, err := s.store.LatestRun(r.Context(), jobType)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no runs recorded for job type", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Errorw("latest run lookup failed", "job_type", jobType, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	stale := run.State == models.RunRunning &&
		run.StartedAt != nil &&
		time.Since(*run.StartedAt) > s.cfg.StaleRunThreshold
	writeJSON(w, http.StatusOK, latestRunResponse{Run: run, Stale: stale})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "type")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), jobType, limit)
	if err != nil {
		s.log.Errorw("run list failed", "job_type", jobType, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.log.Errorw("category list failed", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

// handleLatestPrices reads the Redis cache first and falls back to Postgres.
func (s *Server) handleLatestPrices(w http.ResponseWriter, r *http.Request) {
	stationID := r.URL.Query().Get("station_id")
	if stationID == "" {
		http.Error(w, "station_id is required", http.StatusBadRequest)
		return
	}

	if s.cache != nil {
		prices, hit, err := s.cache.Latest(r.Context(), stationID)
		if err != nil {
			s.log.Warnw("price cache read failed", "station_id", stationID, "error", err)
		} else if hit {
			writeJSON(w, http.StatusOK, map[string]any{"prices": prices, "source": "cache"})
			return
		}
	}
	telemetry.CacheMisses.Inc()

	prices, err := s.store.LatestPrices(r.Context(), stationID)
	if err != nil {
		s.log.Errorw("price lookup failed", "station_id", stationID, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if len(prices) == 0 {
		http.Error(w, "no prices for station", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices, "source": "db"})
}

func clientID(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
