package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sworrl/wandermage/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence. It is a passive sink for the
// collector's run records and the read source for the API.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateRun inserts a fresh run row keyed by (job_type, run_id).
func (s *Store) CreateRun(ctx context.Context, run *models.JobRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (run_id, job_type, state, started_at, current_activity, current_detail,
		                      items_found, items_saved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.RunID, run.JobType, run.State, run.StartedAt, run.CurrentActivity, run.CurrentDetail,
		run.ItemsFound, run.ItemsSaved, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRun overwrites the mutable progress fields of a running row.
func (s *Store) UpdateRun(ctx context.Context, run *models.JobRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET current_activity = $3, current_detail = $4, items_found = $5, items_saved = $6, updated_at = $7
		WHERE run_id = $1 AND job_type = $2
	`, run.RunID, run.JobType, run.CurrentActivity, run.CurrentDetail,
		run.ItemsFound, run.ItemsSaved, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// FinishRun records the terminal transition for a run.
func (s *Store) FinishRun(ctx context.Context, run *models.JobRun) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		SET state = $3, finished_at = $4, error_message = $5, result_count = $6,
		    items_found = $7, items_saved = $8, updated_at = $9
		WHERE run_id = $1 AND job_type = $2
	`, run.RunID, run.JobType, run.State, run.FinishedAt, run.ErrorMessage, run.ResultCount,
		run.ItemsFound, run.ItemsSaved, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run for a job type.
func (s *Store) LatestRun(ctx context.Context, jobType string) (models.JobRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM job_runs WHERE job_type = $1
		ORDER BY created_at DESC LIMIT 1
	`, jobType)
	return scanRun(row)
}

// ListRuns returns recent runs for a job type, newest first.
func (s *Store) ListRuns(ctx context.Context, jobType string, limit int) ([]models.JobRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM job_runs WHERE job_type = $1
		ORDER BY created_at DESC LIMIT $2
	`, jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const runColumns = `run_id, job_type, state, started_at, finished_at, current_activity, current_detail,
	items_found, items_saved, error_message, result_count, created_at, updated_at`

func scanRun(row pgx.Row) (models.JobRun, error) {
	var run models.JobRun
	var state string
	var errMsg pgtype.Text
	var resultCount pgtype.Int4

	err := row.Scan(&run.RunID, &run.JobType, &state, &run.StartedAt, &run.FinishedAt,
		&run.CurrentActivity, &run.CurrentDetail, &run.ItemsFound, &run.ItemsSaved,
		&errMsg, &resultCount, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobRun{}, ErrNotFound
	}
	if err != nil {
		return models.JobRun{}, fmt.Errorf("scan run: %w", err)
	}

	run.State = models.RunState(state)
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	if resultCount.Valid {
		n := int(resultCount.Int32)
		run.ResultCount = &n
	}
	return run, nil
}

// ListCategories returns all place categories ordered by id.
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, COALESCE(icon, '') FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// CategoryName resolves a category id to its display name.
func (s *Store) CategoryName(ctx context.Context, id int) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM categories WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query category: %w", err)
	}
	return name, nil
}

// UpsertPrices writes the latest observed prices, creating stations as
// needed. It returns how many price rows were saved.
func (s *Store) UpsertPrices(ctx context.Context, prices []models.StationPrice) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	saved := 0
	for _, p := range prices {
		_, err := tx.Exec(ctx, `
			INSERT INTO stations (id, name, lat, lon, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, lat = EXCLUDED.lat, lon = EXCLUDED.lon, updated_at = NOW()
		`, p.StationID, p.Name, p.Lat, p.Lon)
		if err != nil {
			return 0, fmt.Errorf("upsert station %s: %w", p.StationID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO fuel_prices (station_id, fuel_type, price, currency, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (station_id, fuel_type) DO UPDATE SET price = EXCLUDED.price, currency = EXCLUDED.currency, recorded_at = EXCLUDED.recorded_at
		`, p.StationID, p.FuelType, p.Price, p.Currency, p.RecordedAt)
		if err != nil {
			return 0, fmt.Errorf("upsert price %s/%s: %w", p.StationID, p.FuelType, err)
		}
		saved++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

// LatestPrices returns the current prices for one station.
func (s *Store) LatestPrices(ctx context.Context, stationID string) ([]models.StationPrice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.station_id, st.name, st.lat, st.lon, p.fuel_type, p.price, p.currency, p.recorded_at
		FROM fuel_prices p JOIN stations st ON st.id = p.station_id
		WHERE p.station_id = $1
		ORDER BY p.fuel_type
	`, stationID)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var prices []models.StationPrice
	for rows.Next() {
		var p models.StationPrice
		if err := rows.Scan(&p.StationID, &p.Name, &p.Lat, &p.Lon, &p.FuelType, &p.Price, &p.Currency, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// StationsNeedingThumbnails lists stations with a photo but no generated
// thumbnail yet.
func (s *Store) StationsNeedingThumbnails(ctx context.Context, limit int) ([]models.Station, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, lat, lon, photo_url
		FROM stations
		WHERE photo_url IS NOT NULL AND thumbnail_key IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.Lat, &st.Lon, &st.PhotoURL); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// SetThumbnail records the generated thumbnail key for a station.
func (s *Store) SetThumbnail(ctx context.Context, stationID, key string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stations SET thumbnail_key = $2, updated_at = NOW() WHERE id = $1
	`, stationID, key)
	return err
}

// BackfillSerials assigns the next sequential serial number to every station
// missing one, preserving creation order. It returns how many rows were
// updated.
func (s *Store) BackfillSerials(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		WITH numbered AS (
			SELECT id,
			       ROW_NUMBER() OVER (ORDER BY created_at, id)
			       + (SELECT COALESCE(MAX(serial), 0) FROM stations) AS next_serial
			FROM stations WHERE serial IS NULL
		)
		UPDATE stations s SET serial = n.next_serial, updated_at = NOW()
		FROM numbered n WHERE s.id = n.id
	`)
	if err != nil {
		return 0, fmt.Errorf("backfill serials: %w", err)
	}
	return tag.RowsAffected(), nil
}
