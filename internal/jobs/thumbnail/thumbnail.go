// Package thumbnail implements the POI photo maintenance job: generate
// missing thumbnails for stations that have a photo on record.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/sworrl/wandermage/internal/blob"
	"github.com/sworrl/wandermage/internal/config"
	"github.com/sworrl/wandermage/internal/models"
	"github.com/sworrl/wandermage/internal/runner"
)

// JobType identifies this job in the status store.
const JobType = "poi_thumbnails"

// ThumbStore is the slice of the store this job reads and writes.
type ThumbStore interface {
	StationsNeedingThumbnails(ctx context.Context, limit int) ([]models.Station, error)
	SetThumbnail(ctx context.Context, stationID, key string) error
}

// Generator downloads station photos and writes resized thumbnails.
type Generator struct {
	cfg        config.Config
	store      ThumbStore
	uploader   blob.Uploader
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// New builds a generator.
func New(cfg config.Config, store ThumbStore, uploader blob.Uploader, log *zap.SugaredLogger) *Generator {
	timeout := cfg.ThumbnailTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Generator{
		cfg:        cfg,
		store:      store,
		uploader:   uploader,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Work is the runner work function. Per-station errors are counted and
// logged but do not fault the run; a batch where nothing could be generated
// is a soft failure.
func (g *Generator) Work(ctx context.Context, rep runner.Reporter) (runner.Result, error) {
	batch := g.cfg.ThumbnailBatchSize
	if batch <= 0 {
		batch = 50
	}

	stations, err := g.store.StationsNeedingThumbnails(ctx, batch)
	if err != nil {
		return runner.Result{}, fmt.Errorf("list stations: %w", err)
	}
	if len(stations) == 0 {
		return runner.Fail("no stations awaiting thumbnails"), nil
	}

	found := len(stations)
	activity := "generating thumbnails"
	_ = rep.UpdateStatus(ctx, runner.StatusUpdate{Activity: &activity, ItemsFound: &found})

	saved := 0
	failed := 0
	for _, st := range stations {
		if err := ctx.Err(); err != nil {
			return runner.Result{}, err
		}
		detail := st.ID
		_ = rep.UpdateStatus(ctx, runner.StatusUpdate{Detail: &detail})

		if err := g.generate(ctx, st); err != nil {
			failed++
			g.log.Warnw("thumbnail failed", "station_id", st.ID, "error", err)
			continue
		}
		saved++
		_ = rep.UpdateStatus(ctx, runner.StatusUpdate{ItemsSaved: &saved})
	}

	if saved == 0 {
		return runner.Fail(fmt.Sprintf("all %d thumbnails failed", failed)), nil
	}
	return runner.Succeed(saved, fmt.Sprintf("%d generated, %d failed", saved, failed)), nil
}

func (g *Generator) generate(ctx context.Context, st models.Station) error {
	if st.PhotoURL == nil || *st.PhotoURL == "" {
		return fmt.Errorf("station has no photo url")
	}

	data, err := g.download(ctx, *st.PhotoURL)
	if err != nil {
		return err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode photo: %w", err)
	}

	width := g.cfg.ThumbnailWidth
	if width <= 0 {
		width = 320
	}
	thumb := imaging.Resize(img, width, 0, imaging.Lanczos)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}

	key := fmt.Sprintf("thumbs/%s.jpg", st.ID)
	if _, err := g.uploader.Upload(ctx, key, buf.Bytes(), "image/jpeg"); err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}

	if err := g.store.SetThumbnail(ctx, st.ID, key); err != nil {
		return fmt.Errorf("record thumbnail: %w", err)
	}
	return nil
}

func (g *Generator) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download photo: status %d", resp.StatusCode)
	}

	limit := g.cfg.ThumbnailMaxBytes
	if limit == 0 {
		limit = 25 * 1024 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("photo too large (>%d bytes)", limit)
	}
	return body, nil
}
