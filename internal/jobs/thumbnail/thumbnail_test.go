package thumbnail

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sworrl/wandermage/internal/blob"
	"github.com/sworrl/wandermage/internal/config"
	"github.com/sworrl/wandermage/internal/models"
	"github.com/sworrl/wandermage/internal/runner"
)

type fakeThumbStore struct {
	stations   []models.Station
	thumbnails map[string]string
	listErr    error
}

func (f *fakeThumbStore) StationsNeedingThumbnails(_ context.Context, _ int) ([]models.Station, error) {
	return f.stations, f.listErr
}

func (f *fakeThumbStore) SetThumbnail(_ context.Context, stationID, key string) error {
	if f.thumbnails == nil {
		f.thumbnails = make(map[string]string)
	}
	f.thumbnails[stationID] = key
	return nil
}

type nopReporter struct{}

func (nopReporter) UpdateStatus(context.Context, runner.StatusUpdate) error { return nil }

func pngServer(t *testing.T) *httptest.Server {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
}

func TestWorkGeneratesAndRecordsThumbnails(t *testing.T) {
	srv := pngServer(t)
	defer srv.Close()

	photo := srv.URL + "/photo.png"
	st := &fakeThumbStore{stations: []models.Station{
		{ID: "st-1", Name: "North Exit", PhotoURL: &photo},
	}}

	tempDir := t.TempDir()
	cfg := config.Config{
		ThumbnailWidth:     5,
		ThumbnailBatchSize: 10,
		ThumbnailTimeout:   2 * time.Second,
		ThumbnailMaxBytes:  2 * 1024 * 1024,
	}
	gen := New(cfg, st, blob.NewLocalUploader(tempDir), zaptest.NewLogger(t).Sugar())

	res, err := gen.Work(context.Background(), nopReporter{})
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "thumbs/st-1.jpg", st.thumbnails["st-1"])

	data, err := os.ReadFile(filepath.Join(tempDir, "thumbs", "st-1.jpg"))
	require.NoError(t, err)

	out, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 5, out.Bounds().Dx())
}

func TestWorkEmptyBatchIsSoftFailure(t *testing.T) {
	gen := New(config.Config{}, &fakeThumbStore{}, blob.NewLocalUploader(t.TempDir()), zaptest.NewLogger(t).Sugar())

	res, err := gen.Work(context.Background(), nopReporter{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "no stations awaiting")
}

func TestWorkPerStationErrorsDoNotFaultTheRun(t *testing.T) {
	srv := pngServer(t)
	defer srv.Close()

	good := srv.URL + "/photo.png"
	bad := "http://127.0.0.1:1/unreachable.png"
	st := &fakeThumbStore{stations: []models.Station{
		{ID: "st-bad", PhotoURL: &bad},
		{ID: "st-good", PhotoURL: &good},
	}}

	cfg := config.Config{ThumbnailWidth: 5, ThumbnailTimeout: 2 * time.Second}
	gen := New(cfg, st, blob.NewLocalUploader(t.TempDir()), zaptest.NewLogger(t).Sugar())

	res, err := gen.Work(context.Background(), nopReporter{})
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, 1, res.Count)
	assert.Contains(t, res.Detail, "1 failed")
	_, ok := st.thumbnails["st-bad"]
	assert.False(t, ok)
}

func TestWorkAllFailedIsSoftFailure(t *testing.T) {
	bad := "http://127.0.0.1:1/unreachable.png"
	st := &fakeThumbStore{stations: []models.Station{{ID: "st-bad", PhotoURL: &bad}}}

	cfg := config.Config{ThumbnailTimeout: time.Second}
	gen := New(cfg, st, blob.NewLocalUploader(t.TempDir()), zaptest.NewLogger(t).Sugar())

	res, err := gen.Work(context.Background(), nopReporter{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "all 1 thumbnails failed")
}
