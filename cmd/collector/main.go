package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sworrl/wandermage/internal/blob"
	"github.com/sworrl/wandermage/internal/cache"
	"github.com/sworrl/wandermage/internal/config"
	"github.com/sworrl/wandermage/internal/jobs/backfill"
	"github.com/sworrl/wandermage/internal/jobs/fuelprice"
	"github.com/sworrl/wandermage/internal/jobs/thumbnail"
	"github.com/sworrl/wandermage/internal/runner"
	"github.com/sworrl/wandermage/internal/store"
	"github.com/sworrl/wandermage/internal/telemetry"
)

// The collector executes exactly one job per process invocation. Recurring
// execution belongs to cron or a systemd timer; the exit code is the signal
// an external scheduler watches.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := buildLogger(cfg.Env)
	defer logger.Sync()
	log := logger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("connect postgres", "error", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalw("migrations", "error", err)
	}

	work, err := buildWork(ctx, cfg, st, log)
	if err != nil {
		log.Fatalw("configure job", "job_type", cfg.JobType, "error", err)
	}

	// Long-running fetches can be scraped mid-run.
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Debugw("metrics server stopped", "error", err)
		}
	}()

	r := runner.New(cfg.JobType, st, log)
	err = r.Run(ctx, work)
	_ = logger.Sync()
	os.Exit(runner.ExitCode(err))
}

func buildWork(ctx context.Context, cfg config.Config, st *store.Store, log *zap.SugaredLogger) (runner.WorkFunc, error) {
	uploader, err := buildUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.JobType {
	case fuelprice.JobType:
		var warmer fuelprice.PriceWarmer
		if cfg.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			warmer = cache.New(client, cfg.PriceCacheTTL)
		}
		var archive fuelprice.Archiver
		if cfg.ArchiveS3Bucket != "" {
			archive = uploader
		}
		return fuelprice.New(cfg, st, warmer, archive, log).Work, nil

	case thumbnail.JobType:
		return thumbnail.New(cfg, st, uploader, log).Work, nil

	case backfill.JobType:
		return backfill.New(st, log).Work, nil

	default:
		return nil, fmt.Errorf("unknown job type %q", cfg.JobType)
	}
}

// buildUploader prefers S3 when a bucket is configured, local disk otherwise.
func buildUploader(ctx context.Context, cfg config.Config) (blob.Uploader, error) {
	if cfg.ArchiveS3Bucket != "" {
		client, err := blob.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return blob.NewS3Uploader(client, cfg.ArchiveS3Bucket), nil
	}
	return blob.NewLocalUploader(cfg.ThumbnailOutputDir), nil
}

func buildLogger(env string) *zap.Logger {
	if env == "dev" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Sampling = nil
	logger, err := zcfg.Build()
	if err != nil {
		panic(fmt.Sprintf("build logger: %v", err))
	}
	return logger
}
