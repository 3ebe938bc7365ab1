// Package backfill implements the serial-number maintenance job: assign
// sequential serials to stations that predate the serial column.
package backfill

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sworrl/wandermage/internal/runner"
)

// JobType identifies this job in the status store.
const JobType = "serial_backfill"

// SerialStore is the slice of the store this job writes to.
type SerialStore interface {
	BackfillSerials(ctx context.Context) (int64, error)
}

// Job assigns missing serials in one statement.
type Job struct {
	store SerialStore
	log   *zap.SugaredLogger
}

func New(store SerialStore, log *zap.SugaredLogger) *Job {
	return &Job{store: store, log: log}
}

// Work is the runner work function. Zero rows touched is a soft failure so
// repeated scheduled invocations stay quiet once the backfill has converged.
func (j *Job) Work(ctx context.Context, rep runner.Reporter) (runner.Result, error) {
	activity := "assigning serials"
	_ = rep.UpdateStatus(ctx, runner.StatusUpdate{Activity: &activity})

	n, err := j.store.BackfillSerials(ctx)
	if err != nil {
		return runner.Result{}, fmt.Errorf("backfill serials: %w", err)
	}
	if n == 0 {
		return runner.Fail("no stations missing serials"), nil
	}

	saved := int(n)
	_ = rep.UpdateStatus(ctx, runner.StatusUpdate{ItemsFound: &saved, ItemsSaved: &saved})
	return runner.Succeed(saved, "serials assigned"), nil
}
