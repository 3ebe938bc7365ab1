// Package runner drives a single background job execution from pending to a
// terminal state, persisting progress and outcome so external schedulers and
// the read API can observe job health.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sworrl/wandermage/internal/models"
	"github.com/sworrl/wandermage/internal/telemetry"
)

const (
	// terminalWriteAttempts bounds local retries of the final status write.
	// The terminal row is the only durable record of outcome, so it must
	// land before the process exits.
	terminalWriteAttempts = 3
	terminalWriteBackoff  = 200 * time.Millisecond
	terminalWriteTimeout  = 10 * time.Second
)

// StatusStore persists job run records. Implementations must treat the
// record as opaque: the runner owns every mutation.
type StatusStore interface {
	CreateRun(ctx context.Context, run *models.JobRun) error
	UpdateRun(ctx context.Context, run *models.JobRun) error
	FinishRun(ctx context.Context, run *models.JobRun) error
}

// StatusUpdate is a partial update of the mutable progress fields. Nil
// fields are left unchanged.
type StatusUpdate struct {
	Activity   *string
	Detail     *string
	ItemsFound *int
	ItemsSaved *int
}

// Reporter is the surface a work function uses to publish progress.
type Reporter interface {
	UpdateStatus(ctx context.Context, u StatusUpdate) error
}

// Runner executes one job type exactly once per process invocation.
type Runner struct {
	jobType string
	store   StatusStore
	log     *zap.SugaredLogger
	now     func() time.Time
	run     *models.JobRun
}

// New builds a runner with a fresh pending run. No I/O happens until Run.
func New(jobType string, store StatusStore, log *zap.SugaredLogger) *Runner {
	return newRunner(jobType, store, log, time.Now)
}

func newRunner(jobType string, store StatusStore, log *zap.SugaredLogger, now func() time.Time) *Runner {
	created := now().UTC()
	return &Runner{
		jobType: jobType,
		store:   store,
		log:     log.With("job_type", jobType),
		now:     now,
		run: &models.JobRun{
			RunID:     uuid.New().String(),
			JobType:   jobType,
			State:     models.RunPending,
			CreatedAt: created,
			UpdatedAt: created,
		},
	}
}

// Snapshot returns a copy of the current run record.
func (r *Runner) Snapshot() models.JobRun {
	return *r.run
}

// Run drives the work function through the full lifecycle. It always leaves
// the run in a terminal state before returning: a nil return means the run
// completed (including the zero-result soft-failure case), a non-nil return
// means it failed and the error should surface as a non-zero exit.
func (r *Runner) Run(ctx context.Context, work WorkFunc) error {
	if r.run.State != models.RunPending {
		return fmt.Errorf("runner for %s already ran (state %s)", r.jobType, r.run.State)
	}

	started := r.now().UTC()
	r.run.State = models.RunRunning
	r.run.StartedAt = &started
	r.run.CurrentActivity = ""
	r.run.CurrentDetail = ""
	r.run.ItemsFound = 0
	r.run.ItemsSaved = 0
	r.run.UpdatedAt = started
	if err := r.store.CreateRun(ctx, r.run); err != nil {
		// Without the row there is nothing for monitoring to observe;
		// treat as a hard fault without invoking the work function.
		r.markFailed(fmt.Sprintf("record run start: %v", err))
		return fmt.Errorf("record run start: %w", err)
	}
	r.log.Infow("run started", "run_id", r.run.RunID)

	res, err := r.invoke(ctx, work)
	if err != nil {
		r.markFailed(err.Error())
		r.log.Errorw("run failed", "run_id", r.run.RunID, "error", err)
		return fmt.Errorf("job %s: %w", r.jobType, err)
	}

	if !res.OK {
		// Soft failure: the job ran without an unrecoverable fault but
		// produced nothing. Recorded as completed with count 0 so the
		// external scheduler is not alarmed on every transient upstream
		// hiccup; the reason lives in the log stream only.
		r.log.Errorw("run produced no usable output", "run_id", r.run.RunID, "reason", res.Message)
		r.markCompleted(0)
		telemetry.RunsSoftFailed.Inc()
		return nil
	}

	r.markCompleted(res.Count)
	r.log.Infow("run completed", "run_id", r.run.RunID, "result_count", res.Count, "detail", res.Detail)
	return nil
}

// invoke calls the work function, converting a panic into an error at
// exactly this boundary so the terminal state is recorded before the fault
// surfaces.
func (r *Runner) invoke(ctx context.Context, work WorkFunc) (res Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("work function panicked: %v", v)
		}
	}()
	return work(ctx, r)
}

// UpdateStatus merges the given fields into the run and persists the record.
// Outside the running state it is a logged no-op: progress fields are only
// meaningful for the lifetime of the run and a terminal record must not be
// touched.
func (r *Runner) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	if r.run.State != models.RunRunning {
		r.log.Warnw("status update ignored outside running state",
			"run_id", r.run.RunID, "state", r.run.State)
		return nil
	}
	if u.Activity != nil {
		r.run.CurrentActivity = *u.Activity
	}
	if u.Detail != nil {
		r.run.CurrentDetail = *u.Detail
	}
	if u.ItemsFound != nil {
		r.run.ItemsFound = *u.ItemsFound
	}
	if u.ItemsSaved != nil {
		r.run.ItemsSaved = *u.ItemsSaved
	}
	r.run.UpdatedAt = r.now().UTC()

	// Best effort: a dropped progress write must not fail the job.
	if err := r.store.UpdateRun(ctx, r.run); err != nil {
		r.log.Warnw("progress write failed", "run_id", r.run.RunID, "error", err)
	}
	return nil
}

func (r *Runner) markCompleted(count int) {
	if r.run.State.Terminal() {
		r.log.Errorw("double terminal transition ignored", "run_id", r.run.RunID, "state", r.run.State)
		return
	}
	finished := r.now().UTC()
	r.run.State = models.RunCompleted
	r.run.FinishedAt = &finished
	r.run.ResultCount = &count
	r.run.UpdatedAt = finished
	r.persistTerminal()
	telemetry.RunsCompleted.Inc()
	telemetry.ItemsSaved.Add(float64(r.run.ItemsSaved))
	telemetry.LastRunTimestamp.Set(float64(finished.Unix()))
}

func (r *Runner) markFailed(message string) {
	if r.run.State.Terminal() {
		r.log.Errorw("double terminal transition ignored", "run_id", r.run.RunID, "state", r.run.State)
		return
	}
	finished := r.now().UTC()
	r.run.State = models.RunFailed
	r.run.FinishedAt = &finished
	r.run.ErrorMessage = &message
	r.run.UpdatedAt = finished
	r.persistTerminal()
	telemetry.RunsFailed.Inc()
	telemetry.LastRunTimestamp.Set(float64(finished.Unix()))
}

// persistTerminal writes the terminal record on a fresh context so a
// cancelled job context cannot leave the run dangling in running.
func (r *Runner) persistTerminal() {
	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= terminalWriteAttempts; attempt++ {
		if err = r.store.FinishRun(ctx, r.run); err == nil {
			return
		}
		r.log.Warnw("terminal status write failed",
			"run_id", r.run.RunID, "attempt", attempt, "error", err)
		time.Sleep(terminalWriteBackoff * time.Duration(attempt))
	}
	r.log.Errorw("giving up on terminal status write", "run_id", r.run.RunID, "error", err)
}

// ExitCode maps Run's return into the process exit status an external
// scheduler watches: 0 for completed (soft failures included), 1 for failed.
func ExitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}
