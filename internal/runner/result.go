package runner

import "context"

// Result is the tagged outcome a work function hands back when it finishes
// without faulting. OK carries a processed-item count; not-OK means the job
// ran but produced no usable output (a soft failure: logged, recorded as a
// completed run with result_count 0, exit code 0).
type Result struct {
	OK      bool
	Count   int
	Detail  string
	Message string
}

// Succeed builds a success result with the count of items processed.
func Succeed(count int, detail string) Result {
	return Result{OK: true, Count: count, Detail: detail}
}

// Fail builds a soft-failure result. The message surfaces in logs only,
// never in the run's error_message.
func Fail(message string) Result {
	return Result{Message: message}
}

// WorkFunc is the job-specific unit of logic a Runner drives. It reports
// progress through the Reporter and signals its outcome either through the
// returned Result or, for unrecoverable faults, through a non-nil error.
type WorkFunc func(ctx context.Context, rep Reporter) (Result, error)
