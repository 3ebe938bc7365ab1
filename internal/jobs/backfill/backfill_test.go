package backfill

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sworrl/wandermage/internal/runner"
)

type fakeSerialStore struct {
	updated int64
	err     error
}

func (f *fakeSerialStore) BackfillSerials(context.Context) (int64, error) {
	return f.updated, f.err
}

type nopReporter struct{}

func (nopReporter) UpdateStatus(context.Context, runner.StatusUpdate) error { return nil }

func TestWorkReportsUpdatedCount(t *testing.T) {
	j := New(&fakeSerialStore{updated: 12}, zaptest.NewLogger(t).Sugar())
	res, err := j.Work(context.Background(), nopReporter{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 12, res.Count)
}

func TestWorkConvergedBackfillIsSoftFailure(t *testing.T) {
	j := New(&fakeSerialStore{updated: 0}, zaptest.NewLogger(t).Sugar())
	res, err := j.Work(context.Background(), nopReporter{})
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestWorkStoreErrorIsHardFault(t *testing.T) {
	j := New(&fakeSerialStore{err: errors.New("relation does not exist")}, zaptest.NewLogger(t).Sugar())
	_, err := j.Work(context.Background(), nopReporter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfill serials")
}
