package scheduler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureJob struct {
	name string
	ctx  context.Context
	runs int
}

func (j *captureJob) Run(ctx context.Context) error {
	j.ctx = ctx
	j.runs++
	return nil
}

func (j *captureJob) Name() string { return j.name }

func newTestScheduler() *Scheduler {
	return New(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestRunNowExecutesJobWithLiveContext(t *testing.T) {
	s := newTestScheduler()
	job := &captureJob{name: "noop"}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)
	require.NotNil(t, job.ctx)
	assert.NoError(t, job.ctx.Err())
}

func TestStopCancelsJobContext(t *testing.T) {
	s := newTestScheduler()
	job := &captureJob{name: "noop"}

	s.Start()
	require.NoError(t, s.RunNow(job))
	require.NotNil(t, job.ctx)

	s.Stop()
	assert.ErrorIs(t, job.ctx.Err(), context.Canceled)
}

func TestAddJobRejectsInvalidSchedule(t *testing.T) {
	s := newTestScheduler()
	job := &captureJob{name: "noop"}

	assert.Error(t, s.AddJob("not a schedule", job))
	assert.NoError(t, s.AddJob("0 30 6 * * *", job))
}
