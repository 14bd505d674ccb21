package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battis/batch-action/batch"
	"github.com/battis/batch-action/logging"
	"github.com/battis/batch-action/task"
)

func TestRunner_Run(t *testing.T) {
	calls := 0
	m := newManager(t, func(ctx context.Context, m *batch.Manager, step int) ([]task.Outcome, error) {
		calls++
		return nil, nil
	})
	r := NewRunner(m, nil, logging.Discard())

	assert.Equal(t, RunStateIdle, r.Status().State)
	assert.Nil(t, r.Status().StartedAt)

	require.NoError(t, r.Run(context.Background(), false, nil))
	status := r.Status()
	assert.Equal(t, RunStateIdle, status.State)
	assert.Equal(t, m.RunID(), status.RunID)
	assert.Equal(t, "*", status.Selector)
	require.NotNil(t, status.EndedAt)
	assert.Empty(t, status.Error)
	assert.Equal(t, 1, calls)
}

func TestRunner_RecordsError(t *testing.T) {
	m := newManager(t, func(ctx context.Context, m *batch.Manager, step int) ([]task.Outcome, error) {
		return nil, errors.New("boom")
	})
	rec := &memoryRecorder{}
	r := NewRunner(m, rec, logging.Discard())

	err := r.Run(context.Background(), true, batch.NewSelector().Add(batch.Database, 0))
	require.Error(t, err)
	status := r.Status()
	assert.Contains(t, status.Error, "boom")
	assert.True(t, status.Force)
	assert.Equal(t, "Database:0", status.Selector)
	assert.Len(t, rec.saved, 1)
}

func TestRunner_RejectsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	m := newManager(t, func(ctx context.Context, m *batch.Manager, step int) ([]task.Outcome, error) {
		close(entered)
		<-release
		return nil, nil
	})
	r := NewRunner(m, nil, logging.Discard())

	require.NoError(t, r.Start(context.Background(), true, nil))
	<-entered

	assert.Equal(t, RunStateRunning, r.Status().State)
	assert.ErrorIs(t, r.Run(context.Background(), true, nil), ErrRunInProgress)
	assert.ErrorIs(t, r.Start(context.Background(), true, nil), ErrRunInProgress)
	assert.NoError(t, r.Scheduled().Run(context.Background()), "scheduled runs step aside")

	close(release)
	r.Wait()
	assert.Equal(t, RunStateIdle, r.Status().State)
}

func TestRunner_StartOutlivesRequestContext(t *testing.T) {
	done := make(chan struct{})
	m := newManager(t, func(ctx context.Context, m *batch.Manager, step int) ([]task.Outcome, error) {
		defer close(done)
		return nil, ctx.Err()
	})
	r := NewRunner(m, nil, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx, true, nil))
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pass did not run")
	}
	r.Wait()
	assert.Empty(t, r.Status().Error)
}

func TestRunState_JSON(t *testing.T) {
	data, err := json.Marshal(RunStatus{State: RunStateRunning})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"running","force":false,"selector":""}`, string(data))
}
