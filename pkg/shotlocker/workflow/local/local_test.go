package local

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/pkg/shotlocker"
	"github.com/tendant/shotlocker/pkg/shotlocker/pipeline"
)

func echo(suffix string) pipeline.Stage {
	return func(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
		ev.Key += suffix
		return ev, nil
	}
}

func TestRunner(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	r := New()
	r.Register(map[shotlocker.Machine][]pipeline.Stage{
		shotlocker.MachineProcessEdit: {echo("-a"), echo("-b")},
		shotlocker.MachineAddEditAccess: {func(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
			return ev, boom
		}},
	})

	t.Run("succeeds", func(t *testing.T) {
		id, err := r.StartExecution(ctx, shotlocker.MachineProcessEdit, "run-1", []byte(`{"bucket":"media","key":"k"}`))
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		exec, ok := r.Execution(shotlocker.MachineProcessEdit, "run-1")
		require.True(t, ok)
		assert.Equal(t, shotlocker.ExecutionSucceeded, exec.Status)
		assert.Equal(t, "k-a-b", exec.Output.Key)

		status, err := r.DescribeExecution(ctx, shotlocker.MachineProcessEdit, "run-1")
		require.NoError(t, err)
		assert.Equal(t, shotlocker.ExecutionSucceeded, status)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := r.StartExecution(ctx, shotlocker.MachineProcessEdit, "run-1", []byte(`{"bucket":"media"}`))
		require.ErrorIs(t, err, shotlocker.ErrStoreFailure)
	})

	t.Run("same name on another machine", func(t *testing.T) {
		_, err := r.StartExecution(ctx, shotlocker.MachineAddEditAccess, "run-1", []byte(`{"bucket":"media"}`))
		require.NoError(t, err)
		status, err := r.DescribeExecution(ctx, shotlocker.MachineAddEditAccess, "run-1")
		require.NoError(t, err)
		assert.Equal(t, shotlocker.ExecutionFailed, status)

		exec, _ := r.Execution(shotlocker.MachineAddEditAccess, "run-1")
		assert.Equal(t, "boom", exec.Error)
	})

	t.Run("unknown execution", func(t *testing.T) {
		_, err := r.DescribeExecution(ctx, shotlocker.MachineProcessEdit, "missing")
		assert.True(t, shotlocker.IsNotFound(err))
	})

	t.Run("unregistered machine", func(t *testing.T) {
		_, err := r.StartExecution(ctx, shotlocker.MachineBucketDisable, "run-2", []byte(`{"bucket":"media"}`))
		require.ErrorIs(t, err, shotlocker.ErrValidation)
	})

	t.Run("bad input", func(t *testing.T) {
		_, err := r.StartExecution(ctx, shotlocker.MachineProcessEdit, "run-3", []byte(`{`))
		require.ErrorIs(t, err, shotlocker.ErrValidation)
	})

	assert.Len(t, r.Executions(shotlocker.MachineProcessEdit), 1)
}

func TestRunnerAsync(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	r := New(WithAsync(true))
	r.Register(map[shotlocker.Machine][]pipeline.Stage{
		shotlocker.MachineBucketDisable: {func(ctx context.Context, ev shotlocker.Event) (shotlocker.Event, error) {
			<-release
			runs.Add(1)
			return ev, nil
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := r.StartExecution(ctx, shotlocker.MachineBucketDisable, "a", []byte(`{"bucket":"media"}`))
	require.NoError(t, err)
	_, err = r.StartExecution(ctx, shotlocker.MachineBucketDisable, "b", []byte(`{"bucket":"media"}`))
	require.NoError(t, err)

	status, err := r.DescribeExecution(ctx, shotlocker.MachineBucketDisable, "a")
	require.NoError(t, err)
	assert.Equal(t, shotlocker.ExecutionRunning, status)

	// request cancellation does not abort background runs
	cancel()
	close(release)
	r.Wait()

	assert.Equal(t, int32(2), runs.Load())
	for _, exec := range r.Executions(shotlocker.MachineBucketDisable) {
		assert.Equal(t, shotlocker.ExecutionSucceeded, exec.Status)
	}
}
