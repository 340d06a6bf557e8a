package sfn

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

type fakeAPI struct {
	started   *sfn.StartExecutionInput
	described *sfn.DescribeExecutionInput
	status    types.ExecutionStatus
	err       error
}

func (f *fakeAPI) StartExecution(ctx context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	f.started = in
	if f.err != nil {
		return nil, f.err
	}
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String(ExecutionARN(aws.ToString(in.StateMachineArn), aws.ToString(in.Name)))}, nil
}

func (f *fakeAPI) DescribeExecution(ctx context.Context, in *sfn.DescribeExecutionInput, _ ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error) {
	f.described = in
	if f.err != nil {
		return nil, f.err
	}
	return &sfn.DescribeExecutionOutput{Status: f.status}, nil
}

const processARN = "arn:aws:states:us-west-2:123456789012:stateMachine:ShotLocker-ProcessEdit"

func TestExecutionARN(t *testing.T) {
	assert.Equal(t,
		"arn:aws:states:us-west-2:123456789012:execution:ShotLocker-ProcessEdit:ShotLocker-Put-Object-StepFn-abc",
		ExecutionARN(processARN, "ShotLocker-Put-Object-StepFn-abc"))
}

func TestRunner(t *testing.T) {
	ctx := context.Background()
	machines := map[shotlocker.Machine]string{shotlocker.MachineProcessEdit: processARN}

	t.Run("Start", func(t *testing.T) {
		api := &fakeAPI{}
		r := New(api, machines)
		arn, err := r.StartExecution(ctx, shotlocker.MachineProcessEdit, "run-1", []byte(`{"bucket":"b"}`))
		require.NoError(t, err)
		assert.Contains(t, arn, ":execution:")
		assert.Equal(t, `{"bucket":"b"}`, aws.ToString(api.started.Input))
	})

	t.Run("Describe", func(t *testing.T) {
		api := &fakeAPI{status: types.ExecutionStatusSucceeded}
		r := New(api, machines)
		status, err := r.DescribeExecution(ctx, shotlocker.MachineProcessEdit, "run-1")
		require.NoError(t, err)
		assert.Equal(t, shotlocker.ExecutionSucceeded, status)
		assert.Equal(t, ExecutionARN(processARN, "run-1"), aws.ToString(api.described.ExecutionArn))
	})

	t.Run("DescribeMissing", func(t *testing.T) {
		api := &fakeAPI{err: &types.ExecutionDoesNotExist{Message: aws.String("missing")}}
		r := New(api, machines)
		_, err := r.DescribeExecution(ctx, shotlocker.MachineProcessEdit, "run-2")
		assert.True(t, shotlocker.IsNotFound(err))
	})

	t.Run("UnknownMachine", func(t *testing.T) {
		r := New(&fakeAPI{}, machines)
		_, err := r.StartExecution(ctx, shotlocker.MachineBucketDisable, "run-3", nil)
		assert.ErrorIs(t, err, shotlocker.ErrValidation)
	})
}
