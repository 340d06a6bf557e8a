// Package sfn runs shotlocker workflows on AWS Step Functions.
package sfn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/tendant/shotlocker/pkg/shotlocker"
)

// API is the subset of the Step Functions client used here
type API interface {
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	DescribeExecution(ctx context.Context, params *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
}

// Runner implements shotlocker.Workflow over state machines
type Runner struct {
	client   API
	machines map[shotlocker.Machine]string
}

// New creates a runner. machines maps each workflow to its state machine ARN.
func New(client API, machines map[shotlocker.Machine]string) *Runner {
	return &Runner{client: client, machines: machines}
}

// NewFromConfig creates a runner with a Step Functions client built from cfg.
func NewFromConfig(cfg aws.Config, machines map[shotlocker.Machine]string) *Runner {
	return New(sfn.NewFromConfig(cfg), machines)
}

func (r *Runner) machineARN(machine shotlocker.Machine) (string, error) {
	arn, ok := r.machines[machine]
	if !ok || arn == "" {
		return "", fmt.Errorf("%w: no state machine configured for %s", shotlocker.ErrValidation, machine)
	}
	return arn, nil
}

// ExecutionARN derives the ARN of a named execution from its state machine ARN.
func ExecutionARN(machineARN, name string) string {
	return strings.Replace(machineARN, ":stateMachine:", ":execution:", 1) + ":" + name
}

// StartExecution starts machine and returns the execution ARN
func (r *Runner) StartExecution(ctx context.Context, machine shotlocker.Machine, name string, input []byte) (string, error) {
	arn, err := r.machineARN(machine)
	if err != nil {
		return "", err
	}
	out, err := r.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(arn),
		Name:            aws.String(name),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return "", classify("StartExecution", name, err)
	}
	return aws.ToString(out.ExecutionArn), nil
}

// DescribeExecution returns the status of a named execution
func (r *Runner) DescribeExecution(ctx context.Context, machine shotlocker.Machine, name string) (shotlocker.ExecutionStatus, error) {
	arn, err := r.machineARN(machine)
	if err != nil {
		return "", err
	}
	out, err := r.client.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(ExecutionARN(arn, name)),
	})
	if err != nil {
		return "", classify("DescribeExecution", name, err)
	}
	return shotlocker.ExecutionStatus(out.Status), nil
}

func classify(op, name string, err error) error {
	var missing *types.ExecutionDoesNotExist
	var noMachine *types.StateMachineDoesNotExist
	switch {
	case errors.As(err, &missing), errors.As(err, &noMachine):
		return shotlocker.NewStoreError(op, "", name, shotlocker.ErrNotFound, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return shotlocker.NewStoreError(op, "", name, shotlocker.ErrStoreTimeout, err)
	}
	return shotlocker.NewStoreError(op, "", name, nil, err)
}

var _ shotlocker.Workflow = (*Runner)(nil)
