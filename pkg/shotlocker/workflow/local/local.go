// Package local runs shotlocker workflows in-process.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/shotlocker/pkg/shotlocker"
	"github.com/tendant/shotlocker/pkg/shotlocker/pipeline"
)

// Execution is the record of one run
type Execution struct {
	ID      string                     `json:"id"`
	Machine shotlocker.Machine         `json:"machine"`
	Name    string                     `json:"name"`
	Status  shotlocker.ExecutionStatus `json:"status"`
	Input   shotlocker.Event           `json:"input"`
	Output  shotlocker.Event           `json:"output"`
	Error   string                     `json:"error,omitempty"`
}

// Runner implements shotlocker.Workflow by running registered stage chains
type Runner struct {
	mu         sync.RWMutex
	machines   map[shotlocker.Machine][]pipeline.Stage
	executions map[string]*Execution
	async      bool
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithAsync runs executions on background goroutines
func WithAsync(async bool) Option {
	return func(r *Runner) {
		r.async = async
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a runner with no machines registered
func New(options ...Option) *Runner {
	r := &Runner{
		machines:   make(map[shotlocker.Machine][]pipeline.Stage),
		executions: make(map[string]*Execution),
		logger:     slog.Default(),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Register installs the stage chain for each machine
func (r *Runner) Register(machines map[shotlocker.Machine][]pipeline.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for m, stages := range machines {
		r.machines[m] = stages
	}
}

func executionKey(machine shotlocker.Machine, name string) string {
	return string(machine) + "/" + name
}

// StartExecution runs machine with input. Names are unique per machine.
func (r *Runner) StartExecution(ctx context.Context, machine shotlocker.Machine, name string, input []byte) (string, error) {
	var ev shotlocker.Event
	if err := json.Unmarshal(input, &ev); err != nil {
		return "", fmt.Errorf("%w: execution input: %v", shotlocker.ErrValidation, err)
	}

	r.mu.Lock()
	stages, ok := r.machines[machine]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: no stages registered for %s", shotlocker.ErrValidation, machine)
	}
	key := executionKey(machine, name)
	if _, exists := r.executions[key]; exists {
		r.mu.Unlock()
		return "", shotlocker.NewStoreError("StartExecution", "", name, nil, fmt.Errorf("execution already exists: %s", name))
	}
	exec := &Execution{
		ID:      uuid.NewString(),
		Machine: machine,
		Name:    name,
		Status:  shotlocker.ExecutionRunning,
		Input:   ev,
	}
	r.executions[key] = exec
	r.mu.Unlock()

	if !r.async {
		r.run(ctx, exec, stages)
		return exec.ID, nil
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(context.WithoutCancel(ctx), exec, stages)
	}()
	return exec.ID, nil
}

func (r *Runner) run(ctx context.Context, exec *Execution, stages []pipeline.Stage) {
	out, err := pipeline.Run(ctx, exec.Input, stages...)

	r.mu.Lock()
	defer r.mu.Unlock()
	exec.Output = out
	if err != nil {
		exec.Status = shotlocker.ExecutionFailed
		exec.Error = err.Error()
		r.logger.ErrorContext(ctx, "execution failed", "machine", exec.Machine, "name", exec.Name, "error", err)
		return
	}
	exec.Status = shotlocker.ExecutionSucceeded
	r.logger.InfoContext(ctx, "execution succeeded", "machine", exec.Machine, "name", exec.Name)
}

// DescribeExecution returns the status of a named execution
func (r *Runner) DescribeExecution(ctx context.Context, machine shotlocker.Machine, name string) (shotlocker.ExecutionStatus, error) {
	exec, ok := r.Execution(machine, name)
	if !ok {
		return "", shotlocker.NewStoreError("DescribeExecution", "", name, shotlocker.ErrNotFound, fmt.Errorf("execution does not exist: %s", name))
	}
	return exec.Status, nil
}

// Execution returns a copy of a named execution
func (r *Runner) Execution(machine shotlocker.Machine, name string) (Execution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executions[executionKey(machine, name)]
	if !ok {
		return Execution{}, false
	}
	return *exec, true
}

// Executions returns copies of every execution of machine
func (r *Runner) Executions(machine shotlocker.Machine) []Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Execution
	for _, exec := range r.executions {
		if exec.Machine == machine {
			out = append(out, *exec)
		}
	}
	return out
}

// Wait blocks until background executions finish
func (r *Runner) Wait() {
	r.wg.Wait()
}

var _ shotlocker.Workflow = (*Runner)(nil)
