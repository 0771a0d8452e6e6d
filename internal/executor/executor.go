// Package executor defines the opaque unit-of-work capability the scheduler
// dispatches agents through. Anything that can run an agent's logic and
// validate its input is a valid executor; there is no base type to extend.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/agenthive/agenthive/internal/registry"
)

// Input is the snapshot handed to an agent execution. Memory carries the
// agent's hydrated prior state; Payload is the run (or upstream) input.
// Retries reuse the same snapshot.
type Input struct {
	RunID   string
	Payload map[string]any
	Memory  map[string]any
}

// Output is the result of a successful execution. MemoryWrites are the
// agent's declared memory updates; the scheduler applies them only after a
// successful terminal result.
type Output struct {
	Payload      map[string]any
	MemoryWrites map[string]any
}

// ExecutionError is raised by an agent's own logic. Transient errors are
// eligible for retry up to the configured attempt limit; everything else is
// terminal failed.
type ExecutionError struct {
	AgentID   string
	Transient bool
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s execution failed: %v", e.AgentID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is an ExecutionError marked transient.
func IsTransient(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Transient
}

// Executor is the capability interface supplied by the agent-logic layer.
// RunAgent must respect ctx cancellation; the scheduler cancels it at the
// node's deadline and stops waiting.
type Executor interface {
	RunAgent(ctx context.Context, agent registry.Agent, in Input) (Output, error)
	ValidateInput(agent registry.Agent, in Input) error
}

// Func adapts a plain function into an Executor with no input validation.
type Func func(ctx context.Context, agent registry.Agent, in Input) (Output, error)

// RunAgent implements Executor.
func (f Func) RunAgent(ctx context.Context, agent registry.Agent, in Input) (Output, error) {
	return f(ctx, agent, in)
}

// ValidateInput implements Executor.
func (f Func) ValidateInput(registry.Agent, Input) error { return nil }
