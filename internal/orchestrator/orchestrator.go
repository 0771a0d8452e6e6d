// Package orchestrator is the run-level façade: it resolves a plan for the
// requested roots, applies per-run overrides, and hands the plan to a
// scheduler wired with the tracker, memory store and executor. All
// collaborators are injected at construction; there is no global state.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agenthive/agenthive/internal/events"
	"github.com/agenthive/agenthive/internal/executor"
	"github.com/agenthive/agenthive/internal/graph"
	"github.com/agenthive/agenthive/internal/logging"
	"github.com/agenthive/agenthive/internal/memory"
	"github.com/agenthive/agenthive/internal/registry"
	"github.com/agenthive/agenthive/internal/scheduler"
	"github.com/agenthive/agenthive/internal/tracker"
)

// Request asks for one run.
type Request struct {
	// RootAgentIDs are the agents to execute; their dependency closure is
	// planned with them.
	RootAgentIDs []string
	// Input is the optional run payload handed to every dispatched agent.
	Input map[string]any
	// MaxConcurrency overrides the configured concurrency ceiling when > 0.
	MaxConcurrency int
	// TimeoutSeconds overrides the default per-agent deadline when > 0.
	// Per-agent declared timeouts still take precedence.
	TimeoutSeconds int
}

// Config holds the orchestrator-wide scheduling defaults.
type Config struct {
	Scheduler scheduler.Config
}

// Orchestrator executes run requests. Safe for concurrent use; per-agent
// memory writes across concurrent runs are serialized by the shared lock
// manager.
type Orchestrator struct {
	cfg      Config
	registry registry.Snapshot
	tracker  tracker.Tracker
	memory   memory.Store
	locks    *memory.AgentLocks
	executor executor.Executor
	bus      *events.Bus
	logger   logging.Logger
}

// New wires an orchestrator. Bus and logger may be nil.
func New(cfg Config, reg registry.Snapshot, tr tracker.Tracker, mem memory.Store, exec executor.Executor, bus *events.Bus, logger logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		tracker:  tr,
		memory:   mem,
		locks:    memory.NewAgentLocks(),
		executor: exec,
		bus:      bus,
		logger:   logging.OrDefault(logger),
	}
}

// Run resolves and executes one run. Plan-construction errors
// (*graph.UnknownAgentError, *graph.CyclicDependencyError) abort before any
// execution record is created; afterwards every planned node ends with a
// terminal status in the report.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*scheduler.Report, error) {
	if len(req.RootAgentIDs) == 0 {
		return nil, fmt.Errorf("run request names no root agents")
	}

	plan, err := graph.Resolve(o.registry, req.RootAgentIDs...)
	if err != nil {
		return nil, fmt.Errorf("resolving plan: %w", err)
	}

	cfg := o.cfg.Scheduler
	if req.MaxConcurrency > 0 {
		cfg.MaxConcurrent = req.MaxConcurrency
	}
	if req.TimeoutSeconds > 0 {
		cfg.DefaultTimeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	runID := uuid.NewString()
	o.logger.Info("run starting", "run_id", runID, "roots", req.RootAgentIDs, "nodes", plan.Size())

	sched := scheduler.New(cfg, scheduler.Deps{
		Registry: o.registry,
		Tracker:  o.tracker,
		Memory:   o.memory,
		Locks:    o.locks,
		Executor: o.executor,
		Bus:      o.bus,
		Logger:   o.logger,
	})
	report, err := sched.Run(ctx, runID, plan, req.Input)
	if report != nil {
		o.logger.Info("run finished", "run_id", runID, "nodes", len(report.Nodes))
	}
	return report, err
}

// History exposes execution records to the surrounding service layer.
func (o *Orchestrator) History(ctx context.Context, f tracker.Filter) ([]tracker.Record, error) {
	return o.tracker.Query(ctx, f)
}
