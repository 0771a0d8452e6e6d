// Package scheduler drives an execution plan to completion. A single
// coordinating goroutine owns all node state; agent executions run as
// workers in a bounded pool and communicate results back over a channel,
// never touching shared graph state directly.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/agenthive/agenthive/internal/events"
	"github.com/agenthive/agenthive/internal/executor"
	"github.com/agenthive/agenthive/internal/graph"
	"github.com/agenthive/agenthive/internal/logging"
	"github.com/agenthive/agenthive/internal/memory"
	"github.com/agenthive/agenthive/internal/registry"
	"github.com/agenthive/agenthive/internal/tracker"
)

// Status is the per-node state machine:
// blocked -> ready -> running -> {succeeded, failed, timed_out, skipped}.
type Status string

const (
	StatusBlocked   Status = "blocked"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is final for a node.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusSkipped:
		return true
	default:
		return false
	}
}

// Config holds the scheduling knobs. The orchestrator applies per-run
// overrides before constructing the scheduler.
type Config struct {
	// MaxConcurrent is the hard upper bound on simultaneously running
	// nodes. Defaults to 4.
	MaxConcurrent int
	// DefaultTimeout is the per-dispatch deadline unless the agent
	// declares its own. Defaults to 5 minutes.
	DefaultTimeout time.Duration
	// MaxAttempts bounds total attempts per node for transient failures.
	// Defaults to 3. Timeouts are never retried.
	MaxAttempts int
	// RetryInitialInterval/RetryMaxInterval shape the backoff between
	// scheduler-level attempts.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 15 * time.Second
	}
	return c
}

// Deps are the collaborators the scheduler reads and writes. The registry
// is only ever read.
type Deps struct {
	Registry registry.Snapshot
	Tracker  tracker.Tracker
	Memory   memory.Store
	Locks    *memory.AgentLocks
	Executor executor.Executor
	Bus      *events.Bus
	Logger   logging.Logger
}

// NodeResult is the terminal outcome of one planned node.
type NodeResult struct {
	AgentID      string
	Status       Status
	Output       map[string]any
	Error        string
	Attempts     int
	ExecutionIDs []string
}

// Report is the run's final accounting: every planned node with a terminal
// status, so callers can distinguish "ran and failed" from "never ran".
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Nodes      map[string]*NodeResult
}

// Scheduler executes plans. Construct one per run via New.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger logging.Logger
}

// New creates a scheduler. Nil Locks, Bus and Logger are tolerated.
func New(cfg Config, deps Deps) *Scheduler {
	if deps.Locks == nil {
		deps.Locks = memory.NewAgentLocks()
	}
	deps.Logger = logging.OrDefault(deps.Logger)
	return &Scheduler{cfg: cfg.withDefaults(), deps: deps, logger: deps.Logger}
}

// node is the coordinator-owned state for one planned agent. Only the
// coordinator goroutine reads or writes it after initialization.
type node struct {
	agentID      string
	agent        registry.Agent
	status       Status
	requires     map[string]bool
	pendingPreds int // predecessors (any kind) not yet terminal
	skipReason   string
	attempts     int
	retryDelay   *backoff.ExponentialBackOff
	output       map[string]any
	errMsg       string
	executionIDs []string
}

// result is what a worker reports back to the coordinator.
type result struct {
	agentID     string
	executionID string
	status      Status // succeeded, failed or timed_out (attempt-level)
	output      map[string]any
	errMsg      string
	transient   bool
}

// Run drives the plan to completion and returns a report covering every
// planned node. It only returns an error for run-level conditions (context
// cancellation); per-node failures are contained in the report.
func (s *Scheduler) Run(ctx context.Context, runID string, plan *graph.Plan, input map[string]any) (*Report, error) {
	report := &Report{RunID: runID, StartedAt: time.Now().UTC(), Nodes: make(map[string]*NodeResult)}

	nodes := make(map[string]*node, plan.Size())
	dependents := plan.Dependents()
	for _, agentID := range plan.AgentIDs() {
		pn, _ := plan.Node(agentID)
		agent, ok := s.deps.Registry.GetAgent(agentID)
		if !ok {
			// Resolver validated the plan; a vanished agent means the
			// snapshot contract was broken.
			return nil, fmt.Errorf("agent %q missing from registry snapshot", agentID)
		}
		n := &node{
			agentID:      agentID,
			agent:        agent,
			status:       StatusBlocked,
			requires:     make(map[string]bool, len(pn.Requires)),
			pendingPreds: len(pn.Requires) + len(pn.Optional),
			skipReason:   pn.SkipReason,
		}
		for _, pre := range pn.Requires {
			n.requires[pre] = true
		}
		nodes[agentID] = n
	}

	run := &runState{
		scheduler:  s,
		ctx:        ctx,
		runID:      runID,
		input:      input,
		nodes:      nodes,
		dependents: dependents,
		results:    make(chan result, s.cfg.MaxConcurrent),
		requeue:    make(chan string, len(nodes)),
		report:     report,
	}
	run.group, run.workerCtx = errgroup.WithContext(ctx)

	s.publish(events.Event{Type: events.RunStarted, RunID: runID})

	// Seed initial states in layer order: plan-time skips first, then
	// zero-predecessor nodes become ready.
	for _, agentID := range plan.AgentIDs() {
		n := nodes[agentID]
		if n.status.Terminal() {
			continue // already cascaded from an earlier skip
		}
		pn, _ := plan.Node(agentID)
		if pn.Skipped {
			run.finalize(n, StatusSkipped, nil, n.skipReason)
			continue
		}
		if n.pendingPreds == 0 {
			run.markReady(n)
		}
	}

	run.loop()
	_ = run.group.Wait()

	// A cancelled run still reports a terminal status for every node.
	// In-flight workers already wrote their attempt's terminal record, so
	// their results are applied rather than replaced with a second record;
	// only nodes that never dispatched are finalized as skipped.
	if ctx.Err() != nil {
		run.drainResults()
		for _, agentID := range plan.AgentIDs() {
			if n := nodes[agentID]; !n.status.Terminal() {
				run.finalizeCancelled(n)
			}
		}
	}

	report.FinishedAt = time.Now().UTC()
	s.publish(events.Event{Type: events.RunFinished, RunID: runID, Counts: run.progress()})
	return report, ctx.Err()
}

func (s *Scheduler) publish(ev events.Event) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(ev)
	}
}

// runState is the coordinator's mutable view of one run.
type runState struct {
	scheduler  *Scheduler
	ctx        context.Context
	workerCtx  context.Context
	group      *errgroup.Group
	runID      string
	input      map[string]any
	nodes      map[string]*node
	dependents map[string][]string
	ready      []string // FIFO among ready nodes
	running    int
	terminal   int
	results    chan result
	requeue    chan string
	report     *Report
}

// loop is the single coordinating loop. It waits only on worker-slot
// availability and on completion (or retry timers) of running nodes.
func (r *runState) loop() {
	cfg := r.scheduler.cfg
	for r.terminal < len(r.nodes) {
		if r.ctx.Err() != nil {
			return
		}

		// Fill free worker slots, oldest-ready first. Stale queue entries
		// for nodes that moved on are dropped.
		for r.running < cfg.MaxConcurrent && len(r.ready) > 0 {
			agentID := r.ready[0]
			r.ready = r.ready[1:]
			if n := r.nodes[agentID]; n.status == StatusReady {
				r.dispatch(n)
			}
		}

		if r.running == 0 && len(r.ready) == 0 && !r.retryPending() {
			// Nothing running, nothing ready, nothing scheduled to retry:
			// remaining nodes are unreachable. Should not happen with a
			// valid plan; fail them rather than spin.
			for _, n := range r.nodes {
				if !n.status.Terminal() {
					r.finalize(n, StatusFailed, nil, "node never became ready")
				}
			}
			return
		}

		select {
		case res := <-r.results:
			r.running--
			r.handleResult(res)
		case agentID := <-r.requeue:
			n := r.nodes[agentID]
			if !n.status.Terminal() {
				r.markReady(n)
			}
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *runState) retryPending() bool {
	for _, n := range r.nodes {
		if n.status == StatusBlocked && n.attempts > 0 {
			return true
		}
	}
	return false
}

func (r *runState) markReady(n *node) {
	// A node may be reachable twice during seeding when every predecessor
	// was skipped at plan time; only the first transition enqueues it.
	if n.status != StatusBlocked {
		return
	}
	n.status = StatusReady
	r.ready = append(r.ready, n.agentID)
}

// dispatch hands a ready node to a worker. The worker owns the node's
// execution record for the attempt and reports back exactly one result.
func (r *runState) dispatch(n *node) {
	n.status = StatusRunning
	n.attempts++
	r.running++

	attempt := n.attempts
	agent := n.agent
	input := r.input
	r.group.Go(func() error {
		// The channel buffer covers every in-flight worker, so this send
		// never blocks even after the coordinator loop has exited. Results
		// landing after cancellation are drained when the run winds down.
		r.results <- r.scheduler.execute(r.workerCtx, r.runID, agent, attempt, input)
		return nil
	})
}

// handleResult applies a worker's attempt outcome: terminal success or
// failure, a retry for transient errors with attempts left, or a timeout
// (never retried).
func (r *runState) handleResult(res result) {
	n := r.nodes[res.agentID]
	if res.executionID != "" {
		n.executionIDs = append(n.executionIDs, res.executionID)
	}

	switch res.status {
	case StatusSucceeded:
		r.finalize(n, StatusSucceeded, res.output, "")
	case StatusTimedOut:
		r.finalize(n, StatusTimedOut, nil, res.errMsg)
	default:
		cfg := r.scheduler.cfg
		if res.transient && n.attempts < cfg.MaxAttempts && r.ctx.Err() == nil {
			n.status = StatusBlocked
			n.errMsg = res.errMsg
			delay := r.nextRetryDelay(n)
			r.scheduler.logger.Info("retrying node",
				"run_id", r.runID, "agent_id", n.agentID, "attempt", n.attempts, "delay", delay)
			r.scheduler.publish(events.Event{
				Type: events.NodeRetrying, RunID: r.runID, AgentID: n.agentID,
				Attempt: n.attempts, Err: res.errMsg,
			})
			agentID := n.agentID
			requeue := r.requeue
			time.AfterFunc(delay, func() { requeue <- agentID })
			return
		}
		r.finalize(n, StatusFailed, nil, res.errMsg)
	}
}

func (r *runState) nextRetryDelay(n *node) time.Duration {
	if n.retryDelay == nil {
		cfg := r.scheduler.cfg
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = cfg.RetryInitialInterval
		policy.MaxInterval = cfg.RetryMaxInterval
		policy.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts
		n.retryDelay = policy
	}
	return n.retryDelay.NextBackOff()
}

// finalize moves a node to a terminal status, records skips that were never
// dispatched, publishes the lifecycle event and unblocks dependents. The
// worker has already durably written terminal records for dispatched
// attempts, so history is staged before dependents observe the result.
func (r *runState) finalize(n *node, status Status, output map[string]any, errMsg string) {
	n.status = status
	n.output = output
	n.errMsg = errMsg
	r.terminal++

	if status == StatusSkipped {
		// History survives run cancellation: the tracker write must not be
		// aborted by the run context.
		recordCtx := context.WithoutCancel(r.ctx)
		if execID, err := r.scheduler.deps.Tracker.RecordSkipped(recordCtx, r.runID, n.agentID, errMsg); err == nil {
			n.executionIDs = append(n.executionIDs, execID)
		} else {
			r.scheduler.logger.Error("recording skipped node failed",
				"run_id", r.runID, "agent_id", n.agentID, "error", err)
		}
	}

	r.report.Nodes[n.agentID] = &NodeResult{
		AgentID:      n.agentID,
		Status:       status,
		Output:       output,
		Error:        errMsg,
		Attempts:     n.attempts,
		ExecutionIDs: append([]string(nil), n.executionIDs...),
	}

	r.scheduler.publish(events.Event{
		Type: eventType(status), RunID: r.runID, AgentID: n.agentID,
		Attempt: n.attempts, Err: errMsg,
	})
	r.scheduler.publish(events.Event{Type: events.RunProgress, RunID: r.runID, Counts: r.progress()})

	r.unblockDependents(n)
}

// drainResults applies outcomes that arrived after the loop stopped
// consuming. All workers have exited by now, so this empties the buffer.
// Retries are off under a cancelled context, so every drained result
// finalizes its node.
func (r *runState) drainResults() {
	for {
		select {
		case res := <-r.results:
			r.running--
			if !r.nodes[res.agentID].status.Terminal() {
				r.handleResult(res)
			}
		default:
			return
		}
	}
}

// finalizeCancelled marks a node the run never finished as skipped. Used
// only when the run context is cancelled.
func (r *runState) finalizeCancelled(n *node) {
	r.finalize(n, StatusSkipped, nil, "run cancelled")
}

// unblockDependents is the only place dependency state advances: a node's
// terminal status is observed here, strictly after its tracker record was
// written, before any dependent becomes ready.
func (r *runState) unblockDependents(n *node) {
	for _, depID := range r.dependents[n.agentID] {
		d := r.nodes[depID]
		if d == nil || d.status.Terminal() {
			continue
		}
		d.pendingPreds--

		if d.requires[n.agentID] && n.status != StatusSucceeded {
			// A required prerequisite did not succeed: the dependent is
			// skipped, never silently succeeded. Optional prerequisites
			// order execution but never block.
			r.finalize(d, StatusSkipped, nil,
				fmt.Sprintf("required dependency %s ended %s", n.agentID, n.status))
			continue
		}
		if d.pendingPreds == 0 && d.status == StatusBlocked && d.attempts == 0 {
			r.markReady(d)
		}
	}
}

func (r *runState) progress() *events.Progress {
	p := &events.Progress{Total: len(r.nodes)}
	for _, n := range r.nodes {
		switch n.status {
		case StatusRunning:
			p.Running++
		case StatusSucceeded:
			p.Succeeded++
		case StatusFailed:
			p.Failed++
		case StatusTimedOut:
			p.TimedOut++
		case StatusSkipped:
			p.Skipped++
		default:
			p.Pending++
		}
	}
	return p
}

func eventType(status Status) events.Type {
	switch status {
	case StatusSucceeded:
		return events.NodeSucceeded
	case StatusTimedOut:
		return events.NodeTimedOut
	case StatusSkipped:
		return events.NodeSkipped
	default:
		return events.NodeFailed
	}
}

// execute runs one dispatch attempt: record start, hydrate memory, run the
// unit of work under its deadline, stage the terminal record, and apply
// memory writes only on success. All failures are converted into results;
// the coordinator never sees a worker panic an error through.
func (s *Scheduler) execute(ctx context.Context, runID string, agent registry.Agent, attempt int, input map[string]any) result {
	execID, err := s.deps.Tracker.RecordStart(ctx, runID, agent.ID, attempt, input)
	if err != nil {
		return result{agentID: agent.ID, status: StatusFailed,
			errMsg: fmt.Sprintf("recording execution start: %v", err)}
	}

	s.publish(events.Event{Type: events.NodeStarted, RunID: runID, AgentID: agent.ID,
		ExecutionID: execID, Attempt: attempt})

	// Serializes memory access for this agent against concurrent runs.
	s.deps.Locks.Lock(agent.ID)
	defer s.deps.Locks.Unlock(agent.ID)

	res := result{agentID: agent.ID, executionID: execID}

	hydrated, err := s.hydrateMemory(ctx, agent.ID)
	if err != nil {
		res.status = StatusFailed
		res.errMsg = fmt.Sprintf("hydrating memory: %v", err)
		res.transient = true
		s.stageTerminal(ctx, execID, tracker.StatusFailed, nil, res.errMsg)
		return res
	}

	in := executor.Input{RunID: runID, Payload: input, Memory: hydrated}
	if err := s.deps.Executor.ValidateInput(agent, in); err != nil {
		res.status = StatusFailed
		res.errMsg = fmt.Sprintf("input validation failed: %v", err)
		s.stageTerminal(ctx, execID, tracker.StatusFailed, nil, res.errMsg)
		return res
	}

	timeout := s.cfg.DefaultTimeout
	if agent.TimeoutSeconds > 0 {
		timeout = time.Duration(agent.TimeoutSeconds) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Cancellation of the unit of work is cooperative, but the deadline is
	// not: the worker stops waiting when execCtx ends even if RunAgent never
	// returns. A late result lands in the buffered channel and is dropped;
	// only this worker writes the attempt's terminal record and memory.
	type attemptOutcome struct {
		out executor.Output
		err error
	}
	outcomeCh := make(chan attemptOutcome, 1)
	go func() {
		out, err := s.deps.Executor.RunAgent(execCtx, agent, in)
		outcomeCh <- attemptOutcome{out: out, err: err}
	}()

	var out executor.Output
	select {
	case outcome := <-outcomeCh:
		out, err = outcome.out, outcome.err
	case <-execCtx.Done():
		err = execCtx.Err()
	}

	switch {
	case err == nil:
		res.status = StatusSucceeded
		res.output = out.Payload
		s.stageTerminal(ctx, execID, tracker.StatusSucceeded, out.Payload, "")
		s.applyMemoryWrites(ctx, agent.ID, out.MemoryWrites)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// The node's own deadline fired, not the run context.
		res.status = StatusTimedOut
		res.errMsg = fmt.Sprintf("deadline of %s exceeded", timeout)
		s.stageTerminal(ctx, execID, tracker.StatusTimedOut, nil, res.errMsg)
	default:
		res.status = StatusFailed
		res.errMsg = err.Error()
		res.transient = executor.IsTransient(err)
		s.stageTerminal(ctx, execID, tracker.StatusFailed, nil, res.errMsg)
	}
	return res
}

func (s *Scheduler) hydrateMemory(ctx context.Context, agentID string) (map[string]any, error) {
	entries, err := s.deps.Memory.List(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

// applyMemoryWrites persists an agent's declared memory delta after a
// successful result. Failures are logged, not fatal to the node.
func (s *Scheduler) applyMemoryWrites(ctx context.Context, agentID string, writes map[string]any) {
	for key, value := range writes {
		if err := s.deps.Memory.Set(ctx, agentID, key, value); err != nil {
			s.logger.Error("memory write failed", "agent_id", agentID, "key", key, "error", err)
		}
	}
}

// stageTerminal durably writes an attempt's terminal record. The result is
// only surfaced to the coordinator afterwards, so dependents never observe
// an unrecorded outcome.
func (s *Scheduler) stageTerminal(ctx context.Context, execID string, status tracker.Status, output map[string]any, errMsg string) {
	// Detached from the run context so cancellation cannot lose history.
	if err := s.deps.Tracker.RecordTerminal(context.WithoutCancel(ctx), execID, status, output, errMsg); err != nil {
		s.logger.Error("terminal record write failed", "execution_id", execID, "error", err)
	}
}
