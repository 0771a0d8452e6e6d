package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/agenthive/agenthive/internal/config"
	"github.com/agenthive/agenthive/internal/events"
	"github.com/agenthive/agenthive/internal/executor"
	anthropicexec "github.com/agenthive/agenthive/internal/executor/anthropic"
	openaiexec "github.com/agenthive/agenthive/internal/executor/openai"
	"github.com/agenthive/agenthive/internal/logging"
	"github.com/agenthive/agenthive/internal/memory"
	"github.com/agenthive/agenthive/internal/orchestrator"
	"github.com/agenthive/agenthive/internal/registry"
	"github.com/agenthive/agenthive/internal/scheduler"
	"github.com/agenthive/agenthive/internal/tracker"
)

func main() {
	var (
		globalPath  = flag.String("global-config", "", "global config path (default ~/.agenthive/config.json)")
		projectPath = flag.String("config", "", "project config path (default .agenthive/config.json)")
		runAgents   = flag.String("run", "", "comma-separated agent names to run (with their dependency closures)")
		inputJSON   = flag.String("input", "", "run input as a JSON object")
		concurrency = flag.Int("concurrency", 0, "override max concurrent agents")
		timeoutSecs = flag.Int("timeout", 0, "override default per-agent timeout in seconds")
		historyRun  = flag.String("history", "", "print execution records for a run id and exit")
		verbose     = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	// Signal-aware context for graceful shutdown; in-flight agents are
	// cancelled cooperatively and the run reports every node.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := logging.NewTextLogger(os.Stderr, level)

	if err := run(ctx, logger, *globalPath, *projectPath, *runAgents, *inputJSON, *concurrency, *timeoutSecs, *historyRun); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger logging.Logger, globalPath, projectPath, runAgents, inputJSON string, concurrency, timeoutSecs int, historyRun string) error {
	var cfg *config.Config
	var err error
	if globalPath == "" && projectPath == "" {
		cfg, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(globalPath, projectPath)
	}
	if err != nil {
		return err
	}

	tr, err := openTracker(ctx, cfg.Storage.TrackerPath)
	if err != nil {
		return err
	}
	defer tr.Close()

	if historyRun != "" {
		return printHistory(ctx, tr, historyRun)
	}
	if runAgents == "" {
		return fmt.Errorf("nothing to do: pass -run agent[,agent...] or -history run-id")
	}

	mem, err := openMemory(ctx, cfg.Storage.MemoryPath)
	if err != nil {
		return err
	}
	defer mem.Close()

	reg := registry.New(logger)
	if err := populateRegistry(reg, cfg); err != nil {
		return err
	}

	exec, err := buildExecutor(cfg, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()
	done := make(chan struct{})
	go printEvents(bus.Subscribe(0), done)

	orc := orchestrator.New(orchestrator.Config{
		Scheduler: schedulerConfig(cfg.Scheduler),
	}, reg, tr, mem, exec, bus, logger)

	roots, err := resolveNames(reg, strings.Split(runAgents, ","))
	if err != nil {
		return err
	}

	var input map[string]any
	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
			return fmt.Errorf("parsing -input: %w", err)
		}
	}

	report, runErr := orc.Run(ctx, orchestrator.Request{
		RootAgentIDs:   roots,
		Input:          input,
		MaxConcurrency: concurrency,
		TimeoutSeconds: timeoutSecs,
	})

	bus.Close()
	<-done

	if report != nil {
		printReport(reg, report)
	}
	if runErr != nil {
		return runErr
	}
	for _, n := range report.Nodes {
		if n.Status != scheduler.StatusSucceeded {
			return fmt.Errorf("run %s finished with non-succeeded nodes", report.RunID)
		}
	}
	return nil
}

func schedulerConfig(sc config.SchedulerConfig) scheduler.Config {
	return scheduler.Config{
		MaxConcurrent:        sc.MaxConcurrentAgents,
		DefaultTimeout:       secondsToDuration(sc.DefaultTimeoutSeconds),
		MaxAttempts:          sc.MaxAttempts,
		RetryInitialInterval: millisToDuration(sc.RetryInitialMillis),
		RetryMaxInterval:     millisToDuration(sc.RetryMaxMillis),
	}
}

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

func millisToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func openTracker(ctx context.Context, path string) (tracker.Tracker, error) {
	if path == "" {
		return tracker.NewInMemoryTracker(), nil
	}
	return tracker.NewSQLiteTracker(ctx, path)
}

func openMemory(ctx context.Context, path string) (memory.Store, error) {
	if path == "" {
		return memory.NewInMemoryStore(), nil
	}
	return memory.NewSQLiteStore(ctx, path)
}

// populateRegistry registers the declared agents first, then their edges,
// so forward references between agents resolve regardless of declaration
// order.
func populateRegistry(reg *registry.Registry, cfg *config.Config) error {
	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ac := cfg.Agents[name]
		agentType := ac.Type
		if agentType == "" {
			agentType = "llm"
		}
		raw := make(map[string]any, len(ac.Config)+1)
		for k, v := range ac.Config {
			raw[k] = v
		}
		if ac.Provider != "" {
			raw["provider"] = ac.Provider
		}
		agentCfg, err := registry.ConfigFromAny(raw)
		if err != nil {
			return fmt.Errorf("agent %s: %w", name, err)
		}
		agent, err := reg.Register(registry.Agent{
			Name:           name,
			Description:    ac.Description,
			Type:           agentType,
			Config:         agentCfg,
			TimeoutSeconds: ac.TimeoutSeconds,
		})
		if err != nil {
			return fmt.Errorf("registering agent %s: %w", name, err)
		}
		if ac.Disabled {
			if err := reg.SetStatus(agent.ID, registry.StatusDisabled); err != nil {
				return err
			}
		}
	}

	for _, name := range names {
		agent, _ := reg.GetByName(name)
		for _, dep := range cfg.Agents[name].DependsOn {
			pre, ok := reg.GetByName(dep.Agent)
			if !ok {
				return fmt.Errorf("agent %s depends on unknown agent %s", name, dep.Agent)
			}
			kind := registry.DependencyRequired
			if dep.Kind == string(registry.DependencyOptional) {
				kind = registry.DependencyOptional
			}
			if err := reg.AddDependency(agent.ID, pre.ID, kind); err != nil {
				return fmt.Errorf("dependency %s -> %s: %w", name, dep.Agent, err)
			}
		}
	}
	return nil
}

// buildExecutor wires one executor per configured provider behind a router
// and wraps the whole thing with retry and circuit-breaker middleware.
func buildExecutor(cfg *config.Config, logger logging.Logger) (executor.Executor, error) {
	router := executor.NewRouter(nil)
	for name, pc := range cfg.Providers {
		switch pc.Type {
		case "anthropic":
			router.Route(name, anthropicexec.NewExecutor(func(o *anthropicexec.Options) {
				if pc.Model != "" {
					o.Model = anthropicexec.Model(pc.Model)
				}
				o.APIKey = pc.APIKey
			}))
		case "openai":
			router.Route(name, openaiexec.NewExecutor(func(o *openaiexec.Options) {
				if pc.Model != "" {
					o.Model = pc.Model
				}
			}))
		default:
			return nil, fmt.Errorf("provider %s: unknown type %q", name, pc.Type)
		}
	}
	return executor.NewResilient(router, executor.DefaultRetryConfig(), logger), nil
}

func resolveNames(reg *registry.Registry, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		agent, ok := reg.GetByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown agent %q", name)
		}
		ids = append(ids, agent.ID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no agents named")
	}
	return ids, nil
}

func printEvents(ch <-chan events.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range ch {
		switch ev.Type {
		case events.NodeStarted:
			fmt.Printf("  > %s (attempt %d)\n", ev.AgentID, ev.Attempt)
		case events.NodeRetrying:
			fmt.Printf("  ~ %s retrying after: %s\n", ev.AgentID, ev.Err)
		case events.NodeSucceeded, events.NodeFailed, events.NodeTimedOut, events.NodeSkipped:
			suffix := ""
			if ev.Err != "" {
				suffix = ": " + ev.Err
			}
			fmt.Printf("  %s %s%s\n", string(ev.Type)[len("node."):], ev.AgentID, suffix)
		case events.RunProgress:
			if ev.Counts != nil {
				c := ev.Counts
				fmt.Printf("  [%d/%d done] running=%d failed=%d skipped=%d\n",
					c.Succeeded+c.Failed+c.TimedOut+c.Skipped, c.Total, c.Running, c.Failed+c.TimedOut, c.Skipped)
			}
		}
	}
}

func printReport(reg *registry.Registry, report *scheduler.Report) {
	fmt.Printf("\nRun %s (%s)\n", report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	ids := make([]string, 0, len(report.Nodes))
	for id := range report.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := report.Nodes[id]
		name := id
		if agent, ok := reg.GetAgent(id); ok {
			name = agent.Name
		}
		line := fmt.Sprintf("  %-12s %s (attempts: %d)", n.Status, name, n.Attempts)
		if n.Error != "" {
			line += " - " + n.Error
		}
		fmt.Println(line)
	}
}

func printHistory(ctx context.Context, tr tracker.Tracker, runID string) error {
	records, err := tr.Query(ctx, tracker.Filter{RunID: runID})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records for run %s", runID)
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s  %-10s agent=%s attempt=%d", rec.StartedAt.Format("15:04:05.000"), rec.Status, rec.AgentID, rec.Attempt)
		if rec.DurationMS > 0 {
			line += fmt.Sprintf(" duration=%dms", rec.DurationMS)
		}
		if rec.Error != "" {
			line += " error=" + rec.Error
		}
		fmt.Println(line)
	}
	return nil
}
