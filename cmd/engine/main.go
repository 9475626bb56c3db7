package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"campaignflow/internal/adapter/agent"
	"campaignflow/internal/adapter/tool"
	"campaignflow/internal/domain"
	"campaignflow/internal/infra/config"
	"campaignflow/internal/infra/logger"
	"campaignflow/internal/infra/tracer"
	"campaignflow/internal/usecase/eventbus"
	"campaignflow/internal/usecase/pipeline"
	"campaignflow/internal/usecase/router"
	"campaignflow/internal/usecase/schedule"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] == "--help" || os.Args[1] == "-h" || os.Args[1] == "help" {
		showUsage()
		return
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`campaignflow - marketing workflow orchestration engine

USAGE:
    campaignflow COMMAND [FLAGS]

COMMANDS:
    run <workflow-id>    Run a workflow from the workflow directory
    route <task...>      Classify a task and dispatch it to the worker chain
    workflows            List loaded workflow definitions
    workers              List the registered worker pool
    serve                Start the scheduler and run until interrupted
    summary              Show per-worker interaction counts

FLAGS:
    -config <path>       Config file (default: campaignflow.yaml)
    -trigger <json>      Trigger payload for 'run' (default: {})`)
}

// app bundles the wired-up components shared by every subcommand.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	bus       *eventbus.Bus
	catalog   *pipeline.Catalog
	router    *router.Router
	scheduler *schedule.Scheduler
	shutdown  func(context.Context) error
}

func run(command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "campaignflow.yaml", "config file path")
	triggerJSON := fs.String("trigger", "{}", "trigger payload as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()

	switch command {
	case "run":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: campaignflow run <workflow-id>")
		}
		return a.runWorkflow(ctx, fs.Arg(0), *triggerJSON)
	case "route":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: campaignflow route <task...>")
		}
		return a.routeTask(ctx, strings.Join(fs.Args(), " "))
	case "workflows":
		return a.listWorkflows()
	case "workers":
		return a.listWorkers()
	case "serve":
		return a.serve(ctx)
	case "summary":
		return a.showSummary()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	shutdownTracer, err := tracer.Setup(context.Background(), cfg.Tracer)
	if err != nil {
		closeLog()
		return nil, err
	}

	bus := eventbus.New(log)

	agents := buildAgentStack(cfg.Agents, log)
	tools := buildTools(log)

	engine := pipeline.New(
		domain.Invokers{Tools: tools, Agents: agents},
		pipeline.Config{MaxDepth: cfg.Engine.MaxDepth, MaxRunning: cfg.Engine.MaxRunning},
		bus,
		log,
	)
	catalog := pipeline.NewCatalog(engine)
	if err := catalog.LoadDir(cfg.WorkflowDir); err != nil {
		closeLog()
		return nil, err
	}

	registry := router.NewRegistry(log)
	for _, w := range agent.MarketingWorkers(agents) {
		if err := registry.Register(w); err != nil {
			closeLog()
			return nil, err
		}
	}
	rt := router.New(registry, router.NewClassifier(classifierTables(cfg.Router)), router.Policy{}, bus, log)

	scheduler := schedule.New(catalog, bus, log)
	for _, sc := range cfg.Schedules {
		if _, err := scheduler.Add(schedule.Entry{
			Name:       sc.Name,
			WorkflowID: sc.Workflow,
			Cron:       sc.Cron,
			Trigger:    sc.Trigger,
			Enabled:    sc.Enabled,
		}); err != nil {
			log.Warn("skip invalid schedule", "workflow", sc.Workflow, "error", err)
		}
	}

	return &app{
		cfg:       cfg,
		logger:    log,
		bus:       bus,
		catalog:   catalog,
		router:    rt,
		scheduler: scheduler,
		shutdown: func(ctx context.Context) error {
			bus.Close()
			if err := shutdownTracer(ctx); err != nil {
				return err
			}
			return closeLog()
		},
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

// buildAgentStack assembles the agent invoker: templated demo agents wrapped
// with the configured rate limiter and circuit breaker.
func buildAgentStack(cfg config.AgentsConfig, log *slog.Logger) domain.AgentInvoker {
	registry := agent.NewRegistry(log)
	for _, id := range []string{
		"researcher", "analyst", "copywriter", "optimizer", "reviewer", "generalist",
		"seo-specialist", "social-media-manager", "email-marketer", "brand-strategist",
	} {
		tmpl, err := agent.NewTemplated(id, "[{{.Agent}}] {{.Prompt}}")
		if err != nil {
			log.Warn("skip agent", "agent", id, "error", err)
			continue
		}
		if err := registry.Register(tmpl); err != nil {
			log.Warn("skip agent", "agent", id, "error", err)
		}
	}

	var invoker domain.AgentInvoker = registry
	invoker = agent.NewRateLimitedInvoker(invoker, agent.RateLimitConfig{
		RequestsPerMin: cfg.RateLimit.RequestsPerMin,
		BurstSize:      cfg.RateLimit.BurstSize,
	})
	if cfg.Breaker.Enabled {
		invoker = agent.NewCircuitBreakerInvoker(invoker, agent.CircuitBreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     parseDuration(cfg.Breaker.Timeout),
			Interval:    parseDuration(cfg.Breaker.Interval),
		}, log)
	}
	return invoker
}

// buildTools registers the built-in utility tools workflow steps can call.
func buildTools(log *slog.Logger) *tool.Registry {
	registry := tool.NewRegistry(log)
	register := func(t tool.Tool) {
		if err := registry.Register(t); err != nil {
			log.Warn("skip tool", "tool", t.Name(), "error", err)
		}
	}

	register(tool.Func{
		ToolName: "echo",
		Desc:     "Return the input unchanged.",
		Fn: func(_ context.Context, input any) (any, error) {
			return input, nil
		},
	})
	register(tool.Func{
		ToolName: "timestamp",
		Desc:     "Attach the current UTC timestamp to the input.",
		Fn: func(_ context.Context, input any) (any, error) {
			return map[string]any{"input": input, "at": time.Now().UTC().Format(time.RFC3339)}, nil
		},
	})
	return registry
}

func classifierTables(cfg config.RouterConfig) router.KeywordTables {
	tables := router.KeywordTables{
		Complexity:    cfg.ComplexityIndicators,
		Urgency:       cfg.UrgencyIndicators,
		DefaultDomain: cfg.DefaultDomain,
	}
	for _, d := range cfg.Domains {
		tables.Domains = append(tables.Domains, router.DomainKeywords{
			Domain:   d.Domain,
			Keywords: d.Keywords,
		})
	}
	return tables
}

func (a *app) runWorkflow(ctx context.Context, workflowID, triggerJSON string) error {
	var trigger any
	if err := json.Unmarshal([]byte(triggerJSON), &trigger); err != nil {
		return fmt.Errorf("parse trigger: %w", err)
	}

	result, err := a.catalog.Run(ctx, workflowID, trigger)
	if err != nil {
		if result != nil && result.Context != nil {
			failedStep := ""
			if result.Context.Failure != nil {
				failedStep = result.Context.Failure.StepID
			}
			printJSON(map[string]any{
				"run_id":  result.Context.RunID,
				"status":  result.Context.Status,
				"failure": failedStep,
				"outputs": result.Context.Outputs.Map(),
			})
		}
		return err
	}

	printJSON(map[string]any{
		"run_id":  result.Context.RunID,
		"status":  result.Context.Status,
		"output":  result.Output,
		"skipped": result.Context.Skipped,
	})
	return nil
}

func (a *app) routeTask(ctx context.Context, task string) error {
	decision := a.router.Route(ctx, task)
	result, err := a.router.Dispatch(ctx, decision, task, nil)
	if err != nil {
		return err
	}

	out := map[string]any{
		"decision": decision,
		"outputs":  result.Outputs,
		"primary":  result.Primary,
	}
	if result.Partial {
		out["partial"] = true
		out["error"] = result.Err.Error()
	}
	printJSON(out)
	return nil
}

func (a *app) listWorkflows() error {
	for _, spec := range a.catalog.List() {
		fmt.Printf("%-30s %d steps  %s\n", spec.ID, len(spec.Steps), spec.Description)
	}
	return nil
}

func (a *app) listWorkers() error {
	for _, w := range agent.MarketingWorkers(nil) {
		fmt.Printf("%-22s %v\n", w.ID, w.CapabilityTags)
	}
	return nil
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.scheduler.Start()
	defer a.scheduler.Stop()

	a.logger.Info("scheduler running", "schedules", len(a.cfg.Schedules))
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

func (a *app) showSummary() error {
	for _, s := range a.router.Summary() {
		fmt.Printf("%-22s %4d calls  last %s\n", s.WorkerID, s.Count, s.LastAt.Format(time.RFC3339))
	}
	return nil
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func printJSON(v any) {
	if data, err := json.MarshalIndent(v, "", "  "); err == nil {
		fmt.Println(string(data))
	}
}
