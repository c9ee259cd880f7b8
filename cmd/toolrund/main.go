// Command toolrund wires the tool execution runtime's components
// together into a standalone process: registry, caching executor, chain
// engine, and lifecycle manager, with a couple of demonstration tools
// registered so the binary is exercisable on its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toolrun/internal/backpressure"
	"toolrun/internal/cache"
	"toolrun/internal/chain"
	"toolrun/internal/config"
	"toolrun/internal/executor"
	"toolrun/internal/lifecycle"
	"toolrun/internal/registry"
	"toolrun/internal/telemetry"
	"toolrun/internal/toolrun"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateWithDefaults(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.Default().WithComponent("toolrund")
	metrics := telemetry.NewMetricsCollector(0)

	reg := registry.NewInMemoryToolRegistry()
	registerDemoTools(reg)

	flowOpts := backpressure.DefaultFlowControllerOptions()
	flowOpts.Name = "base-executor"
	flowOpts.MaxConcurrency = cfg.Execution.MaxConcurrentRuns
	flow := backpressure.NewFlowController(flowOpts)
	defer flow.Stop()

	base := executor.NewBaseExecutor(reg,
		executor.WithFlowControl(flow),
		executor.WithRetry(backpressure.DefaultRetryOptions()),
	)

	store := cache.NewStore(cfg.Cache.MaxSizeBytes, cfg.Cache.CleanupInterval)
	defer store.Close()
	execCache := cache.NewExecutionCache(store, cfg.Cache.DefaultTTL)

	breaker := backpressure.NewCircuitBreaker(backpressure.CircuitBreakerOptions{
		Threshold: cfg.CircuitBreaker.FailureThreshold,
		Timeout:   cfg.CircuitBreaker.OpenTimeout,
	})

	cachingExec := executor.NewCachingExecutor(base, execCache,
		executor.WithCircuitBreaker(breaker),
		executor.WithAuditLogger(toolrun.LogAuditLogger{Logger: logger}),
	)

	engine := chain.NewEngine(cachingExec,
		chain.WithMetrics(metrics),
		chain.WithLogger(logger),
		chain.WithMaxParallelism(cfg.Chain.MaxParallelSubsteps),
	)

	mgr := lifecycle.NewManager(
		lifecycle.WithExecutor(cachingExec),
		lifecycle.WithMaintenanceInterval(cfg.Lifecycle.MaintenanceInterval),
		lifecycle.WithTimeouts(cfg.Lifecycle.InitTimeout, cfg.Lifecycle.ShutdownTimeout),
		lifecycle.WithLogger(logger),
	)
	mgr.OnInit(func(ctx context.Context) error {
		logger.Infof("registered %d tools", len(reg.List(nil)))
		return nil
	})
	mgr.OnMaintenance(func(ctx context.Context) {
		logger.Infof("cache: %s", store.StatsString())
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Initialize(ctx); err != nil {
		logger.Error("initialize failed", err)
		os.Exit(1)
	}

	if err := runDemoChain(ctx, engine); err != nil {
		logger.Error("demo chain failed", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", err)
		os.Exit(1)
	}
}

func registerDemoTools(reg *registry.InMemoryToolRegistry) {
	echo := func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]any{"echo": params["text"]}, nil
	}
	_ = reg.Create("tool.echo", executor.ToolFunc(echo))

	sleepTool := func(ctx context.Context, params map[string]any) (any, error) {
		d, _ := params["millis"].(float64)
		select {
		case <-time.After(time.Duration(d) * time.Millisecond):
			return map[string]any{"slept_ms": d}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	_ = reg.Create("tool.sleep", executor.ToolFunc(sleepTool))
}

func runDemoChain(ctx context.Context, engine *chain.Engine) error {
	c := &chain.Chain{
		ID:   "startup-smoke-check",
		Name: "startup smoke check",
		Steps: []*chain.Step{
			{ID: "ping", Name: "ping", Kind: chain.KindTool, ToolID: "tool.echo", Params: map[string]any{"text": "ready"}},
		},
	}
	result := engine.Execute(ctx, c, nil, toolrun.ExecutionContext{CorrelationID: "startup"}, nil)
	if result.Status != chain.StatusCompleted {
		return fmt.Errorf("smoke check ended in status %s", result.Status)
	}
	return nil
}
