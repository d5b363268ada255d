package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/weftlabs/weft/cmd/engine/consumer"
	"github.com/weftlabs/weft/cmd/engine/events"
	"github.com/weftlabs/weft/cmd/engine/executor"
	"github.com/weftlabs/weft/cmd/engine/governor"
	"github.com/weftlabs/weft/cmd/engine/lifecycle"
	"github.com/weftlabs/weft/cmd/engine/metrics"
	"github.com/weftlabs/weft/cmd/engine/runtime"
	"github.com/weftlabs/weft/cmd/engine/supervisor"
	"github.com/weftlabs/weft/common/bootstrap"
	"github.com/weftlabs/weft/common/clients"
	"github.com/weftlabs/weft/common/config"
	"github.com/weftlabs/weft/common/nodes"
	"github.com/weftlabs/weft/common/repository"
	"github.com/weftlabs/weft/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	components.Logger.Info("engine starting",
		"runtime", components.Config.Engine.Runtime)

	engine, err := createEngineComponents(components)
	if err != nil {
		components.Logger.Error("failed to create engine components", "error", err)
		os.Exit(1)
	}

	errChan := startComponents(ctx, engine, components)

	components.Logger.Info("engine started successfully",
		"components", []string{"submission_consumer", "signal_router", "status_writer", "event_log_writer", "janitor"})

	waitForShutdown(ctx, cancel, errChan, components)

	components.Logger.Info("engine shutting down gracefully")
}

// engineComponents holds every long-running piece of the engine.
// completions is nil in inline mode, where activity results never
// leave the process.
type engineComponents struct {
	submissions  *executor.Consumer
	signals      *executor.SignalRouter
	completions  *runtime.Redis
	statusWriter *consumer.StatusConsumer
	eventWriter  *consumer.EventLogConsumer
	janitor      *supervisor.Janitor
	health       *server.Server
}

// createEngineComponents wires the orchestrator, its runtime, and the
// stream consumers that persist what it emits.
func createEngineComponents(components *bootstrap.Components) (*engineComponents, error) {
	cfg := components.Config

	cas := clients.NewRedisCASClient(components.Redis, 24*time.Hour, components.Logger)
	status := lifecycle.NewStatusManager(components.Redis, components.Logger).
		WithResultOffload(cas, cfg.Engine.ResultOffloadBytes)

	emitters := []events.Emitter{
		events.NewRedisEmitter(events.RedisEmitterOpts{Redis: components.Redis, Logger: components.Logger}),
		events.NewLogEmitter(components.Logger),
	}
	if cfg.Telemetry.EnableTracing {
		emitters = append(emitters, events.NewSpanEmitter(otel.Tracer("weft.engine")))
	}

	rt, approvals, completions, err := buildRuntime(components)
	if err != nil {
		return nil, err
	}

	orch := executor.New(executor.Opts{
		Runtime: rt,
		Emitter: events.NewMultiEmitter(emitters...),
		Metrics: metrics.New(nil),
		Logger:  components.Logger,
	})

	signals := executor.NewSignalRouter(executor.SignalRouterOpts{
		Redis:     components.Redis,
		Approvals: approvals,
		Logger:    components.Logger,
	})

	submissions := executor.NewConsumer(executor.ConsumerOpts{
		Redis:        components.Redis,
		Orchestrator: orch,
		Status:       status,
		Signals:      signals,
		Defaults:     platformDefaults(cfg),
		Logger:       components.Logger,
	})

	execRepo := repository.NewExecutionRepository(components.DB)
	eventRepo := repository.NewEventRepository(components.DB)

	statusWriter := consumer.NewStatusConsumer(consumer.StatusConsumerOpts{
		Redis:      components.Redis,
		Executions: execRepo,
		CAS:        cas,
		Logger:     components.Logger,
	})
	eventWriter := consumer.NewEventLogConsumer(consumer.EventLogConsumerOpts{
		Redis:      components.Redis,
		Events:     eventRepo,
		Executions: execRepo,
		Logger:     components.Logger,
	})

	janitor := supervisor.NewJanitor(components.Redis, execRepo, components.Logger).
		WithCheckInterval(cfg.Engine.SupervisorInterval).
		WithTimeout(cfg.Engine.HangingExecTimeout)

	health := server.New("engine", cfg.Service.Port, healthMux(components, signals), components.Logger)

	return &engineComponents{
		submissions:  submissions,
		signals:      signals,
		completions:  completions,
		statusWriter: statusWriter,
		eventWriter:  eventWriter,
		janitor:      janitor,
		health:       health,
	}, nil
}

// buildRuntime selects the activity runtime. Redis mode dispatches
// node work to the worker fleet over task streams; inline mode runs
// handlers in-process for single-binary deployments.
func buildRuntime(components *bootstrap.Components) (runtime.Runtime, executor.ApprovalSink, *runtime.Redis, error) {
	switch mode := components.Config.Engine.Runtime; mode {
	case "redis":
		rt := runtime.NewRedis(runtime.RedisOpts{
			Redis:  components.Redis,
			Logger: components.Logger,
		})
		return rt, nodes.NewRedisApprovals(components.Redis), rt, nil
	case "inline":
		hub := nodes.NewApprovalHub()
		reg, err := nodes.NewDefaultRegistry(nodes.DefaultRegistryOpts{
			DB:       components.DB,
			Waiter:   hub,
			FileRoot: getEnv("WEFT_FILE_ROOT", ""),
			LLM: nodes.LLMOpts{
				APIKey:       getEnv("WEFT_LLM_API_KEY", ""),
				BaseURL:      getEnv("WEFT_LLM_BASE_URL", ""),
				DefaultModel: getEnv("WEFT_LLM_MODEL", ""),
			},
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to build handler registry: %w", err)
		}
		rt := runtime.NewInline(runtime.InlineOpts{Registry: reg})
		return rt, executor.HubSink{Hub: hub}, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown runtime mode %q", mode)
	}
}

// platformDefaults maps deployment config onto the run spec knobs a
// submission may leave unset.
func platformDefaults(cfg *config.Config) executor.RunSpec {
	return executor.RunSpec{
		Timeout:           cfg.Engine.ExecutionTimeout,
		MaxConcurrent:     cfg.Engine.MaxConcurrentNodes,
		MaxLoopIterations: cfg.Engine.MaxLoopIterations,
		Limits: governor.Limits{
			MaxNodeOutputBytes: int64(cfg.Engine.MaxNodeOutputBytes),
			MaxContextBytes:    int64(cfg.Engine.MaxContextBytes),
		},
	}
}

// healthMux exposes liveness, a dependency check, and a small status
// summary for operators.
func healthMux(components *bootstrap.Components, signals *executor.SignalRouter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler())
	mux.HandleFunc("/health/deep", server.DeepHealthHandler(components.Health))
	mux.HandleFunc("/status", server.JSONStatus(func() any {
		return map[string]any{
			"runtime":           components.Config.Engine.Runtime,
			"active_executions": signals.ActiveCount(),
		}
	}))
	return mux
}

// startComponents starts every engine component in its own goroutine.
func startComponents(ctx context.Context, engine *engineComponents, components *bootstrap.Components) chan error {
	errChan := make(chan error, 7)

	go func() {
		components.Logger.Info("starting submission consumer")
		if err := engine.submissions.Start(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("submission consumer error: %w", err)
		}
	}()

	go func() {
		components.Logger.Info("starting signal router")
		if err := engine.signals.Start(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("signal router error: %w", err)
		}
	}()

	if engine.completions != nil {
		go func() {
			components.Logger.Info("starting completion router")
			if err := engine.completions.Start(ctx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("completion router error: %w", err)
			}
		}()
	}

	go func() {
		components.Logger.Info("starting status writer")
		if err := engine.statusWriter.Start(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("status writer error: %w", err)
		}
	}()

	go func() {
		components.Logger.Info("starting event log writer")
		if err := engine.eventWriter.Start(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("event log writer error: %w", err)
		}
	}()

	go func() {
		components.Logger.Info("starting janitor")
		if err := engine.janitor.Start(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("janitor error: %w", err)
		}
	}()

	go func() {
		if err := engine.health.Start(ctx); err != nil {
			errChan <- fmt.Errorf("health server error: %w", err)
		}
	}()

	return errChan
}

// waitForShutdown waits for either a component error or a shutdown
// signal.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, errChan chan error, components *bootstrap.Components) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		components.Logger.Error("component failed", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		components.Logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}
}

// getEnv gets an environment variable or returns a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
