package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/weftlabs/weft/cmd/engine/runtime"
	"github.com/weftlabs/weft/common/bootstrap"
	"github.com/weftlabs/weft/common/nodes"
	"github.com/weftlabs/weft/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap service components
	components, err := bootstrap.Setup(ctx, "node-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup service: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	components.Logger.Info("node-worker starting")

	// Build the handler registry. Approvals resolve over Redis so the
	// gateway's approval endpoint reaches workers on other hosts.
	registry, err := nodes.NewDefaultRegistry(nodes.DefaultRegistryOpts{
		DB:       components.DB,
		Waiter:   nodes.NewRedisApprovals(components.Redis),
		FileRoot: getEnv("WEFT_FILE_ROOT", ""),
		LLM: nodes.LLMOpts{
			APIKey:       getEnv("WEFT_LLM_API_KEY", ""),
			BaseURL:      getEnv("WEFT_LLM_BASE_URL", ""),
			DefaultModel: getEnv("WEFT_LLM_MODEL", ""),
		},
	})
	if err != nil {
		components.Logger.Error("failed to build handler registry", "error", err)
		os.Exit(1)
	}

	// One task worker per configured node type. Types whose handler is
	// not registered (no DB pool, no file root) are skipped so this
	// worker never claims activities it cannot run.
	var served []string
	workers := make([]*runtime.TaskWorker, 0, len(components.Config.Engine.NodeTypes))
	for _, nodeType := range components.Config.Engine.NodeTypes {
		if _, ok := registry.Get(nodeType); !ok {
			components.Logger.Warn("skipping unregistered node type", "node_type", nodeType)
			continue
		}
		workers = append(workers, runtime.NewTaskWorker(runtime.TaskWorkerOpts{
			Redis:    components.Redis,
			Registry: registry,
			Logger:   components.Logger,
			NodeType: nodeType,
		}))
		served = append(served, nodeType)
	}
	if len(workers) == 0 {
		components.Logger.Error("no node types to serve", "configured", components.Config.Engine.NodeTypes)
		os.Exit(1)
	}

	// Start workers
	errChan := make(chan error, len(workers)+1)
	for _, w := range workers {
		w := w
		go func() {
			if err := w.Start(ctx); err != nil && err != context.Canceled {
				errChan <- fmt.Errorf("task worker error: %w", err)
			}
		}()
	}

	// Health server for probes
	health := server.New("node-worker", components.Config.Service.Port, healthMux(served), components.Logger)
	go func() {
		if err := health.Start(ctx); err != nil {
			errChan <- fmt.Errorf("health server error: %w", err)
		}
	}()

	components.Logger.Info("node-worker started successfully", "node_types", strings.Join(served, ","))

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		components.Logger.Error("worker failed", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		components.Logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}

	components.Logger.Info("node-worker shutting down gracefully")
}

func healthMux(served []string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler())
	mux.HandleFunc("/status", server.JSONStatus(func() any {
		return map[string]any{"node_types": served}
	}))
	return mux
}

// getEnv gets an environment variable or returns a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
