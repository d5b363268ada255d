package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/weftlabs/weft/common/bootstrap"
	"github.com/weftlabs/weft/common/clients"
	"github.com/weftlabs/weft/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "fanout",
		bootstrap.WithoutDB(),
		bootstrap.WithoutCache(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	logger := components.Logger

	hub := NewHub(logger)
	go hub.Run(ctx)

	subscriber := NewSubscriber(components.RedisRaw, hub, logger)

	errChan := make(chan error, 2)
	go func() {
		if err := subscriber.Start(ctx); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("subscriber failed: %w", err)
		}
	}()

	gateway := clients.NewGatewayClient(getEnv("WEFT_GATEWAY_URL", "http://localhost:8080"), logger)
	ws := NewServer(hub, gateway, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.HandleWebSocket)
	mux.HandleFunc("/api/approval", ws.HandleApproval)
	mux.HandleFunc("/health", server.HealthHandler())
	mux.HandleFunc("/status", server.JSONStatus(func() any {
		return map[string]any{
			"connections": hub.ConnectionCount(),
			"executions":  hub.ExecutionCount(),
		}
	}))

	// WebSocket connections are long-lived and the pumps enforce their
	// own deadlines, so the server runs without request timeouts.
	srv := server.New("fanout", components.Config.Service.Port, mux, logger).
		WithTimeouts(0, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			errChan <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.Error("fanout failed", "error", err)
		os.Exit(1)
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}

	// Wait for the drain so in-flight frames flush before exit.
	<-done

	logger.Info("fanout shutting down gracefully")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
