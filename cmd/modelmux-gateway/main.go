package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelmux/modelmux/core/gateway"
	"github.com/modelmux/modelmux/core/infra/buildinfo"
	"github.com/modelmux/modelmux/core/infra/bus"
	"github.com/modelmux/modelmux/core/infra/config"
	"github.com/modelmux/modelmux/core/infra/logging"
	infraMetrics "github.com/modelmux/modelmux/core/infra/metrics"
	"github.com/modelmux/modelmux/core/infra/redisutil"
	"github.com/modelmux/modelmux/core/provider"
	"github.com/modelmux/modelmux/core/workflow"
	"github.com/modelmux/modelmux/packages/providers/mock"
	"github.com/modelmux/modelmux/packages/providers/ollama"
	"github.com/modelmux/modelmux/packages/providers/openai"
	"github.com/modelmux/modelmux/packages/workflows"
)

func main() {
	log.Println("modelmux gateway starting...")
	buildinfo.Log("modelmux-gateway")

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStateStore(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect workflow store: %v", err)
	}
	defer store.Close()

	registry := provider.NewRegistry()
	registerProviders(registry)
	if len(registry.Categories()) == 0 {
		logging.Warn("gateway", "no providers registered; inference routes will fail",
			"hint", "set OLLAMA_URL, OPENAI_API_KEY or MOCK_PROVIDERS=true")
	}

	executors := provider.NewExecutors(registry, provider.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBase,
		MaxDelay:   cfg.RetryMax,
	}, infraMetrics.NewProviderProm("modelmux"))

	hub := gateway.NewEventHub()
	defer hub.Close()

	var bridge *bus.Bridge
	if cfg.NatsURL != "" {
		bridge, err = bus.Connect(cfg.NatsURL)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer bridge.Close()
		logging.Info("gateway", "nats event bridge connected", "url", cfg.NatsURL)
	}

	executor := workflow.NewExecutor(store, executors, workflow.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		StepTimeout:   cfg.StepTimeout,
		TotalTimeout:  cfg.TotalTimeout,
		Metrics:       infraMetrics.NewWorkflowProm("modelmux"),
		EventHook:     eventHook(hub, bridge),
	})

	catalog := workflows.Catalog()
	logging.Info("gateway", "workflow catalog loaded", "definitions", catalog.Len())

	srv := gateway.NewServer(gateway.Options{
		Config:    cfg,
		Registry:  registry,
		Executors: executors,
		Catalog:   catalog,
		Store:     store,
		Executor:  executor,
		Metrics:   infraMetrics.NewGatewayProm("modelmux"),
		Hub:       hub,
	})

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("gateway error: %v", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := executor.Shutdown(drainCtx); err != nil {
		logging.Warn("gateway", "executor drain incomplete", "error", err)
	}
	log.Println("modelmux gateway stopped")
}

// newStateStore picks the workflow backend: Redis when REDIS_URL is
// set, otherwise in-process memory.
func newStateStore(ctx context.Context, cfg *config.Config) (workflow.StateStore, error) {
	if cfg.RedisURL == "" {
		logging.Info("gateway", "using in-memory workflow store", "ttl", cfg.ResultTTL.String())
		return workflow.NewMemoryStore(cfg.ResultTTL), nil
	}
	client, err := redisutil.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logging.Info("gateway", "using redis workflow store", "ttl", cfg.ResultTTL.String())
	return workflow.NewRedisStore(client, cfg.ResultTTL), nil
}

// registerProviders fills the registry from the environment. Order is
// failover preference: an explicitly configured Ollama endpoint first,
// then OpenAI, with the deterministic mock set as the last resort.
func registerProviders(registry *provider.Registry) {
	if url := strings.TrimSpace(os.Getenv("OLLAMA_URL")); url != "" {
		for _, p := range ollama.NewFromEnv().Providers() {
			registry.Register(p)
		}
	}
	if client := openai.NewFromEnv(); client != nil {
		for _, p := range client.Providers() {
			registry.Register(p)
		}
	}
	if boolEnv("MOCK_PROVIDERS") {
		for _, p := range mock.Providers() {
			registry.Register(p)
		}
	}
}

// eventHook mirrors executor events to the websocket hub and, when a
// bridge exists, onto NATS.
func eventHook(hub *gateway.EventHub, bridge *bus.Bridge) func(workflow.Event) {
	if bridge == nil {
		return hub.Publish
	}
	return func(evt workflow.Event) {
		hub.Publish(evt)
		if err := bridge.PublishEvent(evt.WorkflowID, evt); err != nil {
			logging.Debug("gateway", "nats event publish failed", "workflow_id", evt.WorkflowID, "error", err)
		}
	}
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
