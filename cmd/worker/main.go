// Command worker runs the TransformationExecutor pool: it claims queued
// tasks, invokes the configured AI providers, and persists results, until a
// termination signal tells it to drain.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillforge/quillforge/pkg/config"
	"github.com/quillforge/quillforge/pkg/events"
	"github.com/quillforge/quillforge/pkg/executor"
	"github.com/quillforge/quillforge/pkg/logging"
	"github.com/quillforge/quillforge/pkg/logging/loki"
	"github.com/quillforge/quillforge/pkg/providers"
	"github.com/quillforge/quillforge/pkg/queue"
	"github.com/quillforge/quillforge/pkg/storage/postgres"
	"github.com/quillforge/quillforge/pkg/types"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"
)

func main() {
	log.Println("quillforge worker starting...")

	configPath := os.Getenv("QUILLFORGE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := buildLogger(cfg.Logging)
	defer logger.Close()

	store, err := postgres.NewStore(postgres.Config{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer store.Close()

	bus, busCloser := buildEventBus(cfg.Broker, workerInstanceID(), logger)
	defer busCloser()

	client := redis.NewClient(&redis.Options{Addr: cfg.Broker.Addr, Password: cfg.Broker.Password, DB: cfg.Broker.DB})
	notifier := queue.NewRedisNotifier(client)
	queueOpts := queue.Options{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BackoffBase: cfg.Worker.BackoffBase,
		BackoffCap:  queue.DefaultOptions().BackoffCap,
	}
	taskQueue := queue.NewPostgresQueue(store.DB(), queueOpts, notifier)

	registry := buildProviderRegistry(cfg.Providers)

	pool := executor.New(workerInstanceID(), taskQueue, store.Transformations(), registry, bus, logger, executor.Options{
		Concurrency:  cfg.Worker.Concurrency,
		LeaseTTL:     cfg.Worker.LeaseTTL,
		MaxAttempts:  cfg.Worker.MaxAttempts,
		PollInterval: cfg.Worker.PollInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	log.Printf("worker pool running with concurrency=%d", cfg.Worker.Concurrency)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down worker...")
	cancel()
	pool.Stop()
	log.Println("worker stopped")
}

func buildLogger(cfg config.LoggingConfig) logging.Logger {
	std := logging.NewStdLogger("worker", logging.Level(cfg.Level))
	if cfg.LokiURL == "" {
		return std
	}
	shipper, err := loki.New(loki.Config{
		URL:       cfg.LokiURL,
		Component: "worker",
		Labels:    map[string]string{"service": "quillforge", "component": "worker"},
	})
	if err != nil {
		log.Printf("warning: loki logger unavailable, falling back to stderr: %v", err)
		return std
	}
	return logging.NewMultiLogger(std, shipper)
}

func buildEventBus(cfg config.BrokerConfig, instance string, logger logging.Logger) (events.EventBus, func()) {
	bus, err := events.NewRedisEventBus(events.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, instance, logger)
	if err != nil {
		log.Printf("warning: redis event bus unavailable (%v), falling back to in-memory bus", err)
		mem := events.NewMemoryEventBus()
		return mem, func() { mem.Close() }
	}
	return bus, func() { bus.Close() }
}

func buildProviderRegistry(cfgs []config.ProviderConfig) *providers.Registry {
	registry := providers.NewRegistry()
	for _, p := range cfgs {
		capabilities := parseCapabilities(p.Config)
		settings := providers.BreakerSettings{ConsecutiveFailures: 5, CooldownPeriod: 30 * time.Second}

		switch p.Kind {
		case "anthropic":
			apiKey, _ := p.Config["api_key"].(string)
			model, _ := p.Config["model"].(string)
			registry.Register(providers.NewAnthropicProvider(p.Name, apiKey, anthropic.Model(model), capabilities), settings)
		case "http":
			endpoint, _ := p.Config["endpoint"].(string)
			apiKey, _ := p.Config["api_key"].(string)
			timeout := 30 * time.Second
			if seconds, ok := p.Config["timeout_seconds"].(int); ok {
				timeout = time.Duration(seconds) * time.Second
			}
			registry.Register(providers.NewHTTPProvider(p.Name, endpoint, apiKey, timeout, capabilities), settings)
		default:
			log.Printf("warning: unknown provider kind %q for %q, skipping", p.Kind, p.Name)
		}
	}
	return registry
}

func parseCapabilities(providerConfig map[string]interface{}) map[types.TransformationKind]bool {
	out := make(map[types.TransformationKind]bool)
	raw, ok := providerConfig["capabilities"].([]interface{})
	if !ok {
		for _, kind := range []types.TransformationKind{
			types.KindBlogPost, types.KindSocialMedia, types.KindEmailSequence,
			types.KindNewsletter, types.KindSummary, types.KindCustom,
		} {
			out[kind] = true
		}
		return out
	}
	for _, entry := range raw {
		if name, ok := entry.(string); ok {
			out[types.TransformationKind(name)] = true
		}
	}
	return out
}

func workerInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-instance"
	}
	return host
}
