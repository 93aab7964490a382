// Command apiserver is the HTTP gateway binary: it wires storage, the
// durable queue, the event bus, the provider registry, and the realtime
// hub behind pkg/httpapi's router, then serves until a termination signal
// arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/quillforge/quillforge/pkg/auth"
	"github.com/quillforge/quillforge/pkg/blobstore"
	"github.com/quillforge/quillforge/pkg/config"
	"github.com/quillforge/quillforge/pkg/events"
	"github.com/quillforge/quillforge/pkg/httpapi"
	"github.com/quillforge/quillforge/pkg/logging"
	"github.com/quillforge/quillforge/pkg/logging/loki"
	"github.com/quillforge/quillforge/pkg/providers"
	"github.com/quillforge/quillforge/pkg/queue"
	"github.com/quillforge/quillforge/pkg/realtime"
	"github.com/quillforge/quillforge/pkg/security"
	"github.com/quillforge/quillforge/pkg/service"
	"github.com/quillforge/quillforge/pkg/storage/postgres"
	"github.com/quillforge/quillforge/pkg/types"
)

func main() {
	log.Println("quillforge apiserver starting...")

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

	bus, busCloser := buildEventBus(cfg.Broker, "apiserver", logger)
	defer busCloser()

	taskQueue := buildQueue(store.DB(), cfg.Broker, cfg.Worker)

	blobs, err := blobstore.NewLocalStore(blobDir(cfg.BlobStore))
	if err != nil {
		log.Fatalf("initialize blob store: %v", err)
	}

	registry := buildProviderRegistry(cfg.Providers)

	issuer := auth.NewTokenIssuer(cfg.Auth.AccessTokenSecret, cfg.Auth.AccessTokenTTL)
	sessions := auth.NewSessionStore(store.Sessions(), issuer, cfg.Auth.RefreshTokenTTL)
	limiter := auth.NewRateLimiter(cfg.RateLimits, time.Minute)
	gateway := auth.NewGateway(issuer, limiter)
	hasher := security.NewPasswordHasher(cfg.Auth.BcryptCost)

	authSvc := service.NewAuthService(store.Users(), store.Workspaces(), sessions, gateway, hasher)
	documentSvc := service.NewDocumentService(store.Documents(), blobs)
	transformationSvc := service.NewTransformationService(store.Transformations(), store.Documents(), store.Presets(), taskQueue, bus)
	presetSvc := service.NewPresetService(store.Presets())

	presence := realtime.NewPresenceTracker(instanceID(), bus, logger, 10*time.Second)
	if err := presence.Start(context.Background()); err != nil {
		log.Fatalf("start presence tracker: %v", err)
	}
	defer presence.Stop()
	hub := realtime.NewHub(gateway, bus, logger, presence, 30*time.Second)

	srv := httpapi.NewServer(authSvc, documentSvc, transformationSvc, presetSvc, registry, hub, gateway, logger)
	router := httpapi.NewRouter(srv)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("apiserver listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down apiserver...")
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("apiserver stopped")
}

func buildLogger(cfg config.LoggingConfig) logging.Logger {
	std := logging.NewStdLogger("apiserver", logging.Level(cfg.Level))
	if cfg.LokiURL == "" {
		return std
	}
	shipper, err := loki.New(loki.Config{
		URL:       cfg.LokiURL,
		Component: "apiserver",
		Labels:    map[string]string{"service": "quillforge", "component": "apiserver"},
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

// buildQueue wires the durable PostgresQueue, sharing the database
// connection already opened for the rest of the schema, with Redis
// repurposed purely as the claim-loop wake-signal transport per
// SPEC_FULL.md's DOMAIN STACK.
func buildQueue(db *sqlx.DB, brokerCfg config.BrokerConfig, workerCfg config.WorkerConfig) queue.TaskQueue {
	client := redis.NewClient(&redis.Options{Addr: brokerCfg.Addr, Password: brokerCfg.Password, DB: brokerCfg.DB})
	notifier := queue.NewRedisNotifier(client)
	opts := queue.Options{
		MaxAttempts: workerCfg.MaxAttempts,
		BackoffBase: workerCfg.BackoffBase,
		BackoffCap:  queue.DefaultOptions().BackoffCap,
	}
	return queue.NewPostgresQueue(db, opts, notifier)
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

func blobDir(cfg config.BlobStoreConfig) string {
	if dir, ok := cfg.Config["base_dir"].(string); ok && dir != "" {
		return dir
	}
	return "./data/blobs"
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "apiserver-instance"
	}
	return host
}
