// Package main is the entry point for the hibah proposal BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/hibah/internal/audit"
	"github.com/pitabwire/hibah/internal/capability"
	"github.com/pitabwire/hibah/internal/config"
	"github.com/pitabwire/hibah/internal/draft"
	"github.com/pitabwire/hibah/internal/lifecycle"
	"github.com/pitabwire/hibah/internal/observability"
	"github.com/pitabwire/hibah/internal/openapi"
	"github.com/pitabwire/hibah/internal/portal"
	"github.com/pitabwire/hibah/internal/review"
	"github.com/pitabwire/hibah/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags and load .env.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file read before the configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		return 1
	}

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "hibah-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Index the portal operations.
	oaIndex := openapi.NewIndex()
	if err := oaIndex.Load([]openapi.SpecSource{openapi.PortalSource(cfg.Portal.BaseURL, cfg.Portal.SpecFile)}); err != nil {
		logger.Error("OpenAPI index load failed", zap.Error(err))
		return 1
	}
	if err := oaIndex.Require(openapi.PortalService, portal.Operations...); err != nil {
		logger.Error("portal description incomplete", zap.Error(err))
		return 1
	}
	indexed := len(oaIndex.AllOperationIDs(openapi.PortalService))
	metrics.SetOpenAPIOperationsIndexed(indexed)

	backend := portal.NewClient(oaIndex, cfg.Portal, metrics, logger)

	// Step 5: Initialize capability resolver.
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		logger.Error("capability policy load failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(evaluator, cfg.Capability.Cache.TTL, cfg.Capability.Cache.MaxEntries, metrics)

	// Step 6: Initialize draft store.
	drafts, draftsCloser, err := buildDraftStore(ctx, cfg.Drafts, logger)
	if err != nil {
		logger.Error("draft store initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Initialize review audit store.
	trail, trailCloser, err := buildAuditStore(ctx, cfg.Audit, logger)
	if err != nil {
		logger.Error("audit store initialization failed", zap.Error(err))
		return 1
	}

	// Step 8: Build controllers.
	opts := lifecycle.Options{
		Location:       cfg.Location(),
		MaxUploadBytes: cfg.Ingestion.MaxUploadBytes,
	}
	proposals := lifecycle.NewController(backend, drafts, opts, metrics, logger)
	reviews := review.NewController(backend, capResolver, trail, opts, metrics, logger)

	// Step 9: Build HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readinessChecks := observability.ReadinessChecks{
		OpenAPILoaded: func() bool { return indexed > 0 },
		Critical: map[string]observability.HealthChecker{
			"draft_store": drafts,
			"audit_store": trail,
			"policy_engine": observability.HealthCheckFunc(func(context.Context) error {
				if evaluator.Roles() == 0 {
					return errors.New("no roles defined")
				}
				return nil
			}),
		},
		Degraded: map[string]observability.HealthChecker{
			"portal":        backend,
			"identity_keys": jwks,
		},
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
		CapabilityResolver: capResolver,
		Proposals:          proposals,
		Reviews:            reviews,
		Readiness:          readinessChecks,
		MetricsHandler:     observability.Handler(),
		Metrics:            metrics,
		Logger:             logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start background tasks.
	var janitor *draft.Janitor
	if cfg.Drafts.Store == "memory" {
		janitor, err = draft.NewJanitor(drafts, cfg.Drafts.JanitorSchedule, cfg.Location(), metrics, logger)
		if err != nil {
			logger.Error("draft janitor initialization failed", zap.Error(err))
			return 1
		}
		janitor.Start()
	}

	go reloadPolicyOnHangup(ctx, capResolver, logger)

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("portal_operations", indexed),
		zap.String("draft_store", cfg.Drafts.Store),
		zap.String("audit_store", cfg.Audit.Store),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if janitor != nil {
		janitor.Stop(shutdownCtx)
	}

	// Close stores.
	if draftsCloser != nil {
		draftsCloser()
	}
	if trailCloser != nil {
		trailCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return exitCode
}

// buildDraftStore creates the draft store selected by config.
func buildDraftStore(ctx context.Context, cfg config.DraftsConfig, logger *zap.Logger) (draft.Store, func(), error) {
	switch cfg.Store {
	case "memory", "":
		logger.Info("using in-memory draft store")
		return draft.NewMemoryStore(cfg.TTL), nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("draft store: ping %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("using redis draft store", zap.String("addr", cfg.Redis.Addr))
		return draft.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.TTL), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported draft store: %q", cfg.Store)
	}
}

// buildAuditStore creates the review audit store selected by config.
func buildAuditStore(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (audit.Store, func(), error) {
	switch cfg.Store {
	case "memory", "":
		logger.Warn("using in-memory audit store; review history is lost on restart")
		return audit.NewMemoryStore(), nil, nil
	case "postgres":
		store, err := audit.OpenPgStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := store.HealthCheck(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("audit store: %w", err)
		}
		logger.Info("using postgres audit store")
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported audit store: %q", cfg.Store)
	}
}

// reloadPolicyOnHangup re-reads the role policy on every SIGHUP until ctx
// ends. A policy that fails to load is logged and the previous one kept.
func reloadPolicyOnHangup(ctx context.Context, resolver *capability.Resolver, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := resolver.Reload(); err != nil {
				logger.Error("capability policy reload failed; keeping previous policy", zap.Error(err))
				continue
			}
			logger.Info("capability policy reloaded")
		}
	}
}
