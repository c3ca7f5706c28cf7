package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yourorg/tenantfleet/internal/engine"
	"github.com/yourorg/tenantfleet/internal/fleet"
	"github.com/yourorg/tenantfleet/internal/fsops"
	"github.com/yourorg/tenantfleet/internal/handler"
	"github.com/yourorg/tenantfleet/internal/infrastructure/command"
	"github.com/yourorg/tenantfleet/internal/infrastructure/logger"
	"github.com/yourorg/tenantfleet/internal/infrastructure/redis"
	"github.com/yourorg/tenantfleet/internal/inventory"
	"github.com/yourorg/tenantfleet/internal/mail"
	"github.com/yourorg/tenantfleet/internal/observability/metrics"
	"github.com/yourorg/tenantfleet/internal/observability/tracing"
	"github.com/yourorg/tenantfleet/internal/provision"
	"github.com/yourorg/tenantfleet/internal/repository"
	"github.com/yourorg/tenantfleet/internal/security/audit"
	"github.com/yourorg/tenantfleet/internal/security/auth"
	"github.com/yourorg/tenantfleet/internal/security/middleware"
	"github.com/yourorg/tenantfleet/internal/worker"
	"github.com/yourorg/tenantfleet/pkg/config"
	"github.com/yourorg/tenantfleet/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting tenantfleet server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, log, "tenantfleet", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()

	// The pipeline always drives compose through the CLI; reads go
	// through whichever client ENGINE_MODE selects.
	runner := command.NewRunner(cfg.CommandTimeout, log)
	cliClient := engine.NewCLIClient(cfg.EngineBinary, runner, log)

	var engineClient engine.Client = cliClient
	if cfg.EngineMode == "native" {
		nativeClient, err := engine.NewNativeClient(cfg.DockerHost, log)
		if err != nil {
			log.Error("failed to initialize engine client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer nativeClient.Close()
		engineClient = nativeClient
	}

	// Engine unreachable at startup is fatal; nothing downstream can
	// distinguish "engine down" from "zero tenants".
	if err := engineClient.Ping(ctx); err != nil {
		log.Error("container engine unreachable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool, err := database.NewConnectionPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to connect to registry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.EnsureSchema(ctx); err != nil {
		log.Error("failed to ensure registry schema", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tenantRepo := repository.NewPostgresTenantRepository(pool.GetDB(), cfg.TransactionalReads, log)
	inv := inventory.NewReader(engineClient, cfg.ContainerPrefix, cfg.ImageSuffix, log)
	remover := fsops.NewRemover(cfg.DeployRoot, cfg.EngineBinary, runner, log)
	mailMgr := mail.NewCLIManager(cfg.MailCLIBinary, runner, log)
	auditLogger := audit.NewLogger(log)
	fleetManager := fleet.NewManager(cfg, tenantRepo, inv, engineClient, remover, mailMgr, auditLogger, log)
	pipeline := provision.NewPipeline(cfg, cliClient, inventory.NewReader(cliClient, cfg.ContainerPrefix, cfg.ImageSuffix, log), tenantRepo, runner, log)

	tokenManager := auth.NewTokenManager(cfg.JWTSecret, "tenantfleet")

	webhookHandler := handler.NewWebhookHandler(cfg, tenantRepo, pipeline, redisClient, auditLogger, log)
	tenantsHandler := handler.NewTenantsHandler(fleetManager, log)
	plansHandler := handler.NewPlansHandler(cfg, log)
	logsHandler := handler.NewLogsHandler(engineClient, inv, log, cfg.CORSAllowedOrigins)

	mux := http.NewServeMux()
	mux.Handle("POST /api/billing/webhook", webhookHandler)
	mux.Handle("GET /api/tenants", tenantsHandler)
	mux.Handle("GET /api/plans", plansHandler)
	mux.Handle("GET /ws/logs/{subdomain}", logsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handler.Healthz)
	mux.HandleFunc("/readyz", handler.Readyz(map[string]handler.Pinger{
		"redis":    redisClient,
		"registry": pingerFunc(pool.Health),
		"engine":   pingerFunc(engineClient.Ping),
	}))

	rootHandler := withRequestID(
		metrics.HTTPMetricsMiddleware(
			middleware.JWTMiddleware(tokenManager, log)(
				otelhttp.NewHandler(mux, "tenantfleet"),
			),
		),
		log,
	)

	reconcileWorker := worker.NewReconcileWorker(fleetManager, log, cfg.ReconcileInterval)
	go reconcileWorker.Start(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      rootHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("engine_mode", cfg.EngineMode),
		slog.String("deploy_root", cfg.DeployRoot),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // stop reconcile worker
	log.Info("server stopped")
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type requestIDKey struct{}

// withRequestID attaches a request ID to the context and response headers for traceability
func withRequestID(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := generateRequestID()
		w.Header().Set("X-Request-ID", reqID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		log.Info("request completed",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration_ms", time.Since(start)),
		)
	})
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
