package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	otelglobal "go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/techmandates/techmandates/internal/api"
	"github.com/techmandates/techmandates/internal/app/auth"
	"github.com/techmandates/techmandates/internal/app/dashboard"
	"github.com/techmandates/techmandates/internal/app/reconcile"
	"github.com/techmandates/techmandates/internal/app/remediation"
	"github.com/techmandates/techmandates/internal/config"
	"github.com/techmandates/techmandates/internal/infra/scanner/fixture"
	catalogStore "github.com/techmandates/techmandates/internal/infra/storage/catalog/postgres"
	findingsStore "github.com/techmandates/techmandates/internal/infra/storage/findings/postgres"
	identityStore "github.com/techmandates/techmandates/internal/infra/storage/identity/postgres"
	"github.com/techmandates/techmandates/internal/infra/vcs/github"
	"github.com/techmandates/techmandates/pkg/common/logger"
	"github.com/techmandates/techmandates/pkg/common/otel"
)

var build = "develop"

const serviceType = "dashboard-api"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("DASHBOARD-API-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"build":    build,
		"app":      serviceType,
	}

	logg := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()

	if err := run(ctx, logg, hostname); err != nil {
		logg.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Configuration
	configPath := flag.String("config", os.Getenv("TECHMANDATES_CONFIG"), "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// -------------------------------------------------------------------------
	// Database
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating db pool: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// -------------------------------------------------------------------------
	// Start Tracing Support
	tracerProvider := otelglobal.GetTracerProvider()
	if cfg.Telemetry.Enabled {
		log.Info(ctx, "startup", "status", "initializing tracing support")

		tp, teardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      serviceType,
			ExporterEndpoint: cfg.Telemetry.Endpoint,
			ExcludedRoutes: map[string]struct{}{
				"/v1/health":    {},
				"/v1/readiness": {},
			},
			Probability: cfg.Telemetry.Probability,
			ResourceAttributes: map[string]string{
				"library.language": "go",
				"host.name":        hostname,
			},
			InsecureExporter: true,
		})
		if err != nil {
			return fmt.Errorf("starting tracing: %w", err)
		}
		defer teardown(ctx)
		tracerProvider = tp
	}
	tracer := tracerProvider.Tracer(serviceType)

	metricCollector, err := api.NewAPIMetrics(otelglobal.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	// -------------------------------------------------------------------------
	// Stores and collaborators
	findingStore := findingsStore.NewFindingStore(pool, tracer)
	actionStore := findingsStore.NewRemediationStore(pool, tracer)
	repoStore := catalogStore.NewRepositoryStore(pool, tracer)
	userStore := identityStore.NewUserStore(pool, tracer)

	scanner, err := fixture.LoadFile(cfg.Scanner.FixturesPath)
	if err != nil {
		return fmt.Errorf("loading scan fixtures: %w", err)
	}

	vcsClient := github.NewClient(cfg.GitHub.Token, log, github.WithBaseURL(cfg.GitHub.BaseURL))

	// -------------------------------------------------------------------------
	// Application services
	authSvc := auth.NewService(userStore, log)
	dashboardSvc := dashboard.NewService(repoStore, findingStore, actionStore, log, tracer)
	reconciler := reconcile.NewReconciler(findingStore, scanner, log, tracer,
		reconcile.WithFeedLength(cfg.Feed.Length),
		reconcile.WithScanTimeout(cfg.Scanner.Timeout),
	)
	workflow := remediation.NewWorkflow(findingStore, actionStore, repoStore, vcsClient, log, tracer)

	// -------------------------------------------------------------------------
	// Start API Service
	log.Info(ctx, "startup", "status", "initializing API support")

	server, err := api.NewServer(cfg, log, tracer, metricCollector, authSvc, dashboardSvc, reconciler, workflow)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	serverCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(serverCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// runMigrations applies any pending schema migrations before the server
// accepts traffic.
func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	migrations, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	if err := migrations.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
