// Package api exposes the dashboard over HTTP: authentication, repository
// management, reconciliation scans, findings and remediation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/techmandates/techmandates/internal/app/auth"
	"github.com/techmandates/techmandates/internal/app/dashboard"
	"github.com/techmandates/techmandates/internal/app/reconcile"
	"github.com/techmandates/techmandates/internal/app/remediation"
	"github.com/techmandates/techmandates/internal/config"
	"github.com/techmandates/techmandates/pkg/common/logger"
	"github.com/techmandates/techmandates/pkg/common/otel"
)

type Server struct {
	cfg    *config.Config
	logger *logger.Logger
	router *chi.Mux
	tracer trace.Tracer

	metrics APIMetrics

	auth        *auth.Service
	dashboard   *dashboard.Service
	reconciler  *reconcile.Reconciler
	remediation *remediation.Workflow
}

func NewServer(
	cfg *config.Config,
	log *logger.Logger,
	tracer trace.Tracer,
	metrics APIMetrics,
	authSvc *auth.Service,
	dashboardSvc *dashboard.Service,
	reconciler *reconcile.Reconciler,
	remediationWorkflow *remediation.Workflow,
) (*Server, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(tracer))
	r.Use(requestLogger(log, metrics))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:         cfg,
		logger:      log,
		router:      r,
		tracer:      tracer,
		metrics:     metrics,
		auth:        authSvc,
		dashboard:   dashboardSvc,
		reconciler:  reconciler,
		remediation: remediationWorkflow,
	}

	s.routes()
	return s, nil
}

func requestLogger(log *logger.Logger, metrics APIMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				duration := time.Since(start)
				if metrics != nil {
					metrics.IncRequestsTotal(ctx, r.Method, r.URL.Path, ww.Status())
					metrics.ObserveRequestDuration(ctx, r.Method, r.URL.Path, duration)
				}
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", duration,
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.cfg.API.Host, s.cfg.API.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.API.ReadTimeout,
		WriteTimeout: s.cfg.API.WriteTimeout,
		IdleTimeout:  s.cfg.API.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.API.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server",
		"addr", server.Addr,
		"service", "dashboard-api",
	)

	return server.ListenAndServe()
}
