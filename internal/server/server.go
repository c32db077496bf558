// Package server provides the HTTP server and routing for the compliance
// monitor.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/guardrail/internal/config"
	"github.com/aristath/guardrail/internal/database"
	"github.com/aristath/guardrail/internal/modules/alerts"
	"github.com/aristath/guardrail/internal/modules/compliance"
	compliancehandlers "github.com/aristath/guardrail/internal/modules/compliance/handlers"
	"github.com/aristath/guardrail/internal/modules/funds"
	fundhandlers "github.com/aristath/guardrail/internal/modules/funds/handlers"
	"github.com/aristath/guardrail/internal/modules/holdings"
	holdinghandlers "github.com/aristath/guardrail/internal/modules/holdings/handlers"
	"github.com/aristath/guardrail/internal/modules/rules"
	rulehandlers "github.com/aristath/guardrail/internal/modules/rules/handlers"
	"github.com/aristath/guardrail/internal/modules/trading"
	tradinghandlers "github.com/aristath/guardrail/internal/modules/trading/handlers"
	"github.com/aristath/guardrail/internal/modules/universe"
	universehandlers "github.com/aristath/guardrail/internal/modules/universe/handlers"
)

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	DB      *database.DB
	Config  *config.Config
	DevMode bool
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	db             *database.DB
	cfg            *config.Config
	systemHandlers *SystemHandlers

	// Compliance is shared with the scheduler's nightly sweep job.
	Compliance *compliance.Service
}

// New creates a new HTTP server with all modules wired.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		db:     cfg.DB,
		cfg:    cfg.Config,
	}
	s.systemHandlers = NewSystemHandlers(cfg.DB, cfg.Log)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes(cfg.Log)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes builds every repository, service, and handler and mounts them
// under /api.
func (s *Server) setupRoutes(log zerolog.Logger) {
	conn := s.db.Conn()

	fundRepo := funds.NewRepository(conn, log)
	issuerRepo := universe.NewIssuerRepository(conn, log)
	securityRepo := universe.NewSecurityRepository(conn, log)
	ruleRepo := rules.NewRepository(conn, log)
	holdingRepo := holdings.NewRepository(conn, log)
	stagingRepo := holdings.NewStagingRepository(conn, log)
	alertRepo := alerts.NewRepository(conn, log)
	tradeRepo := trading.NewRepository(conn, log)

	workspace := holdings.NewWorkspace(holdingRepo, stagingRepo, log)
	valuation := compliance.NewBuilder(securityRepo, issuerRepo, log)
	engine := compliance.NewEngine(ruleRepo, valuation, log)

	ruleService := rules.NewService(ruleRepo, log)
	s.Compliance = compliance.NewService(engine, fundRepo, holdingRepo, workspace, securityRepo, alertRepo, log)
	validator := trading.NewValidator(fundRepo, securityRepo, holdingRepo)
	tradeService := trading.NewService(conn, tradeRepo, validator, workspace, holdingRepo, stagingRepo, fundRepo, alertRepo, engine, log)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		fundhandlers.NewHandler(fundRepo, log).RegisterRoutes(r)
		holdinghandlers.NewHandler(holdingRepo, stagingRepo, log).RegisterRoutes(r)
		universehandlers.NewHandler(issuerRepo, securityRepo, log).RegisterRoutes(r)
		rulehandlers.NewHandler(ruleService, log).RegisterRoutes(r)
		tradinghandlers.NewHandler(tradeService, log).RegisterRoutes(r)
		compliancehandlers.NewHandler(s.Compliance, alertRepo, log).RegisterRoutes(r)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
		})
	})
}

// handleHealth reports process and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	body := `{"status":"ok"}`
	if err := s.db.HealthCheck(ctx); err != nil {
		s.log.Error().Err(err).Msg("Health check failed")
		status = http.StatusServiceUnavailable
		body = `{"status":"degraded"}`
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
