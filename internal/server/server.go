// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go opens the database and passes it in. New() builds:
//
//	sqlite.DB → Users()/Groups()/Boards() stores → services → handlers
//
// This is the "composition root" pattern: all dependencies are wired in
// one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/study-hub/internal/auth"
	"github.com/sakif/study-hub/internal/config"
	"github.com/sakif/study-hub/internal/handler"
	"github.com/sakif/study-hub/internal/middleware"
	sqliteRepo "github.com/sakif/study-hub/internal/repository/sqlite"
	"github.com/sakif/study-hub/internal/service"
)

// sweepInterval is how often the login rate limiter drops idle clients.
const sweepInterval = time.Minute

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The database belongs to the caller (main.go opens and closes it). The
// server owns the rate limiter's sweep goroutine, which stops with Start.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	limiter *middleware.RateLimiter
}

// New creates a Server with every route wired.
//
// IMPORT ALIAS:
// We import repository/sqlite as `sqliteRepo` so it does not read like the
// sqlite driver package.
func New(cfg config.Config, db *sqliteRepo.DB, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		limiter: middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.LoginRateLimitRPS,
			Burst:             cfg.LoginRateLimitBurst,
		}),
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                                     → liveness + DB ping
//	GET    /occupations                                 → signup form data
//	POST   /signup  /login  /token/refresh              → sessions (login + refresh rate-limited)
//	POST   /logout                                      → bearer
//	GET    /api/groups                                  → public list
//	GET    /api/boards, /api/boards/{id}[/comments]     → public reads
//	*      /api/...                                     → everything else needs a bearer token
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID to each request (for tracing)
// 2. RealIP: extracts the real client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. CORS: answers preflight requests from the browser front-end
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// === Services ===
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.AccessTokenTTL, s.config.RefreshTokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords, err := auth.NewPasswordServiceWithCost(s.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("creating password service: %w", err)
	}

	groupService := service.NewGroupService(s.db.Groups(), s.logger)
	authService := service.NewAuthService(s.db.Users(), tokens, passwords, groupService, s.logger)
	boardService := service.NewBoardService(s.db.Boards(), s.logger)

	// === Handlers ===
	authHandler := handler.NewAuthHandler(authService, tokens.AccessTTL(), s.config.CookieSecure, s.logger)
	groupHandler := handler.NewGroupHandler(groupService, s.logger)
	boardHandler := handler.NewBoardHandler(boardService, s.logger)

	// authService implements auth.TokenResolver: it checks the JWT AND that
	// the account still exists.
	requireAuth := auth.RequireAuth(authService)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/occupations", authHandler.HandleOccupations)

	// === Sessions ===
	s.router.Post("/signup", authHandler.HandleSignup)
	s.router.Group(func(r chi.Router) {
		r.Use(s.limiter.Handler)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/token/refresh", authHandler.HandleRefresh)
	})
	s.router.With(requireAuth).Post("/logout", authHandler.HandleLogout)

	s.router.Route("/api", func(r chi.Router) {
		// === Public reads ===
		r.Get("/groups", groupHandler.HandleList)
		r.Get("/boards", boardHandler.HandleList)
		r.Get("/boards/{boardID}", boardHandler.HandleGet)
		r.Get("/boards/{boardID}/comments", boardHandler.HandleListComments)

		// === Authenticated ===
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/user/info", authHandler.HandleProfile)
			r.Put("/user/info", authHandler.HandleUpdateProfile)
			r.Put("/user/password", authHandler.HandleChangePassword)
			r.Delete("/user", authHandler.HandleWithdraw)

			r.Post("/groups", groupHandler.HandleCreate)
			r.Get("/groups/mine", groupHandler.HandleListMine)
			r.Delete("/groups/{groupID}", groupHandler.HandleDelete)
			r.Post("/groups/{groupID}/requests", groupHandler.HandleRequestJoin)
			r.Get("/groups/{groupID}/requests", groupHandler.HandleListGroupRequests)
			r.Get("/groups/{groupID}/members", groupHandler.HandleListMembers)
			r.Delete("/groups/{groupID}/members/me", groupHandler.HandleWithdraw)
			r.Delete("/groups/{groupID}/members/{userID}", groupHandler.HandleRemoveMember)
			r.Put("/groups/{groupID}/members/{userID}/role", groupHandler.HandleSetRole)

			r.Get("/requests/mine", groupHandler.HandleListMyRequests)
			r.Post("/requests/{requestID}/approve", groupHandler.HandleApprove)
			r.Delete("/requests/{requestID}", groupHandler.HandleDeny)

			r.Post("/boards", boardHandler.HandleCreate)
			r.Put("/boards/{boardID}", boardHandler.HandleUpdate)
			r.Delete("/boards/{boardID}", boardHandler.HandleDelete)
			r.Post("/boards/{boardID}/comments", boardHandler.HandleCreateComment)
			r.Put("/comments/{commentID}", boardHandler.HandleUpdateComment)
			r.Delete("/comments/{commentID}", boardHandler.HandleDeleteComment)
		})
	})

	return nil
}

type healthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int64  `json:"schemaVersion"`
}

// handleHealth reports whether the database answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	version, err := s.db.SchemaVersion(ctx)
	if err == nil {
		err = s.db.Ping(ctx)
	}
	if err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "unavailable"})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", SchemaVersion: version})
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Return, so main can close the database
//
// main.go derives ctx from SIGINT/SIGTERM with signal.NotifyContext.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.limiter.Run(sweepCtx, sweepInterval)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	}
}
