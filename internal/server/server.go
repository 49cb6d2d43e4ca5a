// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server assembles the passkey HTTP server: storage backends,
// the ceremony service, session issuance, and the chi router with its
// middleware chain.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/pkg/health"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/metrics"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	passkeyhttp "github.com/jeremyhahn/go-passkey/pkg/passkey/http"
	"github.com/jeremyhahn/go-passkey/pkg/passkey/sqlite"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
)

// Server runs the passkey relying party service.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	service  *passkey.Service
	handler  *passkeyhttp.Handler
	sessions *sessionManager

	httpServer *http.Server

	// sqliteStore is non-nil when the sqlite backend is configured and
	// owns the database connection.
	sqliteStore *sqlite.Store

	healthChecker    *health.Checker
	limiter          *ratelimit.Limiter
	metricsCollector *metrics.ResourceCollector

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	shutdownCh chan struct{}
}

// New creates a new passkey server instance
func New(cfg *config.Config) (*Server, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:        cfg,
		logger:        logger,
		healthChecker: health.NewChecker(),
		ctx:           ctx,
		cancel:        cancel,
		shutdownCh:    make(chan struct{}),
	}

	if err := s.initializeService(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize passkey service: %w", err)
	}

	s.sessions = newSessionManager(cfg.Session, cfg.TLS.Enabled)

	s.handler = passkeyhttp.NewHandler(s.service, s.sessions.Principal).
		WithLogger(logger.With("component", "passkey"))
	s.handler.OnAuthenticated = s.onAuthenticated

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
			Burst:             cfg.RateLimit.Burst,
		})
	}

	return s, nil
}

// initializeService wires the configured storage backend into the
// ceremony service.
func (s *Server) initializeService() error {
	var challenges passkey.ChallengeStore
	var credentials passkey.CredentialStore

	switch s.config.Storage.Backend {
	case "sqlite":
		store, err := sqlite.Open(s.ctx, s.config.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.sqliteStore = store
		challenges = store.Challenges()
		credentials = store.Credentials()
		s.healthChecker.RegisterPing("sqlite", store.Ping)
		s.logger.Info("SQLite storage initialized", "path", s.config.Storage.Path)
	default:
		challenges = passkey.NewMemoryChallengeStore()
		credentials = passkey.NewMemoryCredentialStore()
		s.logger.Info("In-memory storage initialized")
	}

	pkConfig := &passkey.Config{
		RPDisplayName:         s.config.Passkey.RPDisplayName,
		ChallengeTTL:          s.config.Passkey.ChallengeTTL,
		CeremonyTimeout:       s.config.Passkey.CeremonyTimeout,
		UserVerification:      s.config.Passkey.UserVerification,
		AttestationPreference: s.config.Passkey.AttestationPreference,
	}

	service, err := passkey.NewService(passkey.ServiceParams{
		Config:          pkConfig,
		ChallengeStore:  challenges,
		CredentialStore: credentials,
		Verifier:        passkey.NewWebauthnVerifier(pkConfig),
		Logger:          s.logger.With("component", "service"),
	})
	if err != nil {
		return err
	}

	s.service = service
	return nil
}

// onAuthenticated issues the session cookie after a successful
// authentication ceremony.
func (s *Server) onAuthenticated(w http.ResponseWriter, r *http.Request, verdict *passkey.Verdict) {
	if err := s.sessions.Issue(w, verdict.UserID, ""); err != nil {
		s.logger.Error("Failed to issue session", slog.Any("error", err),
			"user_id", verdict.UserID)
	}
}

// buildRouter assembles the chi router with the middleware chain and all
// mounted endpoints.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(recoveryMiddleware(s.logger))
	r.Use(requestIDMiddleware)
	r.Use(securityHeadersMiddleware)
	r.Use(loggingMiddleware(s.logger))
	if s.config.Metrics.Enabled {
		r.Use(metrics.HTTPMiddleware)
	}
	if s.limiter != nil {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	s.handler.MountChi(r)

	r.Post("/passkey/logout", func(w http.ResponseWriter, _ *http.Request) {
		s.sessions.Clear(w)
		w.WriteHeader(http.StatusNoContent)
	})

	if s.config.Health.Enabled {
		s.healthChecker.MountChi(r)
	}
	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	return r
}

// Start starts the HTTP server and background workers
func (s *Server) Start() error {
	s.logger.Info("Starting passkey server...", "version", getBuildVersion())

	if s.config.Metrics.Enabled {
		metrics.Enable()
		s.metricsCollector = metrics.StartResourceCollector(s.ctx, 30*time.Second)
		s.logger.Info("Metrics initialized", "path", s.config.Metrics.Path)
	}

	tlsConfig, err := s.config.TLS.LoadTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		TLSConfig:    tlsConfig,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.wg.Add(1)
	go s.startSweeper()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var serveErr error
		if tlsConfig != nil {
			s.logger.Info("Starting HTTPS server", "address", addr)
			serveErr = s.httpServer.ListenAndServeTLS("", "")
		} else {
			s.logger.Info("Starting HTTP server", "address", addr)
			serveErr = s.httpServer.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("HTTP server error", slog.Any("error", serveErr))
		}
	}()

	s.healthChecker.MarkStarted()
	s.logger.Info("Server started")

	return nil
}

// startSweeper periodically purges consumed and expired challenges.
func (s *Server) startSweeper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Passkey.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.service.SweepChallenges(s.ctx)
			if err != nil {
				s.logger.Error("Challenge sweep failed", slog.Any("error", err))
				continue
			}
			if swept > 0 {
				s.logger.Debug("Swept challenges", "count", swept)
			}
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server...")

	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down HTTP server", slog.Any("error", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All workers stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	if s.sqliteStore != nil {
		if err := s.sqliteStore.Close(); err != nil {
			s.logger.Error("Error closing sqlite store", slog.Any("error", err))
		}
	}

	close(s.shutdownCh)
	s.logger.Info("Server shutdown complete")

	return nil
}

// WaitForShutdown blocks until the server is shut down
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// Service returns the passkey service instance
func (s *Server) Service() *passkey.Service {
	return s.service
}

// Handler returns the root HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// SetupSignalHandler sets up signal handling for graceful shutdown
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}

// getBuildVersion retrieves the version from build information
func getBuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	return "dev"
}
