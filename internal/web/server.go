// Package web serves the toolbox control API over HTTPS.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"system-toolbox/internal/config"
	"system-toolbox/internal/logging"
	"system-toolbox/internal/metrics"
	"system-toolbox/internal/scheduler"
	"system-toolbox/internal/web/api"
	"system-toolbox/internal/web/auth"
	"system-toolbox/internal/web/middleware"
	"system-toolbox/internal/web/websocket"
	"system-toolbox/internal/worker"
)

const (
	ReadTimeout     = 15 * time.Second
	WriteTimeout    = 30 * time.Second
	IdleTimeout     = 60 * time.Second
	ShutdownTimeout = 10 * time.Second

	loginRate  = 5
	loginBurst = 10
	rateIdle   = 10 * time.Minute
)

// Options wire the server to the rest of the toolbox.
type Options struct {
	Logger  scheduler.Logger
	History api.History
	// Session is the template for every API-triggered clean.
	Session scheduler.Options
}

// Server is the HTTP control surface.
type Server struct {
	cfg    *config.Config
	logger scheduler.Logger
	router *mux.Router
	hub    *websocket.Hub
	pool   *worker.Pool
	tokens *auth.JWTManager
}

// New builds the router. Background workers (websocket hub, worker pool,
// rate limiter sweeps) live until ctx ends.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	secret, err := cfg.ResolveJWTSecret()
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewJWTManager(secret, cfg.JWTExpiryDuration(), cfg.API.APIKeys)
	if err != nil {
		return nil, err
	}
	for _, k := range cfg.API.APIKeys {
		for _, role := range k.Roles {
			if !auth.ValidRole(role) {
				return nil, fmt.Errorf("%w: api key %q has unknown role %q", config.ErrInvalidConfig, k.Name, role)
			}
		}
	}

	s := &Server{
		cfg:    cfg,
		logger: opts.Logger,
		hub:    websocket.NewHub(opts.Logger),
		pool:   worker.NewPool(ctx, cfg.WorkerPool.Concurrency, cfg.WorkerPool.QueueSize),
		tokens: tokens,
	}
	go s.hub.Run(ctx)
	go func() {
		<-ctx.Done()
		s.pool.Close()
	}()

	metrics.Init()
	session := opts.Session
	if session.Logger == nil {
		session.Logger = opts.Logger
	}
	if session.History == nil && opts.History != nil {
		session.History = opts.History
	}

	handlers := &api.Handlers{
		Config:  cfg,
		Tokens:  tokens,
		Pool:    s.pool,
		History: opts.History,
		Hub:     s.hub,
		Session: session,
	}

	router := mux.NewRouter()
	router.Use(middleware.MetricsMiddleware)
	router.Use(middleware.LoggingMiddleware(opts.Logger))
	router.Use(middleware.SecurityHeadersMiddleware)
	router.Use(middleware.RequestBodySizeLimitMiddleware(cfg.API.MaxBodyBytes))
	router.Use(middleware.NewRateLimiter(ctx, rate.Limit(cfg.API.RateLimit), cfg.API.RateBurst, rateIdle).Middleware())

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	login := router.PathPrefix("/api/v1/auth").Subrouter()
	login.Use(middleware.NewRateLimiter(ctx, rate.Limit(loginRate), loginBurst, rateIdle).Middleware())
	handlers.RegisterPublic(router, login)

	protected := router.PathPrefix("/api/v1").Subrouter()
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.Handle("/ws", middleware.RequirePermission(auth.PermissionViewTargets)(http.HandlerFunc(s.hub.ServeWS))).Methods(http.MethodGet)
	handlers.RegisterProtected(protected)

	s.router = router
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Tokens exposes the JWT manager to the CLI token command.
func (s *Server) Tokens() *auth.JWTManager {
	return s.tokens
}

// ListenAndServe serves until ctx ends, then shuts down gracefully. TLS is
// used when a certificate and key are configured.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.API.Address,
		Handler:      s.router,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	useTLS := s.cfg.API.TLSCert != "" && s.cfg.API.TLSKey != ""
	if useTLS {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", srv.Addr, "tls", useTLS)
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS(s.cfg.API.TLSCert, s.cfg.API.TLSKey)
		} else {
			s.logger.Warn("api server running without TLS; bind it to localhost only")
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
