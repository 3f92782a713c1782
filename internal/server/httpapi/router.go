// Package httpapi exposes the auth service as a small JSON HTTP API.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/instrumentation"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// AuthService is the subset of services.AuthService used by the handlers.
type AuthService interface {
	Login(ctx context.Context, email string, password []byte) (*services.TokenPair, *models.User, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, userID string) (*models.User, error)
	Register(ctx context.Context, email, name, role string, password []byte) (*models.User, error)
	Authorize(accessToken string) (*auth.Claims, error)
}

// RoleAdmin may register new users.
const RoleAdmin = "admin"

type Server struct {
	address        string
	auth           AuthService
	logger         logging.Logger
	loginLimiter   *ratelimit.Limiter
	refreshLimiter *ratelimit.Limiter
	metrics        *instrumentation.Metrics
	validate       *validator.Validate
}

type Option func(*Server)

func WithRateLimits(login, refresh *ratelimit.Limiter) Option {
	return func(s *Server) {
		s.loginLimiter = login
		s.refreshLimiter = refresh
	}
}

func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Server) { s.metrics = inst.Metrics() }
}

func NewServer(address string, l logging.Logger, auth AuthService, opts ...Option) *Server {
	s := &Server{
		address: address,
		auth:    auth,
		logger:  l.With("module", "http_server"),
		metrics:  instrumentation.Noop().Metrics(),
		validate: validator.New(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.With(s.rateLimit(s.loginLimiter, "login")).Post("/login", s.login)
		r.With(s.rateLimit(s.refreshLimiter, "refresh")).Post("/refresh", s.refresh)
		r.Post("/logout", s.logout)
		r.With(s.requireAccessToken).Get("/me", s.me)
		r.With(s.rateLimit(s.loginLimiter, "register"), s.requireAccessToken, requireRole(RoleAdmin)).
			Post("/register", s.register)
	})

	return r
}

// Run serves until ctx is done, then shuts down with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
