// Package grpc exposes the auth service over gRPC.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/rpc"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/instrumentation"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"google.golang.org/grpc"
)

// AuthService is the business layer behind the handlers.
type AuthService interface {
	Login(ctx context.Context, email string, password []byte) (*services.TokenPair, *models.User, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, userID string) (*models.User, error)
	Authenticate(accessToken string) (string, error)
}

type GRPCServer struct {
	address        string
	auth           AuthService
	logger         logging.Logger
	loginLimiter   *ratelimit.Limiter
	refreshLimiter *ratelimit.Limiter
	metrics        *instrumentation.Metrics
}

type Option func(*GRPCServer)

// WithRateLimits enables per-peer limits on Login and Refresh. Nil limiters
// leave the method unlimited.
func WithRateLimits(login, refresh *ratelimit.Limiter) Option {
	return func(s *GRPCServer) {
		s.loginLimiter = login
		s.refreshLimiter = refresh
	}
}

func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *GRPCServer) { s.metrics = inst.Metrics() }
}

func NewGRPCServer(address string, l logging.Logger, auth AuthService, opts ...Option) *GRPCServer {
	s := &GRPCServer{
		address: address,
		auth:    auth,
		logger:  l.With("module", "grpc_server"),
		metrics: instrumentation.Noop().Metrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.rateLimitInterceptor,
		s.accessTokenInterceptor,
	))
	rpc.RegisterAuthServiceServer(srv, &handler{s: s})
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
