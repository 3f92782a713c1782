package grpc

import (
	"context"
	"errors"
	"net"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/rpc"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const UserIDKey ctxKey = "userID"

// UserIDFromContext returns the user id set by the access-token interceptor.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}

// authenticated lists the methods that require an access token.
var authenticated = map[string]bool{
	rpc.AuthService_Me_FullMethodName: true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if authenticated[info.FullMethod] {

		var accessToken string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			values := md.Get(common.AccessTokenHeaderName)
			if len(values) > 0 {
				accessToken = values[0]
			}
		}
		if len(accessToken) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}

		userID, err := s.auth.Authenticate(accessToken)
		if err != nil {
			if errors.Is(err, common.ErrTokenExpired) {
				return nil, status.Error(codes.Unauthenticated, common.TokenExpiredMessage)
			}
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		ctx = context.WithValue(ctx, UserIDKey, userID)
	}

	return handler(ctx, req)
}

func (s *GRPCServer) rateLimitInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	var (
		limiter *ratelimit.Limiter
		scope   string
	)
	switch info.FullMethod {
	case rpc.AuthService_Login_FullMethodName:
		limiter, scope = s.loginLimiter, "login"
	case rpc.AuthService_Refresh_FullMethodName:
		limiter, scope = s.refreshLimiter, "refresh"
	}

	if limiter != nil && !limiter.Allow(peerHost(ctx)) {
		s.metrics.RecordRateLimitExceeded(ctx, scope)
		s.logger.Warn(ctx, "rate limit exceeded", "scope", scope, "peer", peerHost(ctx))
		return nil, status.Error(codes.ResourceExhausted, common.ErrRateLimited.Error())
	}

	return handler(ctx, req)
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
