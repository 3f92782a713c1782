package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/rpc"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// handler implements rpc.AuthServiceServer on top of GRPCServer.
type handler struct {
	s *GRPCServer
}

func (h *handler) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.LoginResponse, error) {
	password := []byte(req.Password)
	pair, user, err := h.s.auth.Login(ctx, req.Email, password)
	if err != nil {
		return nil, h.s.toStatus(ctx, err)
	}

	return &rpc.LoginResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             UserInfo(user),
	}, nil
}

func (h *handler) Refresh(ctx context.Context, req *rpc.RefreshRequest) (*rpc.RefreshResponse, error) {
	pair, err := h.s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, h.s.toStatus(ctx, err)
	}

	return &rpc.RefreshResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

func (h *handler) Logout(ctx context.Context, req *rpc.LogoutRequest) (*rpc.LogoutResponse, error) {
	if err := h.s.auth.Logout(ctx, req.RefreshToken); err != nil {
		return nil, h.s.toStatus(ctx, err)
	}
	return &rpc.LogoutResponse{Message: "Logged out successfully"}, nil
}

func (h *handler) Me(ctx context.Context, _ *rpc.MeRequest) (*rpc.MeResponse, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	user, err := h.s.auth.Me(ctx, userID)
	if err != nil {
		return nil, h.s.toStatus(ctx, err)
	}
	return &rpc.MeResponse{User: UserInfo(user)}, nil
}

func (h *handler) Ping(ctx context.Context, _ *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{Status: "OK"}, nil
}

// UserInfo converts a user row into its wire form.
func UserInfo(u *models.User) rpc.UserInfo {
	return rpc.UserInfo{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// toStatus maps service errors onto gRPC codes. Messages stay generic so
// that callers cannot tell why a token was refused.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, common.ErrInvalidToken.Error())
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, common.ErrStoreUnavailable):
		s.logger.Error(ctx, "token store unavailable", "error", err)
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	default:
		s.logger.Error(ctx, "request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}
