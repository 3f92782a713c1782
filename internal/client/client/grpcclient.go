package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const callTimeout = 12 * time.Second

// authAPI is the generated-style client surface; *rpc.AuthServiceClient
// satisfies it.
type authAPI interface {
	Login(ctx context.Context, in *rpc.LoginRequest, opts ...grpc.CallOption) (*rpc.LoginResponse, error)
	Refresh(ctx context.Context, in *rpc.RefreshRequest, opts ...grpc.CallOption) (*rpc.RefreshResponse, error)
	Logout(ctx context.Context, in *rpc.LogoutRequest, opts ...grpc.CallOption) (*rpc.LogoutResponse, error)
	Me(ctx context.Context, in *rpc.MeRequest, opts ...grpc.CallOption) (*rpc.MeResponse, error)
	Ping(ctx context.Context, in *rpc.PingRequest, opts ...grpc.CallOption) (*rpc.PingResponse, error)
}

// authenticated lists the methods that carry the access token.
var authenticated = map[string]bool{
	rpc.AuthService_Me_FullMethodName: true,
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      authAPI
	creds       credentials.Store
	dialOptions []grpc.DialOption

	// refreshMu lets only one caller rotate the refresh token at a time.
	refreshMu sync.Mutex

	hookMu         sync.Mutex
	onForcedLogout func(reason string)
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	if !authenticated[method] {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	stored, err := s.creds.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if stored.AccessToken == "" {
		return ErrNotLoggedIn
	}

	err = invoker(withAccessToken(ctx, stored.AccessToken), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated {
		return err
	}
	if st.Message() != common.TokenExpiredMessage {
		return s.forcedLogout("access token rejected")
	}

	accessToken, err := s.refresh(ctx, stored.AccessToken)
	if err != nil {
		return err
	}

	// tokens refreshed, retry once with the new access token
	err = invoker(withAccessToken(ctx, accessToken), method, req, reply, cc, opts...)
	if status.Code(err) == codes.Unauthenticated {
		return s.forcedLogout("access token rejected after refresh")
	}
	return err
}

// refresh rotates the stored refresh token unless another caller already
// replaced the access token seen as expired.
func (s *GRPCClient) refresh(ctx context.Context, expiredAccessToken string) (string, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	stored, err := s.creds.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if stored.AccessToken != "" && stored.AccessToken != expiredAccessToken {
		return stored.AccessToken, nil
	}
	if stored.RefreshToken == "" {
		return "", s.forcedLogout("no refresh token")
	}

	resp, err := s.client.Refresh(ctx, &rpc.RefreshRequest{RefreshToken: stored.RefreshToken})
	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			return "", s.forcedLogout("refresh token rejected")
		}
		return "", s.mapError(err)
	}

	if err := s.creds.SetTokens(ctx, resp.AccessToken, resp.RefreshToken, resp.RefreshExpiresAt); err != nil {
		return "", fmt.Errorf("save tokens: %w", err)
	}
	return resp.AccessToken, nil
}

func (s *GRPCClient) forcedLogout(reason string) error {
	s.hookMu.Lock()
	hook := s.onForcedLogout
	s.hookMu.Unlock()

	if hook != nil {
		hook(reason)
	}
	return common.ErrForcedLogout
}

// SetForcedLogoutHook registers the callback run when the server rejects the
// session.
func (s *GRPCClient) SetForcedLogoutHook(f func(reason string)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onForcedLogout = f
}

func NewGRPCClient(endpointURL string, creds credentials.Store) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, creds: creds}
	err := c.InitGRPCClient()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient() error {

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, s.dialOptions...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = rpc.NewAuthServiceClient(conn)
	return nil
}

func (s *GRPCClient) Login(ctx context.Context, email, password string) (*credentials.Credentials, error) {

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := s.client.Login(ctx, &rpc.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, s.mapError(err)
	}

	c := credentials.Credentials{
		AccessToken:      resp.AccessToken,
		RefreshToken:     resp.RefreshToken,
		RefreshExpiresAt: resp.RefreshExpiresAt,
		User: credentials.User{
			ID:    resp.User.ID,
			Email: resp.User.Email,
			Name:  resp.User.Name,
			Role:  resp.User.Role,
		},
	}
	if err := s.creds.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	return &c, nil
}

// Refresh rotates the stored refresh token.
func (s *GRPCClient) Refresh(ctx context.Context) error {
	stored, err := s.creds.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if stored.Empty() {
		return ErrNotLoggedIn
	}
	_, err = s.refresh(ctx, stored.AccessToken)
	return err
}

// Revoke asks the server to revoke refreshToken. It implements
// liveness.Revoker.
func (s *GRPCClient) Revoke(ctx context.Context, refreshToken string) error {
	_, err := s.client.Logout(ctx, &rpc.LogoutRequest{RefreshToken: refreshToken})
	return s.mapError(err)
}

func (s *GRPCClient) Me(ctx context.Context) (*credentials.User, error) {
	resp, err := s.client.Me(ctx, &rpc.MeRequest{})
	if err != nil {
		return nil, s.mapError(err)
	}
	return &credentials.User{
		ID:    resp.User.ID,
		Email: resp.User.Email,
		Name:  resp.User.Name,
		Role:  resp.User.Role,
	}, nil
}

func (s *GRPCClient) Ping(ctx context.Context) error {

	resp, err := s.client.Ping(ctx, &rpc.PingRequest{})
	if err != nil {
		return s.mapError(err)
	}

	if resp.Status != "OK" {
		return ErrUnavailable
	}

	return nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrForcedLogout) || errors.Is(err, ErrNotLoggedIn) {
		return err
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.ResourceExhausted:
		return common.ErrRateLimited
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
