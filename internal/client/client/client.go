package client

import (
	"context"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
)

type Client interface {
	Close() error
	Login(ctx context.Context, email, password string) (*credentials.Credentials, error)
	Refresh(ctx context.Context) error
	Revoke(ctx context.Context, refreshToken string) error
	Me(ctx context.Context) (*credentials.User, error)
	Ping(ctx context.Context) error
	SetForcedLogoutHook(func(reason string))
}
