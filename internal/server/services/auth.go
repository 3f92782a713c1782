// Package services contains server-side business logic. AuthService ties the
// credential check, the refresh-token authority and the access-token issuer
// into the login, refresh, logout and me operations exposed by the APIs.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/tokens"
)

// Audit actions.
const (
	ActionLogin           = "LOGIN"
	ActionLoginFailed     = "LOGIN_FAILED"
	ActionRefresh         = "REFRESH"
	ActionRefreshRejected = "REFRESH_REJECTED"
	ActionLogout          = "LOGOUT"
	ActionRegister        = "REGISTER"
)

// TokenAuthority is the refresh-token side of a session.
type TokenAuthority interface {
	IssueToken(ctx context.Context, userID string) (*tokens.Issued, error)
	TokenOwner(ctx context.Context, secret string) (string, error)
	RotateToken(ctx context.Context, secret string) (*tokens.Rotated, error)
	RevokeToken(ctx context.Context, secret string) error
}

// AccessTokens issues and verifies access tokens.
type AccessTokens interface {
	IssueAccessToken(userID, role string) (string, error)
	VerifyAccessToken(token string) (*auth.Claims, error)
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type AuthService struct {
	users     users.Repository
	authority TokenAuthority
	access    AccessTokens
	log       logging.Logger
}

func NewAuthService(u users.Repository, a TokenAuthority, access AccessTokens, log logging.Logger) *AuthService {
	return &AuthService{users: u, authority: a, access: access, log: log.With("module", "auth")}
}

// NormalizeEmail lower-cases and trims an address for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// VerifyCredentials returns the user when password matches. Unknown users
// and wrong passwords both yield common.ErrorUnauthorized after the same
// bcrypt work.
func (s *AuthService) VerifyCredentials(ctx context.Context, email string, password []byte) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			cryptox.ComparePassword(nil, password)
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	if !cryptox.ComparePassword(user.PasswordHash, password) {
		return nil, common.ErrorUnauthorized
	}
	return user, nil
}

// Login checks credentials and starts a new session.
func (s *AuthService) Login(ctx context.Context, email string, password []byte) (*TokenPair, *models.User, error) {
	user, err := s.VerifyCredentials(ctx, email, password)
	if err != nil {
		s.log.Info(ctx, "audit", "action", ActionLoginFailed, "email", NormalizeEmail(email))
		return nil, nil, err
	}

	issued, err := s.authority.IssueToken(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	access, err := s.access.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: access token: %v", common.ErrorInternal, err)
	}

	s.log.Info(ctx, "audit", "action", ActionLogin, "user_id", user.ID, "token_id", issued.TokenID)
	return &TokenPair{AccessToken: access, RefreshToken: issued.Secret, RefreshExpiresAt: issued.ExpiresAt}, user, nil
}

// Refresh rotates the refresh token and mints a new access token. The owner
// is loaded before rotating so a failed user lookup leaves the chain intact.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	owner, err := s.authority.TokenOwner(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			s.log.Info(ctx, "audit", "action", ActionRefreshRejected)
		}
		return nil, err
	}

	user, err := s.users.GetByID(ctx, owner)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// the chain has no owner to hand tokens to; close it
			if rerr := s.authority.RevokeToken(ctx, refreshToken); rerr != nil {
				s.log.Error(ctx, "revoke orphaned refresh token", "user_id", owner, "error", rerr)
			}
			s.log.Info(ctx, "audit", "action", ActionRefreshRejected, "user_id", owner)
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("load user: %w: %v", common.ErrStoreUnavailable, err)
	}

	rotated, err := s.authority.RotateToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			s.log.Info(ctx, "audit", "action", ActionRefreshRejected, "user_id", owner)
		}
		return nil, err
	}

	access, err := s.access.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: access token: %v", common.ErrorInternal, err)
	}

	s.log.Info(ctx, "audit", "action", ActionRefresh, "user_id", user.ID, "token_id", rotated.TokenID)
	return &TokenPair{AccessToken: access, RefreshToken: rotated.Secret, RefreshExpiresAt: rotated.ExpiresAt}, nil
}

// Logout revokes the refresh token. Unknown tokens are accepted.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.authority.RevokeToken(ctx, refreshToken); err != nil {
		return err
	}
	s.log.Info(ctx, "audit", "action", ActionLogout)
	return nil
}

// Me returns the user behind an authenticated request.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return user, nil
}

// Authenticate verifies an access token and returns its user id.
func (s *AuthService) Authenticate(accessToken string) (string, error) {
	claims, err := s.Authorize(accessToken)
	if err != nil {
		return "", err
	}
	return claims.UserID(), nil
}

// Authorize verifies an access token and returns its claims.
func (s *AuthService) Authorize(accessToken string) (*auth.Claims, error) {
	return s.access.VerifyAccessToken(accessToken)
}

// Register creates a user with a bcrypt hash of password.
func (s *AuthService) Register(ctx context.Context, email, name, role string, password []byte) (*models.User, error) {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if role == "" {
		role = "user"
	}
	u, err := s.users.Create(ctx, &models.User{
		Email:        NormalizeEmail(email),
		Name:         name,
		Role:         role,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	s.log.Info(ctx, "audit", "action", ActionRegister, "user_id", u.ID, "role", u.Role)
	return u, nil
}
