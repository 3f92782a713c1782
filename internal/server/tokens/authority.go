// Package tokens implements the refresh-token rotation authority: issuing
// opaque secrets, rotating them into a linked chain, and revoking them.
//
// Only the SHA-256 digest of a secret ever reaches the store. Every rotation
// failure is reported to callers as common.ErrInvalidToken; the precise reason
// is kept for logs and metrics.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/instrumentation"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTTL is the lifetime of a refresh token when none is configured.
const DefaultTTL = 7 * 24 * time.Hour

// Rejection says why a presented secret was refused.
type Rejection string

const (
	RejectMalformed Rejection = "malformed"
	RejectNotFound  Rejection = "not_found"
	RejectExpired   Rejection = "expired"
	RejectRevoked   Rejection = "revoked"
	RejectReplayed  Rejection = "replayed"
	RejectRaceLost  Rejection = "race_lost"
)

// Issued is the result of IssueToken. Secret is not retrievable again.
type Issued struct {
	Secret    string
	TokenID   string
	ExpiresAt time.Time
}

// Rotated is the result of a successful RotateToken.
type Rotated struct {
	UserID    string
	Secret    string
	TokenID   string
	ExpiresAt time.Time
}

// Authority issues, rotates and revokes refresh tokens against a Store.
// It is safe for concurrent use; all coordination happens in the store.
type Authority struct {
	store     Store
	ttl       time.Duration
	now       func() time.Time
	newID     func() string
	newSecret func() (string, error)
	log       logging.Logger
	metrics   *instrumentation.Metrics
	tracer    trace.Tracer
}

type Option func(*Authority)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(a *Authority) { a.log = l }
}

func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(a *Authority) {
		a.metrics = inst.Metrics()
		a.tracer = inst.Tracer("tokens")
	}
}

// NewAuthority returns an Authority minting tokens valid for ttl.
// A non-positive ttl selects DefaultTTL.
func NewAuthority(store Store, ttl time.Duration, opts ...Option) *Authority {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	inst := instrumentation.Noop()
	a := &Authority{
		store:     store,
		ttl:       ttl,
		now:       time.Now,
		newID:     uuid.NewString,
		newSecret: cryptox.NewTokenSecret,
		log:       logging.Nop{},
		metrics:   inst.Metrics(),
		tracer:    inst.Tracer("tokens"),
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With("module", "tokens")
	return a
}

// IssueToken mints the first token of a new chain for userID.
func (a *Authority) IssueToken(ctx context.Context, userID string) (*Issued, error) {
	ctx, span := a.tracer.Start(ctx, "tokens.IssueToken")
	defer span.End()

	if userID == "" {
		return nil, errors.New("issue token: empty user id")
	}

	secret, tok, err := a.mint(userID, a.now())
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if err := a.store.Create(ctx, tok); err != nil {
		err = storeError("create token", err)
		instrumentation.RecordError(span, err)
		a.log.Error(ctx, "refresh token not persisted", "user_id", userID, "error", err)
		return nil, err
	}

	instrumentation.AddTokenAttributes(span, userID, tok.ID)
	instrumentation.SetSpanSuccess(span)
	a.metrics.RecordTokenIssued(ctx)
	a.log.Info(ctx, "refresh token issued", "user_id", userID, "token_id", tok.ID)

	return &Issued{Secret: secret, TokenID: tok.ID, ExpiresAt: tok.ExpiresAt}, nil
}

// TokenOwner returns the user the chain of presented belongs to, whatever
// the state of the token. Malformed and unknown secrets yield
// common.ErrInvalidToken.
func (a *Authority) TokenOwner(ctx context.Context, presented string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "tokens.TokenOwner")
	defer span.End()

	if !cryptox.ValidSecret(presented) {
		return "", a.reject(ctx, span, RejectMalformed, nil)
	}

	tok, err := a.store.FindByHash(ctx, cryptox.HashToken(presented))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", a.reject(ctx, span, RejectNotFound, nil)
		}
		err = storeError("find token", err)
		instrumentation.RecordError(span, err)
		return "", err
	}

	instrumentation.SetSpanSuccess(span)
	return tok.UserID, nil
}

// RotateToken exchanges a live secret for a successor in the same chain.
// Any secret that is unknown, revoked, rotated, expired or malformed yields
// common.ErrInvalidToken. Of several concurrent rotations of one secret at
// most one succeeds.
func (a *Authority) RotateToken(ctx context.Context, presented string) (*Rotated, error) {
	ctx, span := a.tracer.Start(ctx, "tokens.RotateToken")
	defer span.End()

	if !cryptox.ValidSecret(presented) {
		return nil, a.reject(ctx, span, RejectMalformed, nil)
	}

	now := a.now()
	cur, err := a.store.FindByHash(ctx, cryptox.HashToken(presented))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, a.reject(ctx, span, RejectNotFound, nil)
		}
		err = storeError("find token", err)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	switch {
	case cur.WasRotated():
		a.metrics.RecordReplayDetected(ctx)
		a.log.Warn(ctx, "rotated refresh token presented again",
			"user_id", cur.UserID, "token_id", cur.ID, "replaced_by", *cur.ReplacedByTokenID)
		return nil, a.reject(ctx, span, RejectReplayed, cur)
	case cur.IsRevoked():
		return nil, a.reject(ctx, span, RejectRevoked, cur)
	case cur.IsExpired(now):
		return nil, a.reject(ctx, span, RejectExpired, cur)
	}

	secret, next, err := a.mint(cur.UserID, now)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if err := a.store.Rotate(ctx, cur.ID, next, now); err != nil {
		if errors.Is(err, common.ErrTokenConflict) {
			return nil, a.reject(ctx, span, RejectRaceLost, cur)
		}
		err = storeError("rotate token", err)
		instrumentation.RecordError(span, err)
		a.log.Error(ctx, "refresh token rotation failed", "user_id", cur.UserID, "token_id", cur.ID, "error", err)
		return nil, err
	}

	instrumentation.AddTokenAttributes(span, cur.UserID, next.ID)
	instrumentation.SetSpanSuccess(span)
	a.metrics.RecordTokenRotated(ctx)
	a.log.Info(ctx, "refresh token rotated", "user_id", cur.UserID, "token_id", cur.ID, "replaced_by", next.ID)

	return &Rotated{UserID: cur.UserID, Secret: secret, TokenID: next.ID, ExpiresAt: next.ExpiresAt}, nil
}

// RevokeToken revokes the token behind presented. Unknown, malformed and
// already revoked secrets are accepted silently.
func (a *Authority) RevokeToken(ctx context.Context, presented string) error {
	ctx, span := a.tracer.Start(ctx, "tokens.RevokeToken")
	defer span.End()

	if !cryptox.ValidSecret(presented) {
		a.log.Debug(ctx, "revoke of malformed refresh token ignored")
		return nil
	}

	changed, err := a.store.RevokeByHash(ctx, cryptox.HashToken(presented), a.now())
	if err != nil {
		err = storeError("revoke token", err)
		instrumentation.RecordError(span, err)
		return err
	}

	if changed {
		a.metrics.RecordTokenRevoked(ctx)
		a.log.Info(ctx, "refresh token revoked")
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

func (a *Authority) mint(userID string, now time.Time) (string, *models.RefreshToken, error) {
	secret, err := a.newSecret()
	if err != nil {
		return "", nil, fmt.Errorf("generate secret: %w", err)
	}
	return secret, &models.RefreshToken{
		ID:        a.newID(),
		UserID:    userID,
		TokenHash: cryptox.HashToken(secret),
		ExpiresAt: now.Add(a.ttl),
		CreatedAt: now,
	}, nil
}

func (a *Authority) reject(ctx context.Context, span trace.Span, reason Rejection, tok *models.RefreshToken) error {
	a.metrics.RecordTokenRejected(ctx, string(reason))
	span.SetAttributes(attribute.String(instrumentation.AttrReason, string(reason)))

	args := []any{"reason", string(reason)}
	if tok != nil {
		args = append(args, "user_id", tok.UserID, "token_id", tok.ID)
	}
	a.log.Info(ctx, "refresh token rejected", args...)

	return common.ErrInvalidToken
}

// storeError marks err as a store failure unless it already is one.
func storeError(op string, err error) error {
	if errors.Is(err, common.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, common.ErrStoreUnavailable, err)
}
