// Package session owns the refresh-token rotation state machine. A session is
// Active until exactly one of: rotation (revoked, successor linked), logout
// (revoked), or first use after expiry (revoked as a tombstone). Possession of
// a rotated-away token never succeeds again.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	"github.com/smallbiznis/smallbiznis-identity/internal/repository"
	"github.com/smallbiznis/smallbiznis-identity/internal/token"
)

const bearerTokenType = "bearer"

// Ledger drives issuance, rotation and revocation of refresh sessions.
// The atomicity of rotation lives in the storage compare-and-set, not in a
// process-local lock, so the guarantees hold across service instances.
type Ledger struct {
	codec    *token.Codec
	sessions repository.SessionRepository
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewLedger(codec *token.Codec, sessions repository.SessionRepository, logger *zap.Logger) *Ledger {
	return &Ledger{
		codec:    codec,
		sessions: sessions,
		logger:   logger,
		tracer:   otel.Tracer("session"),
	}
}

// Issue mints a fresh token pair and persists the refresh session keyed by
// the refresh token's jti.
func (l *Ledger) Issue(ctx context.Context, userID int64) (domain.TokenPair, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.Issue")
	defer span.End()

	accessToken, err := l.codec.MintAccess(userID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("mint access token: %w", err)
	}
	refreshToken, err := l.codec.MintRefresh(userID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("mint refresh token: %w", err)
	}

	// Decode our own refresh token rather than re-deriving jti and expiry;
	// the session row always mirrors the claims exactly.
	claims, err := l.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("decode minted refresh token: %w", err)
	}

	if _, err := l.sessions.Create(ctx, domain.RefreshSession{
		UserID:    userID,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt,
	}); err != nil {
		return domain.TokenPair{}, fmt.Errorf("persist refresh session: %w", err)
	}

	return domain.TokenPair{
		AccessToken:  accessToken,
		TokenType:    bearerTokenType,
		RefreshToken: refreshToken,
	}, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token's
// session is revoked, linked to its successor and replaced in one storage
// transaction; if the revoked = false guard fails the token was already
// spent and the caller gets the same generic rejection as a forged token.
func (l *Ledger) Rotate(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.Rotate")
	defer span.End()

	claims, err := l.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return domain.TokenPair{}, err
	}

	sess, err := l.sessions.GetByJTI(ctx, claims.JTI)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TokenPair{}, domain.ErrInvalidRefreshToken
		}
		return domain.TokenPair{}, fmt.Errorf("load refresh session: %w", err)
	}
	if sess.Revoked {
		l.logger.Warn("refresh token replay rejected",
			zap.Int64("user_id", sess.UserID),
			zap.String("jti", sess.JTI),
		)
		return domain.TokenPair{}, domain.ErrInvalidRefreshToken
	}
	if !sess.ExpiresAt.After(time.Now().UTC()) {
		// Tombstone on first observed use instead of leaving an expired
		// Active row behind.
		if _, err := l.sessions.Revoke(ctx, claims.JTI); err != nil {
			return domain.TokenPair{}, fmt.Errorf("tombstone expired session: %w", err)
		}
		return domain.TokenPair{}, domain.ErrInvalidRefreshToken
	}

	accessToken, err := l.codec.MintAccess(claims.UserID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("mint access token: %w", err)
	}
	newRefreshToken, err := l.codec.MintRefresh(claims.UserID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("mint refresh token: %w", err)
	}
	newClaims, err := l.codec.VerifyRefresh(newRefreshToken)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("decode minted refresh token: %w", err)
	}

	// Revoke and successor insert commit together; a storage failure after
	// the guard leaves the presented token unspent.
	_, won, err := l.sessions.Rotate(ctx, claims.JTI, domain.RefreshSession{
		UserID:         claims.UserID,
		JTI:            newClaims.JTI,
		ExpiresAt:      newClaims.ExpiresAt,
		RotatedFromJTI: claims.JTI,
	})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("rotate refresh session: %w", err)
	}
	if !won {
		// A concurrent rotation of the same token got here first.
		l.logger.Warn("concurrent refresh rotation lost compare-and-set",
			zap.Int64("user_id", claims.UserID),
			zap.String("jti", claims.JTI),
		)
		return domain.TokenPair{}, domain.ErrInvalidRefreshToken
	}

	return domain.TokenPair{
		AccessToken:  accessToken,
		TokenType:    bearerTokenType,
		RefreshToken: newRefreshToken,
	}, nil
}

// Revoke terminates the session behind a refresh token. It reports false for
// an unknown jti and true otherwise, including for sessions that were already
// revoked; logout is idempotent.
func (l *Ledger) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.Revoke")
	defer span.End()

	claims, err := l.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return false, err
	}
	found, err := l.sessions.Revoke(ctx, claims.JTI)
	if err != nil {
		return false, fmt.Errorf("revoke refresh session: %w", err)
	}
	return found, nil
}
