package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/smallbiznis/smallbiznis-identity/internal/config"
	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
)

const (
	accessTokenType  = "access"
	refreshTokenType = "refresh"
)

// Codec mints and verifies the access/refresh JWT pair. Minting and
// verification are pure; the codec holds no mutable state and is safe for
// unbounded concurrent use.
type Codec struct {
	secret     []byte
	method     jwt.SigningMethod
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// signingMethod resolves a configured algorithm name against the symmetric
// allow-list. Asymmetric methods are rejected here even if golang-jwt knows
// them, so a misconfigured deployment fails at startup.
func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("signing algorithm %q is not in the symmetric allow-list", alg)
	}
}

// NewCodec builds a codec bound to the deployment's issuer and audience.
// Tokens minted by a differently-configured instance fail verification here
// even when both instances share a secret.
func NewCodec(cfg config.Config) (*Codec, error) {
	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	return &Codec{
		secret:     []byte(cfg.SecretKey),
		method:     method,
		issuer:     cfg.TokenIssuer,
		audience:   cfg.TokenAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

type sessionClaims struct {
	UserID    int64  `json:"user_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// AccessClaims is the authoritative result of access-token verification.
type AccessClaims struct {
	UserID int64
}

// RefreshClaims carries what the ledger needs to locate the session row.
type RefreshClaims struct {
	UserID    int64
	JTI       string
	ExpiresAt time.Time
}

// UntrustedUserID is a best-effort decode result. It is a distinct type so it
// cannot be handed to anything expecting a verified identity.
type UntrustedUserID int64

func (c *Codec) mint(userID int64, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
}

// MintAccess issues a fresh access token. The jti is random on every call;
// access tokens are never individually revocable.
func (c *Codec) MintAccess(userID int64) (string, error) {
	return c.mint(userID, accessTokenType, c.accessTTL)
}

// MintRefresh issues a fresh refresh token whose jti keys the session ledger.
func (c *Codec) MintRefresh(userID int64) (string, error) {
	return c.mint(userID, refreshTokenType, c.refreshTTL)
}

func (c *Codec) decode(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyAccess validates signature, algorithm, issuer/audience, expiry and
// token type. Every violation collapses to ErrInvalidCredentials.
func (c *Codec) VerifyAccess(token string) (AccessClaims, error) {
	claims, err := c.decode(token)
	if err != nil {
		return AccessClaims{}, domain.ErrInvalidCredentials
	}
	if claims.TokenType != accessTokenType || claims.UserID <= 0 {
		return AccessClaims{}, domain.ErrInvalidCredentials
	}
	return AccessClaims{UserID: claims.UserID}, nil
}

// VerifyRefresh applies the same validation but requires token_type=refresh
// and a jti. Every violation collapses to ErrInvalidRefreshToken; callers
// never learn which check failed.
func (c *Codec) VerifyRefresh(token string) (RefreshClaims, error) {
	claims, err := c.decode(token)
	if err != nil {
		return RefreshClaims{}, domain.ErrInvalidRefreshToken
	}
	if claims.TokenType != refreshTokenType || claims.UserID <= 0 || claims.ID == "" {
		return RefreshClaims{}, domain.ErrInvalidRefreshToken
	}
	return RefreshClaims{
		UserID:    claims.UserID,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// PeekUserID extracts the user id from an access token, swallowing every
// validation error instead of propagating it. It exists for non-authoritative
// uses such as rate-limit key derivation; the distinct return type keeps it
// out of access-control decisions.
func (c *Codec) PeekUserID(token string) (UntrustedUserID, bool) {
	claims, err := c.decode(token)
	if err != nil {
		return 0, false
	}
	if claims.TokenType != accessTokenType || claims.UserID <= 0 {
		return 0, false
	}
	return UntrustedUserID(claims.UserID), true
}
