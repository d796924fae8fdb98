package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/smallbiznis/smallbiznis-identity/internal/config"
	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	domainoauth "github.com/smallbiznis/smallbiznis-identity/internal/domain/oauth"
)

const oauthStateTokenType = "oauth_state"

// StateCodec signs and parses the short-lived state token that carries the
// whole OAuth handshake: PKCE verifier, flow intent, optional link target.
// Nothing is persisted server-side; the signature is the session.
type StateCodec struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

func NewStateCodec(cfg config.Config) (*StateCodec, error) {
	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	return &StateCodec{
		secret: []byte(cfg.SecretKey),
		method: method,
		ttl:    cfg.OAuthStateTTL,
	}, nil
}

type stateClaims struct {
	TokenType          string `json:"token_type"`
	Provider           string `json:"provider"`
	CodeVerifier       string `json:"code_verifier"`
	RedirectToFrontend bool   `json:"redirect_to_frontend"`
	LinkUserID         int64  `json:"link_user_id,omitempty"`
	jwt.RegisteredClaims
}

// Build signs a state token for the given flow. linkUserID zero means a plain
// login flow; a positive value turns the callback into an account-link.
func (c *StateCodec) Build(provider, codeVerifier string, redirectToFrontend bool, linkUserID int64) (string, error) {
	now := time.Now().UTC()
	claims := stateClaims{
		TokenType:          oauthStateTokenType,
		Provider:           provider,
		CodeVerifier:       codeVerifier,
		RedirectToFrontend: redirectToFrontend,
		LinkUserID:         linkUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
}

// Parse validates the token and binds it to the provider the callback arrived
// on, so a state minted for one provider cannot complete another's flow.
func (c *StateCodec) Parse(stateToken, expectedProvider string) (domainoauth.State, error) {
	claims := &stateClaims{}
	_, err := jwt.ParseWithClaims(stateToken, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domainoauth.State{}, domain.ErrInvalidOAuthState
	}
	if claims.TokenType != oauthStateTokenType {
		return domainoauth.State{}, domain.ErrInvalidOAuthState
	}
	if claims.Provider != expectedProvider {
		return domainoauth.State{}, domain.ErrInvalidOAuthState
	}
	if claims.CodeVerifier == "" {
		return domainoauth.State{}, domain.ErrInvalidOAuthState
	}
	if claims.LinkUserID < 0 {
		return domainoauth.State{}, domain.ErrInvalidOAuthState
	}
	return domainoauth.State{
		Provider:           claims.Provider,
		CodeVerifier:       claims.CodeVerifier,
		RedirectToFrontend: claims.RedirectToFrontend,
		LinkUserID:         claims.LinkUserID,
	}, nil
}

// NewCodeVerifier returns 64 bytes of URL-safe randomness for PKCE.
func NewCodeVerifier() (string, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CodeChallenge derives the S256 challenge: unpadded URL-safe base64 of the
// SHA-256 digest over the verifier bytes.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
