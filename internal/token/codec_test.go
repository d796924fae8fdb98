package token_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/smallbiznis-identity/internal/config"
	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	"github.com/smallbiznis/smallbiznis-identity/internal/token"
)

func testConfig() config.Config {
	return config.Config{
		SecretKey:       "test-secret",
		Algorithm:       "HS256",
		TokenIssuer:     "identity-service",
		TokenAudience:   "identity-clients",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		OAuthStateTTL:   5 * time.Minute,
	}
}

func newCodec(t *testing.T, cfg config.Config) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec(cfg)
	require.NoError(t, err)
	return codec
}

func TestNewCodecRejectsAsymmetricAlgorithm(t *testing.T) {
	cfg := testConfig()
	cfg.Algorithm = "RS256"
	_, err := token.NewCodec(cfg)
	require.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	codec := newCodec(t, testConfig())

	signed, err := codec.MintAccess(42)
	require.NoError(t, err)

	claims, err := codec.VerifyAccess(signed)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	codec := newCodec(t, testConfig())

	signed, err := codec.MintRefresh(7)
	require.NoError(t, err)

	claims, err := codec.VerifyRefresh(signed)
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
	require.NotEmpty(t, claims.JTI)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, 5*time.Second)
}

func TestRefreshTokensCarryUniqueJTIs(t *testing.T) {
	codec := newCodec(t, testConfig())

	first, err := codec.MintRefresh(7)
	require.NoError(t, err)
	second, err := codec.MintRefresh(7)
	require.NoError(t, err)

	firstClaims, err := codec.VerifyRefresh(first)
	require.NoError(t, err)
	secondClaims, err := codec.VerifyRefresh(second)
	require.NoError(t, err)
	require.NotEqual(t, firstClaims.JTI, secondClaims.JTI)
}

func TestVerifyAccessRejectsRefreshToken(t *testing.T) {
	codec := newCodec(t, testConfig())

	signed, err := codec.MintRefresh(42)
	require.NoError(t, err)

	_, err = codec.VerifyAccess(signed)
	require.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestVerifyRefreshRejectsAccessToken(t *testing.T) {
	codec := newCodec(t, testConfig())

	signed, err := codec.MintAccess(42)
	require.NoError(t, err)

	_, err = codec.VerifyRefresh(signed)
	require.True(t, errors.Is(err, domain.ErrInvalidRefreshToken))
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	codec := newCodec(t, testConfig())

	signed, err := codec.MintAccess(42)
	require.NoError(t, err)

	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = codec.VerifyAccess(tampered)
	require.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	codec := newCodec(t, testConfig())

	otherCfg := testConfig()
	otherCfg.SecretKey = "other-secret"
	other := newCodec(t, otherCfg)

	signed, err := other.MintAccess(42)
	require.NoError(t, err)

	_, err = codec.VerifyAccess(signed)
	require.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestVerifyRejectsForeignIssuer(t *testing.T) {
	codec := newCodec(t, testConfig())

	otherCfg := testConfig()
	otherCfg.TokenIssuer = "someone-else"
	other := newCodec(t, otherCfg)

	signed, err := other.MintAccess(42)
	require.NoError(t, err)

	_, err = codec.VerifyAccess(signed)
	require.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTokenTTL = -time.Minute
	codec := newCodec(t, cfg)

	signed, err := codec.MintAccess(42)
	require.NoError(t, err)

	_, err = codec.VerifyAccess(signed)
	require.True(t, errors.Is(err, domain.ErrInvalidCredentials))
}

func TestPeekUserID(t *testing.T) {
	codec := newCodec(t, testConfig())

	access, err := codec.MintAccess(42)
	require.NoError(t, err)
	refresh, err := codec.MintRefresh(42)
	require.NoError(t, err)

	userID, ok := codec.PeekUserID(access)
	require.True(t, ok)
	require.Equal(t, token.UntrustedUserID(42), userID)

	_, ok = codec.PeekUserID(refresh)
	require.False(t, ok)

	_, ok = codec.PeekUserID("not-a-token")
	require.False(t, ok)
}
