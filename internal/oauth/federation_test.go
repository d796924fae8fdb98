package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-identity/internal/config"
	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	domainoauth "github.com/smallbiznis/smallbiznis-identity/internal/domain/oauth"
	"github.com/smallbiznis/smallbiznis-identity/internal/token"
)

func federationConfig() config.Config {
	return config.Config{
		SecretKey:               "test-secret",
		Algorithm:               "HS256",
		OAuthStateTTL:           5 * time.Minute,
		OAuthGitHubClientID:     "github-id",
		OAuthGitHubClientSecret: "github-secret",
		OAuthGoogleClientID:     "google-id",
		OAuthGoogleClientSecret: "google-secret",
		OAuthAppleClientID:      "apple-id",
		OAuthAppleClientSecret:  "apple-secret",
		OAuthFacebookClientID:   "facebook-id",
		OAuthFacebookClientSecret: "facebook-secret",
		OAuthMicrosoftClientID:    "microsoft-id",
		OAuthMicrosoftClientSecret: "microsoft-secret",
	}
}

// testRegistry swaps provider endpoints for httptest servers while keeping
// the production credential resolution.
func testRegistry(cfg config.Config, overrides map[string]domainoauth.ProviderConfig) *Registry {
	table := make(map[string]domainoauth.ProviderConfig, len(providerConfigs))
	for key, value := range providerConfigs {
		table[key] = value
	}
	for key, value := range overrides {
		table[key] = value
	}
	return &Registry{cfg: cfg, table: table, order: providerOrder}
}

func newTestFederation(t *testing.T, cfg config.Config, overrides map[string]domainoauth.ProviderConfig) (*Federation, *token.StateCodec) {
	t.Helper()
	states, err := token.NewStateCodec(cfg)
	require.NoError(t, err)
	federation := NewFederation(testRegistry(cfg, overrides), states, zap.NewNop())
	return federation, states
}

func TestBuildAuthorizationURL(t *testing.T) {
	federation, states := newTestFederation(t, federationConfig(), nil)

	raw, err := federation.BuildAuthorizationURL(ProviderGitHub, "https://id.example.com", true, 0)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "github.com", parsed.Host)

	query := parsed.Query()
	require.Equal(t, "code", query.Get("response_type"))
	require.Equal(t, "github-id", query.Get("client_id"))
	require.Equal(t, "https://id.example.com/api/v1/auth/oauth/github/callback", query.Get("redirect_uri"))
	require.Equal(t, "read:user user:email", query.Get("scope"))
	require.Equal(t, "S256", query.Get("code_challenge_method"))

	state, err := states.Parse(query.Get("state"), ProviderGitHub)
	require.NoError(t, err)
	require.True(t, state.RedirectToFrontend)
	require.Zero(t, state.LinkUserID)
	require.Equal(t, token.CodeChallenge(state.CodeVerifier), query.Get("code_challenge"))
}

func TestBuildAuthorizationURLForLinkFlow(t *testing.T) {
	federation, states := newTestFederation(t, federationConfig(), nil)

	raw, err := federation.BuildAuthorizationURL(ProviderGoogle, "https://id.example.com", true, 55)
	require.NoError(t, err)

	query, err := url.Parse(raw)
	require.NoError(t, err)
	state, err := states.Parse(query.Query().Get("state"), ProviderGoogle)
	require.NoError(t, err)
	require.Equal(t, int64(55), state.LinkUserID)
}

func TestBuildAuthorizationURLAppleUsesFormPost(t *testing.T) {
	federation, _ := newTestFederation(t, federationConfig(), nil)

	raw, err := federation.BuildAuthorizationURL(ProviderApple, "https://id.example.com", true, 0)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "form_post", parsed.Query().Get("response_mode"))
}

func TestBuildAuthorizationURLUnconfiguredProvider(t *testing.T) {
	cfg := federationConfig()
	cfg.OAuthGitHubClientSecret = ""
	federation, _ := newTestFederation(t, cfg, nil)

	_, err := federation.BuildAuthorizationURL(ProviderGitHub, "https://id.example.com", true, 0)
	require.True(t, errors.Is(err, domain.ErrProviderNotConfigured))
}

func TestExchangeCodeGoogleSendsGrantType(t *testing.T) {
	var captured url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		captured = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "provider-token", "token_type": "Bearer", "id_token": "header.payload.sig"})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGoogle: {Provider: ProviderGoogle, TokenURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	payload, err := federation.ExchangeCode(context.Background(), ProviderGoogle, "https://id.example.com", "the-code", "the-verifier")
	require.NoError(t, err)
	require.Equal(t, "provider-token", payload.AccessToken)
	require.Equal(t, "Bearer", payload.TokenType)
	require.Equal(t, "header.payload.sig", payload.IDToken)

	require.Equal(t, "authorization_code", captured.Get("grant_type"))
	require.Equal(t, "google-id", captured.Get("client_id"))
	require.Equal(t, "google-secret", captured.Get("client_secret"))
	require.Equal(t, "the-code", captured.Get("code"))
	require.Equal(t, "the-verifier", captured.Get("code_verifier"))
	require.Equal(t, "https://id.example.com/api/v1/auth/oauth/google/callback", captured.Get("redirect_uri"))
}

func TestExchangeCodeGitHubOmitsGrantType(t *testing.T) {
	var captured url.Values
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		captured = r.PostForm
		headers = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "gh-token", "token_type": "bearer"})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGitHub: {Provider: ProviderGitHub, TokenURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	_, err := federation.ExchangeCode(context.Background(), ProviderGitHub, "https://id.example.com", "the-code", "the-verifier")
	require.NoError(t, err)

	require.False(t, captured.Has("grant_type"))
	require.Equal(t, "application/json", headers.Get("Accept"))
	require.Equal(t, "2022-11-28", headers.Get("X-GitHub-Api-Version"))
}

func TestExchangeCodeSurfacesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant", "error_description": "Code expired"})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGoogle: {Provider: ProviderGoogle, TokenURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	_, err := federation.ExchangeCode(context.Background(), ProviderGoogle, "https://id.example.com", "the-code", "the-verifier")
	require.True(t, errors.Is(err, domain.ErrExchangeFailed))

	var domErr *domain.Error
	require.True(t, errors.As(err, &domErr))
	require.Equal(t, "Code expired", domErr.Message)
}

func TestExchangeCodeErrorFieldWith200(t *testing.T) {
	// GitHub reports failures in a 200 body.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"error": "bad_verification_code"})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGitHub: {Provider: ProviderGitHub, TokenURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	_, err := federation.ExchangeCode(context.Background(), ProviderGitHub, "https://id.example.com", "the-code", "the-verifier")
	require.True(t, errors.Is(err, domain.ErrExchangeFailed))

	var domErr *domain.Error
	require.True(t, errors.As(err, &domErr))
	require.Equal(t, "bad_verification_code", domErr.Message)
}

func TestExchangeCodeMissingAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"token_type": "bearer"})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGoogle: {Provider: ProviderGoogle, TokenURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	_, err := federation.ExchangeCode(context.Background(), ProviderGoogle, "https://id.example.com", "the-code", "the-verifier")
	require.True(t, errors.Is(err, domain.ErrInvalidTokenResponse))
}

func TestExchangeCodeUnreachableProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGoogle: {Provider: ProviderGoogle, TokenURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	_, err := federation.ExchangeCode(context.Background(), ProviderGoogle, "https://id.example.com", "the-code", "the-verifier")
	require.True(t, errors.Is(err, domain.ErrProviderUnreachable))
}

func TestFetchIdentityGoogle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer provider-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"sub": "google-sub", "email": "user@example.com", "email_verified": true})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGoogle: {Provider: ProviderGoogle, UserInfoURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	identity, err := federation.FetchIdentity(context.Background(), ProviderGoogle, domainoauth.TokenResponse{AccessToken: "provider-token"})
	require.NoError(t, err)
	require.Equal(t, domainoauth.ExternalIdentity{
		Provider:      ProviderGoogle,
		Subject:       "google-sub",
		Email:         "user@example.com",
		EmailVerified: true,
	}, identity)
}

func TestFetchIdentityMicrosoftPreferredUsernameFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"sub": "ms-sub", "preferred_username": "user@contoso.com"})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderMicrosoft: {Provider: ProviderMicrosoft, UserInfoURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	identity, err := federation.FetchIdentity(context.Background(), ProviderMicrosoft, domainoauth.TokenResponse{AccessToken: "provider-token"})
	require.NoError(t, err)
	require.Equal(t, "ms-sub", identity.Subject)
	require.Equal(t, "user@contoso.com", identity.Email)
	require.False(t, identity.EmailVerified)
}

func TestFetchIdentityFacebookNumericIDAndImplicitVerification(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 123456789, "email": "user@example.com"})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderFacebook: {
			Provider:       ProviderFacebook,
			UserInfoURL:    server.URL,
			UserInfoParams: map[string]string{"fields": "id,name,email"},
		},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	identity, err := federation.FetchIdentity(context.Background(), ProviderFacebook, domainoauth.TokenResponse{AccessToken: "provider-token"})
	require.NoError(t, err)
	require.Equal(t, "123456789", identity.Subject)
	require.True(t, identity.EmailVerified)
	require.Equal(t, "id,name,email", query.Get("fields"))
}

func TestFetchIdentityGitHubHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		require.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 777, "email": "octocat@example.com"})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGitHub: {Provider: ProviderGitHub, UserInfoURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	identity, err := federation.FetchIdentity(context.Background(), ProviderGitHub, domainoauth.TokenResponse{AccessToken: "gh-token"})
	require.NoError(t, err)
	require.Equal(t, "777", identity.Subject)
	require.Equal(t, "octocat@example.com", identity.Email)
}

func TestFetchIdentityGitHubEmailFallbackPrefersPrimary(t *testing.T) {
	profile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 777})
	}))
	defer profile.Close()
	emails := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"email": "old@example.com", "verified": true, "primary": false},
			{"email": "unverified@example.com", "verified": false, "primary": true},
			{"email": "primary@example.com", "verified": true, "primary": true},
		})
	}))
	defer emails.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGitHub: {Provider: ProviderGitHub, UserInfoURL: profile.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)
	federation.githubEmailsURL = emails.URL

	identity, err := federation.FetchIdentity(context.Background(), ProviderGitHub, domainoauth.TokenResponse{AccessToken: "gh-token"})
	require.NoError(t, err)
	require.Equal(t, "primary@example.com", identity.Email)
	require.True(t, identity.EmailVerified)
}

func TestFetchIdentityGitHubEmailFallbackAnyVerified(t *testing.T) {
	profile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 777})
	}))
	defer profile.Close()
	emails := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"email": "unverified@example.com", "verified": false, "primary": true},
			{"email": "secondary@example.com", "verified": true, "primary": false},
		})
	}))
	defer emails.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGitHub: {Provider: ProviderGitHub, UserInfoURL: profile.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)
	federation.githubEmailsURL = emails.URL

	identity, err := federation.FetchIdentity(context.Background(), ProviderGitHub, domainoauth.TokenResponse{AccessToken: "gh-token"})
	require.NoError(t, err)
	require.Equal(t, "secondary@example.com", identity.Email)
	require.True(t, identity.EmailVerified)
}

func TestFetchIdentityGitHubNoVerifiedEmail(t *testing.T) {
	profile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": 777})
	}))
	defer profile.Close()
	emails := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{"email": "unverified@example.com", "verified": false, "primary": true},
		})
	}))
	defer emails.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGitHub: {Provider: ProviderGitHub, UserInfoURL: profile.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)
	federation.githubEmailsURL = emails.URL

	identity, err := federation.FetchIdentity(context.Background(), ProviderGitHub, domainoauth.TokenResponse{AccessToken: "gh-token"})
	require.NoError(t, err)
	require.Empty(t, identity.Email)
	require.False(t, identity.EmailVerified)
}

func TestFetchIdentityAppleReadsIDToken(t *testing.T) {
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            "apple-sub",
		"email":          "user@privaterelay.appleid.com",
		"email_verified": "true",
	}).SignedString([]byte("apple-signing-key"))
	require.NoError(t, err)

	federation, _ := newTestFederation(t, federationConfig(), nil)

	identity, err := federation.FetchIdentity(context.Background(), ProviderApple, domainoauth.TokenResponse{
		AccessToken: "provider-token",
		IDToken:     idToken,
	})
	require.NoError(t, err)
	require.Equal(t, "apple-sub", identity.Subject)
	require.Equal(t, "user@privaterelay.appleid.com", identity.Email)
	require.True(t, identity.EmailVerified)
}

func TestFetchIdentityAppleMissingIDToken(t *testing.T) {
	federation, _ := newTestFederation(t, federationConfig(), nil)

	_, err := federation.FetchIdentity(context.Background(), ProviderApple, domainoauth.TokenResponse{AccessToken: "provider-token"})
	require.True(t, errors.Is(err, domain.ErrProfileFetchFailed))
}

func TestFetchIdentityProfileEndpointFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGoogle: {Provider: ProviderGoogle, UserInfoURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	_, err := federation.FetchIdentity(context.Background(), ProviderGoogle, domainoauth.TokenResponse{AccessToken: "provider-token"})
	require.True(t, errors.Is(err, domain.ErrProfileFetchFailed))
}

func TestFetchIdentityMissingSubject(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"email": "user@example.com"})
	}))
	defer server.Close()

	overrides := map[string]domainoauth.ProviderConfig{
		ProviderGoogle: {Provider: ProviderGoogle, UserInfoURL: server.URL},
	}
	federation, _ := newTestFederation(t, federationConfig(), overrides)

	_, err := federation.FetchIdentity(context.Background(), ProviderGoogle, domainoauth.TokenResponse{AccessToken: "provider-token"})
	require.True(t, errors.Is(err, domain.ErrProfileFetchFailed))
}
