package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	domainoauth "github.com/smallbiznis/smallbiznis-identity/internal/domain/oauth"
	"github.com/smallbiznis/smallbiznis-identity/internal/token"
)

// Outbound calls run inside a user-interactive redirect; they get one short
// attempt and no retries. The user restarts the flow on failure.
const providerTimeout = 10 * time.Second

const githubAPIVersion = "2022-11-28"

// Federation drives the authorization-code + PKCE exchange against an
// external provider and normalizes the resulting profile.
type Federation struct {
	registry *Registry
	states   *token.StateCodec
	client   *http.Client
	logger   *zap.Logger
	tracer   trace.Tracer

	githubEmailsURL string
}

func NewFederation(registry *Registry, states *token.StateCodec, logger *zap.Logger) *Federation {
	return &Federation{
		registry:        registry,
		states:          states,
		client:          &http.Client{Timeout: providerTimeout},
		logger:          logger,
		tracer:          otel.Tracer("oauth"),
		githubEmailsURL: "https://api.github.com/user/emails",
	}
}

func callbackURL(callbackBase, provider string) string {
	return strings.TrimRight(callbackBase, "/") + "/api/v1/auth/oauth/" + provider + "/callback"
}

// BuildAuthorizationURL composes the provider redirect: PKCE challenge, signed
// state, and any provider-specific authorize parameters.
func (f *Federation) BuildAuthorizationURL(provider, callbackBase string, redirectToFrontend bool, linkUserID int64) (string, error) {
	cfg, creds, err := f.registry.Get(provider)
	if err != nil {
		return "", err
	}

	codeVerifier, err := token.NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("generate pkce verifier: %w", err)
	}
	state, err := f.states.Build(provider, codeVerifier, redirectToFrontend, linkUserID)
	if err != nil {
		return "", fmt.Errorf("build oauth state: %w", err)
	}

	authorizeURL, err := url.Parse(cfg.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	params := authorizeURL.Query()
	params.Set("response_type", "code")
	params.Set("client_id", creds.ClientID)
	params.Set("redirect_uri", callbackURL(callbackBase, provider))
	params.Set("scope", strings.Join(cfg.Scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", token.CodeChallenge(codeVerifier))
	params.Set("code_challenge_method", "S256")
	for k, v := range cfg.AuthorizeParams {
		params.Set(k, v)
	}
	authorizeURL.RawQuery = params.Encode()
	return authorizeURL.String(), nil
}

// ExchangeCode swaps the authorization code for the provider's token payload.
func (f *Federation) ExchangeCode(ctx context.Context, provider, callbackBase, code, codeVerifier string) (domainoauth.TokenResponse, error) {
	ctx, span := f.tracer.Start(ctx, "Federation.ExchangeCode")
	defer span.End()

	cfg, creds, err := f.registry.Get(provider)
	if err != nil {
		return domainoauth.TokenResponse{}, err
	}

	form := url.Values{}
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", callbackURL(callbackBase, provider))
	form.Set("code_verifier", codeVerifier)
	// GitHub's token endpoint rejects grant_type.
	if provider != ProviderGitHub {
		form.Set("grant_type", "authorization_code")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domainoauth.TokenResponse{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if provider == ProviderGitHub {
		req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("oauth token endpoint unreachable", zap.String("provider", provider), zap.Error(err))
		return domainoauth.TokenResponse{}, domain.ErrProviderUnreachable
	}
	defer resp.Body.Close()

	raw := map[string]any{}
	// A non-JSON body is tolerated here; the status check below decides.
	_ = decodeJSON(resp.Body, &raw)

	if resp.StatusCode >= 400 || raw["error"] != nil {
		message := stringValue(raw["error_description"])
		if message == "" {
			message = stringValue(raw["error"])
		}
		if message == "" {
			message = "OAuth code exchange failed"
		}
		return domainoauth.TokenResponse{}, domain.ErrExchangeFailed.WithMessage(message)
	}

	accessToken := stringValue(raw["access_token"])
	if accessToken == "" {
		return domainoauth.TokenResponse{}, domain.ErrInvalidTokenResponse
	}

	return domainoauth.TokenResponse{
		AccessToken: accessToken,
		TokenType:   stringValue(raw["token_type"]),
		IDToken:     stringValue(raw["id_token"]),
		Scope:       stringValue(raw["scope"]),
		Raw:         raw,
	}, nil
}

// FetchIdentity turns a token payload into a normalized ExternalIdentity,
// dispatching on the provider's profile mechanism.
func (f *Federation) FetchIdentity(ctx context.Context, provider string, payload domainoauth.TokenResponse) (domainoauth.ExternalIdentity, error) {
	ctx, span := f.tracer.Start(ctx, "Federation.FetchIdentity")
	defer span.End()

	if provider == ProviderApple {
		return appleIdentity(payload)
	}
	if provider == ProviderGitHub {
		return f.githubIdentity(ctx, payload.AccessToken)
	}

	cfg, _, err := f.registry.Get(provider)
	if err != nil {
		return domainoauth.ExternalIdentity{}, err
	}
	if cfg.UserInfoURL == "" {
		return domainoauth.ExternalIdentity{}, domain.ErrProfileFetchFailed
	}
	profile, err := f.fetchJSON(ctx, cfg.UserInfoURL, payload.AccessToken, cfg.UserInfoParams, nil)
	if err != nil {
		return domainoauth.ExternalIdentity{}, err
	}
	return identityFromProfile(provider, profile)
}

// appleIdentity reads subject and email out of the id_token claims. The token
// is not signature-checked: it arrived over the code-exchange TLS channel we
// initiated, which is the trust anchor here.
func appleIdentity(payload domainoauth.TokenResponse) (domainoauth.ExternalIdentity, error) {
	if payload.IDToken == "" {
		return domainoauth.ExternalIdentity{}, domain.ErrProfileFetchFailed
	}
	parsed, err := josejwt.ParseSigned(payload.IDToken, []jose.SignatureAlgorithm{
		jose.RS256, jose.ES256, jose.HS256,
	})
	if err != nil {
		return domainoauth.ExternalIdentity{}, domain.ErrProfileFetchFailed
	}
	claims := map[string]any{}
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return domainoauth.ExternalIdentity{}, domain.ErrProfileFetchFailed
	}
	subject := stringValue(claims["sub"])
	if subject == "" {
		return domainoauth.ExternalIdentity{}, domain.ErrProfileFetchFailed
	}
	return domainoauth.ExternalIdentity{
		Provider:      ProviderApple,
		Subject:       subject,
		Email:         stringValue(claims["email"]),
		EmailVerified: boolValue(claims["email_verified"]),
	}, nil
}

func (f *Federation) githubIdentity(ctx context.Context, accessToken string) (domainoauth.ExternalIdentity, error) {
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": githubAPIVersion,
	}
	cfg := providerConfigs[ProviderGitHub]
	if custom, ok := f.registry.table[ProviderGitHub]; ok {
		cfg = custom
	}
	profile, err := f.fetchJSON(ctx, cfg.UserInfoURL, accessToken, nil, headers)
	if err != nil {
		return domainoauth.ExternalIdentity{}, err
	}
	identity, err := identityFromProfile(ProviderGitHub, profile)
	if err != nil {
		return domainoauth.ExternalIdentity{}, err
	}
	if identity.Email != "" {
		return identity, nil
	}
	// The primary profile hides the email for many GitHub accounts; fall
	// back to the email list and prefer a primary verified address.
	email, verified := f.selectGitHubEmail(ctx, accessToken)
	identity.Email = email
	identity.EmailVerified = verified
	return identity, nil
}

// selectGitHubEmail is best effort: any failure yields "no email" rather than
// an error, leaving the email-required decision to the linker.
func (f *Federation) selectGitHubEmail(ctx context.Context, accessToken string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.githubEmailsURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", false
	}

	var entries []map[string]any
	if err := decodeJSON(resp.Body, &entries); err != nil {
		return "", false
	}

	var fallback string
	for _, entry := range entries {
		if !boolValue(entry["verified"]) {
			continue
		}
		email := stringValue(entry["email"])
		if email == "" {
			continue
		}
		if boolValue(entry["primary"]) {
			return email, true
		}
		if fallback == "" {
			fallback = email
		}
	}
	if fallback != "" {
		return fallback, true
	}
	return "", false
}

func (f *Federation) fetchJSON(ctx context.Context, rawURL, accessToken string, params, headers map[string]string) (map[string]any, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, domain.ErrProfileFetchFailed
	}
	if len(params) > 0 {
		query := target.Query()
		for k, v := range params {
			query.Set(k, v)
		}
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, domain.ErrProfileFetchFailed
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("oauth profile endpoint unreachable", zap.String("url", rawURL), zap.Error(err))
		return nil, domain.ErrProfileFetchFailed
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, domain.ErrProfileFetchFailed
	}

	payload := map[string]any{}
	if err := decodeJSON(resp.Body, &payload); err != nil {
		return nil, domain.ErrProfileFetchFailed
	}
	return payload, nil
}

// identityFromProfile normalizes a userinfo payload. OIDC providers carry the
// subject in "sub"; the graph-style ones use "id", often as a number.
func identityFromProfile(provider string, profile map[string]any) (domainoauth.ExternalIdentity, error) {
	subjectKey := "id"
	if provider == ProviderGoogle || provider == ProviderMicrosoft {
		subjectKey = "sub"
	}
	subject := stringValue(profile[subjectKey])
	if subject == "" {
		return domainoauth.ExternalIdentity{}, domain.ErrProfileFetchFailed
	}

	email := stringValue(profile["email"])
	if provider == ProviderMicrosoft && email == "" {
		email = stringValue(profile["preferred_username"])
	}

	emailVerified := boolValue(profile["email_verified"])
	// Facebook returns only verified addresses and no email_verified flag.
	if provider == ProviderFacebook && email != "" {
		emailVerified = true
	}

	return domainoauth.ExternalIdentity{
		Provider:      provider,
		Subject:       subject,
		Email:         email,
		EmailVerified: emailVerified,
	}, nil
}

func decodeJSON(r io.Reader, out any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(out)
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	default:
		return ""
	}
}

func boolValue(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		}
		return false
	case json.Number:
		return value.String() != "0"
	default:
		return false
	}
}
