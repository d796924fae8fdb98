package oauth

import (
	"github.com/smallbiznis/smallbiznis-identity/internal/config"
	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	domainoauth "github.com/smallbiznis/smallbiznis-identity/internal/domain/oauth"
)

// Supported provider keys.
const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
	ProviderApple     = "apple"
	ProviderFacebook  = "facebook"
	ProviderGitHub    = "github"
)

// providerOrder fixes enumeration order for discovery responses.
var providerOrder = []string{
	ProviderGoogle,
	ProviderMicrosoft,
	ProviderApple,
	ProviderFacebook,
	ProviderGitHub,
}

var providerConfigs = map[string]domainoauth.ProviderConfig{
	ProviderGoogle: {
		Provider:     ProviderGoogle,
		DisplayName:  "Google",
		AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		Scopes:       []string{"openid", "email", "profile"},
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
	},
	ProviderMicrosoft: {
		Provider:     ProviderMicrosoft,
		DisplayName:  "Microsoft",
		AuthorizeURL: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		TokenURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		Scopes:       []string{"openid", "profile", "email"},
		UserInfoURL:  "https://graph.microsoft.com/oidc/userinfo",
	},
	ProviderApple: {
		Provider:     ProviderApple,
		DisplayName:  "Apple",
		AuthorizeURL: "https://appleid.apple.com/auth/authorize",
		TokenURL:     "https://appleid.apple.com/auth/token",
		Scopes:       []string{"openid", "email", "name"},
		// Apple has no userinfo endpoint; identity rides in the id_token.
		AuthorizeParams: map[string]string{"response_mode": "form_post"},
	},
	ProviderFacebook: {
		Provider:       ProviderFacebook,
		DisplayName:    "Facebook",
		AuthorizeURL:   "https://www.facebook.com/v19.0/dialog/oauth",
		TokenURL:       "https://graph.facebook.com/v19.0/oauth/access_token",
		Scopes:         []string{"email", "public_profile"},
		UserInfoURL:    "https://graph.facebook.com/me",
		UserInfoParams: map[string]string{"fields": "id,name,email"},
	},
	ProviderGitHub: {
		Provider:     ProviderGitHub,
		DisplayName:  "GitHub",
		AuthorizeURL: "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		Scopes:       []string{"read:user", "user:email"},
		UserInfoURL:  "https://api.github.com/user",
	},
}

// Registry resolves the static provider table against configured credentials.
// Unknown and unconfigured providers are both not-found so callers cannot
// enumerate what exists but is disabled.
type Registry struct {
	cfg   config.Config
	table map[string]domainoauth.ProviderConfig
	order []string
}

func NewRegistry(cfg config.Config) *Registry {
	return &Registry{cfg: cfg, table: providerConfigs, order: providerOrder}
}

func (r *Registry) credentials(provider string) (domainoauth.Credentials, error) {
	var creds domainoauth.Credentials
	switch provider {
	case ProviderGoogle:
		creds = domainoauth.Credentials{ClientID: r.cfg.OAuthGoogleClientID, ClientSecret: r.cfg.OAuthGoogleClientSecret}
	case ProviderMicrosoft:
		creds = domainoauth.Credentials{ClientID: r.cfg.OAuthMicrosoftClientID, ClientSecret: r.cfg.OAuthMicrosoftClientSecret}
	case ProviderApple:
		creds = domainoauth.Credentials{ClientID: r.cfg.OAuthAppleClientID, ClientSecret: r.cfg.OAuthAppleClientSecret}
	case ProviderFacebook:
		creds = domainoauth.Credentials{ClientID: r.cfg.OAuthFacebookClientID, ClientSecret: r.cfg.OAuthFacebookClientSecret}
	case ProviderGitHub:
		creds = domainoauth.Credentials{ClientID: r.cfg.OAuthGitHubClientID, ClientSecret: r.cfg.OAuthGitHubClientSecret}
	default:
		return domainoauth.Credentials{}, domain.ErrProviderUnsupported
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return domainoauth.Credentials{}, domain.ErrProviderNotConfigured
	}
	return creds, nil
}

// Get returns the static config and credentials for a provider key.
func (r *Registry) Get(provider string) (domainoauth.ProviderConfig, domainoauth.Credentials, error) {
	cfg, ok := r.table[provider]
	if !ok {
		return domainoauth.ProviderConfig{}, domainoauth.Credentials{}, domain.ErrProviderUnsupported
	}
	creds, err := r.credentials(provider)
	if err != nil {
		return domainoauth.ProviderConfig{}, domainoauth.Credentials{}, err
	}
	return cfg, creds, nil
}

// ListEnabled returns only providers with a full credential pair, in stable
// order.
func (r *Registry) ListEnabled() []domainoauth.ProviderConfig {
	enabled := make([]domainoauth.ProviderConfig, 0, len(r.order))
	for _, provider := range r.order {
		if _, err := r.credentials(provider); err != nil {
			continue
		}
		enabled = append(enabled, r.table[provider])
	}
	return enabled
}
