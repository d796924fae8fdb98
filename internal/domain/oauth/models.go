package oauth

import "time"

// ProviderConfig is the static description of an external identity provider:
// where to send the user, where to swap the code, and how to read the profile.
type ProviderConfig struct {
	Provider        string
	DisplayName     string
	AuthorizeURL    string
	TokenURL        string
	Scopes          []string
	UserInfoURL     string
	UserInfoParams  map[string]string
	AuthorizeParams map[string]string
}

// Credentials is the client id/secret pair registered with a provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// State is the decoded content of a signed state token: the PKCE verifier plus
// the intent of the flow. It exists only inside the token, never server-side.
type State struct {
	Provider           string
	CodeVerifier       string
	RedirectToFrontend bool
	LinkUserID         int64
}

// TokenResponse models the payload returned by a provider token endpoint.
type TokenResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	IDToken     string         `json:"id_token"`
	Scope       string         `json:"scope"`
	Raw         map[string]any `json:"-"`
}

// ExternalIdentity is the normalized profile a provider vouches for.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
}

// Account binds one external identity to one local user.
// (provider, provider_subject) is globally unique.
type Account struct {
	ID              int64
	UserID          int64
	Provider        string
	ProviderSubject string
	ProviderEmail   string
	CreatedAt       time.Time
	LastLoginAt     time.Time
}
