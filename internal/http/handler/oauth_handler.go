package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	"github.com/smallbiznis/smallbiznis-identity/internal/http/middleware"
)

const fallbackOAuthError = "OAuth authentication failed"

// OAuthProviders lists the providers with configured credentials.
func (h *AuthHandler) OAuthProviders(c *gin.Context) {
	type providerOut struct {
		Provider     string `json:"provider"`
		DisplayName  string `json:"display_name"`
		StartURL     string `json:"start_url"`
		LinkStartURL string `json:"link_start_url"`
	}

	enabled := h.registry.ListEnabled()
	providers := make([]providerOut, 0, len(enabled))
	for _, p := range enabled {
		providers = append(providers, providerOut{
			Provider:     p.Provider,
			DisplayName:  p.DisplayName,
			StartURL:     "/api/v1/auth/oauth/" + p.Provider + "/start",
			LinkStartURL: "/api/v1/auth/oauth/" + p.Provider + "/link/start",
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// OAuthStart redirects the browser to the provider's authorize endpoint.
func (h *AuthHandler) OAuthStart(c *gin.Context) {
	provider := c.Param("provider")

	redirectToFrontend := true
	if raw := c.Query("redirect_to_frontend"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			redirectToFrontend = parsed
		}
	}

	authorizeURL, err := h.federation.BuildAuthorizationURL(provider, h.publicBase(c), redirectToFrontend, 0)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, authorizeURL)
}

// OAuthLinkStart begins a link flow bound to the authenticated user.
func (h *AuthHandler) OAuthLinkStart(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		h.respondError(c, domain.ErrInvalidCredentials)
		return
	}
	provider := c.Param("provider")

	authorizeURL, err := h.federation.BuildAuthorizationURL(provider, h.publicBase(c), true, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorization_url": authorizeURL})
}

// OAuthCallback finishes the flow. Registered for both GET (query params) and
// POST (Apple's form_post response mode).
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	provider := c.Param("provider")

	stateToken := h.callbackParam(c, "state")
	if stateToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_oauth_state", "error_description": "OAuth callback is missing state"})
		return
	}
	state, err := h.states.Parse(stateToken, provider)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if providerError, description := h.callbackParam(c, "error"), h.callbackParam(c, "error_description"); providerError != "" || description != "" {
		message := description
		if message == "" {
			message = providerError
		}
		if message == "" {
			message = fallbackOAuthError
		}
		if state.RedirectToFrontend {
			h.frontendRedirect(c, url.Values{"provider": {provider}, "error": {message}})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "oauth_provider_error", "error_description": message})
		return
	}

	code := h.callbackParam(c, "code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "oauth_code_missing", "error_description": "OAuth callback is missing code"})
		return
	}

	ctx := c.Request.Context()
	payload, err := h.federation.ExchangeCode(ctx, provider, h.publicBase(c), code, state.CodeVerifier)
	if err != nil {
		h.respondError(c, err)
		return
	}
	identity, err := h.federation.FetchIdentity(ctx, provider, payload)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.linker.CompleteCallback(ctx, identity, state)
	if err != nil {
		h.respondError(c, err)
		return
	}

	switch {
	case result.Linked:
		if state.RedirectToFrontend {
			h.frontendRedirect(c, url.Values{"provider": {provider}, "linked": {"true"}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"provider": provider, "linked": true})
	case result.Tokens != nil:
		if state.RedirectToFrontend {
			params := url.Values{
				"provider":     {provider},
				"access_token": {result.Tokens.AccessToken},
				"token_type":   {result.Tokens.TokenType},
			}
			if result.Tokens.RefreshToken != "" {
				params.Set("refresh_token", result.Tokens.RefreshToken)
			}
			h.frontendRedirect(c, params)
			return
		}
		c.JSON(http.StatusOK, result.Tokens)
	default:
		h.respondError(c, domain.ErrCallbackInvalidResponse)
	}
}

// callbackParam reads from the form body on POST callbacks and from the query
// string otherwise.
func (h *AuthHandler) callbackParam(c *gin.Context, name string) string {
	if c.Request.Method == http.MethodPost {
		if value := c.PostForm(name); value != "" {
			return value
		}
	}
	return c.Query(name)
}

// frontendRedirect sends the browser back to the frontend callback page with
// the result in the URL fragment, keeping tokens out of server logs.
func (h *AuthHandler) frontendRedirect(c *gin.Context, params url.Values) {
	target := h.cfg.OAuthFrontendCallbackURL
	if target == "" {
		target = "/"
	}
	c.Redirect(http.StatusFound, target+"#"+params.Encode())
}

// publicBase is the externally reachable base URL used for provider
// redirect_uri values. A configured base wins over request inspection so the
// value survives proxies.
func (h *AuthHandler) publicBase(c *gin.Context) string {
	if base := h.cfg.OAuthPublicBaseURL; base != "" {
		return strings.TrimRight(base, "/")
	}
	return schemeOnly(c.Request) + "://" + c.Request.Host
}

func schemeOnly(r *http.Request) string {
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
