package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-identity/internal/config"
	"github.com/smallbiznis/smallbiznis-identity/internal/domain"
	domainoauth "github.com/smallbiznis/smallbiznis-identity/internal/domain/oauth"
	"github.com/smallbiznis/smallbiznis-identity/internal/http/middleware"
	"github.com/smallbiznis/smallbiznis-identity/internal/oauth"
	"github.com/smallbiznis/smallbiznis-identity/internal/password"
	"github.com/smallbiznis/smallbiznis-identity/internal/repository"
	"github.com/smallbiznis/smallbiznis-identity/internal/session"
	"github.com/smallbiznis/smallbiznis-identity/internal/token"
)

// AuthHandler serves login, refresh rotation, logout, and registration.
type AuthHandler struct {
	cfg    config.Config
	users  repository.UserRepository
	ledger *session.Ledger
	outbox repository.Outbox
	logger *zap.Logger

	federation Federation
	registry   *oauth.Registry
	linker     Linker
	states     *token.StateCodec
}

// Federation is the provider-facing slice of the oauth package the handlers
// need.
type Federation interface {
	BuildAuthorizationURL(provider, callbackBase string, redirectToFrontend bool, linkUserID int64) (string, error)
	ExchangeCode(ctx context.Context, provider, callbackBase, code, codeVerifier string) (domainoauth.TokenResponse, error)
	FetchIdentity(ctx context.Context, provider string, payload domainoauth.TokenResponse) (domainoauth.ExternalIdentity, error)
}

// Linker resolves a fetched identity into tokens or a link confirmation.
type Linker interface {
	CompleteCallback(ctx context.Context, identity domainoauth.ExternalIdentity, state domainoauth.State) (oauth.CallbackResult, error)
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(
	cfg config.Config,
	users repository.UserRepository,
	ledger *session.Ledger,
	outbox repository.Outbox,
	registry *oauth.Registry,
	federation Federation,
	linker Linker,
	states *token.StateCodec,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		cfg:        cfg,
		users:      users,
		ledger:     ledger,
		outbox:     outbox,
		registry:   registry,
		federation: federation,
		linker:     linker,
		states:     states,
		logger:     logger,
	}
}

// Login exchanges form credentials for a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `form:"username" binding:"required"`
		Password string `form:"password" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "username and password are required."})
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.respondError(c, domain.ErrInvalidCredentials)
			return
		}
		h.respondError(c, err)
		return
	}
	if !password.Verify(req.Password, user.PasswordHash) {
		h.respondError(c, domain.ErrInvalidCredentials)
		return
	}

	pair, err := h.ledger.Issue(c.Request.Context(), user.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Refresh rotates a refresh token into a fresh pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required."})
		return
	}

	pair, err := h.ledger.Rotate(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout revokes the presented refresh token. Revoking an already revoked
// session is not an error.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required."})
		return
	}

	if _, err := h.ledger.Revoke(c.Request.Context(), req.RefreshToken); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Register creates a local account and records the signup event.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email and password are required."})
		return
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	user, err := h.users.Create(c.Request.Context(), domain.User{
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			h.respondError(c, domain.ErrEmailTaken)
			return
		}
		h.respondError(c, err)
		return
	}

	if err := h.outbox.Enqueue(c.Request.Context(), "user.created", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		h.respondError(c, domain.ErrInvalidCredentials)
		return
	}
	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.respondError(c, domain.ErrInvalidCredentials)
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	var domErr *domain.Error
	if errors.As(err, &domErr) {
		c.JSON(domErr.Status, gin.H{"error": domErr.Code, "error_description": domErr.Message})
		return
	}
	h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}
