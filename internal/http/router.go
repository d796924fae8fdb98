package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/smallbiznis-identity/internal/config"
	"github.com/smallbiznis/smallbiznis-identity/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/smallbiznis-identity/internal/http/middleware"
	"github.com/smallbiznis/smallbiznis-identity/internal/middleware"
	"github.com/smallbiznis/smallbiznis-identity/internal/token"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, codec *token.Codec, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	requireUser := httpmiddleware.RequireUser(codec)

	api := r.Group("/api/v1")
	{
		api.POST("/login", authHandler.Login)
		api.POST("/users", authHandler.Register)
		api.GET("/users/me", requireUser, authHandler.Me)

		auth := api.Group("/auth")
		{
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", authHandler.Logout)

			oauth := auth.Group("/oauth")
			{
				oauth.GET("/providers", authHandler.OAuthProviders)
				oauth.GET("/:provider/start", authHandler.OAuthStart)
				oauth.POST("/:provider/link/start", requireUser, authHandler.OAuthLinkStart)
				// Apple responds with form_post; everyone else uses GET.
				oauth.GET("/:provider/callback", authHandler.OAuthCallback)
				oauth.POST("/:provider/callback", authHandler.OAuthCallback)
			}
		}
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
