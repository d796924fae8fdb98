package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/smallbiznis-identity/internal/config"
	httptransport "github.com/smallbiznis/smallbiznis-identity/internal/http"
	"github.com/smallbiznis/smallbiznis-identity/internal/http/handler"
	apimiddleware "github.com/smallbiznis/smallbiznis-identity/internal/middleware"
	"github.com/smallbiznis/smallbiznis-identity/internal/oauth"
	"github.com/smallbiznis/smallbiznis-identity/internal/repository"
	"github.com/smallbiznis/smallbiznis-identity/internal/server"
	"github.com/smallbiznis/smallbiznis-identity/internal/session"
	"github.com/smallbiznis/smallbiznis-identity/internal/telemetry"
	"github.com/smallbiznis/smallbiznis-identity/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newPGXPool,
			newUserRepository,
			newSessionRepository,
			newOAuthAccountRepository,
			newOutbox,
			token.NewCodec,
			token.NewStateCodec,
			oauth.NewRegistry,
			oauth.NewFederation,
			oauth.NewIdentityLinker,
			newFederationAPI,
			newLinkerAPI,
			session.NewLedger,
			newRateLimiter,
			handler.NewAuthHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newSessionRepository(pool *pgxpool.Pool) repository.SessionRepository {
	return repository.NewPostgresSessionRepo(pool)
}

func newOAuthAccountRepository(pool *pgxpool.Pool) repository.OAuthAccountRepository {
	return repository.NewPostgresOAuthAccountRepo(pool)
}

func newOutbox(pool *pgxpool.Pool) repository.Outbox {
	return repository.NewPostgresOutbox(pool)
}

func newFederationAPI(federation *oauth.Federation) handler.Federation {
	return federation
}

func newLinkerAPI(linker *oauth.IdentityLinker) handler.Linker {
	return linker
}

func newRateLimiter(cfg config.Config, codec *token.Codec) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM, codec)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
