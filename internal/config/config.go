package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	DatabaseURL string
	ServiceName string

	SecretKey     string
	Algorithm     string
	TokenIssuer   string
	TokenAudience string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	OAuthStateTTL   time.Duration

	// OAuthPublicBaseURL overrides the callback host when the service sits
	// behind a proxy; empty means derive it from the incoming request.
	OAuthPublicBaseURL       string
	OAuthFrontendCallbackURL string

	OAuthGoogleClientID        string
	OAuthGoogleClientSecret    string
	OAuthMicrosoftClientID     string
	OAuthMicrosoftClientSecret string
	OAuthAppleClientID         string
	OAuthAppleClientSecret     string
	OAuthFacebookClientID      string
	OAuthFacebookClientSecret  string
	OAuthGitHubClientID        string
	OAuthGitHubClientSecret    string

	RateLimitRPM int

	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// hmacAlgorithms is the closed signing allow-list. Anything else is rejected
// at startup, before a single token is minted.
var hmacAlgorithms = map[string]struct{}{
	"HS256": {},
	"HS384": {},
	"HS512": {},
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ServiceName: getEnv("SERVICE_NAME", "smallbiznis-identity"),

		SecretKey:     os.Getenv("SECRET_KEY"),
		Algorithm:     getEnv("JWT_ALGORITHM", "HS256"),
		TokenIssuer:   getEnv("TOKEN_ISSUER", "smallbiznis-identity"),
		TokenAudience: getEnv("TOKEN_AUDIENCE", "smallbiznis-api"),

		AccessTokenTTL:  getDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL: getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		OAuthStateTTL:   getDuration("OAUTH_STATE_TTL", 5*time.Minute),

		OAuthPublicBaseURL:       os.Getenv("OAUTH_PUBLIC_BASE_URL"),
		OAuthFrontendCallbackURL: getEnv("OAUTH_FRONTEND_CALLBACK_URL", "/"),

		OAuthGoogleClientID:        os.Getenv("OAUTH_GOOGLE_CLIENT_ID"),
		OAuthGoogleClientSecret:    os.Getenv("OAUTH_GOOGLE_CLIENT_SECRET"),
		OAuthMicrosoftClientID:     os.Getenv("OAUTH_MICROSOFT_CLIENT_ID"),
		OAuthMicrosoftClientSecret: os.Getenv("OAUTH_MICROSOFT_CLIENT_SECRET"),
		OAuthAppleClientID:         os.Getenv("OAUTH_APPLE_CLIENT_ID"),
		OAuthAppleClientSecret:     os.Getenv("OAUTH_APPLE_CLIENT_SECRET"),
		OAuthFacebookClientID:      os.Getenv("OAUTH_FACEBOOK_CLIENT_ID"),
		OAuthFacebookClientSecret:  os.Getenv("OAUTH_FACEBOOK_CLIENT_SECRET"),
		OAuthGitHubClientID:        os.Getenv("OAUTH_GITHUB_CLIENT_ID"),
		OAuthGitHubClientSecret:    os.Getenv("OAUTH_GITHUB_CLIENT_SECRET"),

		RateLimitRPM: getInt("RATE_LIMIT_RPM", 600),

		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SecretKey == "" {
		return Config{}, fmt.Errorf("SECRET_KEY is required")
	}
	if _, ok := hmacAlgorithms[cfg.Algorithm]; !ok {
		return Config{}, fmt.Errorf("JWT_ALGORITHM %q is not in the symmetric allow-list", cfg.Algorithm)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
