package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinSigningKeyLength はJWT署名鍵の最小バイト数。
const MinSigningKeyLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	DBConnMaxIdle  time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"5m"`

	// GitHub OAuth
	GitHubClientID     string        `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `env:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string        `env:"GITHUB_CALLBACK_URL"`
	GitHubScopes       []string      `env:"GITHUB_SCOPES" envDefault:"read:user,user:email" envSeparator:","`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// Token
	JWTSigningKey      string        `env:"JWT_SIGNING_KEY"`
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"passport"`
	JWTAudience        string        `env:"JWT_AUDIENCE" envDefault:"passport-api"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"60m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"1440h"`
	RefreshTokenPepper string        `env:"REFRESH_TOKEN_PEPPER"`

	// Login flow
	FrontendURL            string        `env:"FRONTEND_URL"`
	LoginRedirectAllowlist []string      `env:"LOGIN_REDIRECT_ALLOWLIST" envSeparator:","`
	OAuthStateTTL          time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
	RedisURL               string        `env:"REDIS_URL"`

	// Rate Limit（1分あたりのリクエスト数、クライアントIPごと）
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Worker
	RefreshCleanupInterval time.Duration `env:"REFRESH_CLEANUP_INTERVAL" envDefault:"1h"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// Cookie
	CookieSecure   bool   `env:"-"`
	CookieDomain   string `env:"COOKIE_DOMAIN"`
	AuthCookiePath string `env:"AUTH_COOKIE_PATH" envDefault:"/auth"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing（空の場合は無効）
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをすべて列挙したエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"GITHUB_CLIENT_ID", cfg.GitHubClientID},
		{"GITHUB_CLIENT_SECRET", cfg.GitHubClientSecret},
		{"GITHUB_CALLBACK_URL", cfg.GitHubCallbackURL},
		{"JWT_SIGNING_KEY", cfg.JWTSigningKey},
		{"BASE_URL", cfg.BaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.FrontendURL == "" {
		cfg.FrontendURL = cfg.BaseURL
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if len(c.JWTSigningKey) < MinSigningKeyLength {
		errs = append(errs, fmt.Errorf("JWT_SIGNING_KEY must be at least %d bytes", MinSigningKeyLength))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be positive"))
	}
	if c.OAuthStateTTL <= 0 {
		errs = append(errs, errors.New("OAUTH_STATE_TTL must be positive"))
	}
	if c.RateLimitAuth <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_AUTH must be positive"))
	}
	if c.RefreshCleanupInterval <= 0 {
		errs = append(errs, errors.New("REFRESH_CLEANUP_INTERVAL must be positive"))
	}
	if c.DBMaxOpenConns <= 0 {
		errs = append(errs, errors.New("DB_MAX_OPEN_CONNS must be positive"))
	}
	return errors.Join(errs...)
}

// ReturnOrigins はreturnUrlとして許可するオリジンの一覧を返す。
// フロントエンドのオリジンは常に含まれる。
func (c *Config) ReturnOrigins() []string {
	origins := make([]string, 0, len(c.LoginRedirectAllowlist)+1)
	if origin := originOf(c.FrontendURL); origin != "" {
		origins = append(origins, origin)
	}
	for _, raw := range c.LoginRedirectAllowlist {
		if origin := originOf(strings.TrimSpace(raw)); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
