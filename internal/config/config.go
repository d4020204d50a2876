package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Port string
		Host string
		TLS  struct {
			Enabled  bool
			CertFile string
			KeyFile  string
		}
		DeployDomain string
		Debug        bool
		Environment  string
	}
	Auth struct {
		JWTSecret        string
		TokenExpiresIn   time.Duration
		RefreshExpiresIn time.Duration
	}
	Database struct {
		DSN      string
		RedisURI string
	}
	Resend struct {
		APIKey        string
		DefaultSender string
	}
	Sentry struct {
		DSN string
	}
	CORS struct {
		AllowOrigins []string
	}
	Reports struct {
		CacheTTL time.Duration
	}
}

func Load() (*Config, error) {

	envStack := os.Getenv("ENV_STACK")

	if envStack != "" {
		filePath := "./env-files/.env." + envStack
		err := godotenv.Load(filePath)
		if err != nil {
			fmt.Printf("Error loading .env file: %s\n", err)
		}

		// Maintainer-only overrides, never committed
		internalFilePath := "./env-files/.env.internal"
		err = godotenv.Load(internalFilePath)
		if err != nil {
			fmt.Printf("Error loading .env.internal file: %s\n", err)
		}
	}

	c := &Config{}

	c.Server.Port = os.Getenv("SERVER_PORT")
	if c.Server.Port == "" {
		c.Server.Port = "3001"
	}

	c.Server.Host = os.Getenv("SERVER_HOST")
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}

	c.Server.DeployDomain = os.Getenv("DEPLOY_DOMAIN")
	if c.Server.DeployDomain == "" {
		c.Server.DeployDomain = c.Server.Host + ":" + c.Server.Port
	}

	c.Server.Debug = os.Getenv("ENABLE_DEBUG_ENDPOINTS") == "true"

	c.Server.Environment = os.Getenv("APP_ENV")
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}

	// TLS Configuration
	useTLS := os.Getenv("USE_TLS")
	c.Server.TLS.Enabled = useTLS != "false" && useTLS != "0"
	c.Server.TLS.CertFile = "./certs/localhost.pem"
	c.Server.TLS.KeyFile = "./certs/localhost-key.pem"

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	if c.Auth.JWTSecret == "" {
		if c.Server.Environment == "production" {
			return c, fmt.Errorf("JWT_SECRET is required in production")
		}
		c.Auth.JWTSecret = "feedbackhub-dev-secret"
	}

	var err error
	if c.Auth.TokenExpiresIn, err = durationFromEnv("JWT_EXPIRES_IN", 24*time.Hour); err != nil {
		return c, err
	}
	if c.Auth.RefreshExpiresIn, err = durationFromEnv("REFRESH_TOKEN_EXPIRES_IN", 7*24*time.Hour); err != nil {
		return c, err
	}

	c.Database.DSN = os.Getenv("DATABASE_DSN")
	c.Database.RedisURI = os.Getenv("REDIS_URI")

	c.Resend.APIKey = os.Getenv("RESEND_API_KEY")
	c.Resend.DefaultSender = os.Getenv("RESEND_DEFAULT_SENDER")
	if c.Resend.DefaultSender == "" {
		c.Resend.DefaultSender = "noreply@feedbackhub.app"
	}

	c.Sentry.DSN = os.Getenv("SENTRY_DSN")

	c.CORS.AllowOrigins = []string{"*"}
	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		c.CORS.AllowOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORS.AllowOrigins = append(c.CORS.AllowOrigins, o)
			}
		}
	}

	if c.Reports.CacheTTL, err = durationFromEnv("REPORTS_CACHE_TTL", 5*time.Minute); err != nil {
		return c, err
	}

	return c, nil
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 24h, got %q: %w", key, raw, err)
	}
	return d, nil
}
