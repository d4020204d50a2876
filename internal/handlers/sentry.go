package handlers

import (
	"time"

	"feedbackhub-backend/internal/config"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

// SetupSentry initializes the Sentry client and installs its echo middleware.
// Without SENTRY_DSN nothing is reported.
func SetupSentry(e *echo.Echo, cfg *config.Config) {
	if cfg.Sentry.DSN == "" {
		e.Logger.Warn("SENTRY_DSN not configured, error reporting will be disabled")
		return
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Server.Environment,
		AttachStacktrace: true,
		TracesSampleRate: 0.1,
	})
	if err != nil {
		e.Logger.Warnf("Sentry initialization failed: %v", err)
		return
	}

	e.Use(sentryecho.New(sentryecho.Options{
		Repanic: true,
		Timeout: 2 * time.Second,
	}))
}

// CaptureError reports err to Sentry when a client is configured.
func CaptureError(err error) {
	if err == nil || sentry.CurrentHub().Client() == nil {
		return
	}
	sentry.CaptureException(err)
}
