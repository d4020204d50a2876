package handlers

import (
	"net/http"
	"strconv"
	"time"

	"feedbackhub-backend/internal/cache"

	"github.com/labstack/echo/v4"
)

const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// LoginRateLimit limits authentication attempts per client IP with a Redis
// fixed window. Without Redis, or when Redis fails, requests pass through.
func LoginRateLimit(store *cache.Cache) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "auth:" + c.RealIP()
			allowed, count, err := store.Allow(c.Request().Context(), key, loginRateLimit, loginRateWindow)
			if err != nil {
				c.Logger().Warnf("Rate limiter unavailable: %v", err)
				return next(c)
			}
			if store.Enabled() {
				remaining := loginRateLimit - count
				if remaining < 0 {
					remaining = 0
				}
				c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(loginRateLimit))
				c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			}
			if !allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(loginRateWindow.Seconds())))
				return echo.NewHTTPError(http.StatusTooManyRequests, errorBody{
					Message: "Too many attempts, try again later",
					Kind:    "RATE_LIMITED",
				})
			}
			return next(c)
		}
	}
}
