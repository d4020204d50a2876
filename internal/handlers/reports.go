package handlers

import (
	"net/http"
	"time"

	"feedbackhub-backend/internal/common"
	"feedbackhub-backend/internal/models"
	"feedbackhub-backend/internal/reports"

	"github.com/labstack/echo/v4"
)

type ReportHandler struct {
	common.ServerState
}

func NewReportHandler(state *common.ServerState) *ReportHandler {
	return &ReportHandler{ServerState: *state}
}

// Dashboard serves the aggregated dashboard, from Redis when a fresh copy is cached.
func (h *ReportHandler) Dashboard(c echo.Context) error {
	user, err := getAuthenticatedUserFromJWTCommon(c, h.JwtIssuer, h.DB)
	if err != nil {
		return err
	}
	if err := requireRole(user, models.RoleAdmin, models.RoleHR, models.RoleManager); err != nil {
		return err
	}

	ctx := c.Request().Context()

	var cached reports.Dashboard
	hit, err := h.Cache.Get(ctx, reports.DashboardCacheKey, &cached)
	if err != nil {
		c.Logger().Warnf("Failed to read dashboard cache: %v", err)
	}
	if hit {
		c.Response().Header().Set("X-Cache", "HIT")
		return c.JSON(http.StatusOK, cached)
	}

	dashboard, err := reports.BuildDashboard(ctx, h.DB, time.Now())
	if err != nil {
		return httpError(c, err)
	}

	if err := h.Cache.Set(ctx, reports.DashboardCacheKey, dashboard, h.Config.Reports.CacheTTL); err != nil {
		c.Logger().Warnf("Failed to cache dashboard: %v", err)
	}

	c.Response().Header().Set("X-Cache", "MISS")
	return c.JSON(http.StatusOK, dashboard)
}
